// Copyright 2025 Storyloom Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file defines the SceneService: scene CRUD plus the handoff into the
// generation pipeline. Generation runs detached from the request; callers
// poll the scene record for progress.
package services

import (
	"context"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/registry"
	"github.com/storyloom/storyloom/internal/core/workflow"
)

// SceneService manages scenes and launches generation runs.
type SceneService struct {
	Registry *registry.Registry
	Pipeline *workflow.ScenePipeline
	Store    cloud.ArtifactStore
}

// NewSceneService creates the service.
func NewSceneService(reg *registry.Registry, pipeline *workflow.ScenePipeline, store cloud.ArtifactStore) *SceneService {
	return &SceneService{Registry: reg, Pipeline: pipeline, Store: store}
}

// CreateSceneRequest carries the user's inputs for a new scene.
type CreateSceneRequest struct {
	Prompt        string                 `json:"prompt"`
	Library       model.AnimationLibrary `json:"library"`
	Duration      int                    `json:"duration"`
	Resolution    model.Resolution       `json:"resolution"`
	EnhancePrompt bool                   `json:"enhance_prompt"`
}

// CreateScene validates and persists a new scene, then starts its generation
// run in the background. The returned scene is in the pending state; the run
// advances it from there.
func (s *SceneService) CreateScene(ctx context.Context, req CreateSceneRequest) (*model.Scene, error) {
	scene, err := model.NewScene(req.Prompt, req.Library, req.Duration, req.Resolution)
	if err != nil {
		return nil, err
	}
	if err := s.Registry.CreateScene(ctx, scene); err != nil {
		return nil, err
	}
	// The run outlives the request; it carries its own context.
	go s.Pipeline.Run(context.Background(), scene.ID, req.EnhancePrompt)
	return scene, nil
}

// GetScene returns a scene by id.
func (s *SceneService) GetScene(ctx context.Context, id string) (*model.Scene, error) {
	return s.Registry.GetScene(ctx, id)
}

// ListScenes returns scenes newest first with limit/offset paging.
func (s *SceneService) ListScenes(ctx context.Context, limit, offset int) ([]*model.Scene, error) {
	return s.Registry.ListScenes(ctx, limit, offset)
}

// DeleteScene removes a scene; cascade drops it from any timeline.
func (s *SceneService) DeleteScene(ctx context.Context, id string) error {
	return s.Registry.DeleteScene(ctx, id)
}

// RegenerateScene resets a terminal scene and starts a fresh generation run.
// The reset clears the previous run's code, video and error before the new
// run begins, so pollers never see stale outputs against a pending status.
func (s *SceneService) RegenerateScene(ctx context.Context, id string, enhance bool) (*model.Scene, error) {
	if err := s.Registry.ResetScene(ctx, id); err != nil {
		return nil, err
	}
	scene, err := s.Registry.GetScene(ctx, id)
	if err != nil {
		return nil, err
	}
	go s.Pipeline.Run(context.Background(), id, enhance)
	return scene, nil
}

// SceneVideoURL returns a fetchable URL for a completed scene's rendered clip.
func (s *SceneService) SceneVideoURL(ctx context.Context, id string) (string, error) {
	scene, err := s.Registry.GetScene(ctx, id)
	if err != nil {
		return "", err
	}
	if scene.Status != model.SceneStatusCompleted || scene.VideoRef == "" {
		return "", &model.ValidationError{Field: "status", Reason: "scene has no rendered video"}
	}
	return s.Store.DownloadURL(ctx, scene.VideoRef)
}
