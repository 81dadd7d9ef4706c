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

// Package services holds the business logic between the HTTP handlers and the
// registry. This file defines the ProjectService: project CRUD plus the
// timeline editing session, where reorder, duration and transition edits run
// through a per-project undo/redo engine.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/core/history"
	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/registry"
)

// saveTimeout bounds the background persist that follows each timeline edit.
const saveTimeout = 10 * time.Second

// ProjectService manages projects and their timelines. Timeline edits go
// through a per-project history.Engine so each project carries its own
// undo/redo stacks; the engines live for the process lifetime and the registry
// row remains the durable state.
type ProjectService struct {
	Registry     *registry.Registry
	HistoryLimit int

	mu       sync.Mutex
	sessions map[string]*history.Engine
}

// NewProjectService creates the service. historyLimit bounds each project's
// undo stack; values < 1 use the history package default.
func NewProjectService(reg *registry.Registry, historyLimit int) *ProjectService {
	return &ProjectService{
		Registry:     reg,
		HistoryLimit: historyLimit,
		sessions:     make(map[string]*history.Engine),
	}
}

// CreateProject validates and persists a new project with an empty timeline.
func (s *ProjectService) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	p, err := model.NewProject(name, description)
	if err != nil {
		return nil, err
	}
	if err := s.Registry.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject returns a project by id.
func (s *ProjectService) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.Registry.GetProject(ctx, id)
}

// ListProjects returns all projects, newest first.
func (s *ProjectService) ListProjects(ctx context.Context) ([]*model.Project, error) {
	return s.Registry.ListProjects(ctx)
}

// UpdateProject renames or re-describes a project.
func (s *ProjectService) UpdateProject(ctx context.Context, id, name, description string) (*model.Project, error) {
	p, err := s.Registry.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		p.Name = name
	}
	p.Description = description
	if err := s.Registry.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteProject removes a project and discards its editing session.
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	if err := s.Registry.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.dropSession(id)
	return nil
}

// GetTimeline returns the project's current timeline.
func (s *ProjectService) GetTimeline(ctx context.Context, projectID string) (*model.Timeline, error) {
	engine, err := s.session(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return engine.Timeline(), nil
}

// AddScene appends a scene to the end of the project timeline. Structural
// changes reset the project's undo history: an undo recorded against the old
// scene set could reference scenes that no longer exist.
func (s *ProjectService) AddScene(ctx context.Context, projectID, sceneID string) (*model.Timeline, error) {
	if _, err := s.Registry.GetScene(ctx, sceneID); err != nil {
		return nil, err
	}
	t, err := s.Registry.GetTimeline(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, id := range t.SceneIDs {
		if id == sceneID {
			return nil, &model.ValidationError{Field: "scene_id", Reason: "scene already on timeline"}
		}
	}
	t.SceneIDs = append(t.SceneIDs, sceneID)
	if err := s.Registry.SaveTimeline(ctx, t); err != nil {
		return nil, err
	}
	s.dropSession(projectID)
	return t, nil
}

// RemoveScene removes a scene from the timeline, dropping its transition and
// duration override with it. Like AddScene, this resets the undo history.
func (s *ProjectService) RemoveScene(ctx context.Context, projectID, sceneID string) (*model.Timeline, error) {
	t, err := s.Registry.GetTimeline(ctx, projectID)
	if err != nil {
		return nil, err
	}
	kept := t.SceneIDs[:0]
	found := false
	for _, id := range t.SceneIDs {
		if id == sceneID {
			found = true
			continue
		}
		kept = append(kept, id)
	}
	if !found {
		return nil, &model.NotFoundError{Kind: "timeline scene", ID: sceneID}
	}
	t.SceneIDs = kept
	delete(t.Transitions, sceneID)
	delete(t.Durations, sceneID)
	if err := s.Registry.SaveTimeline(ctx, t); err != nil {
		return nil, err
	}
	s.dropSession(projectID)
	return t, nil
}

// ReorderScenes applies a new scene order as an undoable edit.
func (s *ProjectService) ReorderScenes(ctx context.Context, projectID string, newOrder []string) (*model.Timeline, error) {
	engine, err := s.session(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := engine.Reorder(newOrder); err != nil {
		return nil, err
	}
	return engine.Timeline(), nil
}

// SetSceneDuration applies a per-scene duration override as an undoable edit.
// Zero seconds clears the override.
func (s *ProjectService) SetSceneDuration(ctx context.Context, projectID, sceneID string, seconds float64) (*model.Timeline, error) {
	engine, err := s.session(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := engine.SetDuration(sceneID, seconds); err != nil {
		return nil, err
	}
	return engine.Timeline(), nil
}

// SetTransition applies a transition edit as an undoable edit. A "none"
// transition clears the gap.
func (s *ProjectService) SetTransition(ctx context.Context, projectID, sceneID string, tr model.Transition) (*model.Timeline, error) {
	engine, err := s.session(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := engine.SetTransition(sceneID, tr); err != nil {
		return nil, err
	}
	return engine.Timeline(), nil
}

// Undo reverts the most recent timeline edit and returns the resulting
// timeline plus a description of what was undone.
func (s *ProjectService) Undo(ctx context.Context, projectID string) (*model.Timeline, string, error) {
	engine, err := s.session(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	desc := engine.DescribeUndo()
	if err := engine.Undo(); err != nil {
		return nil, "", err
	}
	return engine.Timeline(), desc, nil
}

// Redo re-applies the most recently undone edit.
func (s *ProjectService) Redo(ctx context.Context, projectID string) (*model.Timeline, string, error) {
	engine, err := s.session(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	desc := engine.DescribeRedo()
	if err := engine.Redo(); err != nil {
		return nil, "", err
	}
	return engine.Timeline(), desc, nil
}

// HistoryState describes the undo/redo availability for a project.
type HistoryState struct {
	CanUndo      bool   `json:"can_undo"`
	CanRedo      bool   `json:"can_redo"`
	UndoDescribe string `json:"undo_describe,omitempty"`
	RedoDescribe string `json:"redo_describe,omitempty"`
}

// History reports the project's current undo/redo availability.
func (s *ProjectService) History(ctx context.Context, projectID string) (*HistoryState, error) {
	engine, err := s.session(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &HistoryState{
		CanUndo:      engine.CanUndo(),
		CanRedo:      engine.CanRedo(),
		UndoDescribe: engine.DescribeUndo(),
		RedoDescribe: engine.DescribeRedo(),
	}, nil
}

// session returns the project's editing engine, creating it from the
// persisted timeline on first use. The engine's save callback writes back to
// the registry under its own deadline, since the engine outlives any single
// request.
func (s *ProjectService) session(ctx context.Context, projectID string) (*history.Engine, error) {
	s.mu.Lock()
	if engine, ok := s.sessions[projectID]; ok {
		s.mu.Unlock()
		return engine, nil
	}
	s.mu.Unlock()

	t, err := s.Registry.GetTimeline(ctx, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if engine, ok := s.sessions[projectID]; ok {
		return engine, nil
	}
	engine := history.NewEngine(t, s.HistoryLimit, func(t *model.Timeline) error {
		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		return s.Registry.SaveTimeline(saveCtx, t)
	})
	s.sessions[projectID] = engine
	return engine, nil
}

func (s *ProjectService) dropSession(projectID string) {
	s.mu.Lock()
	delete(s.sessions, projectID)
	s.mu.Unlock()
}
