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

package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/registry"
)

// SceneEvent is the render farm's progress notification for one scene,
// delivered over Pub/Sub.
type SceneEvent struct {
	SceneID      string `json:"scene_id"`
	Status       string `json:"status"`
	VideoRef     string `json:"video_ref,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// SceneEventReader applies render events to the registry. It is attached to
// the render-events Pub/Sub listener; the registry's transition rules make
// replayed or out-of-order deliveries harmless, since a stale event cannot
// regress a scene.
type SceneEventReader struct {
	cor.BaseCommand
	registry *registry.Registry
}

// NewSceneEventReader creates the event command over the registry.
func NewSceneEventReader(name string, reg *registry.Registry) *SceneEventReader {
	return &SceneEventReader{BaseCommand: *cor.NewBaseCommand(name), registry: reg}
}

func (c *SceneEventReader) Execute(ctx cor.Context) {
	raw := ctx.Get(c.GetInputParam()).(string)

	var event SceneEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), fmt.Errorf("failed to parse scene event: %w", err))
		return
	}
	if event.SceneID == "" {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), errors.New("scene event missing scene_id"))
		return
	}

	status := model.SceneStatus(event.Status)
	var err error
	switch status {
	case model.SceneStatusCompleted:
		err = c.registry.CompleteScene(ctx.GetContext(), event.SceneID, event.VideoRef)
	case model.SceneStatusFailed:
		err = c.registry.FailScene(ctx.GetContext(), event.SceneID, event.ErrorMessage)
	default:
		err = c.registry.AdvanceScene(ctx.GetContext(), event.SceneID, status)
	}

	// A stale event that cannot advance the scene is acked, not retried;
	// redelivery would never succeed either.
	var validationErr *model.ValidationError
	if err != nil && !errors.As(err, &validationErr) {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), err)
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), event.SceneID)
}
