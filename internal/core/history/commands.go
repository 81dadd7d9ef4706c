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

// Package history is the linear undo/redo engine for timeline edits. Every
// edit is a Command whose Forward and Backward are exact inverses over the
// timeline: Backward restores the state that existed before Forward,
// bit for bit. Commands only touch timeline structure (order, per-scene
// duration overrides, transitions); scene and export status are never
// reachable from here.
package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom/internal/core/model"
)

// Command is one reversible timeline edit.
type Command interface {
	ID() string
	Description() string
	Timestamp() time.Time
	Forward(t *model.Timeline) error
	Backward(t *model.Timeline) error
}

type baseCommand struct {
	id          string
	description string
	timestamp   time.Time
}

func newBaseCommand(description string) baseCommand {
	return baseCommand{
		id:          uuid.NewString(),
		description: description,
		timestamp:   time.Now().UTC(),
	}
}

func (c baseCommand) ID() string           { return c.id }
func (c baseCommand) Description() string  { return c.description }
func (c baseCommand) Timestamp() time.Time { return c.timestamp }

// ReorderCommand replaces the playback order. Both orders are captured
// explicitly so Backward never has to reconstruct the previous arrangement.
type ReorderCommand struct {
	baseCommand
	before []string
	after  []string
}

// NewReorderCommand captures the timeline's current order as the undo state.
func NewReorderCommand(t *model.Timeline, newOrder []string) *ReorderCommand {
	return &ReorderCommand{
		baseCommand: newBaseCommand("reorder scenes"),
		before:      append([]string(nil), t.SceneIDs...),
		after:       append([]string(nil), newOrder...),
	}
}

func (c *ReorderCommand) Forward(t *model.Timeline) error {
	return t.Reorder(c.after)
}

func (c *ReorderCommand) Backward(t *model.Timeline) error {
	return t.Reorder(c.before)
}

// DurationCommand changes a scene's duration override on the timeline. The
// old value (or its absence) is captured explicitly.
type DurationCommand struct {
	baseCommand
	sceneID     string
	hadOverride bool
	oldSeconds  float64
	newSeconds  float64
}

// NewDurationCommand captures the scene's current override as the undo state.
func NewDurationCommand(t *model.Timeline, sceneID string, seconds float64) *DurationCommand {
	old, had := t.Durations[sceneID]
	return &DurationCommand{
		baseCommand: newBaseCommand("change scene duration"),
		sceneID:     sceneID,
		hadOverride: had,
		oldSeconds:  old,
		newSeconds:  seconds,
	}
}

func (c *DurationCommand) Forward(t *model.Timeline) error {
	return t.SetDuration(c.sceneID, c.newSeconds)
}

func (c *DurationCommand) Backward(t *model.Timeline) error {
	if !c.hadOverride {
		delete(t.Durations, c.sceneID)
		return nil
	}
	return t.SetDuration(c.sceneID, c.oldSeconds)
}

// TransitionCommand changes the transition that follows a scene. The old
// transition (or its absence) is captured explicitly.
type TransitionCommand struct {
	baseCommand
	sceneID       string
	hadTransition bool
	oldTransition model.Transition
	newTransition model.Transition
}

// NewTransitionCommand captures the scene's current outgoing transition as
// the undo state.
func NewTransitionCommand(t *model.Timeline, sceneID string, tr model.Transition) *TransitionCommand {
	old, had := t.Transitions[sceneID]
	return &TransitionCommand{
		baseCommand:   newBaseCommand("change transition"),
		sceneID:       sceneID,
		hadTransition: had,
		oldTransition: old,
		newTransition: tr,
	}
}

func (c *TransitionCommand) Forward(t *model.Timeline) error {
	return t.SetTransition(c.sceneID, c.newTransition)
}

func (c *TransitionCommand) Backward(t *model.Timeline) error {
	if !c.hadTransition {
		delete(t.Transitions, c.sceneID)
		return nil
	}
	return t.SetTransition(c.sceneID, c.oldTransition)
}
