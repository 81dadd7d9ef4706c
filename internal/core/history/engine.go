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

package history

import (
	"errors"
	"sync"

	"github.com/storyloom/storyloom/internal/core/model"
)

// DefaultLimit bounds the undo stack when no limit is configured.
const DefaultLimit = 100

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// SaveFunc persists the timeline after a successful mutation. The engine
// applies edits optimistically: the local timeline mutates first, then the
// save runs, and a save failure rolls the local mutation back.
type SaveFunc func(t *model.Timeline) error

// Engine is a bounded linear undo/redo stack over one timeline. It belongs to
// a single editing session and is never shared or persisted; the timeline
// record itself is the durable state.
type Engine struct {
	mu       sync.Mutex
	timeline *model.Timeline
	save     SaveFunc
	limit    int
	undo     []Command
	redo     []Command
}

// NewEngine creates an engine over the given timeline. limit bounds the undo
// stack (values < 1 fall back to DefaultLimit); save may be nil for purely
// local sessions.
func NewEngine(timeline *model.Timeline, limit int, save SaveFunc) *Engine {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Engine{timeline: timeline, save: save, limit: limit}
}

// Timeline returns a snapshot of the current timeline state.
func (e *Engine) Timeline() *model.Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.Clone()
}

// Execute runs the command forward, pushes it onto the undo stack and clears
// the redo stack. A failed forward leaves both stacks untouched. When the
// undo stack exceeds the limit the oldest entry is evicted; eviction never
// touches the redo stack.
func (e *Engine) Execute(cmd Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.apply(cmd.Forward, cmd.Backward); err != nil {
		return err
	}
	e.undo = append(e.undo, cmd)
	if len(e.undo) > e.limit {
		e.undo = e.undo[len(e.undo)-e.limit:]
	}
	e.redo = e.redo[:0]
	return nil
}

// Undo pops the most recent command, runs it backward, and pushes it onto the
// redo stack.
func (e *Engine) Undo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.undo) == 0 {
		return ErrNothingToUndo
	}
	cmd := e.undo[len(e.undo)-1]
	if err := e.apply(cmd.Backward, cmd.Forward); err != nil {
		return err
	}
	e.undo = e.undo[:len(e.undo)-1]
	e.redo = append(e.redo, cmd)
	return nil
}

// Redo pops the most recent undone command, re-runs it forward, and pushes it
// back onto the undo stack.
func (e *Engine) Redo() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.redo) == 0 {
		return ErrNothingToRedo
	}
	cmd := e.redo[len(e.redo)-1]
	if err := e.apply(cmd.Forward, cmd.Backward); err != nil {
		return err
	}
	e.redo = e.redo[:len(e.redo)-1]
	e.undo = append(e.undo, cmd)
	return nil
}

// apply mutates the timeline and persists it, rolling the mutation back if
// the save fails so local and server state stay consistent.
func (e *Engine) apply(mutate, rollback func(*model.Timeline) error) error {
	if err := mutate(e.timeline); err != nil {
		return err
	}
	if e.save != nil {
		if err := e.save(e.timeline); err != nil {
			_ = rollback(e.timeline)
			return err
		}
	}
	return nil
}

// CanUndo reports whether an undo is available.
func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo) > 0
}

// CanRedo reports whether a redo is available.
func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo) > 0
}

// DescribeUndo returns the description of the command Undo would revert.
func (e *Engine) DescribeUndo() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.undo) == 0 {
		return ""
	}
	return e.undo[len(e.undo)-1].Description()
}

// DescribeRedo returns the description of the command Redo would re-apply.
func (e *Engine) DescribeRedo() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.redo) == 0 {
		return ""
	}
	return e.redo[len(e.redo)-1].Description()
}

// Reorder builds, captures and executes a reorder edit.
func (e *Engine) Reorder(newOrder []string) error {
	e.mu.Lock()
	cmd := NewReorderCommand(e.timeline, newOrder)
	e.mu.Unlock()
	return e.Execute(cmd)
}

// SetDuration builds, captures and executes a duration-override edit.
func (e *Engine) SetDuration(sceneID string, seconds float64) error {
	e.mu.Lock()
	cmd := NewDurationCommand(e.timeline, sceneID, seconds)
	e.mu.Unlock()
	return e.Execute(cmd)
}

// SetTransition builds, captures and executes a transition edit.
func (e *Engine) SetTransition(sceneID string, tr model.Transition) error {
	e.mu.Lock()
	cmd := NewTransitionCommand(e.timeline, sceneID, tr)
	e.mu.Unlock()
	return e.Execute(cmd)
}
