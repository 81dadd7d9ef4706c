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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/core/model"
)

func newTestTimeline() *model.Timeline {
	t := model.NewTimeline("project-1")
	t.SceneIDs = []string{"a", "b", "c"}
	return t
}

func TestUndoRestoresExactOrder(t *testing.T) {
	tl := newTestTimeline()
	engine := NewEngine(tl, 0, nil)

	require.NoError(t, engine.Reorder([]string{"c", "a", "b"}))
	assert.Equal(t, []string{"c", "a", "b"}, engine.Timeline().SceneIDs)

	require.NoError(t, engine.Undo())
	assert.Equal(t, []string{"a", "b", "c"}, engine.Timeline().SceneIDs)

	require.NoError(t, engine.Redo())
	assert.Equal(t, []string{"c", "a", "b"}, engine.Timeline().SceneIDs)
}

func TestUndoRestoresAbsentOverrideAndTransition(t *testing.T) {
	tl := newTestTimeline()
	engine := NewEngine(tl, 0, nil)

	require.NoError(t, engine.SetDuration("b", 4.0))
	require.NoError(t, engine.SetTransition("a", model.Transition{Type: model.TransitionFade, Duration: 0.5}))

	// Undo must remove the entries entirely, not leave zero values behind.
	require.NoError(t, engine.Undo())
	_, hasTransition := engine.Timeline().Transitions["a"]
	assert.False(t, hasTransition)

	require.NoError(t, engine.Undo())
	_, hasOverride := engine.Timeline().Durations["b"]
	assert.False(t, hasOverride)
}

func TestUndoRestoresPreviousTransitionValue(t *testing.T) {
	tl := newTestTimeline()
	engine := NewEngine(tl, 0, nil)

	require.NoError(t, engine.SetTransition("a", model.Transition{Type: model.TransitionFade, Duration: 0.5}))
	require.NoError(t, engine.SetTransition("a", model.Transition{Type: model.TransitionZoom, Duration: 1.5}))

	require.NoError(t, engine.Undo())
	tr := engine.Timeline().Transitions["a"]
	assert.Equal(t, model.TransitionFade, tr.Type)
	assert.Equal(t, 0.5, tr.Duration)
}

func TestExecuteClearsRedoStack(t *testing.T) {
	tl := newTestTimeline()
	engine := NewEngine(tl, 0, nil)

	require.NoError(t, engine.Reorder([]string{"c", "a", "b"}))
	require.NoError(t, engine.Undo())
	require.True(t, engine.CanRedo())

	require.NoError(t, engine.SetDuration("a", 7.0))
	assert.False(t, engine.CanRedo(), "a fresh edit forks history; redo is gone")
}

func TestUndoRedoEmptyStacks(t *testing.T) {
	engine := NewEngine(newTestTimeline(), 0, nil)
	assert.ErrorIs(t, engine.Undo(), ErrNothingToUndo)
	assert.ErrorIs(t, engine.Redo(), ErrNothingToRedo)
	assert.False(t, engine.CanUndo())
	assert.Empty(t, engine.DescribeUndo())
}

func TestUndoStackIsBounded(t *testing.T) {
	tl := newTestTimeline()
	engine := NewEngine(tl, 5, nil)

	for i := 0; i < 8; i++ {
		require.NoError(t, engine.SetDuration("a", float64(i+1)))
	}

	// Only the newest five edits are retained.
	for i := 0; i < 5; i++ {
		require.NoError(t, engine.Undo())
	}
	assert.ErrorIs(t, engine.Undo(), ErrNothingToUndo)
	assert.Equal(t, 3.0, engine.Timeline().Durations["a"], "eviction pinned the floor at the third edit")
}

func TestFailedForwardLeavesStacksUntouched(t *testing.T) {
	tl := newTestTimeline()
	engine := NewEngine(tl, 0, nil)

	err := engine.Reorder([]string{"a", "b"})
	require.Error(t, err)
	assert.False(t, engine.CanUndo())
	assert.Equal(t, []string{"a", "b", "c"}, engine.Timeline().SceneIDs)
}

func TestSaveFailureRollsBack(t *testing.T) {
	tl := newTestTimeline()
	saves := 0
	engine := NewEngine(tl, 0, func(t *model.Timeline) error {
		saves++
		// Only the second save fails.
		if saves == 2 {
			return fmt.Errorf("registry unavailable")
		}
		return nil
	})

	require.NoError(t, engine.Reorder([]string{"c", "a", "b"}))

	err := engine.Reorder([]string{"b", "c", "a"})
	require.Error(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, engine.Timeline().SceneIDs, "failed save must roll the edit back")
	assert.True(t, engine.CanUndo(), "only the first edit is on the stack")
	require.NoError(t, engine.Undo())
	assert.ErrorIs(t, engine.Undo(), ErrNothingToUndo)
}

func TestDescriptions(t *testing.T) {
	engine := NewEngine(newTestTimeline(), 0, nil)
	require.NoError(t, engine.Reorder([]string{"b", "a", "c"}))
	assert.Equal(t, "reorder scenes", engine.DescribeUndo())

	require.NoError(t, engine.Undo())
	assert.Equal(t, "reorder scenes", engine.DescribeRedo())
}

func TestValidationErrorsSurfaceFromCommands(t *testing.T) {
	engine := NewEngine(newTestTimeline(), 0, nil)
	err := engine.SetTransition("c", model.Transition{Type: model.TransitionFade, Duration: 0.5})
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr), "no transition after the final scene")
}
