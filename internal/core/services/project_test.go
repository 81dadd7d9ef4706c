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

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/registry"
	"github.com/storyloom/storyloom/internal/testutil"
)

func newProjectFixture(t *testing.T) (*ProjectService, *registry.Registry, *model.Project, []*model.Scene) {
	t.Helper()
	reg := testutil.OpenTestRegistry(t)
	svc := NewProjectService(reg, 0)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "Launch Teaser", "teaser video")
	require.NoError(t, err)

	scenes := make([]*model.Scene, 0, 3)
	for i := 0; i < 3; i++ {
		s, err := model.NewScene("a bouncing ball on a dark stage", model.LibraryThreeJS, 5, model.ResolutionFullHD)
		require.NoError(t, err)
		require.NoError(t, reg.CreateScene(ctx, s))
		_, err = svc.AddScene(ctx, p.ID, s.ID)
		require.NoError(t, err)
		scenes = append(scenes, s)
	}
	return svc, reg, p, scenes
}

func TestProjectLifecycle(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	svc := NewProjectService(reg, 0)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "Launch Teaser", "teaser video")
	require.NoError(t, err)

	_, err = svc.CreateProject(ctx, "  ", "")
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr))

	// An empty name keeps the current one; the description is replaced.
	updated, err := svc.UpdateProject(ctx, p.ID, "", "final cut")
	require.NoError(t, err)
	assert.Equal(t, "Launch Teaser", updated.Name)
	assert.Equal(t, "final cut", updated.Description)

	all, err := svc.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.DeleteProject(ctx, p.ID))
	_, err = svc.GetProject(ctx, p.ID)
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestAddSceneValidation(t *testing.T) {
	svc, _, p, scenes := newProjectFixture(t)
	ctx := context.Background()

	_, err := svc.AddScene(ctx, p.ID, "ghost")
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))

	_, err = svc.AddScene(ctx, p.ID, scenes[0].ID)
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr), "a scene appears on a timeline once")
}

func TestRemoveSceneDropsItsTimelineData(t *testing.T) {
	svc, _, p, scenes := newProjectFixture(t)
	ctx := context.Background()

	_, err := svc.SetTransition(ctx, p.ID, scenes[0].ID, model.Transition{Type: model.TransitionFade, Duration: 0.5})
	require.NoError(t, err)
	_, err = svc.SetSceneDuration(ctx, p.ID, scenes[0].ID, 8.0)
	require.NoError(t, err)

	tl, err := svc.RemoveScene(ctx, p.ID, scenes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{scenes[1].ID, scenes[2].ID}, tl.SceneIDs)
	assert.NotContains(t, tl.Transitions, scenes[0].ID)
	assert.NotContains(t, tl.Durations, scenes[0].ID)

	_, err = svc.RemoveScene(ctx, p.ID, scenes[0].ID)
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestTimelineEditsPersist(t *testing.T) {
	svc, reg, p, scenes := newProjectFixture(t)
	ctx := context.Background()

	newOrder := []string{scenes[2].ID, scenes[0].ID, scenes[1].ID}
	_, err := svc.ReorderScenes(ctx, p.ID, newOrder)
	require.NoError(t, err)

	// A fresh service over the same registry sees the reordered timeline, so
	// the edit reached the database and not just the in-memory session.
	svc2 := NewProjectService(reg, 0)
	tl, err := svc2.GetTimeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, newOrder, tl.SceneIDs)
}

func TestUndoRedoThroughService(t *testing.T) {
	svc, _, p, scenes := newProjectFixture(t)
	ctx := context.Background()

	original := []string{scenes[0].ID, scenes[1].ID, scenes[2].ID}
	reordered := []string{scenes[2].ID, scenes[0].ID, scenes[1].ID}
	_, err := svc.ReorderScenes(ctx, p.ID, reordered)
	require.NoError(t, err)

	tl, undone, err := svc.Undo(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "reorder scenes", undone)
	assert.Equal(t, original, tl.SceneIDs)

	state, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, state.CanUndo)
	assert.True(t, state.CanRedo)
	assert.Equal(t, "reorder scenes", state.RedoDescribe)

	tl, redone, err := svc.Redo(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "reorder scenes", redone)
	assert.Equal(t, reordered, tl.SceneIDs)
}

func TestStructuralEditsResetHistory(t *testing.T) {
	svc, reg, p, scenes := newProjectFixture(t)
	ctx := context.Background()

	_, err := svc.ReorderScenes(ctx, p.ID, []string{scenes[2].ID, scenes[0].ID, scenes[1].ID})
	require.NoError(t, err)
	state, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, state.CanUndo)

	// Adding a scene invalidates recorded undos; the session starts over.
	extra, err := model.NewScene("a spinning cube", model.LibraryThreeJS, 4, model.ResolutionFullHD)
	require.NoError(t, err)
	require.NoError(t, reg.CreateScene(ctx, extra))
	_, err = svc.AddScene(ctx, p.ID, extra.ID)
	require.NoError(t, err)

	state, err = svc.History(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, state.CanUndo)
	assert.False(t, state.CanRedo)
}

func TestUndoOnFreshSessionHasNothingToUndo(t *testing.T) {
	svc, _, p, _ := newProjectFixture(t)

	_, _, err := svc.Undo(context.Background(), p.ID)
	assert.Error(t, err)
}
