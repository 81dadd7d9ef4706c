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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/testutil"
)

func newEventContext(payload string) cor.Context {
	ctx := cor.NewBaseContext()
	ctx.SetContext(context.Background())
	ctx.Add(cor.CtxIn, payload)
	return ctx
}

func TestSceneEventReaderCompletesScene(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s, err := model.NewScene("a bouncing ball on a dark stage", model.LibraryThreeJS, 5, model.ResolutionFullHD)
	require.NoError(t, err)
	require.NoError(t, reg.CreateScene(context.Background(), s))

	ctx := newEventContext(testutil.CompletedSceneEventText(s.ID, "scenes/ball.mp4"))
	NewSceneEventReader("scene-events", reg).Execute(ctx)

	require.False(t, ctx.HasErrors())
	assert.Equal(t, s.ID, ctx.Get(cor.CtxOut))

	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusCompleted, got.Status)
	assert.Equal(t, "scenes/ball.mp4", got.VideoRef)
}

func TestSceneEventReaderRecordsFailure(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s, err := model.NewScene("a bouncing ball on a dark stage", model.LibraryThreeJS, 5, model.ResolutionFullHD)
	require.NoError(t, err)
	require.NoError(t, reg.CreateScene(context.Background(), s))

	ctx := newEventContext(testutil.FailedSceneEventText(s.ID, "renderer crashed"))
	NewSceneEventReader("scene-events", reg).Execute(ctx)

	require.False(t, ctx.HasErrors())
	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusFailed, got.Status)
	assert.Equal(t, "renderer crashed", got.ErrorMessage)
}

func TestSceneEventReaderAdvancesIntermediateStatus(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s, err := model.NewScene("a bouncing ball on a dark stage", model.LibraryThreeJS, 5, model.ResolutionFullHD)
	require.NoError(t, err)
	require.NoError(t, reg.CreateScene(context.Background(), s))

	ctx := newEventContext(`{"scene_id": "` + s.ID + `", "status": "rendering"}`)
	NewSceneEventReader("scene-events", reg).Execute(ctx)

	require.False(t, ctx.HasErrors())
	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusRendering, got.Status)
}

func TestSceneEventReaderAcksStaleEvents(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s, err := model.NewScene("a bouncing ball on a dark stage", model.LibraryThreeJS, 5, model.ResolutionFullHD)
	require.NoError(t, err)
	require.NoError(t, reg.CreateScene(context.Background(), s))
	require.NoError(t, reg.CompleteScene(context.Background(), s.ID, "scenes/ball.mp4"))

	// A redelivered processing event cannot regress the scene; it is acked
	// rather than retried forever.
	ctx := newEventContext(`{"scene_id": "` + s.ID + `", "status": "processing"}`)
	NewSceneEventReader("scene-events", reg).Execute(ctx)

	require.False(t, ctx.HasErrors())
	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusCompleted, got.Status)
}

func TestSceneEventReaderRejectsBadPayloads(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	reader := NewSceneEventReader("scene-events", reg)

	ctx := newEventContext(`{"scene_id": `)
	reader.Execute(ctx)
	assert.True(t, ctx.HasErrors(), "unparseable payload")

	ctx = newEventContext(`{"status": "completed", "video_ref": "scenes/ball.mp4"}`)
	reader.Execute(ctx)
	assert.True(t, ctx.HasErrors(), "missing scene_id")
}

func TestSceneEventReaderSurfacesUnknownScene(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)

	// An event for a scene the registry has never seen is a real error, not a
	// stale delivery.
	ctx := newEventContext(testutil.CompletedSceneEventText("ghost", "scenes/ghost.mp4"))
	NewSceneEventReader("scene-events", reg).Execute(ctx)

	assert.True(t, ctx.HasErrors())
}
