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

package workflow

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

type fakeEnhancer struct {
	calls int
	err   error
}

func (f *fakeEnhancer) Enhance(_ context.Context, prompt string, _ model.AnimationLibrary) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "enhanced: " + prompt, nil
}

type fakeGenerator struct {
	err error
}

func (f *fakeGenerator) Generate(_ context.Context, scene *model.Scene) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "scene.add(new THREE.Mesh()); // " + scene.Prompt, nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(_ context.Context, scene *model.Scene, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "scenes/" + scene.ID + ".mp4", nil
}

func createPendingScene(t *testing.T, reg *registry.Registry) *model.Scene {
	t.Helper()
	s, err := model.NewScene("a bouncing ball on a dark stage", model.LibraryThreeJS, 5, model.ResolutionFullHD)
	require.NoError(t, err)
	require.NoError(t, reg.CreateScene(context.Background(), s))
	return s
}

func TestScenePipelineCompletesScene(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s := createPendingScene(t, reg)
	enhancer := &fakeEnhancer{}

	NewScenePipeline(reg, enhancer, &fakeGenerator{}, &fakeRenderer{}).Run(context.Background(), s.ID, true)

	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusCompleted, got.Status)
	assert.Equal(t, "scenes/"+s.ID+".mp4", got.VideoRef)
	assert.Equal(t, "enhanced: a bouncing ball on a dark stage", got.Prompt)
	assert.Equal(t, "a bouncing ball on a dark stage", got.OriginalPrompt)
	assert.NotEmpty(t, got.GeneratedCode)
	assert.Equal(t, 1, enhancer.calls)
}

func TestScenePipelineSkipsEnhancementWhenDisabled(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s := createPendingScene(t, reg)
	enhancer := &fakeEnhancer{}

	NewScenePipeline(reg, enhancer, &fakeGenerator{}, &fakeRenderer{}).Run(context.Background(), s.ID, false)

	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusCompleted, got.Status)
	assert.Equal(t, s.Prompt, got.Prompt, "the prompt rides through untouched")
	assert.Zero(t, enhancer.calls)
}

func TestScenePipelineRecordsGenerationFailure(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s := createPendingScene(t, reg)

	gen := &fakeGenerator{err: errors.New("model quota exhausted")}
	NewScenePipeline(reg, nil, gen, &fakeRenderer{}).Run(context.Background(), s.ID, false)

	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusFailed, got.Status)
	assert.Equal(t, "model quota exhausted", got.ErrorMessage)
	assert.Empty(t, got.VideoRef)
}

func TestScenePipelineRecordsRenderFailure(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s := createPendingScene(t, reg)

	renderer := &fakeRenderer{err: errors.New("render farm unreachable")}
	NewScenePipeline(reg, nil, &fakeGenerator{}, renderer).Run(context.Background(), s.ID, false)

	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusFailed, got.Status)
	assert.Equal(t, "render farm unreachable", got.ErrorMessage)
	assert.NotEmpty(t, got.GeneratedCode, "the code survives for inspection")
}

func TestScenePipelineFailsWithoutRenderer(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s := createPendingScene(t, reg)

	NewScenePipeline(reg, nil, &fakeGenerator{}, nil).Run(context.Background(), s.ID, false)

	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusFailed, got.Status)
	assert.Equal(t, "no renderer configured", got.ErrorMessage)
}

func TestScenePipelineNeverRegressesTerminalScene(t *testing.T) {
	reg := testutil.OpenTestRegistry(t)
	s := createPendingScene(t, reg)
	require.NoError(t, reg.CompleteScene(context.Background(), s.ID, "scenes/done.mp4"))

	// A duplicate run against a finished scene is a no-op; the first advance
	// is rejected and the terminal row cannot be marked failed either.
	NewScenePipeline(reg, nil, &fakeGenerator{}, &fakeRenderer{}).Run(context.Background(), s.ID, false)

	got, err := reg.GetScene(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusCompleted, got.Status)
	assert.Equal(t, "scenes/done.mp4", got.VideoRef)
}
