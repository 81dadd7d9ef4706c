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

package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/core/model"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Open(filepath.Join(t.TempDir(), "registry.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func createTestScene(t *testing.T, reg *Registry) *model.Scene {
	t.Helper()
	s, err := model.NewScene("a bouncing ball on a dark stage", model.LibraryThreeJS, 5, model.ResolutionFullHD)
	require.NoError(t, err)
	require.NoError(t, reg.CreateScene(context.Background(), s))
	return s
}

func createTestProject(t *testing.T, reg *Registry) *model.Project {
	t.Helper()
	p, err := model.NewProject("Launch Teaser", "teaser video")
	require.NoError(t, err)
	require.NoError(t, reg.CreateProject(context.Background(), p))
	return p
}

func TestSceneRoundTrip(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	s := createTestScene(t, reg)

	got, err := reg.GetScene(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Prompt, got.Prompt)
	assert.Equal(t, model.SceneStatusPending, got.Status)
	assert.Equal(t, 5, got.Duration)

	_, err = reg.GetScene(ctx, "missing")
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestSceneStatusMonotonicity(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	s := createTestScene(t, reg)

	require.NoError(t, reg.AdvanceScene(ctx, s.ID, model.SceneStatusProcessing))
	require.NoError(t, reg.AdvanceScene(ctx, s.ID, model.SceneStatusRendering))

	// A stale event cannot move the scene backwards.
	err := reg.AdvanceScene(ctx, s.ID, model.SceneStatusProcessing)
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr))

	require.NoError(t, reg.CompleteScene(ctx, s.ID, "scenes/clip.mp4"))

	// Terminal rows are frozen.
	err = reg.FailScene(ctx, s.ID, "late failure")
	require.True(t, errors.As(err, &validationErr))

	got, err := reg.GetScene(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusCompleted, got.Status)
	assert.Equal(t, "scenes/clip.mp4", got.VideoRef)
}

func TestCompleteSceneRequiresVideoRef(t *testing.T) {
	reg := openTestRegistry(t)
	s := createTestScene(t, reg)

	err := reg.CompleteScene(context.Background(), s.ID, "")
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestResetSceneOnlyFromTerminal(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	s := createTestScene(t, reg)

	err := reg.ResetScene(ctx, s.ID)
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr), "pending scene cannot reset")

	require.NoError(t, reg.AdvanceScene(ctx, s.ID, model.SceneStatusRendering))
	require.NoError(t, reg.FailScene(ctx, s.ID, "renderer crashed"))
	require.NoError(t, reg.ResetScene(ctx, s.ID))

	got, err := reg.GetScene(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SceneStatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, got.VideoRef)
	assert.Empty(t, got.GeneratedCode)
}

func TestUpdateScenePromptKeepsOriginal(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	s := createTestScene(t, reg)

	require.NoError(t, reg.UpdateScenePrompt(ctx, s.ID, "an enhanced prompt", s.Prompt))
	got, err := reg.GetScene(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "an enhanced prompt", got.Prompt)
	assert.Equal(t, s.Prompt, got.OriginalPrompt)
}

func TestTimelineRoundTrip(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	p := createTestProject(t, reg)
	a := createTestScene(t, reg)
	b := createTestScene(t, reg)

	tl := model.NewTimeline(p.ID)
	tl.SceneIDs = []string{a.ID, b.ID}
	require.NoError(t, tl.SetTransition(a.ID, model.Transition{Type: model.TransitionFade, Duration: 0.5}))
	require.NoError(t, tl.SetDuration(b.ID, 3.0))
	require.NoError(t, reg.SaveTimeline(ctx, tl))

	got, err := reg.GetTimeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, got.SceneIDs)
	assert.Equal(t, model.TransitionFade, got.Transitions[a.ID].Type)
	assert.Equal(t, 0.5, got.Transitions[a.ID].Duration)
	assert.Equal(t, 3.0, got.Durations[b.ID])

	// Saving a new order replaces the old one wholesale.
	require.NoError(t, got.Reorder([]string{b.ID, a.ID}))
	require.NoError(t, reg.SaveTimeline(ctx, got))
	got2, err := reg.GetTimeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, got2.SceneIDs)
}

func TestTimelineEmptyForNewProject(t *testing.T) {
	reg := openTestRegistry(t)
	p := createTestProject(t, reg)

	tl, err := reg.GetTimeline(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, tl.SceneIDs)

	_, err = reg.GetTimeline(context.Background(), "missing")
	var notFound *model.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestDeleteSceneCascadesToTimeline(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	p := createTestProject(t, reg)
	a := createTestScene(t, reg)
	b := createTestScene(t, reg)

	tl := model.NewTimeline(p.ID)
	tl.SceneIDs = []string{a.ID, b.ID}
	require.NoError(t, reg.SaveTimeline(ctx, tl))

	require.NoError(t, reg.DeleteScene(ctx, a.ID))
	got, err := reg.GetTimeline(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, got.SceneIDs)
}

func TestCreateExportConflict(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	p := createTestProject(t, reg)

	first, err := model.NewExportJob(p.ID, model.FormatMP4, model.ResolutionFullHD, true, 0)
	require.NoError(t, err)
	require.NoError(t, reg.CreateExport(ctx, first))

	second, err := model.NewExportJob(p.ID, model.FormatMP4, model.ResolutionFullHD, true, 0)
	require.NoError(t, err)
	err = reg.CreateExport(ctx, second)
	var conflict *model.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ActiveExportID)

	// Once the live job turns terminal a new one is accepted.
	require.NoError(t, reg.FailExport(ctx, first.ID, "cancelled by user"))
	require.NoError(t, reg.CreateExport(ctx, second))
}

func TestExportProgressMonotonic(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	p := createTestProject(t, reg)

	job, err := model.NewExportJob(p.ID, model.FormatMP4, model.ResolutionFullHD, false, 0)
	require.NoError(t, err)
	require.NoError(t, reg.CreateExport(ctx, job))

	require.NoError(t, reg.AdvanceExport(ctx, job.ID, model.ExportStatusProcessing))
	got, _ := reg.GetExport(ctx, job.ID)
	assert.Equal(t, 10, got.Progress)

	require.NoError(t, reg.AdvanceExport(ctx, job.ID, model.ExportStatusCombining))
	require.NoError(t, reg.AdvanceExport(ctx, job.ID, model.ExportStatusFinalizing))
	got, _ = reg.GetExport(ctx, job.ID)
	assert.Equal(t, 90, got.Progress)

	// Regression is rejected.
	err = reg.AdvanceExport(ctx, job.ID, model.ExportStatusProcessing)
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr))

	require.NoError(t, reg.CompleteExport(ctx, job.ID, "exports/out.mp4"))
	got, _ = reg.GetExport(ctx, job.ID)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "exports/out.mp4", got.OutputRef)
	assert.NotNil(t, got.CompletedAt)
}

func TestFailExportKeepsProgress(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	p := createTestProject(t, reg)

	job, err := model.NewExportJob(p.ID, model.FormatMP4, model.ResolutionFullHD, false, 0)
	require.NoError(t, err)
	require.NoError(t, reg.CreateExport(ctx, job))
	require.NoError(t, reg.AdvanceExport(ctx, job.ID, model.ExportStatusProcessing))
	require.NoError(t, reg.AdvanceExport(ctx, job.ID, model.ExportStatusCombining))

	require.NoError(t, reg.FailExport(ctx, job.ID, "ffmpeg concat failed"))
	got, _ := reg.GetExport(ctx, job.ID)
	assert.Equal(t, model.ExportStatusFailed, got.Status)
	assert.Equal(t, 40, got.Progress, "failure preserves reached progress")
	assert.Equal(t, "ffmpeg concat failed", got.ErrorMessage)

	// Failed is terminal.
	err = reg.CompleteExport(ctx, job.ID, "exports/out.mp4")
	var validationErr *model.ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestInterruptedExportsFailOnOpen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "registry.db")

	reg, err := Open(dbPath, nil)
	require.NoError(t, err)
	ctx := context.Background()
	p := createTestProject(t, reg)
	job, err := model.NewExportJob(p.ID, model.FormatMP4, model.ResolutionFullHD, false, 0)
	require.NoError(t, err)
	require.NoError(t, reg.CreateExport(ctx, job))
	require.NoError(t, reg.AdvanceExport(ctx, job.ID, model.ExportStatusProcessing))
	require.NoError(t, reg.Close())

	// A process restart must not leave the project blocked by a zombie job.
	reg2, err := Open(dbPath, nil)
	require.NoError(t, err)
	defer reg2.Close()

	got, err := reg2.GetExport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExportStatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.ErrorMessage)
}
