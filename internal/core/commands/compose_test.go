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
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
)

// fakeRunner records every invocation and plays back canned output, so the
// compose commands run without ffmpeg installed.
type fakeRunner struct {
	mu      sync.Mutex
	runs    [][]string
	runErr  error
	outputs []string
	outErr  error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, append([]string{name}, args...))
	return f.runErr
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, append([]string{name}, args...))
	if f.outErr != nil {
		return nil, f.outErr
	}
	out := ""
	if len(f.outputs) > 0 {
		out = f.outputs[0]
		f.outputs = f.outputs[1:]
	}
	return []byte(out), nil
}

func (f *fakeRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f.Output(ctx, name, args...)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

// minimal ftyp box header; enough for container sniffing to call it mp4.
var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
	0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2',
}

func completedScenes(durations ...int) []*model.Scene {
	out := make([]*model.Scene, 0, len(durations))
	for i, d := range durations {
		id := string(rune('a' + i))
		out = append(out, &model.Scene{
			ID:       id,
			Duration: d,
			Status:   model.SceneStatusCompleted,
			VideoRef: "scenes/" + id + ".mp4",
		})
	}
	return out
}

func composeRequest(t *testing.T, scenes []*model.Scene, tl *model.Timeline, includeTransitions bool) *ComposeRequest {
	t.Helper()
	job, err := model.NewExportJob("project-1", model.FormatMP4, model.ResolutionFullHD, includeTransitions, 0)
	require.NoError(t, err)
	segments, total, err := model.Layout(scenes, tl)
	require.NoError(t, err)
	return &ComposeRequest{
		Job:      job,
		Timeline: tl,
		Scenes:   scenes,
		Segments: segments,
		Total:    total,
	}
}

func timelineOf(scenes []*model.Scene) *model.Timeline {
	tl := model.NewTimeline("project-1")
	for _, s := range scenes {
		tl.SceneIDs = append(tl.SceneIDs, s.ID)
	}
	return tl
}

func newExecContext(req *ComposeRequest) cor.Context {
	ctx := cor.NewBaseContext()
	ctx.SetContext(context.Background())
	ctx.Add(cor.CtxIn, req)
	return ctx
}

func singleError(t *testing.T, ctx cor.Context) error {
	t.Helper()
	require.True(t, ctx.HasErrors())
	for _, err := range ctx.GetErrors() {
		return err
	}
	return nil
}

func TestPrecheckRejectsEmptyTimeline(t *testing.T) {
	req := composeRequest(t, nil, model.NewTimeline("project-1"), true)
	ctx := newExecContext(req)

	NewExportPrecheck("precheck").Execute(ctx)

	var validationErr *model.ValidationError
	require.ErrorAs(t, singleError(t, ctx), &validationErr)
}

func TestPrecheckCollectsAllOffenders(t *testing.T) {
	scenes := completedScenes(5, 8, 3)
	scenes[1].Status = model.SceneStatusRendering
	scenes[2].VideoRef = ""
	req := composeRequest(t, scenes, timelineOf(scenes), true)
	ctx := newExecContext(req)

	NewExportPrecheck("precheck").Execute(ctx)

	var incomplete *model.IncompleteScenesError
	require.ErrorAs(t, singleError(t, ctx), &incomplete)
	assert.Equal(t, []string{"b", "c"}, incomplete.SceneIDs, "every offender is reported at once")
}

func TestPrecheckPassesRequestThrough(t *testing.T) {
	scenes := completedScenes(5)
	req := composeRequest(t, scenes, timelineOf(scenes), true)
	ctx := newExecContext(req)

	NewExportPrecheck("precheck").Execute(ctx)

	require.False(t, ctx.HasErrors())
	assert.Same(t, req, ctx.Get(cor.CtxOut))
}

func writeClip(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestClipProbeRejectsUnhealthyArtifacts(t *testing.T) {
	dir := t.TempDir()
	scenes := completedScenes(5)
	tl := timelineOf(scenes)

	cases := []struct {
		name   string
		path   string
		reason string
	}{
		{"missing", filepath.Join(dir, "nope.mp4"), "artifact missing"},
		{"empty", writeClip(t, dir, "empty.mp4", nil), "artifact is empty"},
		{"not video", writeClip(t, dir, "notes.txt", []byte("storyboard notes, not a clip")), "not a video container"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := composeRequest(t, scenes, tl, true)
			ctx := newExecContext(req)
			ctx.Add(GetClipPathsParam(), map[string]string{"a": tc.path})

			NewClipProbe("probe", &fakeRunner{}, "ffprobe", 0.5).Execute(ctx)

			var invalid *model.InvalidArtifactError
			require.ErrorAs(t, singleError(t, ctx), &invalid)
			assert.Equal(t, "a", invalid.SceneID)
			assert.Contains(t, invalid.Reason, tc.reason)
		})
	}
}

func TestClipProbeRejectsShortClip(t *testing.T) {
	dir := t.TempDir()
	scenes := completedScenes(5)
	tl := timelineOf(scenes)
	req := composeRequest(t, scenes, tl, true)
	ctx := newExecContext(req)
	ctx.Add(GetClipPathsParam(), map[string]string{"a": writeClip(t, dir, "a.mp4", mp4Header)})

	// The container claims 2 seconds; the timeline needs 5.
	runner := &fakeRunner{outputs: []string{"2.000000\n"}}
	NewClipProbe("probe", runner, "ffprobe", 0.5).Execute(ctx)

	var invalid *model.InvalidArtifactError
	require.ErrorAs(t, singleError(t, ctx), &invalid)
	assert.Contains(t, invalid.Reason, "clip is 2.00s but the timeline needs 5.00s")
}

func TestClipProbeAcceptsHealthyClipsWithinTolerance(t *testing.T) {
	dir := t.TempDir()
	scenes := completedScenes(5, 3)
	tl := timelineOf(scenes)
	req := composeRequest(t, scenes, tl, true)
	ctx := newExecContext(req)
	ctx.Add(GetClipPathsParam(), map[string]string{
		"a": writeClip(t, dir, "a.mp4", mp4Header),
		"b": writeClip(t, dir, "b.mp4", mp4Header),
	})

	// 4.7s against a wanted 5s passes under the 0.5s tolerance.
	runner := &fakeRunner{outputs: []string{"4.700000\n", "3.010000\n"}}
	NewClipProbe("probe", runner, "ffprobe", 0.5).Execute(ctx)

	require.False(t, ctx.HasErrors())
	assert.Same(t, req, ctx.Get(cor.CtxOut))
}

func TestBridgeBuilderSkipsWhenTransitionsExcluded(t *testing.T) {
	scenes := completedScenes(5, 3)
	tl := timelineOf(scenes)
	require.NoError(t, tl.SetTransition("a", model.Transition{Type: model.TransitionFade, Duration: 0.5}))
	req := composeRequest(t, scenes, tl, false)
	ctx := newExecContext(req)
	ctx.Add(GetClipPathsParam(), map[string]string{"a": "a.mp4", "b": "b.mp4"})

	runner := &fakeRunner{}
	NewBridgeBuilder("bridges", runner, "ffmpeg", 2).Execute(ctx)

	require.False(t, ctx.HasErrors())
	bridges := ctx.Get(GetBridgePathsParam()).([]string)
	assert.Equal(t, []string{"", ""}, bridges)
	assert.Zero(t, runner.callCount(), "no ffmpeg work without transitions")
}

func TestBridgeBuilderRendersActiveGaps(t *testing.T) {
	scenes := completedScenes(5, 8, 3)
	tl := timelineOf(scenes)
	require.NoError(t, tl.SetTransition("a", model.Transition{Type: model.TransitionFade, Duration: 0.5}))
	req := composeRequest(t, scenes, tl, true)
	ctx := newExecContext(req)
	ctx.Add(GetClipPathsParam(), map[string]string{"a": "a.mp4", "b": "b.mp4", "c": "c.mp4"})

	runner := &fakeRunner{}
	NewBridgeBuilder("bridges", runner, "ffmpeg", 2).Execute(ctx)

	require.False(t, ctx.HasErrors())
	bridges := ctx.Get(GetBridgePathsParam()).([]string)
	require.Len(t, bridges, 3)
	assert.NotEmpty(t, bridges[0], "the fade after scene a gets a bridge clip")
	assert.Empty(t, bridges[1])
	assert.Empty(t, bridges[2])

	// Two frame extractions plus one crossfade render.
	assert.Equal(t, 3, runner.callCount())
}

func TestBuildBridgeArgs(t *testing.T) {
	args := BuildBridgeArgs("last.png", "first.png", "out.mp4", model.Transition{Type: model.TransitionZoom, Duration: 1.5}, "1920x1080")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-t 1.500 -i last.png")
	assert.Contains(t, joined, "-t 1.500 -i first.png")
	assert.Contains(t, joined, "xfade=transition=zoomin:duration=1.500:offset=0")
	assert.Contains(t, joined, "scale=1920:1080")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Equal(t, "out.mp4", args[len(args)-1])

	// Unknown transition types fall back to a plain crossfade.
	args = BuildBridgeArgs("last.png", "first.png", "out.mp4", model.Transition{Type: "wipe", Duration: 0.5}, "1280x720")
	assert.Contains(t, strings.Join(args, " "), "xfade=transition=fade:duration=0.500")
}

func TestBuildConcatArgs(t *testing.T) {
	args := BuildConcatArgs("list.txt", "out.mp4", model.FormatMP4, model.ResolutionFullHD)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f concat -safe 0 -i list.txt")
	assert.Contains(t, joined, "scale=1920:1080:force_original_aspect_ratio=decrease")
	assert.Contains(t, joined, "pad=1920:1080:(ow-iw)/2:(oh-ih)/2")
	assert.Contains(t, joined, "-c:v libx264 -preset medium -crf 23")
	assert.Contains(t, joined, "-movflags +faststart")
	assert.Equal(t, "out.mp4", args[len(args)-1])

	joined = strings.Join(BuildConcatArgs("list.txt", "out.webm", model.FormatWebM, model.ResolutionHD), " ")
	assert.Contains(t, joined, "scale=1280:720")
	assert.Contains(t, joined, "-c:v libvpx-vp9 -crf 30 -b:v 0")
	assert.NotContains(t, joined, "faststart")
}

func TestConcatListInterleavesBridgesAndTrims(t *testing.T) {
	scenes := completedScenes(5, 3)
	tl := timelineOf(scenes)
	require.NoError(t, tl.SetDuration("b", 2.0))
	req := composeRequest(t, scenes, tl, true)
	ctx := newExecContext(req)
	ctx.Add(GetClipPathsParam(), map[string]string{"a": "/clips/a.mp4", "b": "/clips/b.mp4"})
	ctx.Add(GetBridgePathsParam(), []string{"/bridges/bridge_000.mp4", ""})

	runner := &fakeRunner{}
	NewConcat("concat", runner, "ffmpeg").Execute(ctx)
	require.False(t, ctx.HasErrors())

	out, ok := ctx.Get(GetConcatOutputParam()).(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(out, ".mp4"))

	// The list file travels to ffmpeg via -i; read it back.
	require.Equal(t, 1, runner.callCount())
	args := runner.runs[0]
	var listFile string
	for i, a := range args {
		if a == "-i" {
			listFile = args[i+1]
		}
	}
	require.NotEmpty(t, listFile)
	content, err := os.ReadFile(listFile)
	require.NoError(t, err)
	assert.Equal(t, ""+
		"file '/clips/a.mp4'\n"+
		"outpoint 5.000\n"+
		"file '/bridges/bridge_000.mp4'\n"+
		"file '/clips/b.mp4'\n"+
		"outpoint 2.000\n",
		string(content))
}

func TestFinalizeRejectsDurationMismatch(t *testing.T) {
	scenes := completedScenes(5, 5)
	tl := timelineOf(scenes)
	req := composeRequest(t, scenes, tl, false)
	ctx := newExecContext(req)
	ctx.Add(GetConcatOutputParam(), "out.mp4")

	// The container reports 6s against a 10s layout.
	runner := &fakeRunner{outputs: []string{"6.000000\n"}}
	NewFinalize("finalize", runner, "ffmpeg", "ffprobe", nil, "exports", 0.5).Execute(ctx)

	var composeErr *model.ComposeError
	require.ErrorAs(t, singleError(t, ctx), &composeErr)
	assert.Equal(t, "finalize", composeErr.Step)
	assert.Contains(t, composeErr.Error(), "disagrees with timeline total")
}

func TestFinalizePublishesToStore(t *testing.T) {
	scenes := completedScenes(5, 5)
	tl := timelineOf(scenes)
	req := composeRequest(t, scenes, tl, false)
	req.Project = &model.Project{ID: "project-1", Name: "Launch Teaser"}

	outPath := writeClip(t, t.TempDir(), "stitched.mp4", mp4Header)
	ctx := newExecContext(req)
	ctx.Add(GetConcatOutputParam(), outPath)

	storeDir := t.TempDir()
	store := cloud.NewLocalArtifactStore(storeDir)
	// First call is the duration probe, second the black-frame check.
	runner := &fakeRunner{outputs: []string{"10.000000\n", ""}}
	NewFinalize("finalize", runner, "ffmpeg", "ffprobe", store, "exports", 0.5).Execute(ctx)

	require.False(t, ctx.HasErrors())
	ref, ok := ctx.Get(cor.CtxOut).(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ref, "exports/Launch_Teaser_"))
	assert.True(t, strings.HasSuffix(ref, ".mp4"))

	stored, err := os.ReadFile(filepath.Join(storeDir, filepath.FromSlash(ref)))
	require.NoError(t, err)
	assert.Equal(t, mp4Header, stored)
}

func TestFinalizeWarnsOnBlackOutput(t *testing.T) {
	scenes := completedScenes(5, 5)
	tl := timelineOf(scenes)
	req := composeRequest(t, scenes, tl, false)
	req.Project = &model.Project{ID: "project-1", Name: "Launch Teaser"}

	outPath := writeClip(t, t.TempDir(), "stitched.mp4", mp4Header)
	ctx := newExecContext(req)
	ctx.Add(GetConcatOutputParam(), outPath)

	var logBuf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logBuf, nil)))
	defer slog.SetDefault(prev)

	// The duration probe answers on stdout; blackdetect reports arrive on the
	// combined stream the way ffmpeg emits them to stderr.
	runner := &fakeRunner{outputs: []string{
		"10.000000\n",
		"[blackdetect @ 0x5581] black_start:0 black_end:10 black_duration:10\n",
	}}
	store := cloud.NewLocalArtifactStore(t.TempDir())
	NewFinalize("finalize", runner, "ffmpeg", "ffprobe", store, "exports", 0.5).Execute(ctx)

	require.False(t, ctx.HasErrors(), "a black export still completes")
	_, ok := ctx.Get(cor.CtxOut).(string)
	require.True(t, ok)
	assert.Contains(t, logBuf.String(), "begins with a black segment")
}

func TestBridgeBuilderCleansUpWorkDir(t *testing.T) {
	scenes := completedScenes(5, 3)
	tl := timelineOf(scenes)
	require.NoError(t, tl.SetTransition("a", model.Transition{Type: model.TransitionFade, Duration: 0.5}))
	req := composeRequest(t, scenes, tl, true)
	ctx := newExecContext(req)
	ctx.Add(GetClipPathsParam(), map[string]string{"a": "a.mp4", "b": "b.mp4"})

	NewBridgeBuilder("bridges", &fakeRunner{}, "ffmpeg", 2).Execute(ctx)
	require.False(t, ctx.HasErrors())

	bridges := ctx.Get(GetBridgePathsParam()).([]string)
	require.NotEmpty(t, bridges[0])
	workDir := filepath.Dir(bridges[0])
	_, err := os.Stat(workDir)
	require.NoError(t, err)

	ctx.Close()
	_, err = os.Stat(workDir)
	assert.True(t, os.IsNotExist(err), "the bridge scratch directory goes with the run")
}

func TestExportArtifactRef(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	project := &model.Project{Name: "My Launch! Teaser"}

	ref := ExportArtifactRef("exports", project, model.FormatWebM, at)
	assert.Equal(t, "exports/My_Launch_Teaser_20260102_150405.webm", ref)

	// No project yet is still a valid export name.
	ref = ExportArtifactRef("exports", nil, model.FormatMP4, at)
	assert.Equal(t, "exports/animation_20260102_150405.mp4", ref)
}
