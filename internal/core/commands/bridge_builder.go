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

// This file renders the transition bridge clips. A bridge sits between two
// adjacent scenes and adds its own duration to the timeline; it is built from
// the boundary frames of the surrounding clips, so bridges are independent of
// each other and idempotent given the same inputs. Independence makes them
// embarrassingly parallel, so they render on a worker pool.
package commands

import (
	goctx "context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
)

// xfadeNames maps transition types onto ffmpeg xfade filter names.
var xfadeNames = map[model.TransitionType]string{
	model.TransitionFade:  "fade",
	model.TransitionSlide: "slideleft",
	model.TransitionZoom:  "zoomin",
	model.TransitionSpin:  "radial",
}

// BridgeBuilder renders one bridge clip per adjacent scene pair with an
// active transition, using a bounded worker pool.
type BridgeBuilder struct {
	cor.BaseCommand
	runner          Runner
	ffmpegPath      string
	numberOfWorkers int
}

// NewBridgeBuilder creates the bridge rendering command.
func NewBridgeBuilder(name string, runner Runner, ffmpegPath string, numberOfWorkers int) *BridgeBuilder {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	return &BridgeBuilder{
		BaseCommand:     *cor.NewBaseCommand(name),
		runner:          runner,
		ffmpegPath:      ffmpegPath,
		numberOfWorkers: numberOfWorkers,
	}
}

// bridgeJob is the unit of work for one gap between adjacent scenes. index is
// the position of the preceding scene in the timeline.
type bridgeJob struct {
	index      int
	transition model.Transition
	fromClip   string
	toClip     string
	outPath    string
	frameSize  string
	span       trace.Span
	ctx        goctx.Context
}

type bridgeResult struct {
	index   int
	outPath string
	err     error
}

func (c *BridgeBuilder) Execute(ctx cor.Context) {
	req := ctx.Get(c.GetInputParam()).(*ComposeRequest)
	clipPaths := ctx.Get(clipPathsParam).(map[string]string)

	// bridges[i] is the bridge after scene i, empty when the gap has no
	// active transition.
	bridges := make([]string, len(req.Scenes))

	if !req.Job.IncludeTransitions {
		ctx.Add(bridgePathsParam, bridges)
		ctx.Add(c.GetOutputParam(), req)
		return
	}

	workDir, err := os.MkdirTemp("", "bridges-")
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ComposeError{Step: "bridge", Err: err})
		return
	}

	var jobsList []*bridgeJob
	for i, seg := range req.Segments {
		if seg.TransitionAfter == nil || i >= len(req.Scenes)-1 {
			continue
		}
		jobCtx, span := c.Tracer.Start(ctx.GetContext(), fmt.Sprintf("%s_bridge_%d", c.GetName(), i))
		span.SetAttributes(
			attribute.Int("gap", i),
			attribute.String("transition", string(seg.TransitionAfter.Type)),
		)
		jobsList = append(jobsList, &bridgeJob{
			index:      i,
			transition: *seg.TransitionAfter,
			fromClip:   clipPaths[req.Scenes[i].ID],
			toClip:     clipPaths[req.Scenes[i+1].ID],
			outPath:    filepath.Join(workDir, fmt.Sprintf("bridge_%03d.mp4", i)),
			frameSize:  req.Job.Resolution.FrameSize(),
			span:       span,
			ctx:        jobCtx,
		})
	}

	var wg sync.WaitGroup
	jobs := make(chan *bridgeJob, len(jobsList))
	results := make(chan *bridgeResult, len(jobsList))

	for w := 0; w < c.numberOfWorkers; w++ {
		wg.Add(1)
		go c.bridgeWorker(jobs, results, &wg)
	}
	for _, job := range jobsList {
		jobs <- job
	}
	close(jobs)
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			c.GetErrorCounter().Add(ctx.GetContext(), 1)
			ctx.AddError(c.GetName(), &model.ComposeError{Step: "bridge", Err: r.err})
			continue
		}
		bridges[r.index] = r.outPath
		ctx.AddTempFile(r.outPath)
	}
	// Registered after the clips it contains, so the run's Close empties the
	// directory before removing it.
	ctx.AddTempFile(workDir)
	if ctx.HasErrors() {
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(bridgePathsParam, bridges)
	ctx.Add(c.GetOutputParam(), req)
}

func (c *BridgeBuilder) bridgeWorker(jobs <-chan *bridgeJob, results chan<- *bridgeResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range jobs {
		err := c.renderBridge(j)
		if err != nil {
			j.span.SetStatus(codes.Error, "bridge render failed")
		} else {
			j.span.SetStatus(codes.Ok, "bridge rendered")
		}
		j.span.End()
		results <- &bridgeResult{index: j.index, outPath: j.outPath, err: err}
	}
}

// renderBridge extracts the boundary frames of the two adjacent clips and
// crossfades between them for the transition's duration. The bridge carries
// the whole transition, which is what makes transition time additive.
func (c *BridgeBuilder) renderBridge(j *bridgeJob) error {
	workDir := filepath.Dir(j.outPath)
	lastFrame := filepath.Join(workDir, fmt.Sprintf("last_%03d.png", j.index))
	firstFrame := filepath.Join(workDir, fmt.Sprintf("first_%03d.png", j.index))
	// The boundary frames only feed the crossfade render below.
	defer os.Remove(lastFrame)
	defer os.Remove(firstFrame)

	// Last frame of the outgoing clip.
	if err := c.runner.Run(j.ctx, c.ffmpegPath,
		"-y", "-hide_banner",
		"-sseof", "-0.1",
		"-i", j.fromClip,
		"-frames:v", "1",
		lastFrame); err != nil {
		return fmt.Errorf("failed to extract last frame of gap %d: %w", j.index, err)
	}
	// First frame of the incoming clip.
	if err := c.runner.Run(j.ctx, c.ffmpegPath,
		"-y", "-hide_banner",
		"-i", j.toClip,
		"-frames:v", "1",
		firstFrame); err != nil {
		return fmt.Errorf("failed to extract first frame of gap %d: %w", j.index, err)
	}

	args := BuildBridgeArgs(lastFrame, firstFrame, j.outPath, j.transition, j.frameSize)
	if err := c.runner.Run(j.ctx, c.ffmpegPath, args...); err != nil {
		return fmt.Errorf("failed to render bridge for gap %d: %w", j.index, err)
	}
	return nil
}

// BuildBridgeArgs assembles the ffmpeg invocation that crossfades two still
// frames over the transition duration. Exported so the argument construction
// is testable without running ffmpeg.
func BuildBridgeArgs(fromFrame, toFrame, outPath string, tr model.Transition, frameSize string) []string {
	xfade, ok := xfadeNames[tr.Type]
	if !ok {
		xfade = "fade"
	}
	d := fmt.Sprintf("%.3f", tr.Duration)
	// The scale filter wants w:h, not the WxH form the resolution reports.
	scale := strings.Replace(frameSize, "x", ":", 1)
	filter := fmt.Sprintf(
		"[0:v]scale=%s,setsar=1[a];[1:v]scale=%s,setsar=1[b];[a][b]xfade=transition=%s:duration=%s:offset=0,format=yuv420p",
		scale, scale, xfade, d)

	return []string{
		"-y", "-hide_banner",
		"-loop", "1", "-t", d, "-i", fromFrame,
		"-loop", "1", "-t", d, "-i", toFrame,
		"-filter_complex", filter,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-r", "30",
		outPath,
	}
}
