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
	"os"
	"path/filepath"
	"strings"

	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
)

// Concat stitches the staged clips and bridges into a single re-encoded
// output: clip 1 + bridge 1 + clip 2 + ... + clip n, in timeline order. The
// concat demuxer drives the ordering; per-clip outpoints apply the
// timeline's duration overrides so the output length agrees with the layout.
type Concat struct {
	cor.BaseCommand
	runner     Runner
	ffmpegPath string
}

// NewConcat creates the concatenation command.
func NewConcat(name string, runner Runner, ffmpegPath string) *Concat {
	return &Concat{BaseCommand: *cor.NewBaseCommand(name), runner: runner, ffmpegPath: ffmpegPath}
}

func (c *Concat) Execute(ctx cor.Context) {
	req := ctx.Get(c.GetInputParam()).(*ComposeRequest)
	clipPaths := ctx.Get(clipPathsParam).(map[string]string)
	bridges := ctx.Get(bridgePathsParam).([]string)

	listFile, err := writeConcatList(req, clipPaths, bridges)
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ComposeError{Step: "concat", Err: err})
		return
	}
	ctx.AddTempFile(listFile)

	outFile, err := os.CreateTemp("", "export-*."+string(req.Job.Format))
	if err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ComposeError{Step: "concat", Err: err})
		return
	}
	_ = outFile.Close()
	ctx.AddTempFile(outFile.Name())

	args := BuildConcatArgs(listFile, outFile.Name(), req.Job.Format, req.Job.Resolution)
	if err := c.runner.Run(ctx.GetContext(), c.ffmpegPath, args...); err != nil {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ComposeError{Step: "concat", Err: fmt.Errorf("ffmpeg concat failed: %w", err)})
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(concatOutputParam, outFile.Name())
	ctx.Add(c.GetOutputParam(), req)
}

// writeConcatList produces the concat demuxer list: each clip in timeline
// order, its outpoint trimmed to the timeline's effective duration, with the
// gap's bridge clip interleaved after it.
func writeConcatList(req *ComposeRequest, clipPaths map[string]string, bridges []string) (string, error) {
	var b strings.Builder
	for i, scene := range req.Scenes {
		path, ok := clipPaths[scene.ID]
		if !ok {
			return "", fmt.Errorf("no staged clip for scene %s", scene.ID)
		}
		fmt.Fprintf(&b, "file '%s'\n", concatEscape(path))
		fmt.Fprintf(&b, "outpoint %.3f\n", req.Timeline.EffectiveDuration(scene))
		if i < len(bridges) && bridges[i] != "" {
			fmt.Fprintf(&b, "file '%s'\n", concatEscape(bridges[i]))
		}
	}

	listFile, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return "", err
	}
	if _, err := listFile.WriteString(b.String()); err != nil {
		_ = listFile.Close()
		return "", err
	}
	if err := listFile.Close(); err != nil {
		return "", err
	}
	return listFile.Name(), nil
}

func concatEscape(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), "'", `'\''`)
}

// BuildConcatArgs assembles the ffmpeg invocation for the final stitch:
// concat demuxer in, scaled and padded to the requested frame size, encoded
// for the requested container with streaming-friendly flags. Exported so the
// argument construction is testable without running ffmpeg.
func BuildConcatArgs(listFile, outPath string, format model.VideoFormat, resolution model.Resolution) []string {
	wh := strings.SplitN(resolution.FrameSize(), "x", 2)
	filter := fmt.Sprintf(
		"scale=%s:%s:force_original_aspect_ratio=decrease,pad=%s:%s:(ow-iw)/2:(oh-ih)/2,format=yuv420p",
		wh[0], wh[1], wh[0], wh[1])

	args := []string{
		"-y", "-hide_banner",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-vf", filter,
	}
	switch format {
	case model.FormatWebM:
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-crf", "30",
			"-b:v", "0",
		)
	default:
		args = append(args,
			"-c:v", "libx264",
			"-preset", "medium",
			"-crf", "23",
			"-movflags", "+faststart",
		)
	}
	return append(args, outPath)
}
