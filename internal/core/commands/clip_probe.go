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

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"

	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
)

// ClipProbe validates the health of every staged source clip before the
// expensive compositing steps run: the file must be a recognizable video
// container, playable by ffprobe, non-zero length, and long enough to cover
// the duration the timeline expects from it. The first unhealthy clip aborts
// the run.
type ClipProbe struct {
	cor.BaseCommand
	runner      Runner
	ffprobePath string
	tolerance   float64
}

// NewClipProbe creates the probe command. tolerance is the allowed slack, in
// seconds, between a clip's container duration and the scene's recorded
// duration.
func NewClipProbe(name string, runner Runner, ffprobePath string, tolerance float64) *ClipProbe {
	if tolerance <= 0 {
		tolerance = 0.5
	}
	return &ClipProbe{
		BaseCommand: *cor.NewBaseCommand(name),
		runner:      runner,
		ffprobePath: ffprobePath,
		tolerance:   tolerance,
	}
}

func (c *ClipProbe) Execute(ctx cor.Context) {
	req := ctx.Get(c.GetInputParam()).(*ComposeRequest)
	clipPaths := ctx.Get(clipPathsParam).(map[string]string)

	for _, scene := range req.Scenes {
		path := clipPaths[scene.ID]
		if err := c.probe(ctx, scene, path, req.Timeline.EffectiveDuration(scene)); err != nil {
			c.GetErrorCounter().Add(ctx.GetContext(), 1)
			ctx.AddError(c.GetName(), err)
			return
		}
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), req)
}

func (c *ClipProbe) probe(ctx cor.Context, scene *model.Scene, path string, wanted float64) error {
	info, err := os.Stat(path)
	if err != nil {
		return &model.InvalidArtifactError{SceneID: scene.ID, Reason: "artifact missing"}
	}
	if info.Size() == 0 {
		return &model.InvalidArtifactError{SceneID: scene.ID, Reason: "artifact is empty"}
	}

	kind, err := filetype.MatchFile(path)
	if err != nil {
		return &model.InvalidArtifactError{SceneID: scene.ID, Reason: "unreadable artifact: " + err.Error()}
	}
	switch kind {
	case matchers.TypeMp4, matchers.TypeWebm, matchers.TypeMkv, matchers.TypeMov:
	default:
		return &model.InvalidArtifactError{SceneID: scene.ID, Reason: "not a video container: " + kind.Extension}
	}

	duration, err := ProbeDuration(ctx.GetContext(), c.runner, c.ffprobePath, path)
	if err != nil {
		return &model.InvalidArtifactError{SceneID: scene.ID, Reason: "unplayable artifact: " + err.Error()}
	}
	if duration <= 0 {
		return &model.InvalidArtifactError{SceneID: scene.ID, Reason: "zero-length artifact"}
	}
	if duration+c.tolerance < wanted {
		return &model.InvalidArtifactError{
			SceneID: scene.ID,
			Reason:  fmt.Sprintf("clip is %.2fs but the timeline needs %.2fs", duration, wanted),
		}
	}
	return nil
}
