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
	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
)

// ExportPrecheck is the fail-fast gate at the front of an export run. Every
// scene on the timeline must be completed with a video artifact before any
// compute-heavy work starts; offenders are reported together so the caller
// sees the full list, not just the first.
type ExportPrecheck struct {
	cor.BaseCommand
}

// NewExportPrecheck creates the precheck command.
func NewExportPrecheck(name string) *ExportPrecheck {
	return &ExportPrecheck{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *ExportPrecheck) Execute(ctx cor.Context) {
	req := ctx.Get(c.GetInputParam()).(*ComposeRequest)

	if len(req.Scenes) == 0 {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.ValidationError{Field: "timeline", Reason: "no scenes to export"})
		return
	}

	var offenders []string
	for _, scene := range req.Scenes {
		if scene.Status != model.SceneStatusCompleted || scene.VideoRef == "" {
			offenders = append(offenders, scene.ID)
		}
	}
	if len(offenders) > 0 {
		c.GetErrorCounter().Add(ctx.GetContext(), 1)
		ctx.AddError(c.GetName(), &model.IncompleteScenesError{SceneIDs: offenders})
		return
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(c.GetOutputParam(), req)
}
