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
	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
)

// ClipFetch stages every source clip on the local filesystem. Artifacts
// fetched from a remote store land in temp files that are registered on the
// context for cleanup when the run closes.
type ClipFetch struct {
	cor.BaseCommand
	store cloud.ArtifactStore
}

// NewClipFetch creates the staging command over the artifact store.
func NewClipFetch(name string, store cloud.ArtifactStore) *ClipFetch {
	return &ClipFetch{BaseCommand: *cor.NewBaseCommand(name), store: store}
}

func (c *ClipFetch) Execute(ctx cor.Context) {
	req := ctx.Get(c.GetInputParam()).(*ComposeRequest)

	clipPaths := make(map[string]string, len(req.Scenes))
	for _, scene := range req.Scenes {
		path, temporary, err := c.store.Fetch(ctx.GetContext(), scene.VideoRef)
		if err != nil {
			c.GetErrorCounter().Add(ctx.GetContext(), 1)
			ctx.AddError(c.GetName(), &model.InvalidArtifactError{SceneID: scene.ID, Reason: "artifact unavailable: " + err.Error()})
			return
		}
		if temporary {
			ctx.AddTempFile(path)
		}
		clipPaths[scene.ID] = path
	}

	c.GetSuccessCounter().Add(ctx.GetContext(), 1)
	ctx.Add(clipPathsParam, clipPaths)
	ctx.Add(c.GetOutputParam(), req)
}
