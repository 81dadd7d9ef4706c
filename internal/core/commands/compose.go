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
	"github.com/storyloom/storyloom/internal/core/model"
)

// Context keys for the side data the compose commands pass between each
// other. The ComposeRequest itself travels on the chain's primary in/out
// keys.
const (
	clipPathsParam    = "__CLIP_PATHS__"
	bridgePathsParam  = "__BRIDGE_PATHS__"
	concatOutputParam = "__CONCAT_OUTPUT__"
)

// GetClipPathsParam names the context key holding the sceneID -> local path
// map produced by the clip fetch command.
func GetClipPathsParam() string { return clipPathsParam }

// GetBridgePathsParam names the context key holding the per-gap bridge clip
// paths produced by the bridge builder.
func GetBridgePathsParam() string { return bridgePathsParam }

// GetConcatOutputParam names the context key holding the concatenated output
// file path.
func GetConcatOutputParam() string { return concatOutputParam }

// ComposeRequest carries one export run through the compose commands. Scenes
// is in timeline order; Segments and Total come from the timeline layout and
// fix the structural duration invariant the finalizer checks against.
type ComposeRequest struct {
	Job      *model.ExportJob
	Project  *model.Project
	Timeline *model.Timeline
	Scenes   []*model.Scene
	Segments []model.Segment
	Total    float64
}
