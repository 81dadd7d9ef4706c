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

// Package pipeline defines the external-collaborator contracts for scene
// generation: prompt enhancement, animation code generation, and rendering.
// The orchestration around these interfaces lives in the workflow package;
// the implementations here only transport prompts and outputs across the
// collaborator boundary.
package pipeline

import (
	"context"

	"github.com/storyloom/storyloom/internal/core/model"
)

// PromptEnhancer rewrites a raw user prompt into a richer animation
// description for the code generator.
type PromptEnhancer interface {
	Enhance(ctx context.Context, prompt string, library model.AnimationLibrary) (string, error)
}

// CodeGenerator produces animation source code for a scene from its prompt.
type CodeGenerator interface {
	Generate(ctx context.Context, scene *model.Scene) (string, error)
}

// SceneRenderer renders generated code into a video clip and returns the
// artifact ref for the result.
type SceneRenderer interface {
	Render(ctx context.Context, scene *model.Scene, code string) (videoRef string, err error)
}
