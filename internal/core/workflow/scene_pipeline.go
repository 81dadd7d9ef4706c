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

package workflow

import (
	goctx "context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/pipeline"
	"github.com/storyloom/storyloom/internal/core/registry"
)

// ScenePipeline drives one scene from pending to a rendered clip:
// pending -> processing (prompt enhancement) -> generating_code -> rendering
// -> completed. Every stage boundary is an AdvanceScene call, so a crashed or
// duplicate run can never regress a scene the registry already moved past.
type ScenePipeline struct {
	registry  *registry.Registry
	enhancer  pipeline.PromptEnhancer
	generator pipeline.CodeGenerator
	renderer  pipeline.SceneRenderer
}

// NewScenePipeline assembles the generation pipeline.
func NewScenePipeline(reg *registry.Registry, enhancer pipeline.PromptEnhancer, generator pipeline.CodeGenerator, renderer pipeline.SceneRenderer) *ScenePipeline {
	return &ScenePipeline{
		registry:  reg,
		enhancer:  enhancer,
		generator: generator,
		renderer:  renderer,
	}
}

// Run generates a video for the scene. With enhance set, the prompt is first
// rewritten by the enhancement model; the user's original prompt is retained
// alongside the rewrite. Any stage error marks the scene failed with the
// stage's error message.
func (p *ScenePipeline) Run(ctx goctx.Context, sceneID string, enhance bool) {
	tracer := otel.Tracer("scene-pipeline")
	runCtx, span := tracer.Start(ctx, "scene-run")
	span.SetAttributes(attribute.String("scene.id", sceneID))
	defer span.End()

	scene, err := p.registry.GetScene(runCtx, sceneID)
	if err != nil {
		span.SetStatus(codes.Error, "scene not found")
		return
	}

	if err := p.registry.AdvanceScene(runCtx, sceneID, model.SceneStatusProcessing); err != nil {
		p.fail(runCtx, span, sceneID, err)
		return
	}

	if enhance && p.enhancer != nil {
		if err := p.enhance(runCtx, tracer, scene); err != nil {
			p.fail(runCtx, span, sceneID, err)
			return
		}
	}

	if err := p.registry.AdvanceScene(runCtx, sceneID, model.SceneStatusGeneratingCode); err != nil {
		p.fail(runCtx, span, sceneID, err)
		return
	}
	code, err := p.generate(runCtx, tracer, scene)
	if err != nil {
		p.fail(runCtx, span, sceneID, err)
		return
	}

	if err := p.registry.AdvanceScene(runCtx, sceneID, model.SceneStatusRendering); err != nil {
		p.fail(runCtx, span, sceneID, err)
		return
	}
	videoRef, err := p.render(runCtx, tracer, scene, code)
	if err != nil {
		p.fail(runCtx, span, sceneID, err)
		return
	}

	if err := p.registry.CompleteScene(runCtx, sceneID, videoRef); err != nil {
		p.fail(runCtx, span, sceneID, err)
		return
	}
	span.SetStatus(codes.Ok, "scene completed")
}

func (p *ScenePipeline) enhance(ctx goctx.Context, tracer trace.Tracer, scene *model.Scene) error {
	stageCtx, stageSpan := tracer.Start(ctx, "scene-enhance")
	defer stageSpan.End()

	enhanced, err := p.enhancer.Enhance(stageCtx, scene.Prompt, scene.Library)
	if err != nil {
		stageSpan.SetStatus(codes.Error, "prompt enhancement failed")
		return err
	}
	original := scene.Prompt
	if err := p.registry.UpdateScenePrompt(stageCtx, scene.ID, enhanced, original); err != nil {
		return err
	}
	scene.OriginalPrompt = original
	scene.Prompt = enhanced
	stageSpan.SetStatus(codes.Ok, "prompt enhanced")
	return nil
}

func (p *ScenePipeline) generate(ctx goctx.Context, tracer trace.Tracer, scene *model.Scene) (string, error) {
	stageCtx, stageSpan := tracer.Start(ctx, "scene-generate-code")
	defer stageSpan.End()

	if p.generator == nil {
		stageSpan.SetStatus(codes.Error, "no code generator configured")
		return "", errors.New("no code generator configured")
	}
	code, err := p.generator.Generate(stageCtx, scene)
	if err != nil {
		stageSpan.SetStatus(codes.Error, "code generation failed")
		return "", err
	}
	if err := p.registry.SetSceneCode(stageCtx, scene.ID, code); err != nil {
		return "", err
	}
	scene.GeneratedCode = code
	stageSpan.SetStatus(codes.Ok, "code generated")
	return code, nil
}

func (p *ScenePipeline) render(ctx goctx.Context, tracer trace.Tracer, scene *model.Scene, code string) (string, error) {
	stageCtx, stageSpan := tracer.Start(ctx, "scene-render")
	defer stageSpan.End()

	if p.renderer == nil {
		stageSpan.SetStatus(codes.Error, "no renderer configured")
		return "", errors.New("no renderer configured")
	}
	videoRef, err := p.renderer.Render(stageCtx, scene, code)
	if err != nil {
		stageSpan.SetStatus(codes.Error, "render failed")
		return "", err
	}
	stageSpan.SetStatus(codes.Ok, "render complete")
	return videoRef, nil
}

func (p *ScenePipeline) fail(ctx goctx.Context, span trace.Span, sceneID string, cause error) {
	span.SetStatus(codes.Error, "scene generation failed")
	slog.Error("scene generation failed", "scene_id", sceneID, "error", cause)
	if err := p.registry.FailScene(ctx, sceneID, cause.Error()); err != nil {
		slog.Warn("could not record scene failure", "scene_id", sceneID, "error", err)
	}
}
