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

// Package workflow combines the atomic commands into the two long-running
// orchestrations of the system: the export state machine and the scene
// generation pipeline. This file drives an export job through
// pending -> processing -> combining -> finalizing -> completed, recording
// each boundary in the registry; any failure lands the job on failed with
// the error message preserved.
package workflow

import (
	goctx "context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/commands"
	"github.com/storyloom/storyloom/internal/core/cor"
	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/registry"
)

// DefaultStageTimeout bounds the dwell time in any single export stage.
const DefaultStageTimeout = 10 * time.Minute

// ExportWorkflow composes a project timeline into a single video artifact.
// Each state of the job owns one command chain; the workflow advances the
// registry row at every state boundary so pollers observe monotonic progress.
type ExportWorkflow struct {
	registry     *registry.Registry
	stageTimeout time.Duration

	processing cor.Chain
	combining  cor.Chain
	finalizing cor.Chain
}

// NewExportWorkflow builds the workflow and its stage chains from the
// configuration, artifact store and media tool runner.
func NewExportWorkflow(config *cloud.Config, reg *registry.Registry, store cloud.ArtifactStore, runner commands.Runner) *ExportWorkflow {
	stageTimeout := DefaultStageTimeout
	if config.Media.StageTimeoutSeconds > 0 {
		stageTimeout = time.Duration(config.Media.StageTimeoutSeconds) * time.Second
	}

	processing := cor.NewBaseChain("export-processing")
	processing.AddCommand(commands.NewExportPrecheck("export-precheck"))
	processing.AddCommand(commands.NewClipFetch("export-clip-fetch", store))
	processing.AddCommand(commands.NewClipProbe("export-clip-probe", runner, config.Media.FFprobePath, config.Media.DurationToleranceSeconds))

	combining := cor.NewBaseChain("export-combining")
	combining.AddCommand(commands.NewBridgeBuilder("export-bridge-builder", runner, config.Media.FFmpegPath, config.Application.ThreadPoolSize))
	combining.AddCommand(commands.NewConcat("export-concat", runner, config.Media.FFmpegPath))

	finalizing := cor.NewBaseChain("export-finalizing")
	finalizing.AddCommand(commands.NewFinalize("export-finalize", runner,
		config.Media.FFmpegPath, config.Media.FFprobePath,
		store, config.Storage.ExportPrefix, config.Media.DurationToleranceSeconds))

	return &ExportWorkflow{
		registry:     reg,
		stageTimeout: stageTimeout,
		processing:   processing,
		combining:    combining,
		finalizing:   finalizing,
	}
}

// Run drives one export job to a terminal state. It blocks until the job is
// completed or failed; callers observe progress by polling the registry row.
func (w *ExportWorkflow) Run(ctx goctx.Context, jobID string) {
	tracer := otel.Tracer("export-workflow")
	runCtx, span := tracer.Start(ctx, "export-run")
	span.SetAttributes(attribute.String("export.id", jobID))
	defer span.End()

	job, err := w.registry.GetExport(runCtx, jobID)
	if err != nil {
		span.SetStatus(codes.Error, "export job not found")
		return
	}

	req, err := w.buildRequest(runCtx, job)
	if err != nil {
		w.fail(runCtx, span, jobID, err)
		return
	}

	chainCtx := cor.NewBaseContext()
	defer chainCtx.Close()
	chainCtx.Add(cor.CtxIn, req)

	stages := []struct {
		status model.ExportStatus
		chain  cor.Chain
	}{
		{model.ExportStatusProcessing, w.processing},
		{model.ExportStatusCombining, w.combining},
		{model.ExportStatusFinalizing, w.finalizing},
	}
	for _, stage := range stages {
		if err := w.registry.AdvanceExport(runCtx, jobID, stage.status); err != nil {
			w.fail(runCtx, span, jobID, err)
			return
		}
		if err := w.runStage(runCtx, chainCtx, stage.chain, stage.status); err != nil {
			w.fail(runCtx, span, jobID, err)
			return
		}
	}

	outputRef, ok := chainCtx.Get(cor.CtxIn).(string)
	if !ok || outputRef == "" {
		w.fail(runCtx, span, jobID, &model.ComposeError{Step: "finalize", Err: errors.New("no output artifact produced")})
		return
	}
	if err := w.registry.CompleteExport(runCtx, jobID, outputRef); err != nil {
		w.fail(runCtx, span, jobID, err)
		return
	}
	span.SetStatus(codes.Ok, "export completed")
}

// runStage executes one stage chain under the dwell timeout. Exceeding the
// timeout is a TimeoutError, not a hang.
func (w *ExportWorkflow) runStage(ctx goctx.Context, chainCtx cor.Context, chain cor.Chain, status model.ExportStatus) error {
	stageCtx, cancel := goctx.WithTimeout(ctx, w.stageTimeout)
	defer cancel()

	chainCtx.SetContext(stageCtx)
	chain.Execute(chainCtx)

	if errors.Is(stageCtx.Err(), goctx.DeadlineExceeded) {
		return &model.TimeoutError{Stage: string(status), Limit: w.stageTimeout}
	}
	if chainCtx.HasErrors() {
		for _, err := range chainCtx.GetErrors() {
			return err
		}
	}
	return nil
}

// buildRequest loads the job's project, timeline and scenes and computes the
// layout the compositor must reproduce. Transitions are dropped entirely for
// includeTransitions=false exports; a request-level transition duration
// overrides every active transition uniformly.
func (w *ExportWorkflow) buildRequest(ctx goctx.Context, job *model.ExportJob) (*commands.ComposeRequest, error) {
	project, err := w.registry.GetProject(ctx, job.ProjectID)
	if err != nil {
		return nil, err
	}
	timeline, err := w.registry.GetTimeline(ctx, job.ProjectID)
	if err != nil {
		return nil, err
	}
	scenes, err := w.registry.GetScenes(ctx, timeline.SceneIDs)
	if err != nil {
		return nil, err
	}

	effective := timeline.Clone()
	if !job.IncludeTransitions {
		effective.Transitions = make(map[string]model.Transition)
	} else if job.TransitionDuration > 0 {
		for id, tr := range effective.Transitions {
			if tr.Active() {
				effective.Transitions[id] = model.Transition{Type: tr.Type, Duration: job.TransitionDuration}
			}
		}
	}

	segments, total, err := model.Layout(scenes, effective)
	if err != nil {
		return nil, err
	}
	return &commands.ComposeRequest{
		Job:      job,
		Project:  project,
		Timeline: effective,
		Scenes:   scenes,
		Segments: segments,
		Total:    total,
	}, nil
}

func (w *ExportWorkflow) fail(ctx goctx.Context, span trace.Span, jobID string, cause error) {
	span.SetStatus(codes.Error, "export failed")
	slog.Error("export job failed", "export_id", jobID, "error", cause)
	if err := w.registry.FailExport(ctx, jobID, cause.Error()); err != nil {
		// The row may already be terminal (e.g. cancelled).
		slog.Warn("could not record export failure", "export_id", jobID, "error", err)
	}
}
