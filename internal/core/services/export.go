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

// This file defines the ExportService: export job creation, status polling
// and artifact download. One export runs per project at a time; a second
// request while a job is live is a conflict, never a queue.
package services

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/model"
	"github.com/storyloom/storyloom/internal/core/poll"
	"github.com/storyloom/storyloom/internal/core/registry"
	"github.com/storyloom/storyloom/internal/core/workflow"
)

// ExportService creates export jobs and hands them to the orchestrator.
type ExportService struct {
	Registry *registry.Registry
	Workflow *workflow.ExportWorkflow
	Store    cloud.ArtifactStore
	Watcher  *poll.Watcher
}

// NewExportService creates the service.
func NewExportService(reg *registry.Registry, wf *workflow.ExportWorkflow, store cloud.ArtifactStore, watcher *poll.Watcher) *ExportService {
	return &ExportService{Registry: reg, Workflow: wf, Store: store, Watcher: watcher}
}

// CreateExportRequest carries the user's export options.
type CreateExportRequest struct {
	Format             model.VideoFormat `json:"format"`
	Resolution         model.Resolution  `json:"resolution"`
	IncludeTransitions bool              `json:"include_transitions"`
	TransitionDuration float64           `json:"transition_duration"`
}

// CreateExport validates the request, registers a pending job, and starts the
// orchestrator in the background. The registry enforces the one-live-export
// rule; a ConflictError from it names the job already running.
func (s *ExportService) CreateExport(ctx context.Context, projectID string, req CreateExportRequest) (*model.ExportJob, error) {
	job, err := model.NewExportJob(projectID, req.Format, req.Resolution, req.IncludeTransitions, req.TransitionDuration)
	if err != nil {
		return nil, err
	}
	if err := s.Registry.CreateExport(ctx, job); err != nil {
		return nil, err
	}

	go s.Workflow.Run(context.Background(), job.ID)
	s.watch(job.ID)
	return job, nil
}

// GetExportStatus returns the job's current state, progress and outputs.
func (s *ExportService) GetExportStatus(ctx context.Context, id string) (*model.ExportJob, error) {
	return s.Registry.GetExport(ctx, id)
}

// ListExports returns a project's export history, newest first.
func (s *ExportService) ListExports(ctx context.Context, projectID string) ([]*model.ExportJob, error) {
	return s.Registry.ListExports(ctx, projectID)
}

// DownloadURL returns a fetchable URL for a completed export's artifact.
func (s *ExportService) DownloadURL(ctx context.Context, id string) (*model.ExportJob, string, error) {
	job, err := s.Registry.GetExport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != model.ExportStatusCompleted || job.OutputRef == "" {
		return nil, "", &model.ValidationError{Field: "status", Reason: "export has not completed"}
	}
	url, err := s.Store.DownloadURL(ctx, job.OutputRef)
	if err != nil {
		return nil, "", err
	}
	return job, url, nil
}

// OpenArtifact streams a completed export's artifact, for deployments where
// the store has no URL scheme to hand out.
func (s *ExportService) OpenArtifact(ctx context.Context, id string) (*model.ExportJob, io.ReadCloser, error) {
	job, err := s.Registry.GetExport(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != model.ExportStatusCompleted || job.OutputRef == "" {
		return nil, nil, &model.ValidationError{Field: "status", Reason: "export has not completed"}
	}
	rc, err := s.Store.Open(ctx, job.OutputRef)
	if err != nil {
		return nil, nil, err
	}
	return job, rc, nil
}

// CancelExport fails a live job on the user's behalf. A terminal job cannot
// be cancelled.
func (s *ExportService) CancelExport(ctx context.Context, id string) error {
	return s.Registry.FailExport(ctx, id, "cancelled by user")
}

// watch registers a server-side status watch on the job: a lightweight loop
// that polls the registry until the job turns terminal, backing off on
// errors. Duplicate watches for the same job are dropped.
func (s *ExportService) watch(jobID string) {
	if s.Watcher == nil {
		return
	}
	go func() {
		err := s.Watcher.Watch(context.Background(), jobID, func(ctx context.Context) (bool, error) {
			job, err := s.Registry.GetExport(ctx, jobID)
			if err != nil {
				return false, err
			}
			return job.Status.Terminal(), nil
		})
		if err != nil && !errors.Is(err, poll.ErrAlreadyWatching) {
			slog.Warn("export watch ended with error", "export_id", jobID, "error", err)
		}
	}()
}
