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

// This file defines the export job: the asynchronous unit of work that
// composites a project's timeline into a single downloadable video. An export
// job is created by an export request, owned exclusively by the export
// orchestrator, and terminal once completed or failed. A new request always
// creates a new job; old jobs are never reopened.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ExportStatus is the lifecycle stage of an export job.
type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusCombining  ExportStatus = "combining"
	ExportStatusFinalizing ExportStatus = "finalizing"
	ExportStatusCompleted  ExportStatus = "completed"
	ExportStatusFailed     ExportStatus = "failed"
)

var exportStatusRank = map[ExportStatus]int{
	ExportStatusPending:    0,
	ExportStatusProcessing: 1,
	ExportStatusCombining:  2,
	ExportStatusFinalizing: 3,
	ExportStatusCompleted:  4,
	ExportStatusFailed:     4,
}

// Terminal reports whether the status admits no further transitions.
func (s ExportStatus) Terminal() bool {
	return s == ExportStatusCompleted || s == ExportStatusFailed
}

// Valid reports whether the status is one of the known stages.
func (s ExportStatus) Valid() bool {
	_, ok := exportStatusRank[s]
	return ok
}

// CanAdvanceTo reports whether an export may move from s to next. A job may
// jump to failed from any non-terminal state; all other moves must strictly
// advance, and terminal states are frozen.
func (s ExportStatus) CanAdvanceTo(next ExportStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == ExportStatusFailed {
		return true
	}
	return exportStatusRank[next] > exportStatusRank[s]
}

// Progress checkpoints reported at each state boundary. Values are coarse but
// monotonic, and 100 is reached only at completed.
const (
	ProgressPending    = 0
	ProgressProcessing = 10
	ProgressCombining  = 40
	ProgressFinalizing = 90
	ProgressCompleted  = 100
)

// CheckpointProgress returns the progress value reported on entering a state.
// A failed job keeps whatever progress it had already reached.
func (s ExportStatus) CheckpointProgress() (int, bool) {
	switch s {
	case ExportStatusPending:
		return ProgressPending, true
	case ExportStatusProcessing:
		return ProgressProcessing, true
	case ExportStatusCombining:
		return ProgressCombining, true
	case ExportStatusFinalizing:
		return ProgressFinalizing, true
	case ExportStatusCompleted:
		return ProgressCompleted, true
	default:
		return 0, false
	}
}

// ExportJob is a single export run for one project.
//
// OutputRef is set only when Status is completed and is an opaque handle into
// the artifact store. ErrorMessage is set only when Status is failed.
// Progress is monotonically non-decreasing while the job is not failed.
type ExportJob struct {
	ID                 string       `json:"id"`
	ProjectID          string       `json:"project_id"`
	Format             VideoFormat  `json:"format"`
	Resolution         Resolution   `json:"resolution"`
	IncludeTransitions bool         `json:"include_transitions"`
	TransitionDuration float64      `json:"transition_duration"`
	Status             ExportStatus `json:"status"`
	Progress           int          `json:"progress"`
	OutputRef          string       `json:"output_ref,omitempty"`
	ErrorMessage       string       `json:"error_message,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
}

// NewExportJob creates a pending export job for a project. The transition
// duration applies to project transitions left unset when IncludeTransitions
// is true; it must be within the transition duration bounds.
func NewExportJob(projectID string, format VideoFormat, resolution Resolution, includeTransitions bool, transitionDuration float64) (*ExportJob, error) {
	if projectID == "" {
		return nil, &ValidationError{Field: "project_id", Reason: "required"}
	}
	switch format {
	case FormatMP4, FormatWebM:
	case "":
		format = FormatMP4
	default:
		return nil, &ValidationError{Field: "format", Reason: "unsupported format " + string(format)}
	}
	if resolution == "" {
		resolution = ResolutionFullHD
	}
	if includeTransitions && transitionDuration != 0 {
		if transitionDuration < MinTransitionDuration || transitionDuration > MaxTransitionDuration {
			return nil, &ValidationError{Field: "transition_duration", Reason: "out of range"}
		}
	}
	return &ExportJob{
		ID:                 uuid.NewString(),
		ProjectID:          projectID,
		Format:             format,
		Resolution:         resolution,
		IncludeTransitions: includeTransitions,
		TransitionDuration: transitionDuration,
		Status:             ExportStatusPending,
		Progress:           ProgressPending,
		CreatedAt:          time.Now().UTC(),
	}, nil
}
