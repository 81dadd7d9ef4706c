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

package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/storyloom/storyloom/internal/core/model"
)

const exportColumns = `id, project_id, format, resolution, include_transitions,
		transition_duration, status, progress, output_ref, error_message, created_at, completed_at`

// CreateExport inserts a new export job, enforcing the single-active-export
// rule: if any non-terminal export exists for the project, the insert is
// rejected with a ConflictError naming the active job. The check and insert
// share a transaction; the single-connection pool makes the pair atomic.
func (r *Registry) CreateExport(ctx context.Context, job *model.ExportJob) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var activeID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM exports
		WHERE project_id = ? AND status NOT IN ('completed', 'failed')
		LIMIT 1
	`, job.ProjectID).Scan(&activeID)
	if err == nil {
		return &model.ConflictError{ProjectID: job.ProjectID, ActiveExportID: activeID}
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exports (`+exportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.ProjectID, string(job.Format), string(job.Resolution),
		boolToInt(job.IncludeTransitions), job.TransitionDuration,
		string(job.Status), job.Progress, nullString(job.OutputRef),
		nullString(job.ErrorMessage), job.CreatedAt.Format(time.RFC3339), nil)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetExport returns the export job by id, or a NotFoundError.
func (r *Registry) GetExport(ctx context.Context, id string) (*model.ExportJob, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	job, err := scanExport(row)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &model.NotFoundError{Kind: "export", ID: id}
	}
	return job, nil
}

// ListExports returns a project's export jobs, newest first. The rowid breaks
// ties between jobs created within the same second.
func (r *Registry) ListExports(ctx context.Context, projectID string) ([]*model.ExportJob, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT `+exportColumns+` FROM exports WHERE project_id = ? ORDER BY created_at DESC, rowid DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.ExportJob
	for rows.Next() {
		job, err := scanExportRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AdvanceExport moves an export to its next state and checkpoint progress.
// The move is validated against the current row inside a transaction: no
// regression, no touching a terminal row, and progress never decreases.
func (r *Registry) AdvanceExport(ctx context.Context, id string, next model.ExportStatus) error {
	progress, ok := next.CheckpointProgress()
	if !ok {
		return &model.ValidationError{Field: "status", Reason: "no checkpoint for " + string(next)}
	}
	return r.updateExport(ctx, id, next, func(job *model.ExportJob) {
		job.Status = next
		if progress > job.Progress {
			job.Progress = progress
		}
	})
}

// CompleteExport marks an export completed with its output artifact. Progress
// lands exactly at 100 and completed_at is recorded.
func (r *Registry) CompleteExport(ctx context.Context, id, outputRef string) error {
	if outputRef == "" {
		return &model.ValidationError{Field: "output_ref", Reason: "required on completion"}
	}
	return r.updateExport(ctx, id, model.ExportStatusCompleted, func(job *model.ExportJob) {
		job.Status = model.ExportStatusCompleted
		job.Progress = model.ProgressCompleted
		job.OutputRef = outputRef
		job.ErrorMessage = ""
	})
}

// FailExport marks an export failed, preserving the error message and the
// progress it had already reached.
func (r *Registry) FailExport(ctx context.Context, id, errMsg string) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return r.updateExport(ctx, id, model.ExportStatusFailed, func(job *model.ExportJob) {
		job.Status = model.ExportStatusFailed
		job.ErrorMessage = errMsg
		job.OutputRef = ""
	})
}

func (r *Registry) updateExport(ctx context.Context, id string, next model.ExportStatus, mutate func(*model.ExportJob)) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	job, err := scanExport(row)
	if err != nil {
		return err
	}
	if job == nil {
		return &model.NotFoundError{Kind: "export", ID: id}
	}
	if !job.Status.CanAdvanceTo(next) {
		return &model.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("export %s cannot move from %s to %s", id, job.Status, next),
		}
	}
	mutate(job)

	var completedAt any
	if job.Status.Terminal() {
		completedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE exports
		SET status = ?, progress = ?, output_ref = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, string(job.Status), job.Progress, nullString(job.OutputRef),
		nullString(job.ErrorMessage), completedAt, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func scanExport(row *sql.Row) (*model.ExportJob, error) {
	job, err := scanExportRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func scanExportRow(row rowScanner) (*model.ExportJob, error) {
	var job model.ExportJob
	var format, resolution, status, createdAt string
	var includeTransitions int
	var transitionDuration sql.NullFloat64
	var outputRef, errMsg, completedAt sql.NullString

	err := row.Scan(&job.ID, &job.ProjectID, &format, &resolution, &includeTransitions,
		&transitionDuration, &status, &job.Progress, &outputRef, &errMsg, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Format = model.VideoFormat(format)
	job.Resolution = model.Resolution(resolution)
	job.IncludeTransitions = includeTransitions == 1
	job.TransitionDuration = transitionDuration.Float64
	job.Status = model.ExportStatus(status)
	job.OutputRef = outputRef.String
	job.ErrorMessage = errMsg.String
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			job.CompletedAt = &t
		}
	}
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
