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
	"time"

	"github.com/storyloom/storyloom/internal/core/model"
)

// CreateProject inserts a new project with an empty timeline.
func (r *Registry) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, nullString(p.Description),
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

// GetProject returns the project by id, or a NotFoundError.
func (r *Registry) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := r.conn.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM projects WHERE id = ?
	`, id)

	var p model.Project
	var description sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &description, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "project", ID: id}
	}
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (r *Registry) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		var p model.Project
		var description sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &description, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.Description = description.String
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// UpdateProject updates the mutable project fields.
func (r *Registry) UpdateProject(ctx context.Context, p *model.Project) error {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?
	`, p.Name, nullString(p.Description), time.Now().UTC().Format(time.RFC3339), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "project", ID: p.ID}
	}
	return nil
}

// DeleteProject removes a project and, via cascade, its timeline entries and
// export records. Scenes survive; they are owned independently.
func (r *Registry) DeleteProject(ctx context.Context, id string) error {
	res, err := r.conn.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "project", ID: id}
	}
	return nil
}

// GetTimeline loads the project's timeline: scene order, transitions keyed by
// preceding scene, and per-scene duration overrides. A project with no
// entries gets an empty timeline, not an error.
func (r *Registry) GetTimeline(ctx context.Context, projectID string) (*model.Timeline, error) {
	if _, err := r.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	rows, err := r.conn.QueryContext(ctx, `
		SELECT scene_id, transition_type, transition_duration, duration_override
		FROM timeline_entries WHERE project_id = ? ORDER BY position
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := model.NewTimeline(projectID)
	for rows.Next() {
		var sceneID string
		var trType sql.NullString
		var trDuration, durationOverride sql.NullFloat64
		if err := rows.Scan(&sceneID, &trType, &trDuration, &durationOverride); err != nil {
			return nil, err
		}
		t.SceneIDs = append(t.SceneIDs, sceneID)
		if trType.Valid {
			tr := model.Transition{
				Type:     model.ParseTransitionType(trType.String),
				Duration: trDuration.Float64,
			}
			if n := tr.Normalized(); n.Active() {
				t.Transitions[sceneID] = n
			}
		}
		if durationOverride.Valid && durationOverride.Float64 > 0 {
			t.Durations[sceneID] = durationOverride.Float64
		}
	}
	return t, rows.Err()
}

// SaveTimeline replaces the project's persisted timeline with t. The swap is
// transactional so a concurrent reader never observes a half-written order.
func (r *Registry) SaveTimeline(ctx context.Context, t *model.Timeline) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM timeline_entries WHERE project_id = ?", t.ProjectID); err != nil {
		return err
	}

	for i, sceneID := range t.SceneIDs {
		var trType sql.NullString
		var trDuration sql.NullFloat64
		if tr, ok := t.Transitions[sceneID]; ok {
			if n := tr.Normalized(); n.Active() {
				trType = sql.NullString{String: string(n.Type), Valid: true}
				trDuration = sql.NullFloat64{Float64: n.Duration, Valid: true}
			}
		}
		var durationOverride sql.NullFloat64
		if d, ok := t.Durations[sceneID]; ok && d > 0 {
			durationOverride = sql.NullFloat64{Float64: d, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO timeline_entries (project_id, scene_id, position, transition_type, transition_duration, duration_override)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.ProjectID, sceneID, i, trType, trDuration, durationOverride); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE projects SET updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), t.ProjectID); err != nil {
		return err
	}
	return tx.Commit()
}
