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

const sceneColumns = `id, prompt, original_prompt, library, duration, resolution, status,
		generated_code, video_ref, error_message, created_at, updated_at`

// CreateScene inserts a new scene record.
func (r *Registry) CreateScene(ctx context.Context, s *model.Scene) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO scenes (`+sceneColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Prompt, nullString(s.OriginalPrompt), string(s.Library), s.Duration,
		string(s.Resolution), string(s.Status), nullString(s.GeneratedCode),
		nullString(s.VideoRef), nullString(s.ErrorMessage),
		s.CreatedAt.Format(time.RFC3339), s.UpdatedAt.Format(time.RFC3339))
	return err
}

// GetScene returns the scene by id, or a NotFoundError.
func (r *Registry) GetScene(ctx context.Context, id string) (*model.Scene, error) {
	row := r.conn.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	s, err := scanScene(row)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &model.NotFoundError{Kind: "scene", ID: id}
	}
	return s, nil
}

// ListScenes returns scenes newest first, with simple limit/offset paging.
func (r *Registry) ListScenes(ctx context.Context, limit, offset int) ([]*model.Scene, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.conn.QueryContext(ctx, `
		SELECT `+sceneColumns+` FROM scenes ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenes []*model.Scene
	for rows.Next() {
		s, err := scanSceneRow(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, s)
	}
	return scenes, rows.Err()
}

// GetScenes resolves a set of scene ids, preserving the order of ids. A
// missing id yields a NotFoundError.
func (r *Registry) GetScenes(ctx context.Context, ids []string) ([]*model.Scene, error) {
	out := make([]*model.Scene, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetScene(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DeleteScene removes a scene and, via cascade, its timeline entries.
func (r *Registry) DeleteScene(ctx context.Context, id string) error {
	res, err := r.conn.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "scene", ID: id}
	}
	return nil
}

// AdvanceScene moves a scene forward through the pipeline. The transition is
// checked against the current row inside a transaction so a stale caller can
// never regress a scene or overwrite a terminal state.
func (r *Registry) AdvanceScene(ctx context.Context, id string, next model.SceneStatus) error {
	return r.updateSceneStatus(ctx, id, next, func(s *model.Scene) {
		s.Status = next
	})
}

// CompleteScene marks a scene completed with its rendered artifact. A
// completed scene always carries a non-empty videoRef.
func (r *Registry) CompleteScene(ctx context.Context, id, videoRef string) error {
	if videoRef == "" {
		return &model.ValidationError{Field: "video_ref", Reason: "required on completion"}
	}
	return r.updateSceneStatus(ctx, id, model.SceneStatusCompleted, func(s *model.Scene) {
		s.Status = model.SceneStatusCompleted
		s.VideoRef = videoRef
		s.ErrorMessage = ""
	})
}

// FailScene marks a scene failed. A failed scene always carries a non-empty
// errorMessage.
func (r *Registry) FailScene(ctx context.Context, id, errMsg string) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return r.updateSceneStatus(ctx, id, model.SceneStatusFailed, func(s *model.Scene) {
		s.Status = model.SceneStatusFailed
		s.ErrorMessage = errMsg
		s.VideoRef = ""
	})
}

// SetSceneCode records the generated animation code for a scene.
func (r *Registry) SetSceneCode(ctx context.Context, id, code string) error {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE scenes SET generated_code = ?, updated_at = ? WHERE id = ?
	`, code, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "scene", ID: id}
	}
	return nil
}

// UpdateScenePrompt swaps in the enhanced prompt, retaining the user's
// original alongside it.
func (r *Registry) UpdateScenePrompt(ctx context.Context, id, prompt, originalPrompt string) error {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE scenes SET prompt = ?, original_prompt = ?, updated_at = ? WHERE id = ?
	`, prompt, nullString(originalPrompt), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "scene", ID: id}
	}
	return nil
}

// ResetScene starts a regeneration: status back to pending with the previous
// run's outputs cleared. Only a terminal scene may be reset; the generation
// pipeline owns every other state.
func (r *Registry) ResetScene(ctx context.Context, id string) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := getSceneTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !s.Status.Terminal() {
		return &model.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("scene %s is %s; only completed or failed scenes can regenerate", id, s.Status),
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE scenes
		SET status = ?, generated_code = NULL, video_ref = NULL, error_message = NULL, updated_at = ?
		WHERE id = ?
	`, string(model.SceneStatusPending), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Registry) updateSceneStatus(ctx context.Context, id string, next model.SceneStatus, mutate func(*model.Scene)) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := getSceneTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if !s.Status.CanAdvanceTo(next) {
		return &model.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("scene %s cannot move from %s to %s", id, s.Status, next),
		}
	}
	mutate(s)

	_, err = tx.ExecContext(ctx, `
		UPDATE scenes SET status = ?, video_ref = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, string(s.Status), nullString(s.VideoRef), nullString(s.ErrorMessage),
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func getSceneTx(ctx context.Context, tx *sql.Tx, id string) (*model.Scene, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	s, err := scanScene(row)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &model.NotFoundError{Kind: "scene", ID: id}
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(row *sql.Row) (*model.Scene, error) {
	s, err := scanSceneRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func scanSceneRow(row rowScanner) (*model.Scene, error) {
	var s model.Scene
	var originalPrompt, generatedCode, videoRef, errMsg sql.NullString
	var library, resolution, status, createdAt, updatedAt string

	err := row.Scan(&s.ID, &s.Prompt, &originalPrompt, &library, &s.Duration, &resolution,
		&status, &generatedCode, &videoRef, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.OriginalPrompt = originalPrompt.String
	s.Library = model.AnimationLibrary(library)
	s.Resolution = model.Resolution(resolution)
	s.Status = model.SceneStatus(status)
	s.GeneratedCode = generatedCode.String
	s.VideoRef = videoRef.String
	s.ErrorMessage = errMsg.String
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
