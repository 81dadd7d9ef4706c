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

// Package registry is the durable record of every asynchronous unit of work:
// scenes moving through the generation pipeline, export jobs moving through
// the compositing state machine, and the per-project timeline structure they
// hang off. It is backed by a single sqlite file and enforces the status
// rules the rest of the system depends on: statuses never regress, terminal
// rows are immutable, and export progress is monotonically non-decreasing.
package registry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Registry wraps the sqlite connection. sqlite serializes writers, so the
// pool is pinned to a single connection.
type Registry struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the registry database at dbPath, applies
// pending migrations, and fails any export rows left in a non-terminal state
// by a previous process.
func Open(dbPath string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping registry database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	r := &Registry{conn: conn, logger: logger}

	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := r.failInterruptedExports(); err != nil {
		logger.Warn("failed to mark interrupted exports", "error", err)
	}

	return r, nil
}

func (r *Registry) Close() error {
	return r.conn.Close()
}

func (r *Registry) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if r.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := r.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := r.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		r.logger.Info("applied migration", "name", name)
	}
	return nil
}

func (r *Registry) isMigrationApplied(name string) bool {
	var exists int
	err := r.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}
	var applied int
	err = r.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// failInterruptedExports marks exports that were mid-flight when the process
// died. An export owns exclusive progress for its project, so a row stuck in
// a working state would block every later export request.
func (r *Registry) failInterruptedExports() error {
	_, err := r.conn.ExecContext(context.Background(), `
		UPDATE exports
		SET status = 'failed', error_message = 'interrupted by restart', completed_at = datetime('now')
		WHERE status NOT IN ('completed', 'failed')
	`)
	return err
}
