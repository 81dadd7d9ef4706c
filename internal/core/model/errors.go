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

// This file defines the domain error taxonomy. Validation errors are rejected
// synchronously at the call boundary and never create a job. Once a job
// exists, failures are recorded on the job as status=failed with the error
// message preserved; they are not thrown across the asynchronous boundary,
// because the caller is polling, not blocking.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports bad input shape or range: a duration out of bounds,
// an unknown transition type, a reorder with a mismatched id set.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a lookup for a record that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IncompleteScenesError reports an export precondition failure: one or more
// referenced scenes are not completed. It names every offending scene.
type IncompleteScenesError struct {
	SceneIDs []string
}

func (e *IncompleteScenesError) Error() string {
	return fmt.Sprintf("scenes not ready for export: %s", strings.Join(e.SceneIDs, ", "))
}

// InvalidArtifactError reports an unhealthy source clip: missing, unplayable,
// zero-length, or with a duration that disagrees with the scene record. It
// names the first offending scene.
type InvalidArtifactError struct {
	SceneID string
	Reason  string
}

func (e *InvalidArtifactError) Error() string {
	return fmt.Sprintf("invalid artifact for scene %s: %s", e.SceneID, e.Reason)
}

// ComposeError reports a failure during stitching or encoding. It wraps the
// underlying cause.
type ComposeError struct {
	Step string
	Err  error
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("compose failed at %s: %v", e.Step, e.Err)
}

func (e *ComposeError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a job exceeded the maximum dwell time for a state.
type TimeoutError struct {
	Stage string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s exceeded %s", e.Stage, e.Limit)
}

// ConflictError reports that an export was requested while another export for
// the same project is still active. Concurrent requests are rejected, not
// queued.
type ConflictError struct {
	ProjectID      string
	ActiveExportID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("project %s already has an active export %s", e.ProjectID, e.ActiveExportID)
}
