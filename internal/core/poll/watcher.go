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

// Package poll implements the status-polling protocol for tracked jobs. A
// watcher fetches a job's status on an adaptive interval, stops as soon as a
// terminal status is observed, retries fetch errors with exponential backoff
// instead of treating them as job failure, and guarantees at most one
// in-flight fetch per job id.
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrAlreadyWatching reports a second Watch call for an id that is still
// being polled. Callers share the existing watch instead of starting a storm.
var ErrAlreadyWatching = errors.New("job is already being watched")

// Fetcher retrieves the current status of one job. It returns terminal=true
// once the job has reached completed or failed. Every call must hit the
// source of truth; the watcher never caches results.
type Fetcher func(ctx context.Context) (terminal bool, err error)

const (
	DefaultActiveInterval = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Watcher polls jobs until they reach a terminal state.
type Watcher struct {
	activeInterval time.Duration
	maxBackoff     time.Duration

	mu      sync.Mutex
	watched map[string]struct{}
}

// NewWatcher creates a watcher. Non-positive intervals fall back to the
// defaults.
func NewWatcher(activeInterval, maxBackoff time.Duration) *Watcher {
	if activeInterval <= 0 {
		activeInterval = DefaultActiveInterval
	}
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	return &Watcher{
		activeInterval: activeInterval,
		maxBackoff:     maxBackoff,
		watched:        make(map[string]struct{}),
	}
}

// Watching reports whether a watch loop is active for the id.
func (w *Watcher) Watching(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watched[id]
	return ok
}

// Watch polls fetch until it observes a terminal status, then returns nil.
// The fetch that reports terminal is itself a post-terminal observation, so
// the loop never exits on a stale result. A fetch error backs off
// exponentially up to the ceiling and retries; only context cancellation
// aborts the loop with an error. A second Watch for the same id returns
// ErrAlreadyWatching immediately without issuing any fetches.
func (w *Watcher) Watch(ctx context.Context, id string, fetch Fetcher) error {
	w.mu.Lock()
	if _, ok := w.watched[id]; ok {
		w.mu.Unlock()
		return ErrAlreadyWatching
	}
	w.watched[id] = struct{}{}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.watched, id)
		w.mu.Unlock()
	}()

	tracer := otel.Tracer("status-watcher")
	interval := w.activeInterval
	backoff := w.activeInterval

	for {
		spanCtx, span := tracer.Start(ctx, "poll-status")
		span.SetAttributes(attribute.String("job.id", id))

		terminal, err := fetch(spanCtx)
		switch {
		case err != nil:
			span.SetStatus(codes.Error, "fetch failed")
			span.End()
			// Transient failure: retry with backoff, never mark the job.
			backoff *= 2
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
			interval = backoff
		case terminal:
			span.SetStatus(codes.Ok, "terminal status observed")
			span.End()
			return nil
		default:
			span.SetStatus(codes.Ok, "job still active")
			span.End()
			backoff = w.activeInterval
			interval = w.activeInterval
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
