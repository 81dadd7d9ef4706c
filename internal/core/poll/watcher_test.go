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

package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchStopsOnTerminalStatus(t *testing.T) {
	w := NewWatcher(time.Millisecond, 10*time.Millisecond)

	calls := 0
	err := w.Watch(context.Background(), "job-1", func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls, "polling stops on the first terminal observation")
	assert.False(t, w.Watching("job-1"))
}

func TestWatchDeduplicatesPerJob(t *testing.T) {
	w := NewWatcher(time.Millisecond, 10*time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Watch(context.Background(), "job-1", func(ctx context.Context) (bool, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			select {
			case <-release:
				return true, nil
			default:
				return false, nil
			}
		})
	}()

	<-started
	assert.True(t, w.Watching("job-1"))

	// The duplicate returns immediately without fetching.
	err := w.Watch(context.Background(), "job-1", func(ctx context.Context) (bool, error) {
		t.Error("duplicate watch must not fetch")
		return true, nil
	})
	assert.ErrorIs(t, err, ErrAlreadyWatching)

	// A different job is unaffected.
	require.NoError(t, w.Watch(context.Background(), "job-2", func(ctx context.Context) (bool, error) {
		return true, nil
	}))

	close(release)
	wg.Wait()
	assert.False(t, w.Watching("job-1"), "the id frees up once the watch returns")
}

func TestWatchRetriesFetchErrorsWithBackoff(t *testing.T) {
	w := NewWatcher(time.Millisecond, 4*time.Millisecond)

	calls := 0
	err := w.Watch(context.Background(), "job-1", func(ctx context.Context) (bool, error) {
		calls++
		if calls < 4 {
			return false, errors.New("registry unavailable")
		}
		return true, nil
	})

	require.NoError(t, err, "fetch errors never fail the watch")
	assert.Equal(t, 4, calls)
}

func TestWatchAbortsOnContextCancellation(t *testing.T) {
	w := NewWatcher(time.Millisecond, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, "job-1", func(ctx context.Context) (bool, error) {
			return false, nil
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
	assert.False(t, w.Watching("job-1"))
}

func TestNewWatcherDefaults(t *testing.T) {
	w := NewWatcher(0, 0)
	assert.Equal(t, DefaultActiveInterval, w.activeInterval)
	assert.Equal(t, DefaultMaxBackoff, w.maxBackoff)
}
