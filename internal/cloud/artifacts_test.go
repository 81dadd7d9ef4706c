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

package cloud

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArtifactStoreRoundTrip(t *testing.T) {
	store := NewLocalArtifactStore(t.TempDir())
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("clip bytes"), 0o644))

	ref, err := store.Put(ctx, src, "scenes/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "scenes/clip.mp4", ref)

	// The local store serves the file in place; the caller must not delete it.
	path, temporary, err := store.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.False(t, temporary)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "clip bytes", string(content))

	rc, err := store.Open(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	streamed, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "clip bytes", string(streamed))
}

func TestLocalArtifactStoreMissingRef(t *testing.T) {
	store := NewLocalArtifactStore(t.TempDir())
	ctx := context.Background()

	_, _, err := store.Fetch(ctx, "scenes/ghost.mp4")
	assert.Error(t, err)

	_, err = store.Open(ctx, "scenes/ghost.mp4")
	assert.Error(t, err)
}

func TestLocalArtifactStoreHasNoURLScheme(t *testing.T) {
	store := NewLocalArtifactStore(t.TempDir())
	url, err := store.DownloadURL(context.Background(), "exports/out.mp4")
	require.NoError(t, err)
	assert.Empty(t, url, "callers fall back to streaming through the API")
}
