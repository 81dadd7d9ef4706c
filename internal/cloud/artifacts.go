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

// This file defines the artifact store: the opaque-handle boundary behind
// scene videoRefs and export outputRefs. Two backends exist, a local
// directory for development and tests, and a GCS bucket with signed download
// URLs for deployments.
package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
)

// ArtifactStore persists and serves binary video artifacts. Refs are opaque
// to callers; only the store that minted a ref can resolve it.
type ArtifactStore interface {
	// Put stores the file at localPath under ref and returns the ref.
	Put(ctx context.Context, localPath, ref string) (string, error)

	// Fetch materializes the artifact on the local filesystem and returns its
	// path. temporary reports whether the caller should remove the file when
	// done.
	Fetch(ctx context.Context, ref string) (path string, temporary bool, err error)

	// Open streams the artifact.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// DownloadURL returns a time-limited URL for the artifact, or an empty
	// string when the backend cannot mint one.
	DownloadURL(ctx context.Context, ref string) (string, error)
}

// LocalArtifactStore keeps artifacts under a base directory. Refs are paths
// relative to the base.
type LocalArtifactStore struct {
	BaseDir string
}

// NewLocalArtifactStore creates the store rooted at baseDir.
func NewLocalArtifactStore(baseDir string) *LocalArtifactStore {
	return &LocalArtifactStore{BaseDir: baseDir}
}

func (s *LocalArtifactStore) resolve(ref string) string {
	return filepath.Join(s.BaseDir, filepath.FromSlash(ref))
}

func (s *LocalArtifactStore) Put(_ context.Context, localPath, ref string) (string, error) {
	dest := s.resolve(ref)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	in, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *LocalArtifactStore) Fetch(_ context.Context, ref string) (string, bool, error) {
	path := s.resolve(ref)
	if _, err := os.Stat(path); err != nil {
		return "", false, err
	}
	return path, false, nil
}

func (s *LocalArtifactStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	return os.Open(s.resolve(ref))
}

// DownloadURL returns empty for the local store; callers fall back to
// streaming the artifact through the API.
func (s *LocalArtifactStore) DownloadURL(_ context.Context, _ string) (string, error) {
	return "", nil
}

// GCSArtifactStore keeps artifacts in a GCS bucket. Refs are object names.
type GCSArtifactStore struct {
	Client *storage.Client
	Bucket string
	TTL    time.Duration
}

// NewGCSArtifactStore creates a store over the bucket. ttl bounds signed URL
// lifetimes; zero falls back to 15 minutes.
func NewGCSArtifactStore(client *storage.Client, bucket string, ttl time.Duration) *GCSArtifactStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &GCSArtifactStore{Client: client, Bucket: bucket, TTL: ttl}
}

func (s *GCSArtifactStore) Put(ctx context.Context, localPath, ref string) (string, error) {
	in, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	w := s.Client.Bucket(s.Bucket).Object(ref).NewWriter(ctx)
	if _, err := io.Copy(w, in); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return ref, nil
}

// Fetch downloads the object into a temporary file. The caller owns the file.
func (s *GCSArtifactStore) Fetch(ctx context.Context, ref string) (string, bool, error) {
	rc, err := s.Client.Bucket(s.Bucket).Object(ref).NewReader(ctx)
	if err != nil {
		return "", false, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "artifact-*"+filepath.Ext(ref))
	if err != nil {
		return "", false, err
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", false, err
	}
	if err := tmp.Close(); err != nil {
		return "", false, err
	}
	return tmp.Name(), true, nil
}

func (s *GCSArtifactStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	return s.Client.Bucket(s.Bucket).Object(ref).NewReader(ctx)
}

// DownloadURL mints a V4 signed URL for the object.
func (s *GCSArtifactStore) DownloadURL(_ context.Context, ref string) (string, error) {
	url, err := s.Client.Bucket(s.Bucket).SignedURL(ref, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(s.TTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", ref, err)
	}
	return url, nil
}
