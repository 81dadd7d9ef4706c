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

// Package testutil supports the test suite: test configuration loading, a
// temp-file registry, and canned render events.
package testutil

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/registry"
)

type stateManager struct {
	config *cloud.Config
}

// state caches the test configuration so it loads once per test run.
var state = &stateManager{}

// SetupOS points the configuration loader at the test overlay
// (configs/.env.test.toml).
func SetupOS() (err error) {
	err = os.Setenv(cloud.EnvConfigFilePrefix, "configs")
	if err != nil {
		return err
	}
	err = os.Setenv(cloud.EnvConfigRuntime, "test")
	return err
}

// GetConfig is a singleton accessor for the test configuration.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to set up environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(&config)
		state.config = config
	}
	return state.config
}

// OpenTestRegistry opens a fresh registry in a per-test temp directory; the
// database is removed with the directory when the test ends.
func OpenTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// CompletedSceneEventText returns the render-event payload for a successfully
// rendered scene.
func CompletedSceneEventText(sceneID, videoRef string) string {
	return `{
  "scene_id": "` + sceneID + `",
  "status": "completed",
  "video_ref": "` + videoRef + `"
}`
}

// FailedSceneEventText returns the render-event payload for a failed render.
func FailedSceneEventText(sceneID, message string) string {
	return `{
  "scene_id": "` + sceneID + `",
  "status": "failed",
  "error_message": "` + message + `"
}`
}
