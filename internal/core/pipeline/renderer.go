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

package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/model"
)

// ExecRenderer implements SceneRenderer by shelling out to a configured
// render command. The command receives the library, a file holding the
// generated code, the output path, and the scene's duration and frame size;
// the produced clip is published to the artifact store under the scenes/
// prefix.
type ExecRenderer struct {
	Command string
	Args    []string
	Store   cloud.ArtifactStore
}

// NewExecRenderer builds a renderer around the configured command.
func NewExecRenderer(command string, args []string, store cloud.ArtifactStore) *ExecRenderer {
	return &ExecRenderer{Command: command, Args: args, Store: store}
}

func (r *ExecRenderer) Render(ctx context.Context, scene *model.Scene, code string) (string, error) {
	workDir, err := os.MkdirTemp("", "render-"+scene.ID+"-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(workDir)

	codePath := filepath.Join(workDir, "scene"+codeExtension(scene.Library))
	if err := os.WriteFile(codePath, []byte(code), 0644); err != nil {
		return "", err
	}
	outputPath := filepath.Join(workDir, "scene.mp4")

	args := append(append([]string(nil), r.Args...),
		"--library", string(scene.Library),
		"--code", codePath,
		"--output", outputPath,
		"--duration", strconv.Itoa(scene.Duration),
		"--size", scene.Resolution.FrameSize(),
	)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("render command failed: %w", err)
	}
	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("render produced no output for scene %s", scene.ID)
	}

	ref := fmt.Sprintf("scenes/%s.mp4", scene.ID)
	return r.Store.Put(ctx, outputPath, ref)
}

func codeExtension(library model.AnimationLibrary) string {
	switch library {
	case model.LibraryManim:
		return ".py"
	default:
		return ".js"
	}
}
