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

// Package commands provides the workflow command implementations for the
// video compositor: precondition checks, clip staging and probing, bridge
// rendering, concatenation and finalization. ffmpeg and ffprobe execution
// sits behind the Runner interface so the composition logic is testable
// without the binaries installed.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes an external media tool.
type Runner interface {
	// Run executes the tool, discarding stdout.
	Run(ctx context.Context, name string, args ...string) error

	// Output executes the tool and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// CombinedOutput executes the tool and returns stdout and stderr
	// together. ffmpeg writes filter reports to stderr, so probes that parse
	// them need this instead of Output.
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	return cmd.Output()
}

func (ExecRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ProbeDuration reads a clip's container duration in seconds via ffprobe.
func ProbeDuration(ctx context.Context, runner Runner, ffprobePath, path string) (float64, error) {
	out, err := runner.Output(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration for %s: %w", path, err)
	}
	return duration, nil
}
