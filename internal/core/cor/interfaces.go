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

// Package cor (Chain of Responsibility) is the workflow engine underneath the
// scene pipeline and the export orchestrator. A workflow is a Chain of
// Commands sharing a Context; each command reads its input from the context,
// does one unit of work, and writes its output back for the next command.
// Errors accumulate on the context rather than unwinding the stack, which lets
// the owning job record a failure without losing the partial trace.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the reserved context keys used to pipe the primary
// value between adjacent commands. The chain moves each command's CtxOut into
// CtxIn before running the next command.
const (
	CtxIn  = "__IN__"
	CtxOut = "__OUT__"
)

// Context is the shared state bag for one workflow execution. It carries the
// Go context (cancellation, trace propagation), arbitrary keyed values, the
// error map, and the set of temporary files to delete when the run ends.
type Context interface {
	SetContext(ctx context.Context)
	GetContext() context.Context

	// Add stores a value and returns the Context for chaining.
	Add(key string, value any) Context
	Get(key string) any
	Remove(key string)

	// AddError records a failure, keyed by the command that produced it.
	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool

	// AddTempFile registers a file for removal when Close is called.
	AddTempFile(path string)
	GetTempFiles() []string
	Close()
}

// Command is an atomic, thread-safe unit of work.
type Command interface {
	// Execute performs the work, reading inputs from and writing outputs to
	// the shared context.
	Execute(ctx Context)

	// GetName identifies the command in logs, traces and error maps.
	GetName() string

	// GetInputParam and GetOutputParam name the context keys this command
	// reads from and writes to. They default to CtxIn/CtxOut.
	GetInputParam() string
	GetOutputParam() string

	// IsExecutable is the precondition check run before Execute.
	IsExecutable(ctx Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is an ordered sequence of commands. A Chain is itself a Command, so
// chains nest.
type Chain interface {
	Command

	// ContinueOnFailure controls whether the chain keeps executing after a
	// command records an error. The default is to stop.
	ContinueOnFailure(bool) Chain

	// AddCommand appends a command to the execution sequence.
	AddCommand(command Command) Chain
}
