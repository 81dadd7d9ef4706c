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

// This file builds the application state: configuration, cloud clients, the
// job registry, the artifact store, the scene pipeline and export
// orchestrator, and the services the HTTP handlers call. Everything hangs off
// a single StateManager so the handlers share one wired instance of each
// dependency.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"text/template"
	"time"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/commands"
	"github.com/storyloom/storyloom/internal/core/pipeline"
	"github.com/storyloom/storyloom/internal/core/poll"
	"github.com/storyloom/storyloom/internal/core/registry"
	"github.com/storyloom/storyloom/internal/core/services"
	"github.com/storyloom/storyloom/internal/core/workflow"
)

// StateManager holds all shared dependencies for the application, avoiding
// globals scattered across handlers.
type StateManager struct {
	config   *cloud.Config
	cloud    *cloud.ServiceClients
	registry *registry.Registry
	store    cloud.ArtifactStore

	projectService *services.ProjectService
	sceneService   *services.SceneService
	exportService  *services.ExportService
}

var state = &StateManager{}

// SetupOS points the configuration loader at the config directory and the
// runtime environment whose overrides apply.
func SetupOS() (err error) {
	err = os.Setenv(cloud.EnvConfigFilePrefix, "configs")
	if err != nil {
		return err
	}
	err = os.Setenv(cloud.EnvConfigRuntime, "local")
	return err
}

// GetConfig loads the TOML configuration once and caches it.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to set up config environment: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(&config)
		state.config = config
	}
	return state.config
}

// InitState wires the full dependency graph: registry, artifact store,
// generation pipeline, export orchestrator, services and the render-event
// listener.
func InitState(ctx context.Context) {
	config := GetConfig()

	reg, err := registry.Open(config.Registry.Path, slog.Default())
	if err != nil {
		panic(err)
	}
	state.registry = reg

	// A configured bucket selects GCS; otherwise artifacts stay on local disk,
	// which is how test and single-machine deployments run.
	var clients *cloud.ServiceClients
	if config.Application.GoogleProjectId != "" {
		clients, err = cloud.NewCloudServiceClients(ctx, config)
		if err != nil {
			panic(err)
		}
		state.cloud = clients
	}
	if config.Storage.ArtifactBucket != "" && clients != nil {
		state.store = cloud.NewGCSArtifactStore(
			clients.StorageClient,
			config.Storage.ArtifactBucket,
			time.Duration(config.Storage.SignedURLTTLMinutes)*time.Minute)
	} else {
		state.store = cloud.NewLocalArtifactStore(config.Storage.LocalMediaDir)
	}

	var enhancer pipeline.PromptEnhancer
	var generator pipeline.CodeGenerator
	if clients != nil {
		if m, ok := clients.AgentModels["enhancer"]; ok {
			tmpl := template.Must(template.New("enhance").Parse(config.PromptTemplates.Enhance))
			enhancer = pipeline.NewGenAIPromptEnhancer("enhancer", m, tmpl)
		}
		if m, ok := clients.AgentModels["code-generator"]; ok {
			tmpl := template.Must(template.New("code_gen").Parse(config.PromptTemplates.CodeGen))
			generator = pipeline.NewGenAICodeGenerator("code-generator", m, tmpl)
		}
	}
	renderer := pipeline.NewExecRenderer(config.Media.RenderCommand, config.Media.RenderArgs, state.store)

	scenePipeline := workflow.NewScenePipeline(reg, enhancer, generator, renderer)

	runner := commands.ExecRunner{}
	exportWorkflow := workflow.NewExportWorkflow(config, reg, state.store, runner)

	watcher := poll.NewWatcher(
		time.Duration(config.Poll.ActiveIntervalMillis)*time.Millisecond,
		time.Duration(config.Poll.MaxBackoffMillis)*time.Millisecond)

	state.projectService = services.NewProjectService(reg, config.History.Limit)
	state.sceneService = services.NewSceneService(reg, scenePipeline, state.store)
	state.exportService = services.NewExportService(reg, exportWorkflow, state.store, watcher)

	if clients != nil {
		SetupListeners(ctx, clients, reg)
	} else {
		slog.Info("no cloud project configured; render events arrive via the API only")
	}
}
