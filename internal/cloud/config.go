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

// Package cloud holds the application configuration structs (loaded from TOML)
// and the clients for external collaborators: Google Cloud Storage for export
// artifacts, Pub/Sub for render-completion events, and the Vertex AI models
// behind prompt enhancement and code generation.
package cloud

import "google.golang.org/genai"

// DefaultSafetySettings are the content safety thresholds applied to every
// generative model. Prompts describe animations, so all categories pass
// through unblocked.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// PromptTemplates holds the Go-template text for the prompts sent to the
// generative models, keyed by pipeline stage.
type PromptTemplates struct {
	Enhance string `toml:"enhance"`  // Template for the prompt-enhancement stage.
	CodeGen string `toml:"code_gen"` // Template for the animation code-generation stage.
}

// VertexAiLLMModel configures one Vertex AI large language model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	RateLimit          int     `toml:"rate_limit"` // Requests per second.
}

// TopicSubscription configures one Pub/Sub subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Storage configures where clip and export artifacts live.
type Storage struct {
	ArtifactBucket      string `toml:"artifact_bucket"`        // GCS bucket for artifacts; empty selects the local store.
	LocalMediaDir       string `toml:"local_media_dir"`        // Directory for local artifacts and scratch files.
	ExportPrefix        string `toml:"export_prefix"`          // Object prefix for finished exports (e.g. "exports").
	SignedURLTTLMinutes int    `toml:"signed_url_ttl_minutes"` // Lifetime of signed download URLs.
}

// Media configures the encoding toolchain and render collaborator.
type Media struct {
	FFmpegPath               string   `toml:"ffmpeg_path"`
	FFprobePath              string   `toml:"ffprobe_path"`
	RenderCommand            string   `toml:"render_command"`             // Executable invoked to render one scene.
	RenderArgs               []string `toml:"render_args"`                // Fixed arguments preceding the per-scene ones.
	DurationToleranceSeconds float64  `toml:"duration_tolerance_seconds"` // Epsilon for output-vs-layout duration checks.
	StageTimeoutSeconds      int      `toml:"stage_timeout_seconds"`      // Maximum dwell time per export stage.
}

// Poll configures the adaptive status-polling loop.
type Poll struct {
	ActiveIntervalMillis int `toml:"active_interval_millis"` // Interval while a job is non-terminal.
	MaxBackoffMillis     int `toml:"max_backoff_millis"`     // Backoff ceiling after fetch errors.
}

// Config is the root application configuration, loaded from TOML files.
type Config struct {
	Application struct {
		Name            string `toml:"name"`
		GoogleProjectId string `toml:"google_project_id"`
		GoogleLocation  string `toml:"location"`
		ThreadPoolSize  int    `toml:"thread_pool_size"` // Worker pool size for bridge rendering.
	} `toml:"application"`
	Registry struct {
		Path string `toml:"path"` // sqlite database file.
	} `toml:"registry"`
	History struct {
		Limit int `toml:"limit"` // Undo stack bound per editing session.
	} `toml:"history"`
	Storage            Storage                      `toml:"storage"`
	Media              Media                        `toml:"media"`
	Poll               Poll                         `toml:"poll"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"`
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`
}

// NewConfig creates a Config with its map fields initialized so the TOML
// loader never hits a nil map.
func NewConfig() *Config {
	return &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
}
