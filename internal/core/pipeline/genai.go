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
	"bytes"
	"context"
	"fmt"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/model"
)

const meterNamespace = "github.com/storyloom/storyloom"

// GenAIPromptEnhancer implements PromptEnhancer on a rate-limited Vertex AI
// model. The prompt template receives PROMPT and LIBRARY.
type GenAIPromptEnhancer struct {
	model              *cloud.QuotaAwareGenerativeAIModel
	template           *template.Template
	inputTokenCounter  metric.Int64Counter
	outputTokenCounter metric.Int64Counter
	retryCounter       metric.Int64Counter
}

// NewGenAIPromptEnhancer builds the enhancer with its token counters.
func NewGenAIPromptEnhancer(name string, m *cloud.QuotaAwareGenerativeAIModel, tmpl *template.Template) *GenAIPromptEnhancer {
	meter := otel.Meter(meterNamespace)
	out := &GenAIPromptEnhancer{model: m, template: tmpl}
	out.inputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.input", name))
	out.outputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.output", name))
	out.retryCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.retry", name))
	return out
}

func (e *GenAIPromptEnhancer) Enhance(ctx context.Context, prompt string, library model.AnimationLibrary) (string, error) {
	params := map[string]interface{}{
		"PROMPT":  prompt,
		"LIBRARY": string(library),
	}
	var buffer bytes.Buffer
	if err := e.template.Execute(&buffer, params); err != nil {
		return "", fmt.Errorf("failed to execute enhance template: %w", err)
	}
	return cloud.GenerateTextResponse(ctx, e.inputTokenCounter, e.outputTokenCounter, e.retryCounter, 0, e.model, buffer.String())
}

// GenAICodeGenerator implements CodeGenerator on a rate-limited Vertex AI
// model. The template receives PROMPT, LIBRARY, DURATION and RESOLUTION.
type GenAICodeGenerator struct {
	model              *cloud.QuotaAwareGenerativeAIModel
	template           *template.Template
	inputTokenCounter  metric.Int64Counter
	outputTokenCounter metric.Int64Counter
	retryCounter       metric.Int64Counter
}

// NewGenAICodeGenerator builds the code generator with its token counters.
func NewGenAICodeGenerator(name string, m *cloud.QuotaAwareGenerativeAIModel, tmpl *template.Template) *GenAICodeGenerator {
	meter := otel.Meter(meterNamespace)
	out := &GenAICodeGenerator{model: m, template: tmpl}
	out.inputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.input", name))
	out.outputTokenCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.output", name))
	out.retryCounter, _ = meter.Int64Counter(fmt.Sprintf("%s.gemini.retry", name))
	return out
}

func (g *GenAICodeGenerator) Generate(ctx context.Context, scene *model.Scene) (string, error) {
	params := map[string]interface{}{
		"PROMPT":     scene.Prompt,
		"LIBRARY":    string(scene.Library),
		"DURATION":   scene.Duration,
		"RESOLUTION": scene.Resolution.FrameSize(),
	}
	var buffer bytes.Buffer
	if err := g.template.Execute(&buffer, params); err != nil {
		return "", fmt.Errorf("failed to execute codegen template: %w", err)
	}
	return cloud.GenerateTextResponse(ctx, g.inputTokenCounter, g.outputTokenCounter, g.retryCounter, 0, g.model, buffer.String())
}
