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

// This file wraps the Generative AI model handle with rate limiting. Vertex AI
// enforces per-minute request quotas; the wrapper keeps the prompt-enhancement
// and code-generation adapters inside them instead of surfacing quota errors
// to scene jobs.
package cloud

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// QuotaAwareGenerativeAIModel decorates a genai model handle with a rate
// limiter and a bounded retry on failed calls.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig
	ModelName               string
	ModelHandle             *genai.Models
	RateLimit               rate.Limiter
}

// NewQuotaAwareModel wraps a model configuration and handle with a limiter
// allowing requestsPerSecond calls, refilled once per second.
func NewQuotaAwareModel(wrapped *genai.GenerateContentConfig, name string, handle *genai.Models, requestsPerSecond int) *QuotaAwareGenerativeAIModel {
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: wrapped,
		ModelName:               name,
		ModelHandle:             handle,
		RateLimit:               *rate.NewLimiter(rate.Every(time.Second/1), requestsPerSecond),
	}
}

type retryKey struct{}

// GenerateContent forwards to the underlying model once the rate limiter
// admits the call. A failed call is retried up to three times; a
// rate-limited call waits and re-queues itself.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (resp *genai.GenerateContentResponse, err error) {
	if !q.RateLimit.Allow() {
		if err := q.RateLimit.Wait(ctx); err != nil {
			return nil, err
		}
		return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
	}

	resp, err = q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
	if err != nil {
		retryCount, ok := ctx.Value(retryKey{}).(int)
		if !ok {
			retryCount = 0
		}
		if retryCount > 3 {
			return nil, errors.New("failed generation on max retries")
		}
		errCtx := context.WithValue(ctx, retryKey{}, retryCount+1)
		time.Sleep(time.Second * 5)
		return q.GenerateContent(errCtx, content)
	}
	return resp, err
}
