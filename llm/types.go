// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm is the provider-agnostic LLM gateway (C14): a uniform
// Provider interface, a per-day quota-aware fallback chain across
// configured providers, and token/cost accounting.
package llm

import "fmt"

// ProviderType names a supported backend, mirroring the provider
// enumeration a deployment's configuration lists.
type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeAzure     ProviderType = "azure-openai"
	ProviderTypeGemini    ProviderType = "gemini"
	ProviderTypeBedrock   ProviderType = "bedrock"
)

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the unified completion request passed to every provider.
type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Usage tracks token accounting for one completion, recorded with
// provider/model/prompt/completion fields per §4.14.3.
type Usage struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Response is the unified completion response.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// ErrCode is a machine-readable provider error classification.
type ErrCode string

const (
	ErrCodeQuotaExceeded ErrCode = "quota_exceeded"
	ErrCodeRateLimited   ErrCode = "rate_limited"
	ErrCodeInvalidInput  ErrCode = "invalid_request"
	ErrCodeServerError   ErrCode = "server_error"
	ErrCodeTimeout       ErrCode = "timeout"
)

// transientCodes retry without moving to the next provider, per §4.14.1's
// "Other: treat as transient once" classification.
var transientCodes = map[ErrCode]bool{
	ErrCodeServerError: true,
	ErrCodeTimeout:     true,
}

// ProviderError is the error shape every Provider implementation returns,
// grounded on orchestrator/llm/types.go's ProviderError/isRetryableCode
// pair, narrowed to the three classifications §4.14.1 actually branches on.
type ProviderError struct {
	Provider   string
	Code       ErrCode
	Message    string
	RetryAfterSeconds int
	Cause      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// RetryCategory satisfies resilience.Classifiable so C1's retry policy can
// classify provider errors without a type assertion at the call site.
func (e *ProviderError) RetryCategory() string { return string(e.Code) }

// IsTransient reports whether this error should be retried against the
// same provider rather than advancing the fallback chain.
func (e *ProviderError) IsTransient() bool { return transientCodes[e.Code] }
