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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer is the slice of *http.Client this provider needs, narrowed to
// an interface so tests can substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// anthropicInputCostPerToken / anthropicOutputCostPerToken price Claude 3.5
// Sonnet, mirroring orchestrator/llm/anthropic/provider.go's estimate.
const (
	anthropicInputCostPerToken  = 0.000003
	anthropicOutputCostPerToken = 0.000015
)

// AnthropicProvider adapts Anthropic's Messages API to the Provider
// interface, adapted from orchestrator/llm/anthropic/provider.go's
// Complete — trimmed to the blocking, non-streaming path C14 drives and
// remapped onto this package's Request/Response/ProviderError shapes.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPDoer
}

// AnthropicConfig configures AnthropicProvider.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	Client     HTTPDoer
	Timeout    time.Duration
}

// NewAnthropicProvider builds an AnthropicProvider from cfg, filling in the
// same defaults as the teacher's NewProvider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-06-01"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.Client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		cfg.Client = &http.Client{Timeout: timeout}
	}
	return &AnthropicProvider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     cfg.Client,
	}
}

func (p *AnthropicProvider) Name() string { return string(ProviderTypeAnthropic) }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	apiReq := anthropicRequest{Model: p.model, MaxTokens: req.MaxTokens}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = 4096
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			apiReq.System = m.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Code: ErrCodeInvalidInput, Message: err.Error(), Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Code: ErrCodeInvalidInput, Message: err.Error(), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Code: ErrCodeTimeout, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAnthropicStatus(p.Name(), resp, respBody)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Code: ErrCodeServerError, Message: "unparseable response body", Cause: err}
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text:  text.String(),
		Model: apiResp.Model,
		Usage: Usage{
			Provider:         p.Name(),
			Model:            apiResp.Model,
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			CostUSD:          float64(apiResp.Usage.InputTokens)*anthropicInputCostPerToken + float64(apiResp.Usage.OutputTokens)*anthropicOutputCostPerToken,
		},
	}, nil
}

func classifyAnthropicStatus(provider string, resp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Error.Message
	if msg == "" {
		msg = string(body)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		fmt.Sscanf(resp.Header.Get("Retry-After"), "%d", &retryAfter)
		return &ProviderError{Provider: provider, Code: ErrCodeRateLimited, Message: msg, RetryAfterSeconds: retryAfter}
	case errResp.Error.Type == "rate_limit_error":
		return &ProviderError{Provider: provider, Code: ErrCodeRateLimited, Message: msg}
	case resp.StatusCode == http.StatusPaymentRequired || errResp.Error.Type == "quota_exceeded":
		return &ProviderError{Provider: provider, Code: ErrCodeQuotaExceeded, Message: msg}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusServiceUnavailable:
		return &ProviderError{Provider: provider, Code: ErrCodeServerError, Message: msg}
	case resp.StatusCode == http.StatusRequestTimeout:
		return &ProviderError{Provider: provider, Code: ErrCodeTimeout, Message: msg}
	default:
		return &ProviderError{Provider: provider, Code: ErrCodeInvalidInput, Message: msg}
	}
}
