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
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	status int
	body   string
	header http.Header
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	h := f.header
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(bytes.NewBufferString(f.body)),
		Header:     h,
	}, nil
}

func TestAnthropicProvider_Complete_Success(t *testing.T) {
	doer := &fakeDoer{status: 200, body: `{"model":"claude-3-5-sonnet-20241022","content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":10,"output_tokens":4}}`}
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", Client: doer})

	resp, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Greater(t, resp.Usage.CostUSD, 0.0)
}

func TestAnthropicProvider_Complete_RateLimited(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "2")
	doer := &fakeDoer{status: http.StatusTooManyRequests, body: `{"error":{"type":"rate_limit_error","message":"slow down"}}`, header: h}
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", Client: doer})

	_, err := p.Complete(context.Background(), Request{})
	require.Error(t, err)
	perr, ok := err.(*ProviderError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeRateLimited, perr.Code)
	assert.Equal(t, 2, perr.RetryAfterSeconds)
}

func TestAnthropicProvider_Complete_ServerError(t *testing.T) {
	doer := &fakeDoer{status: http.StatusInternalServerError, body: `{"error":{"type":"server_error","message":"boom"}}`}
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k", Client: doer})

	_, err := p.Complete(context.Background(), Request{})
	require.Error(t, err)
	perr, ok := err.(*ProviderError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeServerError, perr.Code)
}

func TestAnthropicProvider_Name(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "k"})
	assert.Equal(t, "anthropic", p.Name())
}
