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
	"context"
	"testing"

	"github.com/nlsql-oss/queryorch/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	calls   int
	results []stubResult
}

type stubResult struct {
	resp *Response
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	r := s.results[idx]
	return r.resp, r.err
}

func fastPolicy() resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.BaseDelay = 0
	p.Cap = 0
	p.MaxAttempts = 2
	return p
}

func TestGateway_Invoke_SucceedsOnFirstProvider(t *testing.T) {
	p := &stubProvider{name: "anthropic", results: []stubResult{{resp: &Response{Text: "hi"}}}}
	g := New(map[string]Provider{"anthropic": p}, []string{"anthropic"}, fastPolicy(), nil)

	resp, used, err := g.Invoke(context.Background(), Request{}, "", true)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", used)
	assert.Equal(t, "hi", resp.Text)
}

func TestGateway_Invoke_FallsBackOnQuotaExceeded(t *testing.T) {
	primary := &stubProvider{name: "anthropic", results: []stubResult{{err: &ProviderError{Provider: "anthropic", Code: ErrCodeQuotaExceeded}}}}
	secondary := &stubProvider{name: "openai", results: []stubResult{{resp: &Response{Text: "from openai"}}}}
	g := New(map[string]Provider{"anthropic": primary, "openai": secondary}, []string{"anthropic", "openai"}, fastPolicy(), nil)

	resp, used, err := g.Invoke(context.Background(), Request{}, "", true)
	require.NoError(t, err)
	assert.Equal(t, "openai", used)
	assert.Equal(t, "from openai", resp.Text)
}

func TestGateway_Invoke_ExhaustedProviderSkippedOnSecondCall(t *testing.T) {
	primary := &stubProvider{name: "anthropic", results: []stubResult{{err: &ProviderError{Provider: "anthropic", Code: ErrCodeQuotaExceeded}}}}
	secondary := &stubProvider{name: "openai", results: []stubResult{{resp: &Response{Text: "ok"}}, {resp: &Response{Text: "ok2"}}}}
	g := New(map[string]Provider{"anthropic": primary, "openai": secondary}, []string{"anthropic", "openai"}, fastPolicy(), nil)

	_, _, err := g.Invoke(context.Background(), Request{}, "", true)
	require.NoError(t, err)

	_, used, err := g.Invoke(context.Background(), Request{}, "", true)
	require.NoError(t, err)
	assert.Equal(t, "openai", used)
	assert.Equal(t, 1, primary.calls)
}

func TestGateway_Invoke_RecordsUsage(t *testing.T) {
	var recorded Usage
	p := &stubProvider{name: "anthropic", results: []stubResult{{resp: &Response{Text: "hi", Usage: Usage{Provider: "anthropic", PromptTokens: 5}}}}}
	g := New(map[string]Provider{"anthropic": p}, []string{"anthropic"}, fastPolicy(), func(u Usage) { recorded = u })

	_, _, err := g.Invoke(context.Background(), Request{}, "", true)
	require.NoError(t, err)
	assert.Equal(t, 5, recorded.PromptTokens)
}

func TestGateway_Invoke_AllProvidersFail(t *testing.T) {
	p := &stubProvider{name: "anthropic", results: []stubResult{{err: &ProviderError{Provider: "anthropic", Code: ErrCodeInvalidInput}}}}
	g := New(map[string]Provider{"anthropic": p}, []string{"anthropic"}, fastPolicy(), nil)

	_, _, err := g.Invoke(context.Background(), Request{}, "", true)
	assert.Error(t, err)
}
