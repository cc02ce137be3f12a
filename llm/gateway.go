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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nlsql-oss/queryorch/resilience"
	"github.com/nlsql-oss/queryorch/shared/logger"
)

// transientRetryCategories is the RetryOnCategories set C1 is given for a
// single provider attempt — only genuinely transient failures are retried
// against the same provider; quota/rate-limit advance or pause the chain
// instead (§4.14.1).
var transientRetryCategories = map[string]bool{
	string(ErrCodeServerError): true,
	string(ErrCodeTimeout):     true,
}

// Gateway is the provider-agnostic LLM entry point (C14). It holds a
// configured set of providers and an ordered fallback chain, and tracks
// same-day quota exhaustion per provider so an exhausted provider is
// skipped for the rest of the day without being retried.
type Gateway struct {
	mu            sync.Mutex
	providers     map[string]Provider
	fallbackOrder []string
	exhaustedDay  map[string]string // provider -> "2006-01-02" it was marked exhausted on
	retryPolicy   resilience.RetryPolicy
	onUsage       func(Usage)
	log           *logger.Logger
}

// New builds a Gateway over the given providers. fallbackOrder lists
// provider names to try, in order, when a request either doesn't name one
// or opts into fallback. onUsage, if non-nil, is invoked with every
// successful completion's token/cost accounting.
func New(providers map[string]Provider, fallbackOrder []string, retryPolicy resilience.RetryPolicy, onUsage func(Usage)) *Gateway {
	return &Gateway{
		providers:     providers,
		fallbackOrder: fallbackOrder,
		exhaustedDay:  make(map[string]string),
		retryPolicy:   retryPolicy,
		onUsage:       onUsage,
		log:           logger.New("llm-gateway"),
	}
}

// Invoke runs the completion against `provider` (or the fallback chain's
// head if provider is empty), advancing to the next provider in the chain
// on QuotaExceeded or an exhausted retry budget, per §4.14. It returns the
// response together with the name of the provider that actually served it.
func (g *Gateway) Invoke(ctx context.Context, req Request, provider string, enableFallback bool) (*Response, string, error) {
	chain := g.chain(provider, enableFallback)
	if len(chain) == 0 {
		return nil, "", fmt.Errorf("llm: no providers configured")
	}

	var lastErr error
	for _, name := range chain {
		if g.isExhaustedToday(name) {
			continue
		}
		p, ok := g.providers[name]
		if !ok {
			continue
		}

		resp, err := g.attempt(ctx, p, req)
		if err == nil {
			if g.onUsage != nil {
				g.onUsage(resp.Usage)
			}
			return resp, name, nil
		}

		var perr *ProviderError
		if errors.As(err, &perr) && perr.Code == ErrCodeQuotaExceeded {
			g.markExhausted(name)
			g.log.Warn("", "", "llm provider quota exhausted for today", map[string]interface{}{"provider": name})
		}
		lastErr = err
	}

	return nil, "", fmt.Errorf("llm: all providers in chain failed: %w", lastErr)
}

// chain builds the ordered provider names to attempt: the requested
// provider first (if any and enableFallback or it's the only one asked
// for), then the configured fallback order with duplicates removed.
func (g *Gateway) chain(provider string, enableFallback bool) []string {
	var chain []string
	seen := make(map[string]bool)

	if provider != "" {
		chain = append(chain, provider)
		seen[provider] = true
	}
	if provider == "" || enableFallback {
		for _, name := range g.fallbackOrder {
			if !seen[name] {
				chain = append(chain, name)
				seen[name] = true
			}
		}
	}
	return chain
}

// attempt runs one provider's Complete under C1 retry, retrying only
// transient categories. A RateLimited error is given one explicit delay
// honoring Retry-After (or the policy's base delay if absent) before a
// single extra try, per §4.14.1's "retry with Retry-After if present, else
// exponential" rule — after that it's treated like any other non-transient
// failure and the chain advances.
func (g *Gateway) attempt(ctx context.Context, p Provider, req Request) (*Response, error) {
	policy := g.retryPolicy
	policy.RetryOnCategories = transientRetryCategories

	return resilience.Execute(ctx, policy, func(ctx context.Context) (*Response, error) {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		var perr *ProviderError
		if errors.As(err, &perr) && perr.Code == ErrCodeRateLimited {
			delay := time.Duration(perr.RetryAfterSeconds) * time.Second
			if delay <= 0 {
				delay = policy.BaseDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return p.Complete(ctx, req)
		}
		return nil, err
	})
}

func (g *Gateway) markExhausted(provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exhaustedDay[provider] = today()
}

func (g *Gateway) isExhaustedToday(provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exhaustedDay[provider] == today()
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
