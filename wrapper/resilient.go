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

package wrapper

import (
	"context"
	"sync"

	"github.com/nlsql-oss/queryorch/resilience"
	"github.com/nlsql-oss/queryorch/state"
)

// Status is the composite health view C3 consumes from a Resilient wrapper.
type Status struct {
	Dependency string
	Breaker    resilience.BreakerState
	Cache      CacheCounters
}

// Resilient wraps one external dependency (named, e.g. "redis", "mcp-doris",
// "llm-openai") with a circuit breaker, C1 retry policy, and an optional
// in-memory fallback cache. Construct one per dependency and reuse it for
// every call against that dependency.
type Resilient struct {
	name    string
	breaker *resilience.CircuitBreaker
	policy  resilience.RetryPolicy
	cache   *FallbackCache // nil if this dependency has no fallback cache

	mu sync.Mutex
}

// NewResilient builds a wrapper for the named dependency, registering its
// breaker in reg so C3 and metrics can observe it. cache may be nil.
func NewResilient(name string, reg *resilience.Registry, breakerCfg resilience.BreakerConfig, policy resilience.RetryPolicy, cache *FallbackCache) *Resilient {
	return &Resilient{
		name:    name,
		breaker: reg.GetOrCreate(name, breakerCfg),
		policy:  policy,
		cache:   cache,
	}
}

// IsAvailable reports breaker state == CLOSED, the definition of "available"
// for C2's status contract.
func (r *Resilient) IsAvailable() bool {
	return r.breaker.State() == resilience.Closed
}

// StatusSnapshot returns the wrapper's composite status for C3.
func (r *Resilient) StatusSnapshot() Status {
	s := Status{Dependency: r.name, Breaker: r.breaker.State()}
	if r.cache != nil {
		s.Cache = r.cache.Counters()
	}
	return s
}

// Call executes op behind the breaker and retry policy. If Allow() is
// false, op is never invoked and resilience.ErrCircuitOpen propagates.
func Call[T any](ctx context.Context, r *Resilient, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if !r.breaker.Allow() {
		return zero, resilience.ErrCircuitOpen
	}

	result, err := resilience.Execute(ctx, r.policy, op)
	if err != nil {
		r.breaker.RecordFailure()
		return zero, err
	}
	r.breaker.RecordSuccess()
	return result, nil
}

// CallWithCacheFallback behaves like Call for writes/reads that have a
// natural cache-backed fallback: on success the value is cached under key;
// on failure (breaker open or op error), it falls through to the fallback
// cache's Get before giving up. decode/encode adapt between T and the
// cache's []byte storage.
func CallWithCacheFallback[T any](
	ctx context.Context,
	r *Resilient,
	key string,
	op func(context.Context) (T, error),
	encode func(T) ([]byte, error),
	decode func([]byte) (T, error),
) (T, error) {
	var zero T

	result, err := Call(ctx, r, op)
	if err == nil {
		if r.cache != nil {
			if encoded, encErr := encode(result); encErr == nil {
				r.cache.Set(key, encoded)
			}
		}
		return result, nil
	}

	if r.cache == nil {
		return zero, err
	}

	raw, ok := r.cache.Get(key)
	if !ok {
		return zero, err
	}
	r.cache.RecordFallback()
	decoded, decErr := decode(raw)
	if decErr != nil {
		return zero, err
	}
	return decoded, nil
}

// componentStatus adapts a Resilient's status into the state package's
// ComponentState shape, the input C3's registry stores.
func (r *Resilient) componentStatus() state.ComponentStatus {
	switch r.breaker.State() {
	case resilience.Closed:
		return state.ComponentOperational
	case resilience.HalfOpen:
		return state.ComponentDegraded
	default:
		return state.ComponentUnavailable
	}
}

// ComponentStatus exposes componentStatus for the degraded-mode registry.
func (r *Resilient) ComponentStatus() state.ComponentStatus {
	return r.componentStatus()
}

// Name returns the dependency name this wrapper was built for.
func (r *Resilient) Name() string {
	return r.name
}
