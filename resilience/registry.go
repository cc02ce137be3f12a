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

package resilience

import "sync"

// Registry shares named circuit breakers process-wide. Rather than package
// globals, a Registry instance is wired explicitly into the Runtime and
// passed down to whatever needs to look up or create a breaker by name.
type Registry struct {
	onChange OnStateChange

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry constructs an empty breaker registry. onChange, if non-nil,
// is attached to every breaker the registry creates.
func NewRegistry(onChange OnStateChange) *Registry {
	return &Registry{
		onChange: onChange,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the named breaker, creating it with cfg on first use.
func (r *Registry) GetOrCreate(name string, cfg BreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, cfg, r.onChange)
	r.breakers[name] = cb
	return cb
}

// Get returns the named breaker and whether it exists.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Names returns the names of all registered breakers.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
