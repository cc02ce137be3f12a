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

// Package degraded implements the process-wide degraded-mode registry
// (C3): per-component health tracked centrally, with a derived system-wide
// degradation level and a static feature-availability map.
package degraded

import (
	"sync"
	"time"

	"github.com/nlsql-oss/queryorch/state"
)

// Registry is the process-wide table of state.ComponentState keyed by name.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*state.ComponentState
	impacts    map[string]string // name -> impact description, set at register time
	featureMap map[string][]string
}

// NewRegistry constructs an empty registry. featureMap answers
// FeatureAvailable: a feature depends on every component name listed for it.
func NewRegistry(featureMap map[string][]string) *Registry {
	if featureMap == nil {
		featureMap = defaultFeatureMap()
	}
	return &Registry{
		components: make(map[string]*state.ComponentState),
		impacts:    make(map[string]string),
		featureMap: featureMap,
	}
}

// defaultFeatureMap binds this module's features to the components that
// back them, so FeatureAvailable has a sensible default without requiring
// every caller to hand-author one.
func defaultFeatureMap() map[string][]string {
	return map[string][]string{
		"nl_to_sql":       {"llm"},
		"schema_lookup":   {"oracle", "doris", "postgres"},
		"query_execution": {"oracle", "doris", "postgres", "pool"},
		"approval_flow":   {"approval_store"},
		"rate_limiting":   {"redis"},
	}
}

// Register adds name to the registry as OPERATIONAL with the given impact
// description (used only for human-readable status output).
func (r *Registry) Register(name, impact string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.components[name]; ok {
		return
	}
	r.components[name] = &state.ComponentState{
		Name:       name,
		Status:     state.ComponentOperational,
		LastChange: time.Now(),
	}
	r.impacts[name] = impact
}

// Update sets the health of a registered (or newly registering) component.
func (r *Registry) Update(name string, status state.ComponentStatus, reason string, fallbackActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[name]
	if !ok {
		c = &state.ComponentState{Name: name}
		r.components[name] = c
	}
	if c.Status == status && c.FallbackActive == fallbackActive && c.DegradationReason == reason {
		return
	}
	c.Status = status
	c.DegradationReason = reason
	c.FallbackActive = fallbackActive
	c.LastChange = time.Now()
}

// Get returns a copy of the named component's current state.
func (r *Registry) Get(name string) (state.ComponentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	if !ok {
		return state.ComponentState{}, false
	}
	return *c, true
}

// SystemStatus recomputes the system degradation level from every
// registered component, per §4.3: NORMAL (all OPERATIONAL), PARTIAL (>=1
// DEGRADED, 0 UNAVAILABLE), SEVERE (>=2 DEGRADED or 1 UNAVAILABLE),
// CRITICAL (>=2 UNAVAILABLE).
func (r *Registry) SystemStatus() state.DegradationLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	degraded := 0
	unavailable := 0
	for _, c := range r.components {
		switch c.Status {
		case state.ComponentDegraded:
			degraded++
		case state.ComponentUnavailable:
			unavailable++
		}
	}

	switch {
	case unavailable >= 2:
		return state.LevelCritical
	case unavailable >= 1 || degraded >= 2:
		return state.LevelSevere
	case degraded >= 1:
		return state.LevelPartial
	default:
		return state.LevelNormal
	}
}

// FeatureAvailable reports whether every component backing feature is
// currently OPERATIONAL or DEGRADED (a feature tolerates degradation but
// not an UNAVAILABLE dependency), per the static feature map.
func (r *Registry) FeatureAvailable(feature string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deps, ok := r.featureMap[feature]
	if !ok {
		return true // unknown feature has no tracked dependency, assume available
	}
	for _, dep := range deps {
		c, ok := r.components[dep]
		if !ok {
			continue // never registered, assume healthy
		}
		if c.Status == state.ComponentUnavailable {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of every tracked component's state, for status
// endpoints and observability.
func (r *Registry) Snapshot() []state.ComponentState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]state.ComponentState, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, *c)
	}
	return out
}
