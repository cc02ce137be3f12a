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

// Package resilience provides the circuit breaker and retry primitives
// (C1) that every resilient wrapper in the module builds on.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by WithBreaker when the named breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// BreakerState is one of CLOSED, OPEN, HALF_OPEN.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a single named CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip CLOSED->OPEN
	RecoveryTimeout  time.Duration // OPEN->HALF_OPEN probe delay
	SuccessThreshold int           // consecutive HALF_OPEN successes to close
}

// DefaultBreakerConfig mirrors the teacher's retry.go CircuitBreaker
// defaults, generalized with an explicit success threshold.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// OnStateChange is invoked, with the breaker's lock held, on every state
// transition. Used to wire observability (C3, metrics).
type OnStateChange func(name string, from, to BreakerState)

// CircuitBreaker guards one external dependency. All exported methods are
// safe for concurrent use; state transitions are atomic under mu.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	onChange OnStateChange

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker constructs a CLOSED breaker for the given dependency name.
func NewCircuitBreaker(name string, cfg BreakerConfig, onChange OnStateChange) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		onChange: onChange,
		state:    Closed,
	}
}

// Allow reports whether a call should proceed. It also performs the
// OPEN->HALF_OPEN timer check, per §4.1.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.lastFailureTime) >= cb.cfg.RecoveryTimeout {
			cb.transition(HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case HalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.transition(Closed)
		}
	case Closed:
		cb.failureCount = 0
	}
}

// RecordFailure records a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case HalfOpen:
		cb.successCount = 0
		cb.transition(Open)
	case Closed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(Open)
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to CLOSED, clearing counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.successCount = 0
	cb.transition(Closed)
}

// transition must be called with mu held; it logs via onChange outside the
// lock is not possible here, so callers must tolerate onChange running
// under the lock for ordering guarantees on rapid transitions.
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(cb.name, from, to)
	}
}

// WithBreaker wraps op with a breaker check: if Allow() returns false, op is
// never invoked and ErrCircuitOpen is returned immediately; otherwise op is
// called and its outcome recorded.
func WithBreaker[T any](cb *CircuitBreaker, op func() (T, error)) (T, error) {
	var zero T
	if !cb.Allow() {
		return zero, ErrCircuitOpen
	}

	result, err := op()
	if err != nil {
		cb.RecordFailure()
		return zero, err
	}
	cb.RecordSuccess()
	return result, nil
}
