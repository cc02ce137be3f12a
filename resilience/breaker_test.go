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

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker("oracle", BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 2,
	}, nil)

	for i := 0; i < 2; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, Closed, cb.State())
	}

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, Open, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterRecovery(t *testing.T) {
	cb := NewCircuitBreaker("doris", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 2,
	}, nil)

	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, Open, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(25 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, HalfOpen, cb.State())
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker("postgres", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
	}, nil)

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, cb.Allow())
	require.Equal(t, HalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, HalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("redis", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
	}, nil)

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()
	require.Equal(t, HalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, Open, cb.State())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("llm", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		SuccessThreshold: 1,
	}, func(name string, from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.Allow()
	cb.RecordFailure()
	require.Equal(t, []string{"CLOSED->OPEN"}, transitions)
}

func TestWithBreaker_NeverInvokesOpCircuitOpen(t *testing.T) {
	cb := NewCircuitBreaker("mcp", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
	}, nil)
	cb.Allow()
	cb.RecordFailure()

	called := false
	_, err := WithBreaker(cb, func() (int, error) {
		called = true
		return 0, nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "operation must not be invoked when Allow() is false")
}

func TestWithBreaker_RecordsOutcome(t *testing.T) {
	cb := NewCircuitBreaker("mcp2", DefaultBreakerConfig(), nil)

	_, err := WithBreaker(cb, func() (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, Closed, cb.State())

	v, err := WithBreaker(cb, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	a := reg.GetOrCreate("oracle", DefaultBreakerConfig())
	b := reg.GetOrCreate("oracle", BreakerConfig{FailureThreshold: 1})
	assert.Same(t, a, b)

	_, ok := reg.Get("missing")
	assert.False(t, ok)
}
