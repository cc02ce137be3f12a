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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type categorizedErr struct {
	category string
}

func (e *categorizedErr) Error() string          { return "categorized: " + e.category }
func (e *categorizedErr) RetryCategory() string  { return e.category }

func TestExecute_SucceedsWithoutRetry(t *testing.T) {
	policy := DefaultRetryPolicy()
	calls := 0
	v, err := Execute(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, calls)
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:  5,
		BaseDelay:    time.Millisecond,
		Cap:          10 * time.Millisecond,
		JitterFactor: 0,
		Strategy:     StrategyFixed,
	}
	calls := 0
	v, err := Execute(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 99, v)
	assert.Equal(t, 3, calls)
}

func TestExecute_ExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		Cap:          5 * time.Millisecond,
		JitterFactor: 0,
		Strategy:     StrategyExponential,
	}
	calls := 0
	_, err := Execute(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("permanent failure")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_NonRetryableCategoryReraisesImmediately(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:       5,
		BaseDelay:         time.Millisecond,
		Cap:               5 * time.Millisecond,
		Strategy:          StrategyFixed,
		RetryOnCategories: map[string]bool{"TIMEOUT": true},
	}
	calls := 0
	_, err := Execute(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, &categorizedErr{category: "SYNTAX"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable category must not be retried")
}

func TestExecute_RetryableCategoryRetries(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         time.Millisecond,
		Cap:               5 * time.Millisecond,
		Strategy:          StrategyFixed,
		RetryOnCategories: map[string]bool{"TIMEOUT": true},
	}
	calls := 0
	_, err := Execute(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, &categorizedErr{category: "TIMEOUT"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_ContextCancellationDuringBackoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		Cap:         time.Second,
		Strategy:    StrategyFixed,
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := Execute(ctx, policy, func(context.Context) (int, error) {
		return 0, errors.New("keep failing")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayFor_RespectsCap(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:    time.Second,
		Cap:          2 * time.Second,
		Strategy:     StrategyExponential,
		JitterFactor: 0,
	}
	d := policy.delayFor(10)
	assert.Equal(t, 2*time.Second, d)
}
