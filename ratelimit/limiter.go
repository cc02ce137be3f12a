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

// Package ratelimit implements C13: a sliding-window limiter keyed per
// (user, endpoint), backed by a sorted set of per-request timestamps in
// Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nlsql-oss/queryorch/degraded"
	"github.com/nlsql-oss/queryorch/shared/logger"
	"github.com/nlsql-oss/queryorch/state"
)

// expiryBuffer is added on top of the window when setting a key's TTL so a
// burst landing right at the window boundary isn't evicted mid-check.
const expiryBuffer = 5 * time.Second

// Limit is a (max_requests, window) pair for one tier or endpoint override.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Result is what Check returns.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces Limits per (user, endpoint). EndpointOverrides take
// precedence over TierDefaults when both apply to a request, per §4.13.
type Limiter struct {
	Client            *redis.Client
	TierDefaults      map[state.Role]Limit
	EndpointOverrides map[string]Limit
	Degraded          *degraded.Registry
	Log               *logger.Logger
}

// NewLimiter builds a Limiter. tierDefaults is required; endpointOverrides
// may be nil.
func NewLimiter(client *redis.Client, tierDefaults map[state.Role]Limit, endpointOverrides map[string]Limit, deg *degraded.Registry, log *logger.Logger) *Limiter {
	return &Limiter{
		Client:            client,
		TierDefaults:      tierDefaults,
		EndpointOverrides: endpointOverrides,
		Degraded:          deg,
		Log:               log,
	}
}

func (l *Limiter) limitFor(endpoint string, tier state.Role) Limit {
	if override, ok := l.EndpointOverrides[endpoint]; ok {
		return override
	}
	return l.TierDefaults[tier]
}

// Check applies the sliding-window algorithm for (user, endpoint): drop
// entries older than the window, reject if the window is already full,
// otherwise record this request and return the remaining budget. On a
// Redis failure it fails open (allow) and marks the component degraded,
// per §4.13's explicit fail-open requirement.
func (l *Limiter) Check(ctx context.Context, user, endpoint string, tier state.Role) (Result, error) {
	limit := l.limitFor(endpoint, tier)
	if limit.MaxRequests <= 0 {
		return Result{Allowed: true, Remaining: 0}, nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", user, endpoint)
	now := time.Now()
	windowStart := now.Add(-limit.Window)

	if err := l.Client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano())).Err(); err != nil {
		return l.failOpen(err)
	}

	count, err := l.Client.ZCard(ctx, key).Result()
	if err != nil {
		return l.failOpen(err)
	}

	if count >= int64(limit.MaxRequests) {
		retryAfter := limit.Window
		if oldest, err := l.Client.ZRangeWithScores(ctx, key, 0, 0).Result(); err == nil && len(oldest) == 1 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = oldestAt.Add(limit.Window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
	}

	pipe := l.Client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: fmt.Sprintf("%d", now.UnixNano())})
	pipe.Expire(ctx, key, limit.Window+expiryBuffer)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(err)
	}

	return Result{Allowed: true, Remaining: limit.MaxRequests - int(count) - 1}, nil
}

func (l *Limiter) failOpen(err error) (Result, error) {
	if l.Degraded != nil {
		l.Degraded.Update("redis", state.ComponentDegraded, err.Error(), true)
	}
	if l.Log != nil {
		l.Log.Warn("", "", "rate limiter store unavailable, failing open", map[string]interface{}{"error": err.Error()})
	}
	return Result{Allowed: true}, nil
}
