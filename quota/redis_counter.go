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

package quota

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCounter is the production Counter, grounded on the INCR+EXPIRE
// pattern the teacher uses for its own Redis rate limiting.
type RedisCounter struct {
	Client *redis.Client
}

// Increment atomically increments key and, only on the call that creates
// it (value becomes 1), sets its TTL — subsequent increments within the
// window leave the expiry untouched so the window doesn't keep sliding.
func (c *RedisCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		c.Client.Expire(ctx, key, ttl)
	}
	return n, nil
}

// AddFloat atomically adds delta to key's float accumulator, setting its
// TTL the same way Increment does.
func (c *RedisCounter) AddFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	v, err := c.Client.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}
	if delta == v {
		c.Client.Expire(ctx, key, ttl)
	}
	return v, nil
}

// GetFloat reads key's current float value, treating a missing key as 0
// rather than an error.
func (c *RedisCounter) GetFloat(ctx context.Context, key string) (float64, error) {
	v, err := c.Client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}
