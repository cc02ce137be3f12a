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

package checkpoint

import (
	"context"
	"sync/atomic"

	"github.com/nlsql-oss/queryorch/shared/logger"
	"github.com/nlsql-oss/queryorch/state"
)

// failoverThreshold is how many consecutive primary failures trigger a swap
// to the in-memory fallback, per §4.11.3.
const failoverThreshold = 3

// FailoverRepository wraps a primary Repository with a MemoryStore
// fallback, swapping to the fallback once the primary has failed
// failoverThreshold times in a row on SaveState. The swap is one-way:
// after it, writes go only to the fallback. Reads always try the primary
// first and fall back on any primary error.
type FailoverRepository struct {
	primary         Repository
	fallback        *MemoryStore
	log             *logger.Logger
	consecutiveFail int32
	usingFallback   int32
}

// NewFailoverRepository pairs a primary Repository with a bounded in-memory
// fallback of the given size.
func NewFailoverRepository(primary Repository, fallbackSize int) *FailoverRepository {
	return &FailoverRepository{
		primary:  primary,
		fallback: NewMemoryStore(fallbackSize),
		log:      logger.New("checkpoint"),
	}
}

// SaveState writes through the primary while it's healthy. After
// failoverThreshold consecutive primary errors it stops trying the primary
// for writes and persists to the in-memory fallback instead, logging the
// degradation once per transition.
func (f *FailoverRepository) SaveState(ctx context.Context, qs *state.QueryState) error {
	if atomic.LoadInt32(&f.usingFallback) == 1 {
		return f.fallback.SaveState(ctx, qs)
	}

	if err := f.primary.SaveState(ctx, qs); err != nil {
		if atomic.AddInt32(&f.consecutiveFail, 1) >= failoverThreshold {
			if atomic.CompareAndSwapInt32(&f.usingFallback, 0, 1) {
				f.log.Warn(qs.QueryID, qs.TraceID, "checkpoint primary failing, swapping to in-memory fallback", map[string]interface{}{
					"consecutive_failures": failoverThreshold,
				})
			}
			return f.fallback.SaveState(ctx, qs)
		}
		return err
	}

	atomic.StoreInt32(&f.consecutiveFail, 0)
	return nil
}

// LoadState prefers the primary (it may hold history the fallback evicted)
// and consults the fallback whenever the primary returns an error, not
// found or otherwise. A successful primary Ping is not required; reads try
// the primary first every time.
func (f *FailoverRepository) LoadState(ctx context.Context, queryID string) (*state.QueryState, error) {
	qs, err := f.primary.LoadState(ctx, queryID)
	if err == nil {
		return qs, nil
	}
	return f.fallback.LoadState(ctx, queryID)
}

func (f *FailoverRepository) DeleteState(ctx context.Context, queryID string) error {
	_ = f.fallback.DeleteState(ctx, queryID)
	return f.primary.DeleteState(ctx, queryID)
}

func (f *FailoverRepository) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

// UsingFallback reports whether writes are currently routed to the
// in-memory store, for observability gauges.
func (f *FailoverRepository) UsingFallback() bool {
	return atomic.LoadInt32(&f.usingFallback) == 1
}
