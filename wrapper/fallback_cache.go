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

// Package wrapper provides resilient wrappers (C2) around external clients
// (Redis, MCP, LLM): a breaker keyed by dependency name, retry for
// transient categories, and an in-memory fallback cache.
package wrapper

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheCounters tracks per-operation outcomes for status reporting to C3.
type CacheCounters struct {
	Hits      int64
	Misses    int64
	Fallbacks int64
	Sets      int64
	Evictions int64
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// FallbackCache is a bounded LRU with per-entry TTL, used by a resilient
// wrapper to serve the last good result when the wrapped call fails, and by
// the schema resolver as its cache. It never returns stale data past TTL: the OODA is "if
// present and not expired, return it; otherwise miss", per §4.2's
// invariant.
type FallbackCache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, cacheEntry]
	counters CacheCounters
	ttl      time.Duration
}

// NewFallbackCache builds a cache holding at most maxSize entries, each
// living at most ttl after being set.
func NewFallbackCache(maxSize int, ttl time.Duration) *FallbackCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c, err := lru.New[string, cacheEntry](maxSize)
	if err != nil {
		// maxSize is always >0 here, lru.New only errors on size<=0.
		panic(err)
	}
	return &FallbackCache{lru: c, ttl: ttl}
}

// Get returns the cached value for key if present and unexpired.
func (f *FallbackCache) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.lru.Get(key)
	if !ok {
		f.counters.Misses++
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		f.lru.Remove(key)
		f.counters.Misses++
		f.counters.Evictions++
		return nil, false
	}
	f.counters.Hits++
	return entry.value, true
}

// Set stores value under key with the cache's configured TTL.
func (f *FallbackCache) Set(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.Sets++
	evicted := f.lru.Add(key, cacheEntry{value: value, expiresAt: time.Now().Add(f.ttl)})
	if evicted {
		f.counters.Evictions++
	}
}

// Delete evicts key, used both for explicit deletes and as the fallback
// path when the primary store's DELETE fails.
func (f *FallbackCache) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lru.Remove(key) {
		f.counters.Evictions++
	}
}

// Exists reports presence without counting a hit/miss for observability
// purposes beyond the boolean result.
func (f *FallbackCache) Exists(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.lru.Peek(key)
	if !ok {
		return false
	}
	return !time.Now().After(entry.expiresAt)
}

// RecordFallback increments the fallback counter; callers invoke this when
// they serve from this cache because the primary store failed.
func (f *FallbackCache) RecordFallback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters.Fallbacks++
}

// Counters returns a snapshot of the cache's operation counters.
func (f *FallbackCache) Counters() CacheCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters
}

// Len reports the current number of live (not necessarily unexpired)
// entries held by the cache.
func (f *FallbackCache) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lru.Len()
}
