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
	"container/list"
	"context"
	"sync"

	"github.com/nlsql-oss/queryorch/state"
)

// MemoryStore is a bounded, in-process LRU over query_id used as the
// driver's transparent fallback when the primary Repository fails
// repeatedly (§4.11.3). It satisfies Repository so the driver can swap it
// in without a type switch at call sites.
type MemoryStore struct {
	mu       sync.Mutex
	maxSize  int
	order    *list.List
	elements map[string]*list.Element
}

type memoryEntry struct {
	queryID string
	state   *state.QueryState
}

// NewMemoryStore builds a MemoryStore holding at most maxSize checkpoints,
// evicting the least recently touched query_id once full.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &MemoryStore{
		maxSize:  maxSize,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (m *MemoryStore) SaveState(ctx context.Context, qs *state.QueryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *qs
	if el, ok := m.elements[qs.QueryID]; ok {
		el.Value.(*memoryEntry).state = &clone
		m.order.MoveToFront(el)
		return nil
	}

	el := m.order.PushFront(&memoryEntry{queryID: qs.QueryID, state: &clone})
	m.elements[qs.QueryID] = el

	for m.order.Len() > m.maxSize {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.elements, oldest.Value.(*memoryEntry).queryID)
	}
	return nil
}

func (m *MemoryStore) LoadState(ctx context.Context, queryID string) (*state.QueryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.elements[queryID]
	if !ok {
		return nil, ErrNotFound
	}
	m.order.MoveToFront(el)
	clone := *el.Value.(*memoryEntry).state
	return &clone, nil
}

func (m *MemoryStore) DeleteState(ctx context.Context, queryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.elements[queryID]
	if !ok {
		return nil
	}
	m.order.Remove(el)
	delete(m.elements, queryID)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Len reports how many checkpoints are currently held, for tests and
// observability gauges.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
