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

// Package statepub implements the query-state publisher (C7): a
// single-process registry mapping query_id to its current lifecycle state,
// with a per-query subscriber set delivered over bounded channels.
package statepub

import (
	"context"
	"sync"
	"time"

	"github.com/nlsql-oss/queryorch/state"
)

const (
	subscriberQueueSize = 32
	deliveryTimeout     = time.Second
	heartbeatInterval   = 30 * time.Second
)

var terminalStates = map[state.LifecycleState]bool{
	state.LifecycleFinished: true,
	state.LifecycleError:    true,
	state.LifecycleRejected: true,
}

// subscriber is one client's delivery channel. closed is guarded by the
// owning queryTopic's mutex so every goroutine that might touch ch (Update,
// the heartbeat loop, unsubscribe) agrees on whether it is still safe to
// send or close.
type subscriber struct {
	id      int64
	queryID string
	ch      chan state.QueryStateEvent
	closed  bool
}

// queryTopic holds the live state and subscriber set for one query_id.
type queryTopic struct {
	mu          sync.Mutex
	current     *state.QueryStateEvent
	subscribers []*subscriber
	nextSubID   int64
}

// Publisher is the process-wide registry. Writes for a single query_id are
// serialized by that query's topic mutex; subscriber-set mutation and
// delivery iteration share the same lock, so they are mutually exclusive
// per the concurrency contract.
type Publisher struct {
	mu     sync.RWMutex
	topics map[string]*queryTopic
}

// New constructs an empty publisher registry.
func New() *Publisher {
	return &Publisher{topics: make(map[string]*queryTopic)}
}

func (p *Publisher) topicFor(queryID string) *queryTopic {
	p.mu.RLock()
	t, ok := p.topics[queryID]
	p.mu.RUnlock()
	if ok {
		return t
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[queryID]; ok {
		return t
	}
	t = &queryTopic{}
	p.topics[queryID] = t
	return t
}

// Update atomically records the new state for query_id and publishes a
// snapshot to every current subscriber. Delivery is non-blocking against a
// bounded queue; a subscriber that doesn't drain within deliveryTimeout is
// evicted and receives no further events.
func (p *Publisher) Update(event state.QueryStateEvent) {
	t := p.topicFor(event.QueryID)

	t.mu.Lock()
	t.current = &event
	live := make([]*subscriber, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		if deliverLocked(sub, event, deliveryTimeout) {
			live = append(live, sub)
		}
	}
	t.subscribers = live
	terminal := terminalStates[event.State]
	if terminal {
		closeAllLocked(t)
	}
	t.mu.Unlock()

	if terminal {
		p.mu.Lock()
		delete(p.topics, event.QueryID)
		p.mu.Unlock()
	}
}

// deliverLocked attempts delivery to sub while the topic mutex is held.
// The fast path is non-blocking; the slow path parks on a timer but keeps
// the topic locked for up to deliveryTimeout, which is the serialization
// the concurrency contract calls for. Returns false (and marks sub closed)
// if delivery didn't complete in time.
func deliverLocked(sub *subscriber, event state.QueryStateEvent, timeout time.Duration) bool {
	select {
	case sub.ch <- event:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sub.ch <- event:
		return true
	case <-timer.C:
		sub.closed = true
		close(sub.ch)
		return false
	}
}

// closeAllLocked closes every live subscriber channel; callers must hold
// t.mu.
func closeAllLocked(t *queryTopic) {
	for _, sub := range t.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	t.subscribers = nil
}

// Subscribe returns a channel that yields an immediate snapshot (if state
// already exists for query_id), then subsequent updates, then a heartbeat
// at least every 30s. The channel closes when a terminal state is
// delivered or ctx is cancelled.
func (p *Publisher) Subscribe(ctx context.Context, queryID string) <-chan state.QueryStateEvent {
	t := p.topicFor(queryID)

	t.mu.Lock()
	t.nextSubID++
	sub := &subscriber{id: t.nextSubID, queryID: queryID, ch: make(chan state.QueryStateEvent, subscriberQueueSize)}
	t.subscribers = append(t.subscribers, sub)
	snapshot := t.current
	if snapshot != nil {
		select {
		case sub.ch <- *snapshot:
		default:
		}
	}
	t.mu.Unlock()

	go heartbeatLoop(ctx, t, sub)

	return sub.ch
}

// heartbeatLoop emits a heartbeat event on sub.ch at least every 30s until
// ctx is cancelled or sub is closed by Update. All channel access is taken
// under t.mu so it can never race a concurrent close.
func heartbeatLoop(ctx context.Context, t *queryTopic, sub *subscriber) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			unsubscribe(t, sub)
			return
		case <-ticker.C:
			t.mu.Lock()
			if sub.closed {
				t.mu.Unlock()
				return
			}
			select {
			case sub.ch <- state.QueryStateEvent{QueryID: sub.queryID, Heartbeat: true, Timestamp: time.Now()}:
			default:
			}
			t.mu.Unlock()
		}
	}
}

// unsubscribe removes sub from its topic and closes its channel. Every send
// on sub.ch happens under t.mu, as does this close, and the closed flag
// keeps Update and closeAllLocked from closing it a second time.
func unsubscribe(t *queryTopic, sub *subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := make([]*subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		if s.id != sub.id {
			live = append(live, s)
		}
	}
	t.subscribers = live
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// CurrentState returns the last-published event for query_id, if any.
func (p *Publisher) CurrentState(queryID string) (state.QueryStateEvent, bool) {
	p.mu.RLock()
	t, ok := p.topics[queryID]
	p.mu.RUnlock()
	if !ok {
		return state.QueryStateEvent{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return state.QueryStateEvent{}, false
	}
	return *t.current, true
}
