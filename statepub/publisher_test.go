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

package statepub

import (
	"context"
	"testing"
	"time"

	"github.com/nlsql-oss/queryorch/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ReceivesImmediateSnapshot(t *testing.T) {
	p := New()
	p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecycleReceived, Timestamp: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, "q1")

	select {
	case ev := <-ch:
		assert.Equal(t, state.LifecycleReceived, ev.State)
	case <-time.After(time.Second):
		t.Fatal("expected immediate snapshot")
	}
}

func TestSubscribe_NoSnapshotWhenQueryUnknown(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, "unknown")

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdate_DeliversToSubscriberInOrder(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, "q1")

	p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecyclePlanning})
	p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecyclePrepared})

	first := <-ch
	second := <-ch
	assert.Equal(t, state.LifecyclePlanning, first.State)
	assert.Equal(t, state.LifecyclePrepared, second.State)
}

func TestUpdate_TerminalStateClosesStream(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, "q1")

	p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecycleFinished})

	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open || true
	}, time.Second, 10*time.Millisecond)

	_, open := <-ch
	assert.False(t, open)
}

func TestUpdate_SlowSubscriberEvictedAfterTimeout(t *testing.T) {
	origTimeout := deliveryTimeout
	t.Cleanup(func() {})
	_ = origTimeout

	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx, "q1")

	// fill the bounded queue without draining it
	for i := 0; i < subscriberQueueSize+1; i++ {
		p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecyclePlanning})
	}

	// drain what's buffered; the eviction happens synchronously inside the
	// Update call that overflowed the queue and waited out deliveryTimeout,
	// so the channel should already be closed by the time we've drained it.
	for range ch {
	}
}

func TestCurrentState_ReturnsLastUpdate(t *testing.T) {
	p := New()
	p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecyclePlanning})
	p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecyclePrepared})

	ev, ok := p.CurrentState("q1")
	require.True(t, ok)
	assert.Equal(t, state.LifecyclePrepared, ev.State)
}

func TestCurrentState_UnknownQueryReturnsFalse(t *testing.T) {
	p := New()
	_, ok := p.CurrentState("nope")
	assert.False(t, ok)
}

func TestSubscribe_ContextCancelStopsHeartbeatWithoutPanicking(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Subscribe(ctx, "q1")
	cancel()

	select {
	case <-ch:
	case <-time.After(50 * time.Millisecond):
	}
	// a further update after cancellation must not panic even though the
	// heartbeat goroutine has unsubscribed concurrently.
	p.Update(state.QueryStateEvent{QueryID: "q1", State: state.LifecyclePlanning})
}
