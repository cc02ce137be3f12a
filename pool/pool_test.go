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

package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlsql-oss/queryorch/resilience"
)

type fakeClient struct {
	closed int32
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) Close() error                      { atomic.StoreInt32(&f.closed, 1); return nil }
func (f *fakeClient) Healthy(ctx context.Context) bool  { return true }

func newTestPool(t *testing.T, cfg Config) *Pool {
	reg := resilience.NewRegistry(nil)
	p := New("test", cfg, func(id string) Client { return &fakeClient{} }, reg)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { p.Shutdown(time.Second) })
	return p
}

func TestPool_AcquireReleaseReturnsToIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 2
	cfg.HealthCheckInterval = time.Hour
	p := newTestPool(t, cfg)

	lease, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	total, idle := p.Size()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, idle)

	lease.Release(context.Background(), false)
	_, idle = p.Size()
	assert.Equal(t, 2, idle)
}

func TestPool_AcquireTimeoutZeroExhaustedImmediately(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 1
	cfg.HealthCheckInterval = time.Hour
	p := newTestPool(t, cfg)

	lease, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer lease.Release(context.Background(), false)

	_, err = p.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_RecyclesOnErrorThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 1
	cfg.ErrorThreshold = 2
	cfg.HealthCheckInterval = time.Hour
	p := newTestPool(t, cfg)

	for i := 0; i < 2; i++ {
		lease, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		lease.Release(context.Background(), true)
	}

	lease, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	// After recycling, the errors counter resets because it's a fresh process.
	assert.Equal(t, 0, lease.Process().Errors)
	lease.Release(context.Background(), false)
}

func TestPool_ShutdownRefusesNewAcquires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Size = 1
	cfg.HealthCheckInterval = time.Hour
	reg := resilience.NewRegistry(nil)
	p := New("shutdown-test", cfg, func(id string) Client { return &fakeClient{} }, reg)
	require.NoError(t, p.Initialize(context.Background()))

	p.Shutdown(10 * time.Millisecond)

	_, err := p.Acquire(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrPoolShuttingDown)
}
