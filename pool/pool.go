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

// Package pool manages a fixed-size set of long-lived database client
// processes (C4): acquisition, recycling, health monitoring, and graceful
// drain, because each client holds an expensive session.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nlsql-oss/queryorch/resilience"
)

// ErrPoolExhausted is returned by Acquire when no idle process became
// available before the timeout elapsed.
var ErrPoolExhausted = errors.New("pool: exhausted")

// ErrPoolShuttingDown is returned by Acquire once Shutdown has been called.
var ErrPoolShuttingDown = errors.New("pool: shutting down")

// ProcessState is one of IDLE, BUSY, FAILED, INITIALIZING, SHUTDOWN.
type ProcessState string

const (
	StateIdle         ProcessState = "IDLE"
	StateBusy         ProcessState = "BUSY"
	StateFailed       ProcessState = "FAILED"
	StateInitializing ProcessState = "INITIALIZING"
	StateShutdown     ProcessState = "SHUTDOWN"
)

// Client is the long-lived handle a pooled process wraps — a real DB
// session in production, a fake in tests.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Healthy(ctx context.Context) bool
}

// ClientFactory spawns a fresh Client for a given process id.
type ClientFactory func(id string) Client

// Process is one long-lived pooled database client, exclusively owned by
// the pool manager; Acquire transfers exclusive access for the scope of an
// acquisition.
type Process struct {
	ID             string
	Client         Client
	State          ProcessState
	QueriesExecuted int
	Errors         int
	CreatedAt      time.Time
	LastUsed       time.Time
}

// Config configures a Pool.
type Config struct {
	Size                int
	MaxQueriesPerProcess int
	ErrorThreshold      int
	HealthCheckInterval time.Duration
	BreakerCfg          resilience.BreakerConfig
}

// DefaultConfig mirrors §4.4's stated defaults (error_threshold=3).
func DefaultConfig() Config {
	return Config{
		Size:                 5,
		MaxQueriesPerProcess: 1000,
		ErrorThreshold:       3,
		HealthCheckInterval:  30 * time.Second,
		BreakerCfg:           resilience.DefaultBreakerConfig(),
	}
}

// Pool manages Config.Size long-lived Process instances behind a FIFO idle
// queue, plus a pool-level breaker (separate from any per-client breaker)
// that every acquisition is counted against.
type Pool struct {
	name    string
	cfg     Config
	factory ClientFactory
	breaker *resilience.CircuitBreaker

	mu       sync.Mutex
	members  map[string]*Process
	idle     []string // FIFO queue of idle process ids
	waiters  chan struct{}
	draining bool
	stopHealth chan struct{}
}

// New constructs a Pool. Call Initialize before any Acquire.
func New(name string, cfg Config, factory ClientFactory, reg *resilience.Registry) *Pool {
	return &Pool{
		name:    name,
		cfg:     cfg,
		factory: factory,
		breaker: reg.GetOrCreate(name+"-pool", cfg.BreakerCfg),
		members: make(map[string]*Process),
		waiters: make(chan struct{}, cfg.Size),
	}
}

// Initialize spawns cfg.Size processes, each pre-connected.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.cfg.Size; i++ {
		id := processID(p.name, i)
		proc, err := p.spawn(ctx, id)
		if err != nil {
			return err
		}
		p.members[id] = proc
		p.idle = append(p.idle, id)
	}

	p.stopHealth = make(chan struct{})
	go p.healthMonitor()
	return nil
}

func (p *Pool) spawn(ctx context.Context, id string) (*Process, error) {
	client := p.factory(id)
	proc := &Process{ID: id, Client: client, State: StateInitializing, CreatedAt: time.Now()}
	if err := client.Connect(ctx); err != nil {
		proc.State = StateFailed
		return proc, err
	}
	proc.State = StateIdle
	proc.LastUsed = time.Now()
	return proc, nil
}

func processID(name string, i int) string {
	return fmt.Sprintf("%s-%d-%s", name, i, uuid.NewString())
}

// Lease is a scoped acquisition: Release must be called exactly once to
// return the process to the pool or recycle it.
type Lease struct {
	pool *Pool
	id   string
}

// Acquire waits on the idle queue up to timeout and yields exclusive use of
// a Process via the returned Lease.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	if !p.breaker.Allow() {
		return nil, resilience.ErrCircuitOpen
	}

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		p.breaker.RecordFailure()
		return nil, ErrPoolShuttingDown
	}
	if len(p.idle) > 0 {
		id := p.idle[0]
		p.idle = p.idle[1:]
		p.members[id].State = StateBusy
		p.mu.Unlock()
		p.breaker.RecordSuccess()
		return &Lease{pool: p, id: id}, nil
	}
	p.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.breaker.RecordFailure()
			return nil, ctx.Err()
		case <-deadline.C:
			p.breaker.RecordFailure()
			return nil, ErrPoolExhausted
		case <-ticker.C:
			p.mu.Lock()
			if p.draining {
				p.mu.Unlock()
				p.breaker.RecordFailure()
				return nil, ErrPoolShuttingDown
			}
			if len(p.idle) > 0 {
				id := p.idle[0]
				p.idle = p.idle[1:]
				p.members[id].State = StateBusy
				p.mu.Unlock()
				p.breaker.RecordSuccess()
				return &Lease{pool: p, id: id}, nil
			}
			p.mu.Unlock()
		}
	}
}

// Process returns the leased Process for use inside the acquisition scope.
func (l *Lease) Process() *Process {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	return l.pool.members[l.id]
}

// Release returns the process to the idle queue, recycling it first if its
// recycle policy has tripped. failed marks the acquisition's outcome for
// the error-threshold counter.
func (l *Lease) Release(ctx context.Context, failed bool) {
	p := l.pool
	p.mu.Lock()
	proc, ok := p.members[l.id]
	if !ok {
		p.mu.Unlock()
		return
	}
	proc.QueriesExecuted++
	proc.LastUsed = time.Now()
	if failed {
		proc.Errors++
	}

	needsRecycle := proc.QueriesExecuted >= p.cfg.MaxQueriesPerProcess || proc.Errors >= p.cfg.ErrorThreshold
	p.mu.Unlock()

	if needsRecycle {
		p.recycle(ctx, l.id)
		return
	}

	p.mu.Lock()
	proc.State = StateIdle
	p.idle = append(p.idle, l.id)
	p.mu.Unlock()
}

// recycle closes the old process and spawns a fresh one with the same id.
func (p *Pool) recycle(ctx context.Context, id string) {
	p.mu.Lock()
	old, ok := p.members[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	_ = old.Client.Close()

	fresh, err := p.spawn(ctx, id)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		fresh.State = StateFailed
		p.members[id] = fresh
		return
	}
	p.members[id] = fresh
	p.idle = append(p.idle, id)
}

// healthMonitor runs every HealthCheckInterval, recycling any FAILED
// process it finds.
func (p *Pool) healthMonitor() {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.mu.Lock()
			var failed []string
			for id, proc := range p.members {
				if proc.State == StateFailed {
					failed = append(failed, id)
				}
			}
			p.mu.Unlock()

			for _, id := range failed {
				p.recycle(context.Background(), id)
			}
		}
	}
}

// Shutdown stops accepting new acquires and waits for outstanding leases
// until drainTimeout, then force-closes every member.
func (p *Pool) Shutdown(drainTimeout time.Duration) {
	p.mu.Lock()
	p.draining = true
	if p.stopHealth != nil {
		close(p.stopHealth)
	}
	p.mu.Unlock()

	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		allIdle := len(p.idle) == len(p.members)
		p.mu.Unlock()
		if allIdle {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, proc := range p.members {
		_ = proc.Client.Close()
		proc.State = StateShutdown
	}
	p.idle = nil
}

// Size returns the number of members and how many are currently idle.
func (p *Pool) Size() (total, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members), len(p.idle)
}
