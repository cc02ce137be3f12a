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

// Package dbrouter dispatches a validated SQL statement to its backend
// (C15): Oracle through the pooled client manager, Doris through the MCP
// bridge, Postgres through a read-only transaction — all returning the
// uniform state.ExecutionResult envelope. Backend errors are returned as the
// clients' fmt.Errorf-wrapped driver errors; Execute does not pass them
// through dberrors.Normalize (NormalizeBackendError serves a caller that
// already holds a dberrors.BackendError).
package dbrouter

import (
	"context"
	"fmt"
	"time"

	"github.com/nlsql-oss/queryorch/dberrors"
	"github.com/nlsql-oss/queryorch/pool"
	"github.com/nlsql-oss/queryorch/state"
)

// OracleClient is the pooled client shape the Oracle backend needs,
// embedding pool.Client (Connect/Close/Healthy) so it can live in a
// pool.Pool, plus the one SQL-execution method the router actually calls.
type OracleClient interface {
	pool.Client
	ExecuteSQL(ctx context.Context, sql string) (*state.ExecutionResult, error)
}

// PostgresExecutor runs a read-only statement against Postgres. Narrowed to
// what the router needs rather than the full database/sql surface so tests
// can substitute a fake.
type PostgresExecutor interface {
	ExecuteReadOnly(ctx context.Context, sql string, statementTimeout time.Duration) (*state.ExecutionResult, error)
}

// DorisExecutor runs a statement through the Doris MCP bridge's query tool.
type DorisExecutor interface {
	ExecuteSQL(ctx context.Context, sql string) (*state.ExecutionResult, error)
}

// Router dispatches execute(database_type, sql, ...) to the right backend.
type Router struct {
	oraclePool       *pool.Pool
	doris            DorisExecutor
	postgres         PostgresExecutor
	acquireTimeout   time.Duration
	statementTimeout time.Duration
}

// Config configures a Router. Any backend left nil is simply unavailable —
// Execute returns an error naming it rather than panicking.
type Config struct {
	OraclePool       *pool.Pool
	Doris            DorisExecutor
	Postgres         PostgresExecutor
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
}

// New builds a Router from cfg, filling in the spec's default timeouts.
func New(cfg Config) *Router {
	acquireTimeout := cfg.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	statementTimeout := cfg.StatementTimeout
	if statementTimeout <= 0 {
		statementTimeout = 30 * time.Second
	}
	return &Router{
		oraclePool:       cfg.OraclePool,
		doris:            cfg.Doris,
		postgres:         cfg.Postgres,
		acquireTimeout:   acquireTimeout,
		statementTimeout: statementTimeout,
	}
}

// Execute dispatches sql to the named backend and returns the uniform
// success envelope. requestID/userID/connectionName are accepted for
// parity with the spec's execute(...) signature; the Oracle/Postgres paths
// don't currently need them beyond logging, which callers attach via their
// own tracing span.
func (r *Router) Execute(ctx context.Context, dbType state.DatabaseType, sql, connectionName, userID, requestID string) (*state.ExecutionResult, error) {
	switch dbType {
	case state.DatabaseOracle:
		return r.executeOracle(ctx, sql)
	case state.DatabaseDoris:
		return r.executeDoris(ctx, sql)
	case state.DatabasePostgres:
		return r.executePostgres(ctx, sql)
	default:
		return nil, fmt.Errorf("dbrouter: unknown database type %q", dbType)
	}
}

func (r *Router) executeOracle(ctx context.Context, sql string) (*state.ExecutionResult, error) {
	if r.oraclePool == nil {
		return nil, fmt.Errorf("dbrouter: oracle backend not configured")
	}

	lease, err := r.oraclePool.Acquire(ctx, r.acquireTimeout)
	if err != nil {
		return nil, err
	}

	client, ok := lease.Process().Client.(OracleClient)
	if !ok {
		lease.Release(ctx, true)
		return nil, fmt.Errorf("dbrouter: pooled oracle client does not support SQL execution")
	}

	result, execErr := client.ExecuteSQL(ctx, sql)
	lease.Release(ctx, execErr != nil)
	return result, execErr
}

func (r *Router) executeDoris(ctx context.Context, sql string) (*state.ExecutionResult, error) {
	if r.doris == nil {
		return nil, fmt.Errorf("dbrouter: doris backend not configured")
	}
	return r.doris.ExecuteSQL(ctx, sql)
}

func (r *Router) executePostgres(ctx context.Context, sql string) (*state.ExecutionResult, error) {
	if r.postgres == nil {
		return nil, fmt.Errorf("dbrouter: postgres backend not configured")
	}
	return r.postgres.ExecuteReadOnly(ctx, sql, r.statementTimeout)
}

// NormalizeBackendError is a convenience wrapper so callers constructing a
// dberrors.BackendError from a raw driver error don't need a second import
// at the call site.
func NormalizeBackendError(be *dberrors.BackendError, lookup dberrors.SchemaLookup) *state.NormalizedError {
	return dberrors.Normalize(be, lookup)
}
