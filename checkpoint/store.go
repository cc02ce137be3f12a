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

// Package checkpoint persists QueryState after each orchestrator node so a
// driver can resume a query that yielded for approval or recover one that
// crashed mid-pipeline. A Postgres-backed Store is the primary collaborator;
// MemoryStore is the driver's transparent fallback when the primary fails
// repeatedly.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nlsql-oss/queryorch/state"
)

// ErrNotFound is returned when no checkpoint exists for a query_id.
var ErrNotFound = errors.New("checkpoint: not found")

// Repository is the persistence contract a driver checkpoints through,
// narrowed from orchestrator/replay.Repository's snapshot/summary split down
// to the single keyed record the orchestrator actually needs: the latest
// QueryState for a query_id.
type Repository interface {
	SaveState(ctx context.Context, qs *state.QueryState) error
	LoadState(ctx context.Context, queryID string) (*state.QueryState, error)
	DeleteState(ctx context.Context, queryID string) error
	Ping(ctx context.Context) error
}

// Store is a Postgres-backed Repository, grounded on
// orchestrator/replay.PostgresRepository's raw-SQL-over-*sql.DB style.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-connected Postgres *sql.DB. The caller is
// responsible for having run the checkpoint table migration.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const upsertStateQuery = `
INSERT INTO query_checkpoints (query_id, state_json, current_stage, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (query_id) DO UPDATE
SET state_json = EXCLUDED.state_json,
    current_stage = EXCLUDED.current_stage,
    updated_at = EXCLUDED.updated_at`

func (s *Store) SaveState(ctx context.Context, qs *state.QueryState) error {
	payload, err := json.Marshal(qs)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertStateQuery, qs.QueryID, payload, string(qs.CurrentStage), qs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("checkpoint: save state for %s: %w", qs.QueryID, err)
	}
	return nil
}

func (s *Store) LoadState(ctx context.Context, queryID string) (*state.QueryState, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM query_checkpoints WHERE query_id = $1`, queryID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load state for %s: %w", queryID, err)
	}
	var qs state.QueryState
	if err := json.Unmarshal(payload, &qs); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal state for %s: %w", queryID, err)
	}
	return &qs, nil
}

func (s *Store) DeleteState(ctx context.Context, queryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM query_checkpoints WHERE query_id = $1`, queryID)
	if err != nil {
		return fmt.Errorf("checkpoint: delete state for %s: %w", queryID, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
