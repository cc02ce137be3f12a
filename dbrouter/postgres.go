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

package dbrouter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nlsql-oss/queryorch/state"
)

// PostgresClient wraps a *sql.DB to satisfy PostgresExecutor, grounded on
// connectors/postgres/connector.go's Query method — generalized from
// scanning into a []map[string]interface{} row shape to the router's
// columns/[][]any envelope, and adding the read-only transaction +
// statement timeout §4.15 requires for this path specifically.
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient wraps an already-connected Postgres *sql.DB.
func NewPostgresClient(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

func (c *PostgresClient) ExecuteReadOnly(ctx context.Context, query string, statementTimeout time.Duration) (*state.ExecutionResult, error) {
	start := time.Now()

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("dbrouter: postgres begin read-only tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", statementTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("dbrouter: postgres set statement_timeout: %w", err)
	}

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dbrouter: postgres query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dbrouter: postgres columns failed: %w", err)
	}

	var resultRows [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dbrouter: postgres row scan failed: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbrouter: postgres row iteration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dbrouter: postgres commit read-only tx: %w", err)
	}

	return &state.ExecutionResult{
		Columns:         columns,
		Rows:            resultRows,
		RowCount:        len(resultRows),
		ExecutionTimeMS: float64(time.Since(start).Milliseconds()),
	}, nil
}
