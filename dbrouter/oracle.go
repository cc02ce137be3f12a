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

	"github.com/nlsql-oss/queryorch/pool"
	"github.com/nlsql-oss/queryorch/state"
)

// OracleProcessClient is the long-lived pooled Oracle session C4's pool.Pool
// holds one of per slot. Each process owns its own *sql.DB handle (opened
// with the godror driver by the factory), so Connect/Close manage that
// handle's lifetime rather than a per-query connection.
type OracleProcessClient struct {
	dsn string
	db  *sql.DB
}

// NewOracleProcessClientFactory returns a pool.ClientFactory that opens one
// godror connection per pooled process id.
func NewOracleProcessClientFactory(dsn string) pool.ClientFactory {
	return func(id string) pool.Client {
		return &OracleProcessClient{dsn: dsn}
	}
}

func (c *OracleProcessClient) Connect(ctx context.Context) error {
	db, err := sql.Open("godror", c.dsn)
	if err != nil {
		return fmt.Errorf("dbrouter: oracle connect: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("dbrouter: oracle ping: %w", err)
	}
	c.db = db
	return nil
}

func (c *OracleProcessClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *OracleProcessClient) Healthy(ctx context.Context) bool {
	if c.db == nil {
		return false
	}
	return c.db.PingContext(ctx) == nil
}

func (c *OracleProcessClient) ExecuteSQL(ctx context.Context, query string) (*state.ExecutionResult, error) {
	if c.db == nil {
		return nil, fmt.Errorf("dbrouter: oracle client not connected")
	}

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dbrouter: oracle query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dbrouter: oracle columns failed: %w", err)
	}

	var resultRows [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dbrouter: oracle row scan failed: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbrouter: oracle row iteration failed: %w", err)
	}

	return &state.ExecutionResult{
		Columns:         columns,
		Rows:            resultRows,
		RowCount:        len(resultRows),
		ExecutionTimeMS: float64(time.Since(start).Milliseconds()),
	}, nil
}
