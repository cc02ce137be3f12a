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

package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/nlsql-oss/queryorch/state"
)

// PostgresAdapter resolves table metadata from information_schema,
// grounded directly on connectors/postgres/connector.go's pooled *sql.DB +
// lib/pq driver conventions.
type PostgresAdapter struct {
	db *sql.DB
}

// NewPostgresAdapter wraps an already-connected Postgres *sql.DB.
func NewPostgresAdapter(db *sql.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db}
}

func (a *PostgresAdapter) Backend() state.DatabaseType { return state.DatabasePostgres }

const postgresColumnsQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = ANY($1)
ORDER BY table_name, ordinal_position`

func (a *PostgresAdapter) FetchTables(ctx context.Context, tables []string) (*state.SchemaSnapshot, error) {
	if len(tables) == 0 {
		return &state.SchemaSnapshot{Backend: "postgres", Tables: map[string][]state.Column{}}, nil
	}

	rows, err := a.db.QueryContext(ctx, postgresColumnsQuery, pq.Array(tables))
	if err != nil {
		return nil, fmt.Errorf("schema: postgres column query failed: %w", err)
	}
	defer rows.Close()

	return scanPostgresColumns(rows)
}

func (a *PostgresAdapter) FetchAllTables(ctx context.Context) (*state.SchemaSnapshot, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("schema: postgres full catalog query failed: %w", err)
	}
	defer rows.Close()

	return scanPostgresColumns(rows)
}

func scanPostgresColumns(rows *sql.Rows) (*state.SchemaSnapshot, error) {
	snap := &state.SchemaSnapshot{Backend: "postgres", Tables: map[string][]state.Column{}}
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("schema: postgres row scan failed: %w", err)
		}
		snap.Tables[table] = append(snap.Tables[table], state.Column{
			Name:     column,
			Type:     dataType,
			Nullable: nullable == "YES",
		})
	}
	return snap, rows.Err()
}
