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
	"strings"

	"github.com/nlsql-oss/queryorch/state"
)

// OracleAdapter resolves table metadata from ALL_TAB_COLUMNS /
// ALL_CONSTRAINTS, grounded on connectors/postgres/connector.go's
// database/sql usage pattern (a pooled *sql.DB, context-scoped queries),
// generalized to Oracle's data dictionary views via the godror driver.
type OracleAdapter struct {
	db *sql.DB
}

// NewOracleAdapter wraps an already-connected Oracle *sql.DB (opened with
// "godror" by the pool's client factory).
func NewOracleAdapter(db *sql.DB) *OracleAdapter {
	return &OracleAdapter{db: db}
}

func (a *OracleAdapter) Backend() state.DatabaseType { return state.DatabaseOracle }

const oracleColumnsQuery = `
SELECT table_name, column_name, data_type, nullable
FROM ALL_TAB_COLUMNS
WHERE table_name IN (%s)
ORDER BY table_name, column_id`

func (a *OracleAdapter) FetchTables(ctx context.Context, tables []string) (*state.SchemaSnapshot, error) {
	if len(tables) == 0 {
		return &state.SchemaSnapshot{Backend: "oracle", Tables: map[string][]state.Column{}}, nil
	}

	placeholders := make([]string, len(tables))
	args := make([]any, len(tables))
	for i, t := range tables {
		placeholders[i] = fmt.Sprintf(":%d", i+1)
		args[i] = strings.ToUpper(t)
	}
	query := fmt.Sprintf(oracleColumnsQuery, strings.Join(placeholders, ","))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("schema: oracle column query failed: %w", err)
	}
	defer rows.Close()

	return scanOracleColumns(rows)
}

func (a *OracleAdapter) FetchAllTables(ctx context.Context) (*state.SchemaSnapshot, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, nullable
		FROM ALL_TAB_COLUMNS
		ORDER BY table_name, column_id`)
	if err != nil {
		return nil, fmt.Errorf("schema: oracle full catalog query failed: %w", err)
	}
	defer rows.Close()

	return scanOracleColumns(rows)
}

func scanOracleColumns(rows *sql.Rows) (*state.SchemaSnapshot, error) {
	snap := &state.SchemaSnapshot{Backend: "oracle", Tables: map[string][]state.Column{}}
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("schema: oracle row scan failed: %w", err)
		}
		snap.Tables[table] = append(snap.Tables[table], state.Column{
			Name:     column,
			Type:     dataType,
			Nullable: nullable == "Y",
		})
	}
	return snap, rows.Err()
}
