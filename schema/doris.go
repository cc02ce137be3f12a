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
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nlsql-oss/queryorch/state"
)

// ToolCaller is the slice of *client.Client this adapter needs — narrowed
// to an interface so tests can substitute a fake bridge instead of
// standing up a real MCP transport.
type ToolCaller interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// DorisAdapter resolves table metadata through the Doris MCP bridge's
// get_table_schema and get_db_table_list tools, rather than a direct SQL
// connection — Doris is only reachable through the MCP proxy in this
// deployment shape.
type DorisAdapter struct {
	mcp ToolCaller
}

// NewDorisAdapter wraps an already-initialized MCP client pointed at the
// Doris bridge.
func NewDorisAdapter(mcpClient ToolCaller) *DorisAdapter {
	return &DorisAdapter{mcp: mcpClient}
}

func (a *DorisAdapter) Backend() state.DatabaseType { return state.DatabaseDoris }

type dorisColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type dorisTableSchema struct {
	Table   string        `json:"table"`
	Columns []dorisColumn `json:"columns"`
}

func (a *DorisAdapter) FetchTables(ctx context.Context, tables []string) (*state.SchemaSnapshot, error) {
	snap := &state.SchemaSnapshot{Backend: "doris", Tables: map[string][]state.Column{}}

	for _, table := range tables {
		result, err := a.mcp.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{
				Name:      "get_table_schema",
				Arguments: map[string]any{"table_name": table},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("schema: doris get_table_schema(%s) failed: %w", table, err)
		}

		schema, err := decodeDorisSchema(result)
		if err != nil {
			return nil, fmt.Errorf("schema: doris get_table_schema(%s) returned unparseable payload: %w", table, err)
		}

		snap.Tables[schema.Table] = toStateColumns(schema.Columns)
	}

	return snap, nil
}

func (a *DorisAdapter) FetchAllTables(ctx context.Context) (*state.SchemaSnapshot, error) {
	listResult, err := a.mcp.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: "get_db_table_list"},
	})
	if err != nil {
		return nil, fmt.Errorf("schema: doris get_db_table_list failed: %w", err)
	}

	var tableNames []string
	if err := decodeToolResult(listResult, &tableNames); err != nil {
		return nil, fmt.Errorf("schema: doris get_db_table_list returned unparseable payload: %w", err)
	}

	return a.FetchTables(ctx, tableNames)
}

func toStateColumns(cols []dorisColumn) []state.Column {
	out := make([]state.Column, len(cols))
	for i, c := range cols {
		out[i] = state.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	return out
}

func decodeDorisSchema(result *mcp.CallToolResult) (*dorisTableSchema, error) {
	var schema dorisTableSchema
	if err := decodeToolResult(result, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// decodeToolResult extracts the first text content block from an MCP tool
// result and unmarshals it as JSON — the Doris bridge returns its schema
// payloads as a single JSON-encoded text block per the MCP text-content
// convention.
func decodeToolResult(result *mcp.CallToolResult, out any) error {
	if result == nil || len(result.Content) == 0 {
		return fmt.Errorf("empty tool result")
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		return fmt.Errorf("tool result is not text content")
	}
	return json.Unmarshal([]byte(text.Text), out)
}
