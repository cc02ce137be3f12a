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
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nlsql-oss/queryorch/schema"
	"github.com/nlsql-oss/queryorch/state"
)

// DorisMCPClient executes SQL through the Doris MCP bridge's query tool,
// reusing schema.ToolCaller rather than defining a second narrow MCP
// interface for the same transport.
type DorisMCPClient struct {
	mcp schema.ToolCaller
}

// NewDorisMCPClient wraps an already-initialized MCP client pointed at the
// Doris bridge.
func NewDorisMCPClient(mcpClient schema.ToolCaller) *DorisMCPClient {
	return &DorisMCPClient{mcp: mcpClient}
}

type dorisQueryPayload struct {
	Data     []map[string]any `json:"data"`
	Metadata struct {
		Columns []string `json:"columns"`
	} `json:"metadata"`
	ExecutionTimeMS float64 `json:"execution_time_ms"`
}

func (c *DorisMCPClient) ExecuteSQL(ctx context.Context, sql string) (*state.ExecutionResult, error) {
	start := time.Now()

	result, err := c.mcp.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "execute_sql",
			Arguments: map[string]any{"sql": sql},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dbrouter: doris execute_sql failed: %w", err)
	}

	if len(result.Content) == 0 {
		return nil, fmt.Errorf("dbrouter: doris execute_sql returned empty result")
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		return nil, fmt.Errorf("dbrouter: doris execute_sql result is not text content")
	}

	var payload dorisQueryPayload
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		return nil, fmt.Errorf("dbrouter: doris execute_sql returned unparseable payload: %w", err)
	}

	columns := normalizeDorisColumns(payload.Metadata.Columns, payload.Data)
	rows := make([][]any, len(payload.Data))
	for i, record := range payload.Data {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = record[col]
		}
		rows[i] = row
	}

	elapsed := payload.ExecutionTimeMS
	if elapsed == 0 {
		elapsed = float64(time.Since(start).Milliseconds())
	}

	return &state.ExecutionResult{
		Columns:         columns,
		Rows:            rows,
		RowCount:        len(rows),
		ExecutionTimeMS: elapsed,
	}, nil
}

// normalizeDorisColumns guarantees columns is always a list of strings per
// §4.15: if the bridge didn't report metadata.columns, the names are the
// first data record's keys in sorted order (an empty key becomes col_<index>).
func normalizeDorisColumns(declared []string, data []map[string]any) []string {
	if len(declared) > 0 {
		return declared
	}
	if len(data) == 0 {
		return []string{}
	}
	names := make([]string, 0, len(data[0]))
	for k := range data[0] {
		names = append(names, k)
	}
	if len(names) == 0 {
		return []string{}
	}
	// Deterministic fallback ordering when no declared schema exists.
	sort.Strings(names)
	for i := range names {
		names[i] = fallbackColumnName(names[i], i)
	}
	return names
}

func fallbackColumnName(key string, idx int) string {
	if key != "" {
		return key
	}
	return "col_" + strconv.Itoa(idx)
}
