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
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToolCaller struct {
	result *mcp.CallToolResult
	err    error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return f.result, f.err
}

func textResult(payload string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: payload}}}
}

func TestDorisMCPClient_ExecuteSQL_DeclaredColumns(t *testing.T) {
	caller := &fakeToolCaller{result: textResult(`{
		"data": [{"id": 1, "name": "alice"}],
		"metadata": {"columns": ["id", "name"]},
		"execution_time_ms": 12.5
	}`)}
	c := NewDorisMCPClient(caller)

	result, err := c.ExecuteSQL(context.Background(), "SELECT id, name FROM users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, result.Columns)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, 12.5, result.ExecutionTimeMS)
	assert.Equal(t, []any{float64(1), "alice"}, result.Rows[0])
}

func TestDorisMCPClient_ExecuteSQL_FallbackColumns(t *testing.T) {
	caller := &fakeToolCaller{result: textResult(`{
		"data": [{"count": 42}]
	}`)}
	c := NewDorisMCPClient(caller)

	result, err := c.ExecuteSQL(context.Background(), "SELECT COUNT(*) FROM users")
	require.NoError(t, err)
	require.Len(t, result.Columns, 1)
	assert.Equal(t, "count", result.Columns[0])
	assert.Equal(t, 1, result.RowCount)
}

func TestDorisMCPClient_ExecuteSQL_EmptyContentErrors(t *testing.T) {
	caller := &fakeToolCaller{result: &mcp.CallToolResult{}}
	c := NewDorisMCPClient(caller)

	_, err := c.ExecuteSQL(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestDorisMCPClient_ExecuteSQL_ToolError(t *testing.T) {
	caller := &fakeToolCaller{err: assert.AnError}
	c := NewDorisMCPClient(caller)

	_, err := c.ExecuteSQL(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestNormalizeDorisColumns_PrefersDeclared(t *testing.T) {
	cols := normalizeDorisColumns([]string{"a", "b"}, []map[string]any{{"c": 1}})
	assert.Equal(t, []string{"a", "b"}, cols)
}

func TestFallbackColumnName(t *testing.T) {
	assert.Equal(t, "id", fallbackColumnName("id", 0))
	assert.Equal(t, "col_2", fallbackColumnName("", 2))
}
