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
	"testing"
	"time"

	"github.com/nlsql-oss/queryorch/state"
	"github.com/nlsql-oss/queryorch/wrapper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTableNames_FindsFromJoinIn(t *testing.T) {
	names := ExtractTableNames("show me orders from CUSTOMERS join regions in ORDERS_HISTORY")
	assert.Contains(t, names, "CUSTOMERS")
	assert.Contains(t, names, "regions")
	assert.Contains(t, names, "ORDERS_HISTORY")
}

func TestExtractTableNames_FiltersStopwords(t *testing.T) {
	names := ExtractTableNames("SELECT FROM WHERE")
	assert.NotContains(t, names, "SELECT")
	assert.NotContains(t, names, "WHERE")
}

func TestExtractTableNames_EmptyWhenNoMatch(t *testing.T) {
	names := ExtractTableNames("hello world")
	assert.Empty(t, names)
}

type fakeAdapter struct {
	backend     state.DatabaseType
	fetchCalls  int
	fullCalls   int
	fetchResult *state.SchemaSnapshot
}

func (f *fakeAdapter) Backend() state.DatabaseType { return f.backend }

func (f *fakeAdapter) FetchTables(ctx context.Context, tables []string) (*state.SchemaSnapshot, error) {
	f.fetchCalls++
	return f.fetchResult, nil
}

func (f *fakeAdapter) FetchAllTables(ctx context.Context) (*state.SchemaSnapshot, error) {
	f.fullCalls++
	return f.fetchResult, nil
}

func TestResolve_UsesFullCatalogWhenNoTablesExtracted(t *testing.T) {
	adapter := &fakeAdapter{
		backend:     state.DatabasePostgres,
		fetchResult: &state.SchemaSnapshot{Backend: "postgres", Tables: map[string][]state.Column{}},
	}
	r := New([]Adapter{adapter}, nil)

	_, err := r.Resolve(context.Background(), state.DatabasePostgres, "hello world", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.fullCalls)
	assert.Equal(t, 0, adapter.fetchCalls)
}

func TestResolve_UsesExtractedTableNames(t *testing.T) {
	adapter := &fakeAdapter{
		backend:     state.DatabaseOracle,
		fetchResult: &state.SchemaSnapshot{Backend: "oracle", Tables: map[string][]state.Column{}},
	}
	r := New([]Adapter{adapter}, nil)

	_, err := r.Resolve(context.Background(), state.DatabaseOracle, "rows from ORDERS", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.fetchCalls)
}

func TestResolve_CachesSecondLookup(t *testing.T) {
	adapter := &fakeAdapter{
		backend:     state.DatabaseOracle,
		fetchResult: &state.SchemaSnapshot{Backend: "oracle", Tables: map[string][]state.Column{"ORDERS": {{Name: "id"}}}},
	}
	cache := wrapper.NewFallbackCache(10, time.Minute)
	r := New([]Adapter{adapter}, cache)

	_, err := r.Resolve(context.Background(), state.DatabaseOracle, "rows from ORDERS", nil)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), state.DatabaseOracle, "rows from ORDERS", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.fetchCalls)
}

func TestResolve_UnknownBackendErrors(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Resolve(context.Background(), state.DatabaseDoris, "anything", nil)
	assert.Error(t, err)
}
