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

package sqlvalidate

import (
	"testing"

	"github.com/nlsql-oss/queryorch/state"
	"github.com/stretchr/testify/assert"
)

func TestConvertDialect_SameDialectIsNoop(t *testing.T) {
	sql := "SELECT * FROM orders FETCH FIRST 10 ROWS ONLY"
	assert.Equal(t, sql, ConvertDialect(sql, state.DatabaseOracle, state.DatabaseOracle))
}

func TestConvertDialect_OraclePaginationToDorisLimit(t *testing.T) {
	out := ConvertDialect("SELECT * FROM orders FETCH FIRST 10 ROWS ONLY", state.DatabaseOracle, state.DatabaseDoris)
	assert.Contains(t, out, "LIMIT 10")
}

func TestConvertDialect_DorisLimitToOraclePagination(t *testing.T) {
	out := ConvertDialect("SELECT * FROM orders LIMIT 10", state.DatabaseDoris, state.DatabaseOracle)
	assert.Contains(t, out, "FETCH FIRST 10 ROWS ONLY")
}

func TestConvertDialect_NvlIfnullRoundTrip(t *testing.T) {
	toDoris := ConvertDialect("SELECT NVL(a, 0) FROM dual", state.DatabaseOracle, state.DatabaseDoris)
	assert.Contains(t, toDoris, "IFNULL(")

	backToOracle := ConvertDialect(toDoris, state.DatabaseDoris, state.DatabaseOracle)
	assert.Contains(t, backToOracle, "NVL(")
}

func TestConvertDialect_IsIdempotent(t *testing.T) {
	sql := "SELECT * FROM orders LIMIT 10"
	once := ConvertDialect(sql, state.DatabaseDoris, state.DatabaseOracle)
	twice := ConvertDialect(once, state.DatabaseDoris, state.DatabaseOracle)
	assert.Equal(t, once, twice)
}

func TestHasConcatOperator(t *testing.T) {
	assert.True(t, HasConcatOperator("SELECT a || b FROM t"))
	assert.False(t, HasConcatOperator("SELECT a FROM t"))
}
