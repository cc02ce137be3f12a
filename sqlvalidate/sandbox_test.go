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

func TestSandbox_WrapsUnboundedOracleQuery(t *testing.T) {
	out, err := Sandbox("SELECT * FROM orders", state.DatabaseOracle, 100)
	assert.NoError(t, err)
	assert.Contains(t, out, "ROWNUM <= 100")
}

func TestSandbox_WrapsUnboundedPostgresQuery(t *testing.T) {
	out, err := Sandbox("SELECT * FROM orders", state.DatabasePostgres, 100)
	assert.NoError(t, err)
	assert.Contains(t, out, "LIMIT 100")
}

func TestSandbox_DoesNotTightenExistingSmallerCap(t *testing.T) {
	out, err := Sandbox("SELECT * FROM orders LIMIT 10", state.DatabaseDoris, 100)
	assert.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders LIMIT 10", out)
}

func TestSandbox_WrapsWhenExistingCapExceedsMax(t *testing.T) {
	out, err := Sandbox("SELECT * FROM orders LIMIT 5000", state.DatabaseDoris, 100)
	assert.NoError(t, err)
	assert.Contains(t, out, "LIMIT 100")
}

func TestSandbox_IsIdempotent(t *testing.T) {
	once, err := Sandbox("SELECT * FROM orders", state.DatabaseOracle, 100)
	assert.NoError(t, err)

	twice, err := Sandbox(once, state.DatabaseOracle, 100)
	assert.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestSandbox_RejectsStackedStatements(t *testing.T) {
	_, err := Sandbox("SELECT 1; SELECT 2;", state.DatabaseOracle, 100)
	assert.Error(t, err)
}

func TestSandbox_RejectsNonSelect(t *testing.T) {
	_, err := Sandbox("SHOW TABLES", state.DatabaseOracle, 100)
	assert.Error(t, err)
}
