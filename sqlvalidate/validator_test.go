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

func TestValidateReadOnly_AcceptsSelect(t *testing.T) {
	_, errs := ValidateReadOnly("SELECT id FROM orders WHERE status = 'open'")
	assert.Empty(t, errs)
}

func TestValidateReadOnly_AcceptsWithCTE(t *testing.T) {
	_, errs := ValidateReadOnly("WITH recent AS (SELECT id FROM orders) SELECT * FROM recent")
	assert.Empty(t, errs)
}

func TestValidateReadOnly_RejectsInsert(t *testing.T) {
	_, errs := ValidateReadOnly("INSERT INTO orders (id) VALUES (1)")
	assert.NotEmpty(t, errs)
}

func TestValidateReadOnly_RejectsDrop(t *testing.T) {
	_, errs := ValidateReadOnly("DROP TABLE orders")
	assert.NotEmpty(t, errs)
}

func TestValidateReadOnly_RejectsSelectInto(t *testing.T) {
	_, errs := ValidateReadOnly("SELECT id INTO :out FROM orders")
	assert.NotEmpty(t, errs)
}

func TestValidateReadOnly_RejectsStackedStatements(t *testing.T) {
	_, errs := ValidateReadOnly("SELECT 1; DROP TABLE orders;")
	assert.NotEmpty(t, errs)
}

func TestValidateReadOnly_RejectsEmptyStatement(t *testing.T) {
	_, errs := ValidateReadOnly("   ")
	assert.NotEmpty(t, errs)
}

func TestValidateReadOnly_AcceptsShowExplainDescribe(t *testing.T) {
	for _, sql := range []string{"SHOW TABLES", "EXPLAIN SELECT 1", "DESCRIBE orders"} {
		_, errs := ValidateReadOnly(sql)
		assert.Empty(t, errs, sql)
	}
}

func TestValidate_RoleBypassClearsApprovalNotRiskLevel(t *testing.T) {
	cfg := DefaultConfig()
	sql := "SELECT * FROM payroll"
	policy := RoleRiskPolicy{AllowedRisks: map[RiskLevel]bool{RiskHigh: true}}

	result := Validate(sql, state.RoleAdmin, policy, cfg)
	assert.Equal(t, "high", result.RiskLevel)
	assert.False(t, result.RequiresApproval)
}

func TestValidate_NoBypassRequiresApproval(t *testing.T) {
	cfg := DefaultConfig()
	sql := "SELECT * FROM payroll"
	policy := RoleRiskPolicy{AllowedRisks: map[RiskLevel]bool{}}

	result := Validate(sql, state.RoleViewer, policy, cfg)
	assert.Equal(t, "high", result.RiskLevel)
	assert.True(t, result.RequiresApproval)
}

func TestValidate_SyntaxErrorsAreCriticalAndNotBypassable(t *testing.T) {
	cfg := DefaultConfig()
	policy := RoleRiskPolicy{AllowedRisks: map[RiskLevel]bool{RiskCritical: true}}

	result := Validate("DROP TABLE orders", state.RoleAdmin, policy, cfg)
	assert.Equal(t, "critical", result.RiskLevel)
	assert.True(t, result.RequiresApproval)
}
