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

package dberrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_TransientCategoriesRetry(t *testing.T) {
	be := &BackendError{Backend: "oracle", Code: "ORA-12154", Message: "TNS could not resolve"}
	ne := Normalize(be, nil)
	assert.Equal(t, "CONNECTION_ERROR", ne.Category)
	assert.True(t, ne.ShouldRetry)
	assert.True(t, ne.IsTransient)
}

func TestNormalize_PermanentCategoriesDoNotRetry(t *testing.T) {
	be := &BackendError{Backend: "postgres", Code: "42P01", Message: "relation does not exist"}
	ne := Normalize(be, nil)
	assert.Equal(t, "INVALID_TABLE", ne.Category)
	assert.False(t, ne.ShouldRetry)
	assert.False(t, ne.IsTransient)
}

func TestNormalize_UnknownCodeFallsBackToUnknown(t *testing.T) {
	be := &BackendError{Backend: "doris", Code: "SOME_WEIRD_CODE", Message: "mystery"}
	ne := Normalize(be, nil)
	assert.Equal(t, "UNKNOWN", ne.Category)
}

func TestNormalize_EnrichesInvalidIdentifierWithColumns(t *testing.T) {
	be := &BackendError{Backend: "postgres", Code: "42703", Message: "column does not exist", IdentifierName: "customers"}
	lookup := func(table string) ([]string, bool) {
		if table == "customers" {
			return []string{"id", "name", "region"}, true
		}
		return nil, false
	}
	ne := Normalize(be, lookup)
	assert.Equal(t, "INVALID_IDENTIFIER", ne.Category)
	assert.Equal(t, []string{"id", "name", "region"}, ne.Metadata["available_columns"])
}

func TestNormalize_IsDeterministic(t *testing.T) {
	be := &BackendError{Backend: "oracle", Code: "ORA-00942", Message: "table or view does not exist"}
	a := Normalize(be, nil)
	b := Normalize(be, nil)
	assert.Equal(t, a.Category, b.Category)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, a.ShouldRetry, b.ShouldRetry)
}

func TestCategory_TransientPermanentPartition(t *testing.T) {
	transient := []Category{CategoryConnection, CategoryNetwork, CategoryTimeout, CategoryResourceExhausted}
	permanent := []Category{CategorySyntax, CategoryInvalidIdentifier, CategoryInvalidTable, CategoryDataTypeMismatch, CategoryPermission, CategoryConstraintViolation, CategoryQuotaExceeded}

	for _, c := range transient {
		assert.True(t, c.IsTransient(), "%s should be transient", c)
	}
	for _, c := range permanent {
		assert.False(t, c.IsTransient(), "%s should not be transient", c)
	}
}
