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

// Package dberrors normalizes backend-specific error payloads into the
// canonical taxonomy (C5). Per the Design Note on "classification by
// substring": callers pass a typed BackendError, not a raw exception
// string, so mapping to a category is deterministic.
package dberrors

import (
	"fmt"

	"github.com/nlsql-oss/queryorch/state"
)

// Category is the closed set of canonical error categories.
type Category string

const (
	CategoryConnection          Category = "CONNECTION_ERROR"
	CategoryNetwork             Category = "NETWORK_ERROR"
	CategoryTimeout             Category = "TIMEOUT"
	CategoryPermission          Category = "PERMISSION"
	CategorySyntax              Category = "SYNTAX"
	CategoryInvalidIdentifier   Category = "INVALID_IDENTIFIER"
	CategoryInvalidTable        Category = "INVALID_TABLE"
	CategoryDataTypeMismatch    Category = "DATA_TYPE_MISMATCH"
	CategoryConstraintViolation Category = "CONSTRAINT_VIOLATION"
	CategoryResourceExhausted   Category = "RESOURCE_EXHAUSTED"
	CategoryQuotaExceeded       Category = "QUOTA_EXCEEDED"
	CategoryUnknown             Category = "UNKNOWN"
)

var transientCategories = map[Category]bool{
	CategoryConnection:        true,
	CategoryNetwork:           true,
	CategoryTimeout:           true,
	CategoryResourceExhausted: true,
}

// IsTransient reports whether retries are appropriate for this category.
func (c Category) IsTransient() bool {
	return transientCategories[c]
}

// BackendError is the typed backend error Normalize classifies —
// Backend/Code/Message are used to determine the category; no
// string-matching against a generic error happens here. The dbrouter
// clients do not construct it: they return fmt.Errorf-wrapped driver errors.
type BackendError struct {
	Backend    string // "oracle" | "doris" | "postgres"
	Code       string // vendor error code, e.g. ORA-00942, 42P01
	Message    string
	IdentifierName string // populated for identifier/table errors
	Cause      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s[%s]: %s", e.Backend, e.Code, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// oracleCodes maps known ORA-%d prefixes to a category.
var oracleCodes = map[string]Category{
	"ORA-12154": CategoryConnection,
	"ORA-12541": CategoryConnection,
	"ORA-03113": CategoryNetwork,
	"ORA-03135": CategoryNetwork,
	"ORA-01013": CategoryTimeout,
	"ORA-00942": CategoryInvalidTable,
	"ORA-00904": CategoryInvalidIdentifier,
	"ORA-00936": CategorySyntax,
	"ORA-00933": CategorySyntax,
	"ORA-01031": CategoryPermission,
	"ORA-00920": CategorySyntax,
	"ORA-01722": CategoryDataTypeMismatch,
	"ORA-02291": CategoryConstraintViolation,
	"ORA-02292": CategoryConstraintViolation,
	"ORA-00001": CategoryConstraintViolation,
	"ORA-04031": CategoryResourceExhausted,
	"ORA-01652": CategoryResourceExhausted,
}

// postgresCodes maps known SQLSTATE codes to a category.
var postgresCodes = map[string]Category{
	"08000": CategoryConnection,
	"08006": CategoryConnection,
	"08001": CategoryConnection,
	"57014": CategoryTimeout,
	"42P01": CategoryInvalidTable,
	"42703": CategoryInvalidIdentifier,
	"42601": CategorySyntax,
	"42501": CategoryPermission,
	"22P02": CategoryDataTypeMismatch,
	"23505": CategoryConstraintViolation,
	"23503": CategoryConstraintViolation,
	"23502": CategoryConstraintViolation,
	"53200": CategoryResourceExhausted,
	"53300": CategoryResourceExhausted,
}

// dorisCodes maps the MCP bridge's reported Doris error codes.
var dorisCodes = map[string]Category{
	"CONNECTION_REFUSED": CategoryConnection,
	"NETWORK_TIMEOUT":    CategoryNetwork,
	"QUERY_TIMEOUT":      CategoryTimeout,
	"TABLE_NOT_FOUND":    CategoryInvalidTable,
	"UNKNOWN_COLUMN":     CategoryInvalidIdentifier,
	"SQL_SYNTAX_ERROR":   CategorySyntax,
	"ACCESS_DENIED":      CategoryPermission,
	"TYPE_MISMATCH":      CategoryDataTypeMismatch,
	"DUPLICATE_KEY":      CategoryConstraintViolation,
	"RESOURCE_LIMIT":     CategoryResourceExhausted,
}

func categoryFor(be *BackendError) Category {
	var table map[string]Category
	switch be.Backend {
	case "oracle":
		table = oracleCodes
	case "postgres":
		table = postgresCodes
	case "doris":
		table = dorisCodes
	}
	if table != nil {
		if cat, ok := table[be.Code]; ok {
			return cat
		}
	}
	return CategoryUnknown
}

var userMessages = map[Category]string{
	CategoryConnection:          "Could not connect to the database. Please try again shortly.",
	CategoryNetwork:             "A network issue interrupted the request. Please try again.",
	CategoryTimeout:             "The query took too long to run and was cancelled.",
	CategoryPermission:          "You do not have permission to access this data.",
	CategorySyntax:              "The generated query was invalid.",
	CategoryInvalidIdentifier:   "The query referenced a column that does not exist.",
	CategoryInvalidTable:        "The query referenced a table that does not exist.",
	CategoryDataTypeMismatch:    "The query compared incompatible data types.",
	CategoryConstraintViolation: "The operation violated a database constraint.",
	CategoryResourceExhausted:   "The database is under heavy load. Please try again shortly.",
	CategoryQuotaExceeded:       "You have exceeded your usage quota.",
	CategoryUnknown:             "An unexpected database error occurred.",
}

// SchemaLookup resolves a known table's column names, used to enrich
// INVALID_IDENTIFIER errors with an available-columns hint.
type SchemaLookup func(table string) ([]string, bool)

// Normalize converts a BackendError into the canonical NormalizedError
// shape. lookup may be nil; when provided and the category is
// INVALID_IDENTIFIER on a known table, metadata.available_columns is
// populated.
func Normalize(be *BackendError, lookup SchemaLookup) *state.NormalizedError {
	category := categoryFor(be)

	ne := &state.NormalizedError{
		Category:    string(category),
		ErrorCode:   be.Code,
		Message:     be.Error(),
		UserMessage: userMessages[category],
		ShouldRetry: category.IsTransient(),
		IsTransient: category.IsTransient(),
		Metadata:    map[string]any{"backend": be.Backend},
	}

	if category == CategoryInvalidIdentifier && be.IdentifierName != "" && lookup != nil {
		if cols, ok := lookup(be.IdentifierName); ok {
			ne.Metadata["available_columns"] = cols
		}
	}

	return ne
}
