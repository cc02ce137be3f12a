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

package orchestrator

import (
	"strings"

	"github.com/nlsql-oss/queryorch/state"
)

// complexityThresholds bound the token-count buckets the fallback
// classifier uses when no LLM JSON is available.
const (
	simpleTokenCeiling = 8
	mediumTokenCeiling = 20
)

var complexityKeywords = map[string]string{
	"group by":  "complex",
	"having":    "complex",
	"window":    "complex",
	"partition": "complex",
	"union":     "complex",
	"subquery":  "complex",
	"nested":    "complex",
	"join":      "medium",
	"compare":   "medium",
	"trend":     "medium",
	"versus":    "medium",
}

var domainKeywords = map[string][]string{
	"finance":   {"revenue", "cost", "invoice", "payment", "budget", "price"},
	"orders":    {"order", "shipment", "fulfillment", "cart", "checkout"},
	"customers": {"customer", "account", "user", "subscriber", "client"},
	"inventory": {"stock", "warehouse", "sku", "inventory", "supplier"},
	"hr":        {"employee", "payroll", "salary", "headcount", "hire"},
}

var aggregationKeywords = map[string]string{
	"count":   "COUNT",
	"total":   "SUM",
	"sum":     "SUM",
	"average": "AVG",
	"avg":     "AVG",
	"mean":    "AVG",
	"max":     "MAX",
	"highest": "MAX",
	"min":     "MIN",
	"lowest":  "MIN",
}

var temporalKeywords = []string{
	"today", "yesterday", "last week", "last month", "last year",
	"this month", "this quarter", "this year", "ytd", "since", "between",
	"quarter", "daily", "weekly", "monthly", "annual",
}

// fallbackTaxonomy derives an Intent from keyword patterns when the LLM
// gateway call fails or its JSON output fails to parse, per §4.10's taxonomy
// fallback. Source is always tagged "fallback" so observability can tell
// it apart from the LLM-produced classification.
func fallbackTaxonomy(userQuery string) *state.Intent {
	lower := strings.ToLower(userQuery)
	tokens := strings.Fields(lower)

	intent := &state.Intent{
		QueryType:  "read",
		Complexity: complexityFromTokens(lower, len(tokens)),
		Domain:     detectDomain(lower),
		Temporal:   containsAny(lower, temporalKeywords),
		Source:     "fallback",
	}

	for phrase, agg := range aggregationKeywords {
		if strings.Contains(lower, phrase) {
			intent.Aggregations = appendUnique(intent.Aggregations, agg)
		}
	}
	if len(intent.Aggregations) > 0 {
		intent.ExpectedCardinality = "single_row"
	} else {
		intent.ExpectedCardinality = "multi_row"
	}

	intent.JoinsCount = strings.Count(lower, " join ") + strings.Count(lower, " and ")
	if strings.Contains(lower, "compare") || strings.Contains(lower, "versus") || strings.Contains(lower, " vs ") {
		intent.JoinsCount++
	}

	return intent
}

func complexityFromTokens(lower string, tokenCount int) string {
	for phrase, level := range complexityKeywords {
		if strings.Contains(lower, phrase) {
			return level
		}
	}
	switch {
	case tokenCount <= simpleTokenCeiling:
		return "simple"
	case tokenCount <= mediumTokenCeiling:
		return "medium"
	default:
		return "complex"
	}
}

func detectDomain(lower string) string {
	for _, domain := range []string{"finance", "orders", "customers", "inventory", "hr"} {
		if containsAny(lower, domainKeywords[domain]) {
			return domain
		}
	}
	return "general"
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func appendUnique(slice []string, v string) []string {
	for _, existing := range slice {
		if existing == v {
			return slice
		}
	}
	return append(slice, v)
}
