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
	"fmt"
	"strings"
)

// RiskLevel is the closed set of risk tiers a validated statement can be
// scored into.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

func escalate(current RiskLevel, candidate RiskLevel) RiskLevel {
	if riskRank[candidate] > riskRank[current] {
		return candidate
	}
	return current
}

// ScoreRisk walks parsed statements against cfg's heuristics and returns the
// highest risk level triggered plus any warnings explaining why. The result
// is a pure function of statement content; role never enters into it (the
// bypass happens afterward, in Validate).
func ScoreRisk(parsed []ParsedStatement, cfg Config) (RiskLevel, []string) {
	level := RiskSafe
	var warnings []string

	for _, ps := range parsed {
		for _, fn := range ps.FuncRefs {
			if cfg.DangerousFuncs[fn] {
				level = escalate(level, RiskCritical)
				warnings = append(warnings, fmt.Sprintf("statement calls restricted function %s", fn))
			}
		}

		for _, table := range ps.TableRefs {
			bare := bareIdentifier(table)
			if cfg.SensitiveTables[strings.ToUpper(bare)] {
				level = escalate(level, RiskHigh)
				warnings = append(warnings, fmt.Sprintf("statement references sensitive table %s", bare))
			}
		}

		for _, t := range ps.Tokens {
			if t.Kind != TokenIdentifier {
				continue
			}
			col := bareIdentifier(t.Text)
			if cfg.SensitiveColumns[strings.ToUpper(col)] {
				level = escalate(level, RiskHigh)
				warnings = append(warnings, fmt.Sprintf("statement references sensitive column %s", col))
			}
		}

		if hasUnboundedResultSet(ps) {
			level = escalate(level, RiskMedium)
			warnings = append(warnings, "statement has no LIMIT/FETCH/ROWNUM bound and may return a large result set")
		}

		if ps.LeadKeyword == "SET" {
			level = escalate(level, RiskLow)
		}
	}

	return level, warnings
}

// bareIdentifier strips any leading qualifier, keeping the name after the
// last dot, e.g. "schema.table" -> "table", so a qualified reference still
// matches the sensitive-name tables.
func bareIdentifier(ident string) string {
	if i := strings.LastIndex(ident, "."); i >= 0 {
		return ident[i+1:]
	}
	return ident
}

// hasUnboundedResultSet reports whether a SELECT statement lacks any of the
// row-limiting constructs recognized across dialects.
func hasUnboundedResultSet(ps ParsedStatement) bool {
	if ps.LeadKeyword != "SELECT" && ps.LeadKeyword != "WITH" {
		return false
	}
	for _, t := range ps.Tokens {
		if t.Kind != TokenKeyword {
			continue
		}
		switch t.Upper {
		case "LIMIT", "FETCH", "ROWNUM":
			return false
		}
	}
	return true
}
