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

	"github.com/nlsql-oss/queryorch/state"
)

// forbiddenStatementKeywords are the leading keywords of statement types
// the validator must reject outright.
var forbiddenStatementKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"CREATE":   true,
	"ALTER":    true,
	"TRUNCATE": true,
	"GRANT":    true,
	"REVOKE":   true,
	"MERGE":    true,
	"CALL":     true,
	"EXEC":     true,
	"EXECUTE":  true,
}

// allowedLeadingKeywords are the statement types accepted as read-only,
// beyond SELECT: SET, and a narrow whitelist of inspection commands.
var allowedLeadingKeywords = map[string]bool{
	"SELECT":   true,
	"SET":      true,
	"SHOW":     true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
	"WITH":     true,
}

// Config bundles the policy knobs the validator needs: sensitive
// tables/columns, dangerous function blacklist, and row-cap defaults.
type Config struct {
	SensitiveTables  map[string]bool
	SensitiveColumns map[string]bool
	DangerousFuncs   map[string]bool
	DefaultRowCap    int
}

// DefaultConfig provides a conservative starting policy.
func DefaultConfig() Config {
	return Config{
		SensitiveTables:  map[string]bool{"SALARIES": true, "SSN": true, "PAYROLL": true, "CREDIT_CARDS": true},
		SensitiveColumns: map[string]bool{"SSN": true, "PASSWORD": true, "PASSWORD_HASH": true, "CREDIT_CARD_NUMBER": true},
		DangerousFuncs:   map[string]bool{"DBMS_LOB": true, "UTL_HTTP": true, "UTL_FILE": true, "XP_CMDSHELL": true},
		DefaultRowCap:    10000,
	}
}

// ParsedStatement is the classification result for one statement.
type ParsedStatement struct {
	Tokens      []Token
	LeadKeyword string
	HasInto     bool
	TableRefs   []string
	FuncRefs    []string
}

// parseStatement walks tok and extracts the leading keyword, any SELECT
// ... INTO usage, referenced table names (tokens following FROM/JOIN), and
// function-call identifiers (an identifier immediately followed by "(").
func parseStatement(tok []Token) ParsedStatement {
	ps := ParsedStatement{Tokens: tok}
	if len(tok) == 0 {
		return ps
	}
	ps.LeadKeyword = tok[0].Upper

	for i, t := range tok {
		if t.Kind == TokenKeyword && t.Upper == "INTO" {
			ps.HasInto = true
		}
		if t.Kind == TokenKeyword && (t.Upper == "FROM" || t.Upper == "JOIN") {
			if i+1 < len(tok) && tok[i+1].Kind == TokenIdentifier {
				ps.TableRefs = append(ps.TableRefs, tok[i+1].Text)
			}
		}
		if t.Kind == TokenIdentifier && i+1 < len(tok) && tok[i+1].Kind == TokenPunctuation && tok[i+1].Text == "(" {
			ps.FuncRefs = append(ps.FuncRefs, t.Upper)
		}
	}
	return ps
}

// ValidateReadOnly parses sql and enforces the read-only whitelist. Failure
// to parse (empty statement) is a rejection. Returns the parsed statements
// on success for reuse by risk scoring.
func ValidateReadOnly(sql string) ([]ParsedStatement, []string) {
	var errs []string

	tokens := Tokenize(sql)
	stmts := SplitStatements(tokens)

	if len(stmts) == 0 {
		return nil, []string{"SYNTAX: empty or unparseable statement"}
	}
	if len(stmts) > 1 {
		errs = append(errs, "SYNTAX: stacked statements are not permitted")
	}

	parsed := make([]ParsedStatement, 0, len(stmts))
	for _, s := range stmts {
		ps := parseStatement(s)
		parsed = append(parsed, ps)

		if forbiddenStatementKeywords[ps.LeadKeyword] {
			errs = append(errs, fmt.Sprintf("SYNTAX: statement type %s is not permitted", ps.LeadKeyword))
			continue
		}
		if !allowedLeadingKeywords[ps.LeadKeyword] {
			errs = append(errs, fmt.Sprintf("SYNTAX: unrecognized statement type %q", ps.LeadKeyword))
			continue
		}
		if ps.LeadKeyword == "SELECT" && ps.HasInto {
			errs = append(errs, "SYNTAX: SELECT ... INTO is not permitted")
		}
	}

	return parsed, errs
}

// Validate runs the full C6 pipeline: read-only enforcement, then risk
// scoring, then the role-based approval bypass.
func Validate(sql string, role state.Role, roleCfg RoleRiskPolicy, cfg Config) *state.ValidationResult {
	parsed, errs := ValidateReadOnly(sql)
	if len(errs) > 0 {
		return &state.ValidationResult{
			RiskLevel:        "critical",
			RequiresApproval: true,
			Errors:           errs,
		}
	}

	risk, warnings := ScoreRisk(parsed, cfg)
	requiresApproval := riskRequiresApproval(risk)

	// Role-based bypass per the canonical (second) definition: compute
	// risk_level from content heuristics first, then clear
	// requires_approval if the role's allowed risks cover it. The risk
	// level itself is never altered by the role.
	if roleCfg.AllowedRisks[risk] {
		requiresApproval = false
	}

	return &state.ValidationResult{
		RiskLevel:        string(risk),
		RequiresApproval: requiresApproval,
		Warnings:         warnings,
	}
}

func riskRequiresApproval(level RiskLevel) bool {
	switch level {
	case RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// RoleRiskPolicy names the risk levels a role is allowed to bypass approval
// for.
type RoleRiskPolicy struct {
	AllowedRisks map[RiskLevel]bool
}
