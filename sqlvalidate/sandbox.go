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
	"strconv"

	"github.com/nlsql-oss/queryorch/state"
)

// existingRowCap inspects parsed for a LIMIT/FETCH FIRST/ROWNUM <= bound
// already present in the statement, returning the smallest one found (0
// means no cap present).
func existingRowCap(ps ParsedStatement) int {
	rowCap := 0
	tok := ps.Tokens
	for i, t := range tok {
		if t.Kind != TokenKeyword {
			continue
		}
		switch t.Upper {
		case "LIMIT":
			if i+1 < len(tok) && tok[i+1].Kind == TokenNumber {
				if n, err := strconv.Atoi(tok[i+1].Text); err == nil {
					rowCap = minPositive(rowCap, n)
				}
			}
		case "FIRST":
			if i+1 < len(tok) && tok[i+1].Kind == TokenNumber {
				if n, err := strconv.Atoi(tok[i+1].Text); err == nil {
					rowCap = minPositive(rowCap, n)
				}
			}
		case "ROWNUM":
			// look ahead for "<= N" within a short window
			for j := i + 1; j < len(tok) && j < i+4; j++ {
				if tok[j].Kind == TokenNumber {
					if n, err := strconv.Atoi(tok[j].Text); err == nil {
						rowCap = minPositive(rowCap, n)
					}
					break
				}
			}
		}
	}
	return rowCap
}

func minPositive(current, candidate int) int {
	if candidate <= 0 {
		return current
	}
	if current == 0 || candidate < current {
		return candidate
	}
	return current
}

// Sandbox wraps sql in a row-capping outer SELECT when the existing cap (if
// any) exceeds maxRows. It never raises an existing tighter cap — applying
// the wrap twice with the same maxRows is a no-op on the second pass since
// the outer SELECT's own LIMIT/ROWNUM becomes the new existing cap and is
// already <= maxRows.
func Sandbox(sql string, dbType state.DatabaseType, maxRows int) (string, error) {
	tokens := Tokenize(sql)
	stmts := SplitStatements(tokens)
	if len(stmts) != 1 {
		return "", fmt.Errorf("sqlvalidate: sandbox requires exactly one statement, got %d", len(stmts))
	}
	ps := parseStatement(stmts[0])
	if ps.LeadKeyword != "SELECT" && ps.LeadKeyword != "WITH" {
		return "", fmt.Errorf("sqlvalidate: sandbox only applies to SELECT statements, got %s", ps.LeadKeyword)
	}

	existing := existingRowCap(ps)
	if existing > 0 && existing <= maxRows {
		return sql, nil
	}

	switch dbType {
	case state.DatabaseOracle:
		return fmt.Sprintf("SELECT * FROM (%s) WHERE ROWNUM <= %d", sql, maxRows), nil
	default: // doris, postgres: LIMIT-capable dialects
		return fmt.Sprintf("SELECT * FROM (%s) sandboxed LIMIT %d", sql, maxRows), nil
	}
}
