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

// Package quota enforces per-role resource limits: daily query/cost
// quotas backed by an atomic counter store, and row-limit SQL rewriting.
package quota

import "github.com/nlsql-oss/queryorch/state"

// Policy is the per-role limit set. Zero on any numeric field denotes
// unlimited, per the spec's "0 denotes unlimited" convention.
type Policy struct {
	MaxRows           int
	DailyQueryQuota   int
	DailyCostQuotaUSD float64
	AllowedOperations []string
	CanExport         bool
	MaxTables         int
	MaxJoins          int
}

// Unlimited reports whether n represents "no limit" under this package's
// zero-means-unlimited convention.
func Unlimited(n int) bool { return n <= 0 }

// DefaultPolicies returns the out-of-the-box policy for each of the five
// ordered roles. Callers needing a different shape load their own table
// (e.g. from YAML) and pass it to NewEnforcer instead.
func DefaultPolicies() map[state.Role]Policy {
	return map[state.Role]Policy{
		state.RoleGuest: {
			MaxRows:           100,
			DailyQueryQuota:   20,
			DailyCostQuotaUSD: 0.50,
			AllowedOperations: []string{"select"},
			CanExport:         false,
			MaxTables:         2,
			MaxJoins:          1,
		},
		state.RoleViewer: {
			MaxRows:           1000,
			DailyQueryQuota:   100,
			DailyCostQuotaUSD: 2.00,
			AllowedOperations: []string{"select"},
			CanExport:         false,
			MaxTables:         4,
			MaxJoins:          3,
		},
		state.RoleAnalyst: {
			MaxRows:           10000,
			DailyQueryQuota:   500,
			DailyCostQuotaUSD: 10.00,
			AllowedOperations: []string{"select"},
			CanExport:         true,
			MaxTables:         8,
			MaxJoins:          6,
		},
		state.RoleDeveloper: {
			MaxRows:           50000,
			DailyQueryQuota:   2000,
			DailyCostQuotaUSD: 50.00,
			AllowedOperations: []string{"select"},
			CanExport:         true,
			MaxTables:         0,
			MaxJoins:          0,
		},
		state.RoleAdmin: {
			MaxRows:           0,
			DailyQueryQuota:   0,
			DailyCostQuotaUSD: 0,
			AllowedOperations: []string{"select"},
			CanExport:         true,
			MaxTables:         0,
			MaxJoins:          0,
		},
	}
}
