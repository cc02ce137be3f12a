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

// Package schema implements the schema resolver (C9): a uniform
// resolve(user_query, intent) -> SchemaSnapshot contract backed by a
// per-backend adapter, fronted by a TTL cache keyed on backend identity.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nlsql-oss/queryorch/state"
	"github.com/nlsql-oss/queryorch/wrapper"
)

// Adapter resolves table metadata for one backend. Oracle/Doris/Postgres
// each implement this against their own catalog.
type Adapter interface {
	Backend() state.DatabaseType
	FetchTables(ctx context.Context, tables []string) (*state.SchemaSnapshot, error)
	FetchAllTables(ctx context.Context) (*state.SchemaSnapshot, error)
}

// Resolver dispatches to the adapter for a query's database type, caching
// results behind the resilient fallback cache (C2).
type Resolver struct {
	adapters map[state.DatabaseType]Adapter
	cache    *wrapper.FallbackCache
	ttl      time.Duration
}

// DefaultTTL is the spec's default schema cache lifetime.
const DefaultTTL = time.Hour

// New constructs a Resolver over the given per-backend adapters.
func New(adapters []Adapter, cache *wrapper.FallbackCache) *Resolver {
	m := make(map[state.DatabaseType]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Backend()] = a
	}
	return &Resolver{adapters: m, cache: cache, ttl: DefaultTTL}
}

// Resolve extracts candidate table names from userQuery and intent, then
// fetches their schema through the backend adapter, caching by backend
// identity + the resolved table set so repeated queries against the same
// tables are served from cache.
func (r *Resolver) Resolve(ctx context.Context, dbType state.DatabaseType, userQuery string, intent *state.Intent) (*state.SchemaSnapshot, error) {
	adapter, ok := r.adapters[dbType]
	if !ok {
		return nil, fmt.Errorf("schema: no adapter registered for backend %q", dbType)
	}

	tables := ExtractTableNames(userQuery)
	if intent != nil {
		tables = mergeUnique(tables, intent.Tables)
	}

	if len(tables) == 0 {
		return r.resolveCached(ctx, dbType, string(dbType)+":__full__", func(ctx context.Context) (*state.SchemaSnapshot, error) {
			return adapter.FetchAllTables(ctx)
		})
	}

	cacheKey := string(dbType) + ":" + strings.Join(tables, ",")
	return r.resolveCached(ctx, dbType, cacheKey, func(ctx context.Context) (*state.SchemaSnapshot, error) {
		return adapter.FetchTables(ctx, tables)
	})
}

func (r *Resolver) resolveCached(ctx context.Context, dbType state.DatabaseType, key string, fetch func(context.Context) (*state.SchemaSnapshot, error)) (*state.SchemaSnapshot, error) {
	if r.cache == nil {
		return fetch(ctx)
	}

	if cached, ok := r.cache.Get(key); ok {
		var snap state.SchemaSnapshot
		if err := json.Unmarshal(cached, &snap); err == nil {
			return &snap, nil
		}
	}

	snap, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(snap); err == nil {
		r.cache.Set(key, encoded)
	}
	return snap, nil
}

// stopwords excludes common SQL/English tokens from the UPPER_CASE token
// heuristic so things like "SELECT FROM WHERE" in a pasted fragment don't
// get treated as table names.
var stopwords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AND": true, "OR": true,
	"THE": true, "WITH": true, "FOR": true, "ALL": true, "THIS": true,
	"THAT": true, "SHOW": true, "LIST": true, "GIVE": true, "WHAT": true,
}

var (
	reFromJoinIn = regexp.MustCompile(`(?i)\b(?:from|join|in)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	reUpperToken = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{3,}\b`)
)

// ExtractTableNames heuristically pulls candidate table names out of a
// natural-language query: explicit "FROM/JOIN/IN X" phrases, plus bare
// UPPER_CASE tokens longer than 3 characters that survive the stopword
// filter.
func ExtractTableNames(query string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(name string) {
		upper := strings.ToUpper(name)
		if stopwords[upper] || seen[upper] {
			return
		}
		seen[upper] = true
		out = append(out, name)
	}

	for _, m := range reFromJoinIn.FindAllStringSubmatch(query, -1) {
		add(m[1])
	}
	for _, tok := range reUpperToken.FindAllString(query, -1) {
		add(tok)
	}

	return out
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if !seen[strings.ToUpper(v)] {
			seen[strings.ToUpper(v)] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[strings.ToUpper(v)] {
			seen[strings.ToUpper(v)] = true
			out = append(out, v)
		}
	}
	return out
}
