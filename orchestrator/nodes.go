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

// Package orchestrator composes the pipeline nodes (C10) into the stage
// transition table the driver (C11) walks: understand, retrieve_context,
// generate_hypothesis, generate_sql, validate, execute, format. Each node
// is a function over *state.QueryState — it mutates the record in place,
// appends to its messages/thinking-step logs, and sets NextAction; it
// never owns persistence or publishing, which are the driver's job.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nlsql-oss/queryorch/approval"
	"github.com/nlsql-oss/queryorch/dbrouter"
	"github.com/nlsql-oss/queryorch/llm"
	"github.com/nlsql-oss/queryorch/schema"
	"github.com/nlsql-oss/queryorch/shared/logger"
	"github.com/nlsql-oss/queryorch/sqlvalidate"
	"github.com/nlsql-oss/queryorch/state"
	"github.com/nlsql-oss/queryorch/wrapper"
)

// Nodes bundles every external collaborator the seven pipeline stages call
// into, assembled once by the runtime and shared across concurrent queries.
type Nodes struct {
	LLM          *llm.Gateway
	LLMProvider  string
	Schema       *schema.Resolver
	ValidatorCfg sqlvalidate.Config
	RolePolicies map[state.Role]sqlvalidate.RoleRiskPolicy
	Approvals    *approval.Store
	Router       *dbrouter.Router
	ExecCache    map[state.DatabaseType]*wrapper.Resilient
	MaxRows      int
	Log          *logger.Logger
}

func (n *Nodes) span(stage state.Stage, s *state.QueryState) {
	n.Log.Info(s.QueryID, s.TraceID, "stage started", map[string]interface{}{"stage": string(stage)})
}

// Understand classifies the query into a taxonomy, preferring a strict-JSON
// LLM call and falling back to keyword-driven classification when the call
// fails or its response does not parse as JSON. A response that parses is
// used as-is; its fields are not validated.
func (n *Nodes) Understand(ctx context.Context, s *state.QueryState) error {
	n.span(state.StageUnderstand, s)

	req := llm.Request{Messages: []llm.Message{
		{Role: "system", Content: understandSystemPrompt},
		{Role: "user", Content: s.UserQuery},
	}, MaxTokens: 512}

	intent := n.classifyIntent(ctx, s, req)
	s.Intent = intent
	s.AddThinkingStep(fmt.Sprintf("classified query as %s/%s (%s source)", intent.Domain, intent.Complexity, intent.Source))
	s.NextAction = "retrieve_context"
	return nil
}

func (n *Nodes) classifyIntent(ctx context.Context, s *state.QueryState, req llm.Request) *state.Intent {
	if n.LLM == nil {
		return fallbackTaxonomy(s.UserQuery)
	}

	resp, provider, err := n.LLM.Invoke(ctx, req, n.LLMProvider, true)
	if err != nil {
		n.Log.Warn(s.QueryID, s.TraceID, "understand: llm invoke failed, using fallback taxonomy", map[string]interface{}{"error": err.Error()})
		return fallbackTaxonomy(s.UserQuery)
	}
	s.AddMessage("assistant", resp.Text)
	s.LLMMetadata.ProviderChain = appendUnique(s.LLMMetadata.ProviderChain, provider)

	var intent state.Intent
	if err := json.Unmarshal([]byte(stripFence(resp.Text)), &intent); err != nil {
		n.Log.Warn(s.QueryID, s.TraceID, "understand: llm response did not parse, using fallback taxonomy", map[string]interface{}{"error": err.Error()})
		return fallbackTaxonomy(s.UserQuery)
	}
	intent.Source = "llm"
	return &intent
}

// RetrieveContext resolves the schema snapshot relevant to the query
// through C9 and attaches it to the state.
func (n *Nodes) RetrieveContext(ctx context.Context, s *state.QueryState) error {
	n.span(state.StageRetrieveContext, s)

	snapshot, err := n.Schema.Resolve(ctx, s.DatabaseType, s.UserQuery, s.Intent)
	if err != nil {
		return fmt.Errorf("orchestrator: retrieve_context failed: %w", err)
	}
	s.Context = snapshot
	s.AddThinkingStep(fmt.Sprintf("resolved schema for %d table(s)", len(snapshot.Tables)))
	s.NextAction = "generate_hypothesis"
	return nil
}

// GenerateHypothesis asks the LLM for a structured query plan, degrading to
// a plain-text plan on parse failure rather than failing the stage.
func (n *Nodes) GenerateHypothesis(ctx context.Context, s *state.QueryState) error {
	n.span(state.StageGenerateHypo, s)

	req := llm.Request{Messages: []llm.Message{
		{Role: "system", Content: hypothesisSystemPrompt},
		{Role: "user", Content: hypothesisPrompt(s)},
	}, MaxTokens: 768}

	hyp := &state.Hypothesis{Confidence: "low"}
	if n.LLM != nil {
		resp, provider, err := n.LLM.Invoke(ctx, req, n.LLMProvider, true)
		if err != nil {
			return fmt.Errorf("orchestrator: generate_hypothesis failed: %w", err)
		}
		s.AddMessage("assistant", resp.Text)
		s.LLMMetadata.ProviderChain = appendUnique(s.LLMMetadata.ProviderChain, provider)

		if err := json.Unmarshal([]byte(stripFence(resp.Text)), hyp); err != nil {
			hyp = &state.Hypothesis{DegradedToText: true, PlanText: resp.Text, Confidence: "low"}
		}
	}

	s.Hypothesis = hyp
	if hyp.DegradedToText {
		s.AddThinkingStep("hypothesis degraded to plain text")
	} else {
		s.AddThinkingStep(fmt.Sprintf("hypothesis confidence=%s main_table=%s", hyp.Confidence, hyp.MainTable))
	}
	s.NextAction = "generate_sql"
	return nil
}

// GenerateSQL produces the final SQL grounded in intent, hypothesis and
// schema, then assigns a heuristic confidence score.
func (n *Nodes) GenerateSQL(ctx context.Context, s *state.QueryState) error {
	n.span(state.StageGenerateSQL, s)

	req := llm.Request{Messages: []llm.Message{
		{Role: "system", Content: sqlSystemPrompt(s.DatabaseType)},
		{Role: "user", Content: sqlPrompt(s)},
	}, MaxTokens: 1024}

	sql := ""
	if n.LLM != nil {
		resp, provider, err := n.LLM.Invoke(ctx, req, n.LLMProvider, true)
		if err != nil {
			return fmt.Errorf("orchestrator: generate_sql failed: %w", err)
		}
		s.AddMessage("assistant", resp.Text)
		s.LLMMetadata.ProviderChain = appendUnique(s.LLMMetadata.ProviderChain, provider)
		sql = resp.Text
	}

	sql = strings.TrimSpace(stripFence(sql))
	sql = strings.TrimSuffix(sql, ";")
	s.SQLQuery = sql
	s.SQLConfidence = sqlConfidence(s)
	s.AddThinkingStep(fmt.Sprintf("generated SQL (confidence=%d)", s.SQLConfidence))
	s.NextAction = "validate"
	return nil
}

// sqlConfidence implements §4.10's heuristic: high when the hypothesis was
// high-confidence and every referenced table is present in the resolved
// schema, lower otherwise.
func sqlConfidence(s *state.QueryState) int {
	if s.Hypothesis == nil || s.Hypothesis.DegradedToText {
		return 30
	}
	if s.Hypothesis.Confidence != "high" {
		if s.Hypothesis.Confidence == "medium" {
			return 60
		}
		return 30
	}
	if s.Context == nil {
		return 60
	}
	tables := append([]string{s.Hypothesis.MainTable}, s.Hypothesis.AdditionalTables...)
	for _, t := range tables {
		if t == "" {
			continue
		}
		if _, ok := s.Context.Tables[t]; !ok {
			return 60
		}
	}
	return 90
}

// Validate invokes C6. A required-approval result routes the query to
// await_approval and saves a pending record through C8; otherwise the
// query proceeds straight to execution.
func (n *Nodes) Validate(ctx context.Context, s *state.QueryState) error {
	n.span(state.StageValidate, s)

	policy := n.RolePolicies[s.Role]
	result := sqlvalidate.Validate(s.SQLQuery, s.Role, policy, n.ValidatorCfg)
	s.ValidationResult = result

	if len(result.Errors) > 0 {
		s.SetError("VALIDATION_REJECTED", strings.Join(result.Errors, "; "))
		return nil
	}

	if result.RequiresApproval {
		s.NeedsApproval = true
		s.NextAction = "await_approval"
		if n.Approvals != nil {
			n.Approvals.SavePending(s.QueryID, s.SQLQuery, result, approval.Binding{
				SessionID: s.SessionID,
				UserID:    s.UserID,
			})
		}
		s.AddThinkingStep(fmt.Sprintf("validation requires approval (risk=%s)", result.RiskLevel))
		return nil
	}

	s.AddThinkingStep(fmt.Sprintf("validation passed (risk=%s)", result.RiskLevel))
	s.NextAction = "execute"
	return nil
}

// Execute runs the validated SQL against its backend through C15, caching
// successful results via C2 under a key made of the database type and a
// SHA-256 of the SQL text as executed (the text is not otherwise
// normalized), so a transient backend failure can still serve the last
// known answer.
func (n *Nodes) Execute(ctx context.Context, s *state.QueryState) error {
	n.span(state.StageExecute, s)

	sql := s.SQLQuery
	if s.ValidationResult != nil && s.ValidationResult.RewrittenSQL != "" {
		sql = s.ValidationResult.RewrittenSQL
	}

	key := cacheKey(s.DatabaseType, sql)
	runQuery := func(ctx context.Context) (*state.ExecutionResult, error) {
		return n.Router.Execute(ctx, s.DatabaseType, sql, s.ConnectionName, s.UserID, s.QueryID)
	}

	resilient := n.ExecCache[s.DatabaseType]
	var result *state.ExecutionResult
	var err error
	if resilient != nil {
		result, err = wrapper.CallWithCacheFallback(ctx, resilient, key, runQuery, encodeExecutionResult, decodeExecutionResult)
	} else {
		result, err = runQuery(ctx)
	}

	if err != nil {
		normalized := classifyExecutionError(s.DatabaseType, err)
		if s.Extras == nil {
			s.Extras = make(map[string]any)
		}
		s.Extras["last_normalized_error"] = normalized
		return normalized
	}

	s.ExecutionResult = result
	s.AddThinkingStep(fmt.Sprintf("executed query, %d row(s) in %.1fms", result.RowCount, result.ExecutionTimeMS))
	s.NextAction = "format"
	return nil
}

// Format shapes the execution result into the client-facing envelope,
// carrying forward the accumulated thinking steps and discoveries.
func (n *Nodes) Format(ctx context.Context, s *state.QueryState) error {
	n.span(state.StageFormat, s)

	if s.ExecutionResult == nil {
		return fmt.Errorf("orchestrator: format called with no execution result")
	}

	discoveries, _ := s.Extras["discoveries"].([]string)
	s.FormattedResult = &state.FormattedResult{
		Columns:         s.ExecutionResult.Columns,
		Rows:            s.ExecutionResult.Rows,
		RowCount:        s.ExecutionResult.RowCount,
		ExecutionTimeMS: s.ExecutionResult.ExecutionTimeMS,
		ThinkingSteps:   s.LLMMetadata.ThinkingSteps,
		Discoveries:     discoveries,
	}
	s.NextAction = "done"
	return nil
}

// executionErrorMessages mirrors dberrors' per-category user messages for
// the two categories this heuristic can actually infer from message text
// alone — it can't reuse dberrors.Normalize's vendor-code table since
// dbrouter's clients never thread a vendor code through the wrapped error.
var executionErrorMessages = map[string]string{
	"TIMEOUT":    "The query took too long to run and was cancelled.",
	"CONNECTION": "Could not connect to the database. Please try again shortly.",
	"UNKNOWN":    "An unexpected database error occurred.",
}

// classifyExecutionError bridges a raw backend error into C5's canonical
// taxonomy. dbrouter's clients don't thread vendor error codes through the
// wrapped error chain, so the category is inferred from the message text —
// a narrower version of the same substring-driven classification C5
// otherwise deliberately avoids, justified here by the absence of a typed
// BackendError at this boundary. dberrors.Normalize itself isn't used here:
// its category table keys on vendor codes like ORA-01013/57014, and a
// literal "TIMEOUT"/"CONNECTION" string would never match it, silently
// collapsing every case to UNKNOWN.
func classifyExecutionError(dbType state.DatabaseType, err error) *state.NormalizedError {
	msg := strings.ToLower(err.Error())
	category := "UNKNOWN"
	transient := false
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		category = "TIMEOUT"
		transient = true
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial"):
		category = "CONNECTION"
		transient = true
	}

	return &state.NormalizedError{
		Category:    category,
		Message:     err.Error(),
		UserMessage: executionErrorMessages[category],
		ShouldRetry: transient,
		IsTransient: transient,
		Metadata:    map[string]any{"backend": string(dbType)},
	}
}

func cacheKey(dbType state.DatabaseType, sql string) string {
	h := sha256.Sum256([]byte(sql))
	return string(dbType) + ":" + hex.EncodeToString(h[:])
}

func encodeExecutionResult(r *state.ExecutionResult) ([]byte, error) {
	return json.Marshal(r)
}

func decodeExecutionResult(raw []byte) (*state.ExecutionResult, error) {
	var r state.ExecutionResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

const understandSystemPrompt = `You classify a natural-language data question into strict JSON with keys:
query_type, complexity, domain, temporal, expected_cardinality, tables, entities,
aggregations, filters, joins, joins_count. Respond with JSON only.`

const hypothesisSystemPrompt = `You plan a SQL query against the given schema. Respond with strict JSON with
keys: main_table, additional_tables, joins, filters, aggregations, group_by,
order_by, limit, expected_output, grain, confidence (high|medium|low), risks.`

func hypothesisPrompt(s *state.QueryState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", s.UserQuery)
	if s.Intent != nil {
		fmt.Fprintf(&b, "Classified as: %s/%s domain=%s\n", s.Intent.QueryType, s.Intent.Complexity, s.Intent.Domain)
	}
	if s.Context != nil {
		fmt.Fprintf(&b, "Available tables: %s\n", strings.Join(tableNames(s.Context), ", "))
	}
	return b.String()
}

func sqlSystemPrompt(dbType state.DatabaseType) string {
	return fmt.Sprintf("You write a single read-only %s SQL statement. Respond with SQL only, no prose.", dbType)
}

func sqlPrompt(s *state.QueryState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", s.UserQuery)
	if s.Hypothesis != nil && !s.Hypothesis.DegradedToText {
		fmt.Fprintf(&b, "Plan: main_table=%s joins=%v filters=%v aggregations=%v\n",
			s.Hypothesis.MainTable, s.Hypothesis.Joins, s.Hypothesis.Filters, s.Hypothesis.Aggregations)
	} else if s.Hypothesis != nil {
		fmt.Fprintf(&b, "Plan (free text): %s\n", s.Hypothesis.PlanText)
	}
	if s.Context != nil {
		fmt.Fprintf(&b, "Schema:\n%s", schemaDescription(s.Context))
	}
	return b.String()
}

func tableNames(snapshot *state.SchemaSnapshot) []string {
	names := make([]string, 0, len(snapshot.Tables))
	for name := range snapshot.Tables {
		names = append(names, name)
	}
	return names
}

func schemaDescription(snapshot *state.SchemaSnapshot) string {
	var b strings.Builder
	for table, cols := range snapshot.Tables {
		fmt.Fprintf(&b, "- %s(", table)
		for i, c := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
		}
		b.WriteString(")\n")
	}
	return b.String()
}
