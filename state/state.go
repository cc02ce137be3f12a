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

// Package state defines the data model shared across the orchestrator
// pipeline: QueryState, the lifecycle events published for it, and the
// per-dependency component/circuit-breaker/pool/error records the rest of
// the module operates on.
package state

import "time"

// DatabaseType enumerates the backends the pipeline can target.
type DatabaseType string

const (
	DatabaseOracle   DatabaseType = "oracle"
	DatabaseDoris    DatabaseType = "doris"
	DatabasePostgres DatabaseType = "postgres"
)

// Role orders the roles a query can be submitted under, GUEST < VIEWER <
// ANALYST < DEVELOPER < ADMIN.
type Role string

const (
	RoleGuest     Role = "guest"
	RoleViewer    Role = "viewer"
	RoleAnalyst   Role = "analyst"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// roleRank gives each Role a total order for comparisons.
var roleRank = map[Role]int{
	RoleGuest:     0,
	RoleViewer:    1,
	RoleAnalyst:   2,
	RoleDeveloper: 3,
	RoleAdmin:     4,
}

// AtLeast reports whether r is the same as or senior to other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Stage names a point in the orchestrator's transition table.
type Stage string

const (
	StageReceived         Stage = "received"
	StageUnderstand       Stage = "understand"
	StageRetrieveContext  Stage = "retrieve_context"
	StageGenerateHypo     Stage = "generate_hypothesis"
	StageGenerateSQL      Stage = "generate_sql"
	StageValidate         Stage = "validate"
	StageAwaitApproval    Stage = "await_approval"
	StageExecute          Stage = "execute"
	StageFormat           Stage = "format"
	StageDone             Stage = "done"
	StageError            Stage = "error"
)

// LifecycleState is the set of states the query-state publisher streams.
type LifecycleState string

const (
	LifecycleReceived        LifecycleState = "RECEIVED"
	LifecyclePlanning        LifecycleState = "PLANNING"
	LifecyclePrepared        LifecycleState = "PREPARED"
	LifecyclePendingApproval LifecycleState = "PENDING_APPROVAL"
	LifecycleApproved        LifecycleState = "APPROVED"
	LifecycleRejected        LifecycleState = "REJECTED"
	LifecycleExecuting       LifecycleState = "EXECUTING"
	LifecycleFinished        LifecycleState = "FINISHED"
	LifecycleError           LifecycleState = "ERROR"
)

// Terminal reports whether the lifecycle state ends a query's stream.
func (s LifecycleState) Terminal() bool {
	switch s {
	case LifecycleFinished, LifecycleError, LifecycleRejected:
		return true
	default:
		return false
	}
}

// transitions is the allowed-transitions DAG rooted at RECEIVED, per §4.7.
var transitions = map[LifecycleState][]LifecycleState{
	LifecycleReceived:        {LifecyclePlanning, LifecycleError},
	LifecyclePlanning:        {LifecyclePrepared, LifecycleError},
	LifecyclePrepared:        {LifecyclePendingApproval, LifecycleExecuting, LifecycleError},
	LifecyclePendingApproval: {LifecycleApproved, LifecycleRejected, LifecycleError},
	LifecycleApproved:        {LifecycleExecuting, LifecycleError},
	LifecycleExecuting:       {LifecycleFinished, LifecycleError},
	LifecycleFinished:        {},
	LifecycleError:           {},
	LifecycleRejected:        {},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the lifecycle DAG.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Intent is the structured classification produced by the understand node.
type Intent struct {
	QueryType           string   `json:"query_type"`
	Complexity          string   `json:"complexity"`
	Domain              string   `json:"domain"`
	Temporal            bool     `json:"temporal"`
	ExpectedCardinality string   `json:"expected_cardinality"`
	Tables              []string `json:"tables"`
	Entities            []string `json:"entities"`
	Aggregations        []string `json:"aggregations"`
	Filters             []string `json:"filters"`
	Joins               []string `json:"joins"`
	JoinsCount          int      `json:"joins_count"`
	Source              string   `json:"source"` // "llm" or "fallback"
}

// Hypothesis is the query plan emitted by generate_hypothesis.
type Hypothesis struct {
	MainTable         string   `json:"main_table"`
	AdditionalTables  []string `json:"additional_tables"`
	Joins             []string `json:"joins"`
	Filters           []string `json:"filters"`
	Aggregations      []string `json:"aggregations"`
	GroupBy           []string `json:"group_by"`
	OrderBy           []string `json:"order_by"`
	Limit             int      `json:"limit"`
	ExpectedOutput    string   `json:"expected_output"`
	Grain             string   `json:"grain"`
	Confidence        string   `json:"confidence"` // high|medium|low
	Risks             []string `json:"risks"`
	DegradedToText    bool     `json:"degraded_to_text"`
	PlanText          string   `json:"plan_text,omitempty"`
}

// Column describes one schema column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// SchemaSnapshot is the resolved schema context attached to a query.
type SchemaSnapshot struct {
	Backend string              `json:"backend"`
	Tables  map[string][]Column `json:"tables"`
	Samples map[string][][]any  `json:"samples,omitempty"`
}

// ValidationResult is C6's output attached to the state.
type ValidationResult struct {
	RiskLevel        string   `json:"risk_level"` // safe|low|medium|high|critical
	RequiresApproval bool     `json:"requires_approval"`
	Errors           []string `json:"errors"`
	Warnings         []string `json:"warnings"`
	RewrittenSQL     string   `json:"rewritten_sql,omitempty"`
}

// ExecutionResult is the uniform result envelope returned by C15.
type ExecutionResult struct {
	Columns           []string `json:"columns"`
	Rows              [][]any  `json:"rows"`
	RowCount          int      `json:"row_count"`
	ExecutionTimeMS   float64  `json:"execution_time_ms"`
}

// FormattedResult is the client-facing shape produced by the format node.
type FormattedResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
	ThinkingSteps   []string `json:"thinking_steps,omitempty"`
	Discoveries     []string `json:"discoveries,omitempty"`
}

// Message is one chronological LLM/system exchange recorded on the state.
type Message struct {
	Role      string    `json:"role"` // system|user|assistant
	Content   string    `json:"content"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// LLMMetadata tracks append-only progress notes across the pipeline.
type LLMMetadata struct {
	ThinkingSteps []string `json:"thinking_steps"`
	ProviderChain []string `json:"provider_chain,omitempty"`
	FinalProvider string   `json:"final_provider,omitempty"`
}

// TerminalError captures why a query ended in the ERROR lifecycle state.
type TerminalError struct {
	Category   string `json:"category"`
	Message    string `json:"message"`
	Cause      string `json:"cause,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}

// QueryState is the single mutable record for one request, owned
// exclusively by the orchestrator driver for its lifetime. Forward-
// compatible, unknown-keyed additions live in Extras rather than widening
// this struct.
type QueryState struct {
	// Identity
	QueryID       string `json:"query_id"`
	TraceID       string `json:"trace_id"`
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	Role          Role   `json:"role"`

	// Inputs
	UserQuery      string       `json:"user_query"`
	DatabaseType   DatabaseType `json:"database_type"`
	ConnectionName string       `json:"connection_name,omitempty"`

	// Intermediate
	Intent           *Intent           `json:"intent,omitempty"`
	Hypothesis       *Hypothesis       `json:"hypothesis,omitempty"`
	Context          *SchemaSnapshot   `json:"context,omitempty"`
	SQLQuery         string            `json:"sql_query,omitempty"`
	SQLConfidence    int               `json:"sql_confidence,omitempty"`
	ColumnMappings   map[string]string `json:"column_mappings,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`

	// Outputs
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	FormattedResult *FormattedResult `json:"formatted_result,omitempty"`

	// Control
	CurrentStage  Stage          `json:"current_stage"`
	NextAction    string         `json:"next_action,omitempty"`
	NeedsApproval bool           `json:"needs_approval"`
	Error         *TerminalError `json:"error,omitempty"`
	Messages      []Message      `json:"messages"`
	LLMMetadata   LLMMetadata    `json:"llm_metadata"`

	// Bookkeeping
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Extras carries forward-compatible, unknown-keyed additions rather
	// than widening this struct for every new field a stage wants to stash.
	Extras map[string]any `json:"extras,omitempty"`
}

// NewQueryState initializes a QueryState for a freshly submitted request.
func NewQueryState(queryID, traceID, userID, sessionID string, role Role, userQuery string, dbType DatabaseType) *QueryState {
	now := time.Now()
	return &QueryState{
		QueryID:      queryID,
		TraceID:      traceID,
		UserID:       userID,
		SessionID:    sessionID,
		Role:         role,
		UserQuery:    userQuery,
		DatabaseType: dbType,
		CurrentStage: StageReceived,
		Messages:     make([]Message, 0, 8),
		LLMMetadata:  LLMMetadata{ThinkingSteps: make([]string, 0, 8)},
		CreatedAt:    now,
		UpdatedAt:    now,
		Extras:       make(map[string]any),
	}
}

// AddThinkingStep appends a short progress note to the state's append-only
// thinking-step log.
func (s *QueryState) AddThinkingStep(step string) {
	s.LLMMetadata.ThinkingSteps = append(s.LLMMetadata.ThinkingSteps, step)
	s.UpdatedAt = time.Now()
}

// AddMessage appends a chronological LLM/system exchange.
func (s *QueryState) AddMessage(role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Stage:     s.CurrentStage,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// SetError marks the state terminal with a normalized-category error.
func (s *QueryState) SetError(category, message string) {
	s.Error = &TerminalError{Category: category, Message: message}
	s.NextAction = "error"
	s.CurrentStage = StageError
	s.UpdatedAt = time.Now()
}

// QueryStateEvent is the payload published to subscribers on every update.
type QueryStateEvent struct {
	QueryID          string          `json:"query_id"`
	TraceID          string          `json:"trace_id"`
	State            LifecycleState  `json:"state"`
	Timestamp        time.Time       `json:"timestamp"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	ThinkingSteps    []string        `json:"thinking_steps,omitempty"`
	TodoItems        []string        `json:"todo_items,omitempty"`
	Discoveries      []string        `json:"discoveries,omitempty"`
	SQL              string          `json:"sql,omitempty"`
	Result           *ExecutionResult `json:"result,omitempty"`
	Insights         []string        `json:"insights,omitempty"`
	SuggestedQueries []string        `json:"suggested_queries,omitempty"`
	Heartbeat        bool            `json:"heartbeat,omitempty"`
}

// ComponentStatus is the health of one external dependency tracked by the
// degraded-mode registry (C3).
type ComponentStatus string

const (
	ComponentOperational ComponentStatus = "OPERATIONAL"
	ComponentDegraded    ComponentStatus = "DEGRADED"
	ComponentUnavailable ComponentStatus = "UNAVAILABLE"
)

// ComponentState is a per-dependency health record.
type ComponentState struct {
	Name              string          `json:"name"`
	Status            ComponentStatus `json:"status"`
	FallbackActive    bool            `json:"fallback_active"`
	DegradationReason string          `json:"degradation_reason,omitempty"`
	LastChange        time.Time       `json:"last_change"`
}

// DegradationLevel is the system-wide derived status, NORMAL..CRITICAL.
type DegradationLevel string

const (
	LevelNormal   DegradationLevel = "NORMAL"
	LevelPartial  DegradationLevel = "PARTIAL"
	LevelSevere   DegradationLevel = "SEVERE"
	LevelCritical DegradationLevel = "CRITICAL"
)

// NormalizedError is C5's canonical output shape.
type NormalizedError struct {
	Category      string         `json:"category"`
	ErrorCode     string         `json:"error_code"`
	Message       string         `json:"message"`
	UserMessage   string         `json:"user_message"`
	ShouldRetry   bool           `json:"should_retry"`
	IsTransient   bool           `json:"is_transient"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (e *NormalizedError) Error() string {
	return e.Message
}
