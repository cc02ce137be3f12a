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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nlsql-oss/queryorch/approval"
	"github.com/nlsql-oss/queryorch/checkpoint"
	"github.com/nlsql-oss/queryorch/shared/logger"
	"github.com/nlsql-oss/queryorch/state"
	"github.com/nlsql-oss/queryorch/statepub"
)

// nodeFunc is the pure State -> State shape every pipeline stage
// implements: mutate s in place, return an error only when the stage
// itself failed (a *state.NormalizedError when the failure is eligible for
// bounded retry, any other error otherwise).
type nodeFunc func(ctx context.Context, s *state.QueryState) error

// stageLifecycle maps a current_stage to the lifecycle state published
// immediately before that stage's node runs, per §4.11.2.
var stageLifecycle = map[state.Stage]state.LifecycleState{
	state.StageUnderstand:      state.LifecyclePlanning,
	state.StageRetrieveContext: state.LifecyclePlanning,
	state.StageGenerateHypo:    state.LifecyclePlanning,
	state.StageGenerateSQL:     state.LifecyclePlanning,
	state.StageExecute:         state.LifecycleExecuting,
}

// nextActionStage maps a node's next_action to the stage the driver
// transitions into.
var nextActionStage = map[string]state.Stage{
	"retrieve_context":    state.StageRetrieveContext,
	"generate_hypothesis": state.StageGenerateHypo,
	"generate_sql":        state.StageGenerateSQL,
	"validate":            state.StageValidate,
	"await_approval":      state.StageAwaitApproval,
	"execute":             state.StageExecute,
	"format":              state.StageFormat,
	"done":                state.StageDone,
	"error":               state.StageError,
}

// Driver composes the nodes into the stage transition table described in
// §4.11: it owns QueryState initialization, checkpointing after every node,
// bounded node retries, approval-yield/resume, and cancellation.
type Driver struct {
	Nodes          *Nodes
	Checkpoint     checkpoint.Repository
	Publisher      *statepub.Publisher
	Approvals      *approval.Store
	Log            *logger.Logger
	MaxNodeRetries int

	nodeTable map[state.Stage]nodeFunc
}

// DefaultMaxNodeRetries bounds how many times a single node may be re-run
// after a transient-normalized error before the query is failed terminally.
const DefaultMaxNodeRetries = 2

// NewDriver wires nodes into the fixed stage transition table.
func NewDriver(nodes *Nodes, repo checkpoint.Repository, pub *statepub.Publisher, approvals *approval.Store, log *logger.Logger) *Driver {
	d := &Driver{
		Nodes:          nodes,
		Checkpoint:     repo,
		Publisher:      pub,
		Approvals:      approvals,
		Log:            log,
		MaxNodeRetries: DefaultMaxNodeRetries,
	}
	d.nodeTable = map[state.Stage]nodeFunc{
		state.StageUnderstand:      nodes.Understand,
		state.StageRetrieveContext: nodes.RetrieveContext,
		state.StageGenerateHypo:    nodes.GenerateHypothesis,
		state.StageGenerateSQL:     nodes.GenerateSQL,
		state.StageValidate:        nodes.Validate,
		state.StageExecute:         nodes.Execute,
		state.StageFormat:          nodes.Format,
	}
	return d
}

// Submit initializes the RECEIVED lifecycle event for a freshly created
// QueryState and runs it to its first suspension point (await_approval,
// done, or error).
func (d *Driver) Submit(ctx context.Context, s *state.QueryState) error {
	d.publish(s, state.LifecycleReceived)
	return d.run(ctx, s)
}

// Resume is called once C8 records an approval decision for queryID. A
// rejected or stale decision transitions the query to its terminal state
// without re-entering execute; an approval resumes the driver at execute.
func (d *Driver) Resume(ctx context.Context, queryID string) error {
	pa, err := d.Approvals.Get(queryID)
	if err != nil {
		s, loadErr := d.Checkpoint.LoadState(ctx, queryID)
		if loadErr != nil {
			return fmt.Errorf("orchestrator: resume %s: %w", queryID, err)
		}
		if errors.Is(err, approval.ErrExpired) {
			s.SetError("APPROVAL_EXPIRED", "pending approval exceeded its TTL")
			d.publish(s, state.LifecycleError)
			return d.Checkpoint.SaveState(ctx, s)
		}
		return fmt.Errorf("orchestrator: resume %s: %w", queryID, err)
	}

	s, err := d.Checkpoint.LoadState(ctx, queryID)
	if err != nil {
		return fmt.Errorf("orchestrator: resume %s: load state: %w", queryID, err)
	}

	switch pa.Status {
	case approval.StatusRejected:
		s.SetError("REJECTED", pa.Reason)
		d.publish(s, state.LifecycleRejected)
		return d.Checkpoint.SaveState(ctx, s)
	case approval.StatusApproved:
		sql := pa.OriginalSQL
		if pa.ModifiedSQL != "" {
			sql = pa.ModifiedSQL
		}
		s.SQLQuery = sql
		s.NeedsApproval = false
		s.CurrentStage = state.StageExecute
		d.publish(s, state.LifecycleApproved)
		return d.run(ctx, s)
	default:
		return fmt.Errorf("orchestrator: resume %s: approval not yet decided (status=%s)", queryID, pa.Status)
	}
}

// run iterates the transition table starting from s.CurrentStage until the
// query reaches a suspension point: await_approval (driver yields), done,
// or error.
func (d *Driver) run(ctx context.Context, s *state.QueryState) error {
	retries := make(map[state.Stage]int)

	for {
		if err := ctx.Err(); err != nil {
			s.SetError("CANCELLED", "request was cancelled")
			s.Error.Cancelled = true
			d.publish(s, state.LifecycleError)
			if saveErr := d.Checkpoint.SaveState(context.WithoutCancel(ctx), s); saveErr != nil {
				return saveErr
			}
			return err
		}

		switch s.CurrentStage {
		case state.StageAwaitApproval, state.StageDone:
			return d.Checkpoint.SaveState(ctx, s)
		case state.StageError:
			return d.Checkpoint.SaveState(ctx, s)
		}

		nodeFn, ok := d.nodeTable[s.CurrentStage]
		if !ok {
			s.SetError("INTERNAL", fmt.Sprintf("no node registered for stage %q", s.CurrentStage))
			d.publish(s, state.LifecycleError)
			return d.Checkpoint.SaveState(ctx, s)
		}

		if lc, ok := stageLifecycle[s.CurrentStage]; ok {
			d.publish(s, lc)
		}

		err := nodeFn(ctx, s)
		if err != nil {
			if d.retryable(s.CurrentStage, err, retries) {
				continue
			}
			d.terminate(s, err)
			d.publish(s, state.LifecycleError)
			return d.Checkpoint.SaveState(ctx, s)
		}

		if s.CurrentStage == state.StageGenerateSQL {
			d.publish(s, state.LifecyclePrepared)
		}

		next, ok := nextActionStage[s.NextAction]
		if !ok {
			s.SetError("INTERNAL", fmt.Sprintf("unknown next_action %q", s.NextAction))
			d.publish(s, state.LifecycleError)
			return d.Checkpoint.SaveState(ctx, s)
		}
		s.CurrentStage = next

		if err := d.Checkpoint.SaveState(ctx, s); err != nil {
			d.Log.Warn(s.QueryID, s.TraceID, "checkpoint save failed", map[string]interface{}{"error": err.Error()})
		}

		if next == state.StageDone {
			d.publish(s, state.LifecycleFinished)
			return nil
		}
		if next == state.StageAwaitApproval {
			d.publish(s, state.LifecyclePendingApproval)
			return nil
		}
	}
}

// retryable reports whether err is a transient-normalized error and the
// stage has budget left for another attempt, incrementing its counter as a
// side effect when it does.
func (d *Driver) retryable(stage state.Stage, err error, retries map[state.Stage]int) bool {
	normalized, ok := err.(*state.NormalizedError)
	if !ok || !normalized.ShouldRetry {
		return false
	}
	if retries[stage] >= d.MaxNodeRetries {
		return false
	}
	retries[stage]++
	d.Log.Warn("", "", "retrying node after transient error", map[string]interface{}{
		"stage": string(stage), "attempt": retries[stage], "category": normalized.Category,
	})
	return true
}

func (d *Driver) terminate(s *state.QueryState, err error) {
	if normalized, ok := err.(*state.NormalizedError); ok {
		s.SetError(normalized.Category, normalized.UserMessage)
		return
	}
	s.SetError("INTERNAL", err.Error())
}

// publish emits lc only when it's a genuine change from the last lifecycle
// state published for s — understand/retrieve_context/generate_hypothesis
// all map to PLANNING, so without this the driver would re-announce the
// same state on every node in that run rather than once on entry.
func (d *Driver) publish(s *state.QueryState, lc state.LifecycleState) {
	if d.Publisher == nil {
		return
	}
	if last, ok := s.Extras["_lifecycle"].(string); ok {
		if last == string(lc) {
			return
		}
		if !state.CanTransition(state.LifecycleState(last), lc) {
			d.Log.Warn(s.QueryID, s.TraceID, "publishing non-adjacent lifecycle transition", map[string]interface{}{
				"from": last, "to": string(lc),
			})
		}
	}
	if s.Extras == nil {
		s.Extras = make(map[string]any)
	}
	s.Extras["_lifecycle"] = string(lc)

	event := state.QueryStateEvent{
		QueryID:       s.QueryID,
		TraceID:       s.TraceID,
		State:         lc,
		Timestamp:     time.Now(),
		ThinkingSteps: s.LLMMetadata.ThinkingSteps,
		SQL:           s.SQLQuery,
	}
	if s.ExecutionResult != nil {
		event.Result = s.ExecutionResult
	}
	d.Publisher.Update(event)
}
