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

// Package approval implements the approval store (C8): pending approvals
// with TTL held in process memory, idempotency keys guarding at-most-once
// decisions, and session binding to detect approval hijacking.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/nlsql-oss/queryorch/state"
)

const (
	pendingTTL     = 6 * time.Hour
	idempotencyTTL = 24 * time.Hour
)

var (
	ErrNotFound        = errors.New("approval: no pending approval for query")
	ErrExpired         = errors.New("approval: pending approval has expired")
	ErrDuplicate       = errors.New("approval: idempotency key already consumed")
	ErrBindingMismatch = errors.New("approval: session binding mismatch")
)

// Status is the closed set of approval lifecycle states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Binding captures the session context recorded at query initiation, used
// to detect an approval decision arriving from a different session/client
// than the one that submitted the query.
type Binding struct {
	SessionID   string
	UserID      string
	IPAddress   string
	UserAgent   string
	Fingerprint string
}

// PendingApproval is the record the store owns exclusively.
type PendingApproval struct {
	QueryID            string
	CreatedAt          time.Time
	OriginalSQL        string
	ModifiedSQL        string
	RiskAssessment     *state.ValidationResult
	Status             Status
	IdempotencyKey     string
	Binding            Binding
	RequiresReapproval bool
	Approver           string
	Reason             string
	Constraints        map[string]any
}

func (pa *PendingApproval) expired(now time.Time) bool {
	return now.Sub(pa.CreatedAt) > pendingTTL
}

// IdempotencyKey hashes (query_id, sql) so a given (query, SQL) pair is
// acted on at most once, per §4.8.
func IdempotencyKey(queryID, sql string) string {
	h := sha256.New()
	h.Write([]byte(queryID))
	h.Write([]byte("||"))
	h.Write([]byte(sql))
	return hex.EncodeToString(h.Sum(nil))
}

type idempotencyEntry struct {
	consumedAt time.Time
}

// Store is an in-memory approval store: pending approvals and consumed
// idempotency keys live in maps inside the process, guarded by mu, and do
// not survive a restart. It is a concrete type with no interface in front
// of it and no external KV behind it.
type Store struct {
	mu          sync.Mutex
	pending     map[string]*PendingApproval
	idempotency map[string]idempotencyEntry
	clock       func() time.Time
}

// New constructs an empty approval store.
func New() *Store {
	return &Store{
		pending:     make(map[string]*PendingApproval),
		idempotency: make(map[string]idempotencyEntry),
		clock:       time.Now,
	}
}

// SavePending records a new PendingApproval for query_id after the
// validator has flagged it. Overwrites any prior pending record for the
// same query_id.
func (s *Store) SavePending(queryID, originalSQL string, risk *state.ValidationResult, binding Binding) *PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa := &PendingApproval{
		QueryID:        queryID,
		CreatedAt:      s.clock(),
		OriginalSQL:    originalSQL,
		RiskAssessment: risk,
		Status:         StatusPending,
		IdempotencyKey: IdempotencyKey(queryID, originalSQL),
		Binding:        binding,
	}
	s.pending[queryID] = pa
	return pa
}

// Get returns the pending approval for query_id, expiring it in place if
// its TTL has elapsed.
func (s *Store) Get(queryID string) (*PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(queryID)
}

func (s *Store) getLocked(queryID string) (*PendingApproval, error) {
	pa, ok := s.pending[queryID]
	if !ok {
		return nil, ErrNotFound
	}
	if pa.Status == StatusPending && pa.expired(s.clock()) {
		pa.Status = StatusExpired
	}
	if pa.Status == StatusExpired {
		return pa, ErrExpired
	}
	return pa, nil
}

// Reassess re-validates a modified SQL against the scorer supplied by the
// caller (the sqlvalidate package), compares the new risk against the
// original, and flags RequiresReapproval if risk increased. Both the
// modification and the new assessment are persisted.
func (s *Store) Reassess(queryID, modifiedSQL string, newRisk *state.ValidationResult, riskRank func(level string) int) (*PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, err := s.getLocked(queryID)
	if err != nil {
		return nil, err
	}

	increased := false
	if pa.RiskAssessment != nil && newRisk != nil {
		increased = riskRank(newRisk.RiskLevel) > riskRank(pa.RiskAssessment.RiskLevel)
	}

	pa.ModifiedSQL = modifiedSQL
	pa.RiskAssessment = newRisk
	pa.RequiresReapproval = increased
	return pa, nil
}

// MarkApproved checks the idempotency key first; if already consumed it
// returns ErrDuplicate without mutating the pending record. Otherwise it
// consumes the key and transitions the record to approved.
func (s *Store) MarkApproved(queryID, sql, approver, reason string, constraints map[string]any) (*PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, err := s.getLocked(queryID)
	if err != nil {
		return nil, err
	}

	key := IdempotencyKey(queryID, sql)
	now := s.clock()
	s.evictExpiredIdempotencyLocked(now)
	if _, consumed := s.idempotency[key]; consumed {
		return nil, ErrDuplicate
	}

	s.idempotency[key] = idempotencyEntry{consumedAt: now}
	pa.Status = StatusApproved
	pa.Approver = approver
	pa.Reason = reason
	pa.Constraints = constraints
	return pa, nil
}

// MarkRejected transitions the pending record to rejected. Rejection does
// not consume an idempotency key — only a successful approval does, per
// §8's "at most one successful mark_approved per idempotency key".
func (s *Store) MarkRejected(queryID, reason string) (*PendingApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, err := s.getLocked(queryID)
	if err != nil {
		return nil, err
	}
	pa.Status = StatusRejected
	pa.Reason = reason
	return pa, nil
}

func (s *Store) evictExpiredIdempotencyLocked(now time.Time) {
	for key, entry := range s.idempotency {
		if now.Sub(entry.consumedAt) > idempotencyTTL {
			delete(s.idempotency, key)
		}
	}
}
