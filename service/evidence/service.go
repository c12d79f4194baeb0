// Package evidence captures the explainability trail attached to decisions.
// Recording is fire and forget: a failing or slow sink must never delay or
// fail the decision path it documents.
package evidence

import (
	"context"
	"sync"
	"time"
)

// Record is one explainability artifact attached to a decision.
type Record struct {
	DecisionID     string                 `json:"decisionId"`
	OrganizationID string                 `json:"organizationId"`
	CorrelationID  string                 `json:"correlationId"`
	Kind           string                 `json:"kind"`
	Summary        string                 `json:"summary"`
	Detail         map[string]interface{} `json:"detail,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// Record kinds emitted by the decision ledger.
const (
	KindDecisionEvidence = "DECISION_EVIDENCE"
	KindPolicyReasoning  = "POLICY_REASONING"
)

// Sink receives explainability records. Implementations should be fast;
// callers invoke them asynchronously and drop errors.
type Sink interface {
	Record(ctx context.Context, record *Record) error
}

// Memory is an in-process sink that retains records for inspection.
type Memory struct {
	mu      sync.Mutex
	records []*Record
}

var _ Sink = (*Memory)(nil)

// NewMemory creates an empty in-process evidence sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record stores the record.
func (m *Memory) Record(_ context.Context, record *Record) error {
	if record == nil {
		return nil
	}
	clone := *record
	m.mu.Lock()
	m.records = append(m.records, &clone)
	m.mu.Unlock()
	return nil
}

// ByDecision returns the records attached to a decision.
func (m *Memory) ByDecision(decisionID string) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, record := range m.records {
		if record.DecisionID == decisionID {
			out = append(out, record)
		}
	}
	return out
}

// Len returns the total number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
