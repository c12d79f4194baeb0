// Package decision implements the append-only decision ledger. Every verdict
// about a proposed action, human or automated, becomes one immutable row
// here before anything is allowed to execute.
package decision

import (
	"context"
	"errors"
	"time"

	"github.com/autoact/autoact/errcode"
	"github.com/autoact/autoact/internal/clock"
	"github.com/autoact/autoact/internal/idgen"
	"github.com/autoact/autoact/metrics"
	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/policy"
	"github.com/autoact/autoact/service/audit"
	"github.com/autoact/autoact/service/dao"
	daodecision "github.com/autoact/autoact/service/dao/decision"
	"github.com/autoact/autoact/service/evidence"
)

// ProposalSource fetches proposals from the authoritative system of record.
// The ledger never trusts a caller-supplied proposal body.
type ProposalSource interface {
	GetProposal(ctx context.Context, id string) (*action.Proposal, error)
}

// Input describes a decision to record.
type Input struct {
	ProposalID      string
	OrganizationID  string
	Decision        action.DecisionKind
	DecidedBy       string
	Reason          string
	ModifiedPayload map[string]interface{}
	PolicyRuleID    string
}

// Service is the decision ledger.
type Service struct {
	store     daodecision.Store
	proposals ProposalSource
	engine    *policy.Engine
	evidence  evidence.Sink
	audit     *audit.Logger
	metrics   *metrics.Metrics
}

// Option customises the ledger.
type Option func(*Service)

// WithEvidence attaches an explainability sink. Recording is asynchronous
// and best effort.
func WithEvidence(sink evidence.Sink) Option {
	return func(s *Service) { s.evidence = sink }
}

// WithAudit overrides the audit logger.
func WithAudit(logger *audit.Logger) Option {
	return func(s *Service) { s.audit = logger }
}

// WithMetrics wires the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a decision ledger. engine may be nil when policy automation
// is not wired; AutoDecideByPolicy then always reports unmatched.
func New(store daodecision.Store, proposals ProposalSource, engine *policy.Engine, options ...Option) *Service {
	s := &Service{
		store:     store,
		proposals: proposals,
		engine:    engine,
		audit:     audit.New(),
		metrics:   metrics.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

var _ policy.Counter = (*Service)(nil)

// Record validates and appends one decision row. The proposal is fetched
// server-side and frozen into the row as an immutable snapshot.
func (s *Service) Record(ctx context.Context, input *Input) (*action.Decision, error) {
	if input == nil {
		return nil, errcode.New(errcode.ValidationError, "decision input is required")
	}
	switch input.Decision {
	case action.DecisionApproved, action.DecisionRejected, action.DecisionModified:
	default:
		return nil, errcode.New(errcode.ValidationError, "unknown decision kind %q", input.Decision)
	}
	if input.DecidedBy == "" {
		return nil, errcode.New(errcode.ValidationError, "decided_by is required")
	}

	proposal, err := s.proposals.GetProposal(ctx, input.ProposalID)
	if err != nil {
		return nil, errcode.Wrap(errcode.NotFound, err)
	}
	if proposal == nil {
		return nil, errcode.New(errcode.NotFound, "proposal %s not found", input.ProposalID)
	}
	return s.record(ctx, proposal, input)
}

// RecordFor records a decision for a proposal the caller materialised
// itself, such as a playbook step. External proposals go through Record,
// which fetches them from the authoritative source.
func (s *Service) RecordFor(ctx context.Context, proposal *action.Proposal, input *Input) (*action.Decision, error) {
	if input == nil {
		return nil, errcode.New(errcode.ValidationError, "decision input is required")
	}
	switch input.Decision {
	case action.DecisionApproved, action.DecisionRejected, action.DecisionModified:
	default:
		return nil, errcode.New(errcode.ValidationError, "unknown decision kind %q", input.Decision)
	}
	if input.DecidedBy == "" {
		return nil, errcode.New(errcode.ValidationError, "decided_by is required")
	}
	if proposal == nil {
		return nil, errcode.New(errcode.NotFound, "proposal %s not found", input.ProposalID)
	}
	return s.record(ctx, proposal, input)
}

func (s *Service) record(ctx context.Context, proposal *action.Proposal, input *Input) (*action.Decision, error) {
	var modified map[string]interface{}
	if input.Decision == action.DecisionModified {
		filtered, offending := action.FilterModifiedPayload(proposal.ActionType, input.ModifiedPayload)
		if offending != "" {
			return nil, errcode.New(errcode.ValidationError,
				"field %q is not modifiable for action type %s", offending, proposal.ActionType)
		}
		modified = filtered
	}

	correlationID := proposal.CorrelationID
	if correlationID == "" {
		correlationID = idgen.New()
	}

	record := &action.Decision{
		ID:               idgen.New(),
		ProposalID:       proposal.ID,
		OrganizationID:   input.OrganizationID,
		CorrelationID:    correlationID,
		ActionType:       proposal.ActionType,
		Scope:            proposal.Scope,
		Decision:         input.Decision,
		DecidedBy:        input.DecidedBy,
		Reason:           input.Reason,
		ProposalSnapshot: proposal.Clone(),
		ModifiedPayload:  modified,
		PolicyRuleID:     input.PolicyRuleID,
		CreatedAt:        clock.Now(),
	}

	if err := s.store.Insert(ctx, record); err != nil {
		if errors.Is(err, dao.ErrConflict) {
			s.audit.Warn(audit.EventDecisionConflict).
				Correlation(correlationID).Org(input.OrganizationID).
				Str("proposal_id", proposal.ID).Emit()
			return nil, errcode.New(errcode.Conflict,
				"proposal %s already has an active approval", proposal.ID)
		}
		return nil, errcode.Wrap(errcode.ExecutionError, err)
	}

	event := audit.EventDecisionRecorded
	automated := "false"
	if input.DecidedBy == action.SystemPolicyDeciderID {
		event = audit.EventDecisionAutomated
		automated = "true"
	}
	s.metrics.DecisionsRecorded.WithLabelValues(string(record.Decision), automated).Inc()
	s.audit.Event(event).
		Correlation(correlationID).Org(input.OrganizationID).
		Str("decision_id", record.ID).
		Str("proposal_id", proposal.ID).
		Str("action_type", proposal.ActionType).
		Str("decision", string(record.Decision)).
		Str("decided_by", record.DecidedBy).Emit()

	s.recordEvidence(record)
	return record, nil
}

// AutoDecideByPolicy evaluates the proposal against the policy engine and,
// when a rule matches, records the automated decision. A nil decision with a
// nil error means no rule matched and manual approval is required.
func (s *Service) AutoDecideByPolicy(ctx context.Context, proposalID, orgID string) (*action.Decision, error) {
	if s.engine == nil {
		return nil, nil
	}
	proposal, err := s.proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, errcode.Wrap(errcode.NotFound, err)
	}
	evaluation, err := s.engine.Evaluate(ctx, proposal, orgID)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExecutionError, err)
	}
	if !evaluation.Matched {
		return nil, nil
	}
	return s.Record(ctx, &Input{
		ProposalID:     proposalID,
		OrganizationID: orgID,
		Decision:       evaluation.Decision,
		DecidedBy:      action.SystemPolicyDeciderID,
		Reason:         evaluation.Reason,
		PolicyRuleID:   evaluation.RuleID,
	})
}

// AutoDecideFor evaluates a caller-materialised proposal, such as a playbook
// step, against the policy engine and records the automated decision when a
// rule matches. A nil decision with a nil error means no rule matched.
func (s *Service) AutoDecideFor(ctx context.Context, proposal *action.Proposal, orgID string) (*action.Decision, error) {
	if s.engine == nil || proposal == nil {
		return nil, nil
	}
	evaluation, err := s.engine.Evaluate(ctx, proposal, orgID)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExecutionError, err)
	}
	if !evaluation.Matched {
		return nil, nil
	}
	return s.record(ctx, proposal, &Input{
		ProposalID:     proposal.ID,
		OrganizationID: orgID,
		Decision:       evaluation.Decision,
		DecidedBy:      action.SystemPolicyDeciderID,
		Reason:         evaluation.Reason,
		PolicyRuleID:   evaluation.RuleID,
	})
}

// Get returns a decision by id.
func (s *Service) Get(ctx context.Context, id string) (*action.Decision, error) {
	record, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errcode.New(errcode.NotFound, "decision %s not found", id)
		}
		return nil, err
	}
	return record, nil
}

// History returns every decision recorded for a proposal in order.
func (s *Service) History(ctx context.Context, proposalID string) ([]*action.Decision, error) {
	return s.store.ListByProposal(ctx, proposalID)
}

// AutoApprovedCountToday counts the automated decisions recorded for the org
// since local midnight. It backs the policy engine's max_actions_per_day
// condition.
func (s *Service) AutoApprovedCountToday(ctx context.Context, orgID string) (int, error) {
	now := clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.store.CountByDeciderSince(ctx, orgID, action.SystemPolicyDeciderID, midnight)
}

// recordEvidence pushes the explainability record without blocking or
// failing the decision path.
func (s *Service) recordEvidence(record *action.Decision) {
	if s.evidence == nil {
		return
	}
	kind := evidence.KindDecisionEvidence
	if record.DecidedBy == action.SystemPolicyDeciderID {
		kind = evidence.KindPolicyReasoning
	}
	payload := &evidence.Record{
		DecisionID:     record.ID,
		OrganizationID: record.OrganizationID,
		CorrelationID:  record.CorrelationID,
		Kind:           kind,
		Summary:        record.Reason,
		Detail: map[string]interface{}{
			"decision":       string(record.Decision),
			"decided_by":     record.DecidedBy,
			"action_type":    record.ActionType,
			"policy_rule_id": record.PolicyRuleID,
		},
		CreatedAt: record.CreatedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// best effort: a failing sink never affects the recorded decision
		_ = s.evidence.Record(ctx, payload)
	}()
}
