// Package executor performs approved actions through registered capability
// executors and writes the durable execution record. A decision that already
// has a SUCCESS execution is replayed, never re-executed.
package executor

import (
	"context"
	"errors"
	"sort"

	"github.com/autoact/autoact/errcode"
	"github.com/autoact/autoact/internal/clock"
	"github.com/autoact/autoact/internal/idgen"
	"github.com/autoact/autoact/metrics"
	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/service/audit"
	"github.com/autoact/autoact/service/dao"
	daodecision "github.com/autoact/autoact/service/dao/decision"
	daoexecution "github.com/autoact/autoact/service/dao/execution"
	"github.com/autoact/autoact/tracing"
)

// Metadata accompanies an execution attempt into the capability executor.
type Metadata struct {
	DecisionID     string
	ProposalID     string
	OrganizationID string
	CorrelationID  string
	ExecutedBy     string
	JobID          string
}

// Executor is one action-type capability. Execute performs the side effect
// and returns a result payload for the execution record.
type Executor interface {
	Execute(ctx context.Context, payload map[string]interface{}, meta Metadata) (map[string]interface{}, error)
}

// DryRunner is optionally implemented by executors that can describe what a
// real run would do. Executors without it get a generic plan.
type DryRunner interface {
	Plan(ctx context.Context, payload map[string]interface{}, meta Metadata) (*action.Plan, error)
}

// Service dispatches decisions to registered executors.
type Service struct {
	decisions  daodecision.Store
	executions daoexecution.Store
	registry   map[string]Executor
	audit      *audit.Logger
	metrics    *metrics.Metrics
}

// Option customises the adapter.
type Option func(*Service)

// WithAudit overrides the audit logger.
func WithAudit(logger *audit.Logger) Option {
	return func(s *Service) { s.audit = logger }
}

// WithMetrics wires the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates an execution adapter with an empty registry.
func New(decisions daodecision.Store, executions daoexecution.Store, options ...Option) *Service {
	s := &Service{
		decisions:  decisions,
		executions: executions,
		registry:   map[string]Executor{},
		audit:      audit.New(),
		metrics:    metrics.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Register binds an executor to an action type, replacing any previous one.
func (s *Service) Register(actionType string, executor Executor) {
	s.registry[actionType] = executor
}

// Types returns the registered action types in sorted order.
func (s *Service) Types() []string {
	types := make([]string, 0, len(s.registry))
	for t := range s.registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Request identifies the decision to execute.
type Request struct {
	DecisionID string
	ExecutedBy string
	JobID      string
	DryRun     bool
}

// Result is the outcome of Execute. Exactly one of Execution/Plan is set:
// Plan for dry runs, Execution otherwise.
type Result struct {
	Execution *action.Execution
	Plan      *action.Plan
}

// Execute performs (or plans) the action behind an approved decision.
//
// Replay semantics: when a SUCCESS execution already exists for the decision
// it is returned as-is with IdempotentReplay set, and no executor runs.
// Failed attempts do not block re-execution.
func (s *Service) Execute(ctx context.Context, request *Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "executor.execute")
	result, err := s.execute(ctx, request)
	tracing.EndSpan(span, err)
	return result, err
}

func (s *Service) execute(ctx context.Context, request *Request) (*Result, error) {
	if request == nil || request.DecisionID == "" {
		return nil, errcode.New(errcode.ValidationError, "decision id is required")
	}
	decision, err := s.decisions.Load(ctx, request.DecisionID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errcode.New(errcode.NotFound, "decision %s not found", request.DecisionID)
		}
		return nil, err
	}
	if !decision.Decision.Active() {
		return nil, errcode.New(errcode.ValidationError,
			"decision %s is %s and cannot be executed", decision.ID, decision.Decision)
	}
	if decision.ProposalSnapshot == nil {
		return nil, errcode.New(errcode.ValidationError, "decision %s has no proposal snapshot", decision.ID)
	}

	if !request.DryRun {
		if existing, err := s.executions.FindSuccess(ctx, decision.ID); err != nil {
			return nil, err
		} else if existing != nil {
			replay := *existing
			replay.IdempotentReplay = true
			s.audit.Event(audit.EventExecutionReplayed).
				Correlation(decision.CorrelationID).Org(decision.OrganizationID).
				Str("decision_id", decision.ID).
				Str("execution_id", existing.ID).Emit()
			return &Result{Execution: &replay}, nil
		}
	}

	payload := action.OverlayPayload(decision.ProposalSnapshot.Payload, decision.ModifiedPayload)
	meta := Metadata{
		DecisionID:     decision.ID,
		ProposalID:     decision.ProposalID,
		OrganizationID: decision.OrganizationID,
		CorrelationID:  decision.CorrelationID,
		ExecutedBy:     request.ExecutedBy,
		JobID:          request.JobID,
	}

	executor, ok := s.registry[decision.ActionType]
	if !ok {
		return nil, errcode.New(errcode.ValidationError,
			"no executor registered for action type %s", decision.ActionType)
	}

	if request.DryRun {
		plan, err := s.plan(ctx, executor, decision, payload, meta)
		if err != nil {
			return nil, err
		}
		s.audit.Event(audit.EventExecutionDryRun).
			Correlation(decision.CorrelationID).Org(decision.OrganizationID).
			Str("decision_id", decision.ID).
			Str("action_type", decision.ActionType).Emit()
		return &Result{Plan: plan}, nil
	}

	s.audit.Event(audit.EventExecutionStarted).
		Correlation(decision.CorrelationID).Org(decision.OrganizationID).
		Str("decision_id", decision.ID).
		Str("action_type", decision.ActionType).
		Str("executed_by", request.ExecutedBy).Emit()

	started := clock.Now()
	output, execErr := executor.Execute(ctx, payload, meta)
	duration := clock.Now().Sub(started)

	record := &action.Execution{
		ID:             idgen.New(),
		DecisionID:     decision.ID,
		ProposalID:     decision.ProposalID,
		ActionType:     decision.ActionType,
		OrganizationID: decision.OrganizationID,
		CorrelationID:  decision.CorrelationID,
		ExecutedBy:     request.ExecutedBy,
		JobID:          request.JobID,
		DurationMs:     duration.Milliseconds(),
		CreatedAt:      clock.Now(),
	}
	if execErr != nil {
		code := errcode.CodeOf(execErr)
		record.Status = action.ExecutionFailed
		record.ErrorCode = string(code)
		record.ErrorMessage = execErr.Error()
	} else {
		record.Status = action.ExecutionSuccess
		record.Result = output
	}

	if err := s.executions.Insert(ctx, record); err != nil {
		if errors.Is(err, dao.ErrConflict) {
			// lost a race against a concurrent successful attempt; replay it
			existing, ferr := s.executions.FindSuccess(ctx, decision.ID)
			if ferr == nil && existing != nil {
				replay := *existing
				replay.IdempotentReplay = true
				return &Result{Execution: &replay}, nil
			}
		}
		return nil, err
	}

	s.metrics.Executions.WithLabelValues(decision.ActionType, string(record.Status)).Inc()
	s.metrics.ExecutionDuration.WithLabelValues(decision.ActionType).Observe(duration.Seconds())

	if execErr != nil {
		s.audit.Error(audit.EventExecutionFailed, execErr).
			Correlation(decision.CorrelationID).Org(decision.OrganizationID).
			Str("decision_id", decision.ID).
			Str("execution_id", record.ID).
			Str("error_code", record.ErrorCode).Emit()
		return &Result{Execution: record}, errcode.Wrap(errcode.Code(record.ErrorCode), execErr)
	}
	s.audit.Event(audit.EventExecutionSucceeded).
		Correlation(decision.CorrelationID).Org(decision.OrganizationID).
		Str("decision_id", decision.ID).
		Str("execution_id", record.ID).
		Dur("duration", duration).Emit()
	return &Result{Execution: record}, nil
}

func (s *Service) plan(ctx context.Context, executor Executor, decision *action.Decision, payload map[string]interface{}, meta Metadata) (*action.Plan, error) {
	if dryRunner, ok := executor.(DryRunner); ok {
		return dryRunner.Plan(ctx, payload, meta)
	}
	return &action.Plan{
		WouldDo:       []string{"execute " + decision.ActionType + " with the effective payload"},
		MissingInputs: action.MissingInputs(decision.ActionType, payload),
	}, nil
}

// History returns every execution attempt recorded for a decision.
func (s *Service) History(ctx context.Context, decisionID string) ([]*action.Execution, error) {
	return s.executions.ListByDecision(ctx, decisionID)
}
