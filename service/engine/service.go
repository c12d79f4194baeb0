// Package engine runs playbooks: it instantiates runs from published
// templates and advances them one step at a time. Each advance call settles
// at most one PENDING step, so a crashed worker re-runs a small, idempotent
// unit of work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autoact/autoact/errcode"
	"github.com/autoact/autoact/internal/clock"
	"github.com/autoact/autoact/internal/idgen"
	"github.com/autoact/autoact/metrics"
	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/model/graph"
	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/service/audit"
	"github.com/autoact/autoact/service/dao"
	daorun "github.com/autoact/autoact/service/dao/run"
	daotemplate "github.com/autoact/autoact/service/dao/template"
	"github.com/autoact/autoact/service/decision"
	"github.com/autoact/autoact/service/executor"
	"github.com/autoact/autoact/tracing"
)

// Service is the playbook run engine.
type Service struct {
	runs      daorun.Store
	templates daotemplate.Store
	decisions *decision.Service
	executor  *executor.Service
	audit     *audit.Logger
	metrics   *metrics.Metrics
}

// Option customises the engine.
type Option func(*Service)

// WithAudit overrides the audit logger.
func WithAudit(logger *audit.Logger) Option {
	return func(s *Service) { s.audit = logger }
}

// WithMetrics wires the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a run engine.
func New(runs daorun.Store, templates daotemplate.Store, decisions *decision.Service, exec *executor.Service, options ...Option) *Service {
	s := &Service{
		runs:      runs,
		templates: templates,
		decisions: decisions,
		executor:  exec,
		audit:     audit.New(),
		metrics:   metrics.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// InitiateInput describes a run to start.
type InitiateInput struct {
	TemplateID     string
	OrganizationID string
	CorrelationID  string
	InitiatedBy    string
	Context        map[string]interface{}
}

// InitiateRun creates a run from a published template and eagerly
// materialises its step rows.
func (s *Service) InitiateRun(ctx context.Context, input *InitiateInput) (*playbook.Run, error) {
	if input == nil || input.TemplateID == "" {
		return nil, errcode.New(errcode.ValidationError, "template id is required")
	}
	template, err := s.templates.Load(ctx, input.TemplateID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errcode.New(errcode.NotFound, "template %s not found", input.TemplateID)
		}
		return nil, err
	}
	if template.Status != playbook.TemplatePublished {
		return nil, errcode.New(errcode.ValidationError,
			"template %s is %s, only published templates can be run", template.Key, template.Status)
	}
	if issues := template.Validate(); len(issues) > 0 {
		return nil, errcode.New(errcode.ValidationError,
			"template %s is invalid: %s", template.Key, issues[0].Message)
	}

	correlationID := input.CorrelationID
	if correlationID == "" {
		correlationID = idgen.New()
	}
	run := &playbook.Run{
		ID:              idgen.New(),
		TemplateID:      template.ID,
		OrganizationID:  input.OrganizationID,
		CorrelationID:   correlationID,
		InitiatedBy:     input.InitiatedBy,
		Status:          playbook.RunInProgress,
		ContextSnapshot: action.ClonePayload(input.Context),
		StartedAt:       clock.Now(),
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	for _, step := range playbook.MaterializeSteps(run.ID, template, idgen.New) {
		if err := s.runs.SaveStep(ctx, step); err != nil {
			return nil, err
		}
	}
	s.metrics.RunsInitiated.Inc()
	s.audit.Event(audit.EventRunInitiated).
		Correlation(correlationID).Org(input.OrganizationID).
		Str("run_id", run.ID).
		Str("template_id", template.ID).
		Str("template_key", template.Key).Emit()
	return run, nil
}

// AdvanceResult reports what one advance call did.
type AdvanceResult struct {
	Run      *playbook.Run
	Step     *playbook.RunStep
	Advanced bool
}

// AdvanceRun settles the next PENDING step on the run's active path, then
// recomputes the run status. Advancing a terminal run is a no-op, so
// duplicate job deliveries are harmless.
func (s *Service) AdvanceRun(ctx context.Context, runID string) (*AdvanceResult, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.advance_run")
	result, err := s.advanceRun(ctx, runID)
	tracing.EndSpan(span, err)
	return result, err
}

func (s *Service) advanceRun(ctx context.Context, runID string) (*AdvanceResult, error) {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return &AdvanceResult{Run: run, Advanced: false}, nil
	}
	steps, err := s.runs.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	template, err := s.templates.Load(ctx, run.TemplateID)
	if err != nil {
		return nil, errcode.Wrap(errcode.PlaybookAdvance, err)
	}

	byTemplateID := stepIndex(steps)
	current := s.nextPending(steps, byTemplateID)
	if current == nil {
		return s.finalize(ctx, run, steps)
	}

	ec := &evalContext{snapshot: run.ContextSnapshot, steps: byTemplateID, now: clock.Now()}
	advanced := true
	switch current.Type {
	case graph.NodeAction:
		err = s.advanceAction(ctx, run, current, template)
	case graph.NodeBranch:
		err = s.advanceBranch(run, current, ec, false)
	case graph.NodeAIRouter:
		err = s.advanceBranch(run, current, ec, true)
	case graph.NodeCheck:
		err = s.advanceCheck(current, ec)
	case graph.NodeWait:
		advanced = s.advanceWait(current, ec)
	default:
		current.Status = playbook.StepFailed
		current.Trace(fmt.Sprintf("unknown step type %q", current.Type))
		err = errcode.New(errcode.PlaybookAdvance, "unknown step type %q", current.Type)
	}

	if !advanced {
		// waiting: nothing changed, the next wake-up re-evaluates
		return &AdvanceResult{Run: run, Step: current, Advanced: false}, nil
	}
	if current.Status == playbook.StepFailed && current.Optional {
		// an optional failure does not fail the advance
		err = nil
	}

	current.UpdatedAt = clock.Now()
	if saveErr := s.runs.SaveStep(ctx, current); saveErr != nil {
		return nil, saveErr
	}

	if current.Status == playbook.StepFailed && !current.Optional {
		run.Status = playbook.RunFailed
		now := clock.Now()
		run.CompletedAt = &now
		if saveErr := s.runs.SaveRun(ctx, run); saveErr != nil {
			return nil, saveErr
		}
		s.metrics.RunsFinished.WithLabelValues(string(run.Status)).Inc()
		s.audit.Error(audit.EventRunFailed, err).
			Correlation(run.CorrelationID).Org(run.OrganizationID).
			Str("run_id", run.ID).
			Str("step_id", current.ID).Emit()
		return &AdvanceResult{Run: run, Step: current, Advanced: true}, err
	}

	s.audit.Event(audit.EventRunAdvanced).
		Correlation(run.CorrelationID).Org(run.OrganizationID).
		Str("run_id", run.ID).
		Str("step_id", current.ID).
		Str("step_status", string(current.Status)).Emit()

	// completion is recomputed on the next call, one settled step per call
	return &AdvanceResult{Run: run, Step: current, Advanced: true}, err
}

// nextPending walks the routing chain from the first step and returns the
// first PENDING step on the active path, or nil when the path is exhausted.
// Precedence at every hop: selected next step, then the template's declared
// next step, then linear order.
func (s *Service) nextPending(steps []*playbook.RunStep, byTemplateID map[string]*playbook.RunStep) *playbook.RunStep {
	if len(steps) == 0 {
		return nil
	}
	linearNext := map[string]string{}
	for i := 0; i+1 < len(steps); i++ {
		linearNext[steps[i].TemplateStepID] = steps[i+1].TemplateStepID
	}

	current := steps[0]
	visited := map[string]bool{}
	for current != nil && !visited[current.TemplateStepID] {
		visited[current.TemplateStepID] = true
		// APPROVED counts as pending work: the decision was recorded but the
		// execution did not finish, so the step must be resumed.
		if current.Status == playbook.StepPending || current.Status == playbook.StepApproved {
			return current
		}
		next := current.SelectedNextStepID
		if next == "" {
			next = current.NextStepID
		}
		if next == "" {
			next = linearNext[current.TemplateStepID]
		}
		current = byTemplateID[next]
	}
	return nil
}

func stepIndex(steps []*playbook.RunStep) map[string]*playbook.RunStep {
	out := make(map[string]*playbook.RunStep, len(steps))
	for _, step := range steps {
		out[step.TemplateStepID] = step
	}
	return out
}

// advanceAction approves and executes an ACTION step through the decision
// ledger and execution adapter, so playbook side effects carry the same
// audit trail as standalone ones.
func (s *Service) advanceAction(ctx context.Context, run *playbook.Run, step *playbook.RunStep, template *playbook.Template) error {
	actionType := action.TypePlaybookStep
	title := ""
	for _, templateStep := range template.Steps() {
		if templateStep.ID == step.TemplateStepID {
			if templateStep.ActionType != "" {
				actionType = templateStep.ActionType
			}
			title = templateStep.Title
			break
		}
	}

	proposal := &action.Proposal{
		ID:            fmt.Sprintf("%s:%s", run.ID, step.TemplateStepID),
		ActionType:    actionType,
		Scope:         fmt.Sprintf("playbook_run:%s", run.ID),
		RiskLevel:     action.RiskLow,
		Payload:       resolvePayload(step.ResolvedPayload, run.ContextSnapshot),
		Signal:        title,
		CorrelationID: run.CorrelationID,
	}

	if step.DecisionID == "" {
		auto, err := s.decisions.AutoDecideFor(ctx, proposal, run.OrganizationID)
		if err != nil {
			step.Status = playbook.StepFailed
			step.Trace("policy evaluation failed: " + err.Error())
			return errcode.Wrap(errcode.PlaybookAdvance, err)
		}
		switch {
		case auto != nil && auto.Decision == action.DecisionRejected:
			// a guardrail veto skips the step, it does not fail the run
			step.DecisionID = auto.ID
			step.Status = playbook.StepSkipped
			step.Trace(fmt.Sprintf("rejected by policy rule %s: %s", auto.PolicyRuleID, auto.Reason))
			return nil
		case auto != nil:
			step.DecisionID = auto.ID
			step.Status = playbook.StepApproved
			step.Trace("approved via policy rule " + auto.PolicyRuleID)
		default:
			record, err := s.decisions.RecordFor(ctx, proposal, &decision.Input{
				ProposalID:     proposal.ID,
				OrganizationID: run.OrganizationID,
				Decision:       action.DecisionApproved,
				DecidedBy:      run.InitiatedBy,
				Reason:         fmt.Sprintf("playbook run %s step %s", run.ID, step.TemplateStepID),
			})
			if err != nil {
				step.Status = playbook.StepFailed
				step.Trace("decision failed: " + err.Error())
				return errcode.Wrap(errcode.PlaybookAdvance, err)
			}
			step.DecisionID = record.ID
			step.Status = playbook.StepApproved
			step.Trace("approved via decision " + record.ID)
		}
	}

	result, err := s.executor.Execute(ctx, &executor.Request{
		DecisionID: step.DecisionID,
		ExecutedBy: run.InitiatedBy,
	})
	if err != nil {
		step.Status = playbook.StepFailed
		if result != nil && result.Execution != nil {
			step.ExecutionID = result.Execution.ID
		}
		step.Trace("execution failed: " + err.Error())
		return err
	}
	step.ExecutionID = result.Execution.ID
	step.Outputs = result.Execution.Result
	step.Status = playbook.StepExecuted
	step.Trace("executed via execution " + result.Execution.ID)
	return nil
}

// advanceBranch routes by the first matching rule. A branch that matches
// nothing and has no fallback fails the step: silent fall-through would
// execute a path the author never chose.
func (s *Service) advanceBranch(run *playbook.Run, step *playbook.RunStep, ec *evalContext, aiRouter bool) error {
	if aiRouter {
		step.Trace("ai_router evaluated with deterministic rules")
	}
	var fallback string
	for _, rule := range step.Rules {
		matched, trace := evalRule(rule, ec)
		step.Trace(trace)
		if matched {
			step.SelectedNextStepID = rule.Goto
			step.Status = playbook.StepExecuted
			step.Trace("routed to " + rule.Goto)
			return nil
		}
		if fallback == "" && rule.ElseGoto != "" {
			fallback = rule.ElseGoto
		}
	}
	if fallback != "" {
		step.SelectedNextStepID = fallback
		step.Status = playbook.StepExecuted
		step.Trace("no rule matched, routed to fallback " + fallback)
		return nil
	}
	step.Status = playbook.StepFailed
	step.Trace("no rule matched and no fallback declared")
	return errcode.New(errcode.PlaybookAdvance,
		"branch step %s matched no rule and has no fallback", step.TemplateStepID)
}

// advanceCheck evaluates the first rule as a boolean gate.
func (s *Service) advanceCheck(step *playbook.RunStep, ec *evalContext) error {
	if len(step.Rules) == 0 {
		step.Status = playbook.StepExecuted
		step.Trace("check has no rules, passing through")
		return nil
	}
	rule := step.Rules[0]
	matched, trace := evalRule(rule, ec)
	step.Trace(trace)
	step.Status = playbook.StepExecuted
	if matched {
		if rule.Goto != "" {
			step.SelectedNextStepID = rule.Goto
		}
		step.Trace("check passed")
		return nil
	}
	if rule.ElseGoto != "" {
		step.SelectedNextStepID = rule.ElseGoto
		step.Trace("check failed, routed to " + rule.ElseGoto)
		return nil
	}
	step.Trace("check failed, continuing on the default path")
	return nil
}

// advanceWait reports whether the wait elapsed. An unmet wait leaves the
// step PENDING and mutates nothing.
func (s *Service) advanceWait(step *playbook.RunStep, ec *evalContext) bool {
	if len(step.Rules) == 0 {
		step.Status = playbook.StepExecuted
		step.Trace("wait has no rules, passing through")
		return true
	}
	matched, trace := evalRule(step.Rules[0], ec)
	if !matched {
		return false
	}
	step.Status = playbook.StepExecuted
	step.Trace(trace)
	return true
}

// finalize marks off-path PENDING steps as SKIPPED and settles the run
// status. It is idempotent.
func (s *Service) finalize(ctx context.Context, run *playbook.Run, steps []*playbook.RunStep) (*AdvanceResult, error) {
	failed := false
	for _, step := range steps {
		switch step.Status {
		case playbook.StepPending:
			step.Status = playbook.StepSkipped
			step.Trace("off the selected path")
			step.UpdatedAt = clock.Now()
			if err := s.runs.SaveStep(ctx, step); err != nil {
				return nil, err
			}
		case playbook.StepFailed:
			if !step.Optional {
				failed = true
			}
		case playbook.StepRejected:
			if !step.Optional {
				failed = true
			}
		}
	}
	status := playbook.RunCompleted
	if failed {
		status = playbook.RunFailed
	}
	if run.Status != status {
		run.Status = status
		now := clock.Now()
		run.CompletedAt = &now
		if err := s.runs.SaveRun(ctx, run); err != nil {
			return nil, err
		}
		s.metrics.RunsFinished.WithLabelValues(string(status)).Inc()
		event := audit.EventRunCompleted
		if failed {
			event = audit.EventRunFailed
		}
		s.audit.Event(event).
			Correlation(run.CorrelationID).Org(run.OrganizationID).
			Str("run_id", run.ID).Emit()
	}
	return &AdvanceResult{Run: run, Advanced: false}, nil
}

// RouteDecision is the outcome of a routing dry run.
type RouteDecision struct {
	StepID     string   `json:"stepId"`
	NextStepID string   `json:"nextStepId,omitempty"`
	Trace      []string `json:"trace,omitempty"`
}

// DryRunRoute evaluates a BRANCH/CHECK/AI_ROUTER step's rules against the
// current run state without mutating anything.
func (s *Service) DryRunRoute(ctx context.Context, runID, stepID string) (*RouteDecision, error) {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := s.runs.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	var target *playbook.RunStep
	for _, step := range steps {
		if step.ID == stepID || step.TemplateStepID == stepID {
			target = step
			break
		}
	}
	if target == nil {
		return nil, errcode.New(errcode.NotFound, "step %s not found in run %s", stepID, runID)
	}

	ec := &evalContext{snapshot: run.ContextSnapshot, steps: stepIndex(steps), now: clock.Now()}
	route := &RouteDecision{StepID: target.ID}
	var fallback string
	for _, rule := range target.Rules {
		matched, trace := evalRule(rule, ec)
		route.Trace = append(route.Trace, trace)
		if matched {
			route.NextStepID = rule.Goto
			return route, nil
		}
		if fallback == "" && rule.ElseGoto != "" {
			fallback = rule.ElseGoto
		}
	}
	route.NextStepID = fallback
	if route.NextStepID == "" {
		route.NextStepID = target.NextStepID
	}
	return route, nil
}

// CancelRun stops a non-terminal run and skips its remaining steps.
func (s *Service) CancelRun(ctx context.Context, runID string) (*playbook.Run, error) {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, errcode.New(errcode.ValidationError,
			"run %s is %s and cannot be cancelled", runID, run.Status)
	}
	steps, err := s.runs.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if step.Status == playbook.StepPending {
			step.Status = playbook.StepSkipped
			step.Trace("run cancelled")
			step.UpdatedAt = clock.Now()
			if err := s.runs.SaveStep(ctx, step); err != nil {
				return nil, err
			}
		}
	}
	run.Status = playbook.RunCancelled
	now := clock.Now()
	run.CompletedAt = &now
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	s.metrics.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	s.audit.Event(audit.EventRunCancelled).
		Correlation(run.CorrelationID).Org(run.OrganizationID).
		Str("run_id", run.ID).Emit()
	return run, nil
}

// GetRun returns a run with its steps.
func (s *Service) GetRun(ctx context.Context, runID string) (*playbook.Run, []*playbook.RunStep, error) {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.runs.ListSteps(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, steps, nil
}

func (s *Service) loadRun(ctx context.Context, runID string) (*playbook.Run, error) {
	run, err := s.runs.LoadRun(ctx, runID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errcode.New(errcode.NotFound, "run %s not found", runID)
		}
		return nil, err
	}
	return run, nil
}

// resolvePayload fills empty payload fields from the run context when the
// template marks them with a "$context." reference.
func resolvePayload(payload, snapshot map[string]interface{}) map[string]interface{} {
	resolved := action.ClonePayload(payload)
	if resolved == nil {
		return nil
	}
	for key, value := range resolved {
		ref, ok := value.(string)
		if !ok || len(ref) < 10 || ref[:9] != "$context." {
			continue
		}
		if replacement, found := lookupMap(snapshot, splitPath(ref[9:])); found {
			resolved[key] = replacement
		}
	}
	return resolved
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
