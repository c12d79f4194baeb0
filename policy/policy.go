package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/autoact/autoact/model/action"
)

// ConditionKind is the closed set of rule condition kinds. Adding a kind is
// a compile-time exercise: the evaluator switches exhaustively and treats
// anything else as non-matching.
type ConditionKind string

const (
	RiskLevelLTE     ConditionKind = "risk_level_lte"
	ActionTypeIn     ConditionKind = "action_type_in"
	ScopeEq          ConditionKind = "scope_eq"
	SignalIn         ConditionKind = "signal_in"
	MaxActionsPerDay ConditionKind = "max_actions_per_day"
	TimeWindow       ConditionKind = "time_window"
)

// Time window parameter values.
const (
	WindowAnytime       = "anytime"
	WindowBusinessHours = "business_hours"
)

// Condition is one rule predicate. Only the parameter fields relevant to
// its Kind are set.
type Condition struct {
	Kind   ConditionKind    `json:"kind" yaml:"kind"`
	Level  action.RiskLevel `json:"level,omitempty" yaml:"level,omitempty"`
	Values []string         `json:"values,omitempty" yaml:"values,omitempty"`
	Scope  string           `json:"scope,omitempty" yaml:"scope,omitempty"`
	Limit  int              `json:"limit,omitempty" yaml:"limit,omitempty"`
	Window string           `json:"window,omitempty" yaml:"window,omitempty"`
}

// Rule is an administrator-configured auto-decision rule. The engine only
// reads rules; creation and toggling happen elsewhere.
type Rule struct {
	ID                 string              `json:"id" yaml:"id"`
	OrganizationID     string              `json:"organizationId" yaml:"organizationId"`
	ActionType         string              `json:"actionType" yaml:"actionType"`
	Scope              string              `json:"scope" yaml:"scope"`
	MaxRiskLevel       action.RiskLevel    `json:"maxRiskLevel" yaml:"maxRiskLevel"`
	Conditions         []Condition         `json:"conditions" yaml:"conditions"`
	AutoDecision       action.DecisionKind `json:"autoDecision" yaml:"autoDecision"`
	AutoDecisionReason string              `json:"autoDecisionReason" yaml:"autoDecisionReason"`
	Enabled            bool                `json:"enabled" yaml:"enabled"`

	// Seq is a monotonic insertion sequence used as the ordering tie-break
	// for rules created within the same timestamp granularity.
	Seq       int64     `json:"seq" yaml:"seq"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// RuleSource supplies enabled rules for an (org, action type, scope)
// triple.
type RuleSource interface {
	ListEnabled(ctx context.Context, orgID, actionType, scope string) ([]*Rule, error)
}

// Counter answers the bounded internal query used by max_actions_per_day:
// how many decisions the system decider recorded today for the org.
type Counter interface {
	AutoApprovedCountToday(ctx context.Context, orgID string) (int, error)
}

// Evaluation is the outcome of a policy check.
type Evaluation struct {
	Matched  bool                `json:"matched"`
	Decision action.DecisionKind `json:"decision,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	RuleID   string              `json:"ruleId,omitempty"`
}

// Engine evaluates proposals against the configured rules.
type Engine struct {
	rules   RuleSource
	counter Counter
	enabled bool
	now     func() time.Time
}

// Option customises the engine.
type Option func(*Engine)

// WithDisabled turns the engine off globally; every proposal then falls
// back to manual approval.
func WithDisabled() Option {
	return func(e *Engine) { e.enabled = false }
}

// WithNow overrides the time source, used by time_window tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a policy engine. counter may be nil when no rule uses
// max_actions_per_day; such rules then never match.
func New(rules RuleSource, counter Counter, options ...Option) *Engine {
	e := &Engine{rules: rules, counter: counter, enabled: true, now: time.Now}
	for _, option := range options {
		option(e)
	}
	return e
}

// Evaluate decides whether the proposal may be auto-decided. An unmatched
// evaluation means the caller must fall back to manual approval.
func (e *Engine) Evaluate(ctx context.Context, proposal *action.Proposal, orgID string) (*Evaluation, error) {
	unmatched := &Evaluation{Matched: false}
	if !e.enabled || proposal == nil {
		return unmatched, nil
	}

	// Guardrails – not overridable by any rule.
	if proposal.RiskLevel == action.RiskHigh {
		return unmatched, nil
	}
	if proposal.ActionType == action.TypeMeetingSchedule {
		return unmatched, nil
	}

	rules, err := e.rules.ListEnabled(ctx, orgID, proposal.ActionType, proposal.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy rules: %w", err)
	}
	sortRules(rules)

	for _, rule := range rules {
		// A rule with max_risk_level=LOW matches only LOW proposals; HIGH
		// matches any.
		if proposal.RiskLevel.Rank() > rule.MaxRiskLevel.Rank() {
			continue
		}
		matched, err := e.matchAll(ctx, rule, proposal, orgID)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		decision := rule.AutoDecision
		if decision == "" {
			decision = action.DecisionApproved
		}
		reason := rule.AutoDecisionReason
		if reason == "" {
			reason = fmt.Sprintf("auto-decided by policy rule %s", rule.ID)
		}
		return &Evaluation{Matched: true, Decision: decision, Reason: reason, RuleID: rule.ID}, nil
	}
	return unmatched, nil
}

// sortRules orders by CreatedAt ascending with Seq as the deterministic
// tie-break; the first matching rule wins, there is no scoring or merging.
func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].Seq < rules[j].Seq
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

// matchAll evaluates the rule's condition list as a logical AND.
func (e *Engine) matchAll(ctx context.Context, rule *Rule, proposal *action.Proposal, orgID string) (bool, error) {
	for _, condition := range rule.Conditions {
		matched, err := e.match(ctx, condition, proposal, orgID)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) match(ctx context.Context, condition Condition, proposal *action.Proposal, orgID string) (bool, error) {
	switch condition.Kind {
	case RiskLevelLTE:
		return proposal.RiskLevel.Rank() <= condition.Level.Rank(), nil
	case ActionTypeIn:
		return contains(condition.Values, proposal.ActionType), nil
	case ScopeEq:
		return proposal.Scope == condition.Scope, nil
	case SignalIn:
		return contains(condition.Values, proposal.Signal), nil
	case MaxActionsPerDay:
		if e.counter == nil {
			return false, nil
		}
		count, err := e.counter.AutoApprovedCountToday(ctx, orgID)
		if err != nil {
			return false, fmt.Errorf("failed to count auto-approved decisions: %w", err)
		}
		return count < condition.Limit, nil
	case TimeWindow:
		switch condition.Window {
		case WindowAnytime, "":
			return true, nil
		case WindowBusinessHours:
			return businessHours(e.now()), nil
		default:
			return false, nil
		}
	default:
		// Unknown condition kinds never match – fail safe, never fail open.
		return false, nil
	}
}

// businessHours reports whether t falls on Mon-Fri 09:00-17:00 local time.
func businessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	hour := t.Hour()
	return hour >= 9 && hour < 17
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
