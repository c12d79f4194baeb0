// Package action defines the proposal / decision / execution data model of
// the engine.  Proposals are external snapshots, decisions are append-only
// verdicts and executions are the durable record of a performed side effect.
package action

import (
	"encoding/json"
	"time"
)

// RiskLevel orders proposals by blast radius.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// Rank returns the ordering position of the level (LOW < MEDIUM < HIGH).
// Unknown levels rank above HIGH so they never pass a ceiling check.
func (r RiskLevel) Rank() int {
	if rank, ok := riskRank[r]; ok {
		return rank
	}
	return len(riskRank)
}

// Known action types. The set is open – executors are registered per type –
// but these constants cover the built-in automation surface.
const (
	TypeTaskCreate      = "TASK_CREATE"
	TypePlaybookAssign  = "PLAYBOOK_ASSIGN"
	TypeMeetingSchedule = "MEETING_SCHEDULE"
	TypePlaybookStep    = "PLAYBOOK_STEP"
)

// SystemPolicyDeciderID is recorded as DecidedBy when the policy engine
// auto-decides a proposal.
const SystemPolicyDeciderID = "SYSTEM_POLICY_ENGINE"

// Proposal is a candidate automated action awaiting a decision. It is
// fetched from the authoritative proposal source and treated as an immutable
// snapshot once loaded; the engine never persists proposals itself.
type Proposal struct {
	ID               string                 `json:"id"`
	ActionType       string                 `json:"actionType"`
	Scope            string                 `json:"scope"`
	RiskLevel        RiskLevel              `json:"riskLevel"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Signal           string                 `json:"signal,omitempty"`
	CorrelationID    string                 `json:"correlationId,omitempty"`
	RequiresApproval bool                   `json:"requiresApproval"`
}

// DecisionKind is the verdict recorded for a proposal.
type DecisionKind string

const (
	DecisionApproved DecisionKind = "APPROVED"
	DecisionRejected DecisionKind = "REJECTED"
	DecisionModified DecisionKind = "MODIFIED"
)

// Active reports whether the decision authorises execution.
func (d DecisionKind) Active() bool {
	return d == DecisionApproved || d == DecisionModified
}

// Decision is one immutable row of the decision ledger. Corrections are new
// rows; existing rows are never updated or deleted.
type Decision struct {
	ID               string                 `json:"id"`
	ProposalID       string                 `json:"proposalId"`
	OrganizationID   string                 `json:"organizationId"`
	CorrelationID    string                 `json:"correlationId"`
	ActionType       string                 `json:"actionType"`
	Scope            string                 `json:"scope"`
	Decision         DecisionKind           `json:"decision"`
	DecidedBy        string                 `json:"decidedBy"`
	Reason           string                 `json:"reason,omitempty"`
	ProposalSnapshot *Proposal              `json:"proposalSnapshot"`
	ModifiedPayload  map[string]interface{} `json:"modifiedPayload,omitempty"`
	PolicyRuleID     string                 `json:"policyRuleId,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// ExecutionStatus is the terminal outcome of one execution attempt.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
)

// Execution is the durable record of one attempt to perform an approved
// action. Exactly one row is written per real attempt, success or failure.
type Execution struct {
	ID               string                 `json:"id"`
	DecisionID       string                 `json:"decisionId"`
	ProposalID       string                 `json:"proposalId"`
	ActionType       string                 `json:"actionType"`
	OrganizationID   string                 `json:"organizationId"`
	CorrelationID    string                 `json:"correlationId"`
	ExecutedBy       string                 `json:"executedBy"`
	Status           ExecutionStatus        `json:"status"`
	Result           map[string]interface{} `json:"result,omitempty"`
	ErrorCode        string                 `json:"errorCode,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	DurationMs       int64                  `json:"durationMs"`
	JobID            string                 `json:"jobId,omitempty"`
	IdempotentReplay bool                   `json:"idempotentReplay,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// Plan describes what a dry-run execution would do without performing it.
type Plan struct {
	WouldDo       []string `json:"wouldDo"`
	ExternalCalls []string `json:"externalCalls"`
	MissingInputs []string `json:"missingInputs,omitempty"`
}

// Clone returns a deep copy of the proposal so that callers can freeze a
// snapshot at decision time.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Payload = ClonePayload(p.Payload)
	return &clone
}

// ClonePayload deep-copies a JSON-shaped payload map.
func ClonePayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		out := make(map[string]interface{}, len(payload))
		for k, v := range payload {
			out[k] = v
		}
		return out
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
