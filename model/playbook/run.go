package playbook

import (
	"time"

	"github.com/autoact/autoact/model/graph"
)

// RunStatus is the lifecycle state of one playbook invocation.
type RunStatus string

const (
	RunPending    RunStatus = "PENDING"
	RunInProgress RunStatus = "IN_PROGRESS"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
	RunCancelled  RunStatus = "CANCELLED"
)

// Terminal reports whether the run reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepStatus is the lifecycle state of one materialised run step.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
	StepExecuted StepStatus = "EXECUTED"
	StepFailed   StepStatus = "FAILED"
	StepSkipped  StepStatus = "SKIPPED"
)

// Run is one instantiation of a template. Steps are materialised eagerly
// from the template snapshot when the run is created.
type Run struct {
	ID              string                 `json:"id"`
	TemplateID      string                 `json:"templateId"`
	OrganizationID  string                 `json:"organizationId"`
	CorrelationID   string                 `json:"correlationId"`
	InitiatedBy     string                 `json:"initiatedBy"`
	Status          RunStatus              `json:"status"`
	ContextSnapshot map[string]interface{} `json:"contextSnapshot,omitempty"`
	StartedAt       time.Time              `json:"startedAt"`
	CompletedAt     *time.Time             `json:"completedAt,omitempty"`
}

// RunStep is the per-run state of one template step. It is exclusively
// owned by its run and never shared between runs.
type RunStep struct {
	ID                 string                 `json:"id"`
	RunID              string                 `json:"runId"`
	TemplateStepID     string                 `json:"templateStepId"`
	Order              int                    `json:"stepOrder"`
	Type               graph.NodeType         `json:"stepType"`
	Status             StepStatus             `json:"status"`
	DecisionID         string                 `json:"decisionId,omitempty"`
	ExecutionID        string                 `json:"executionId,omitempty"`
	ResolvedPayload    map[string]interface{} `json:"resolvedPayload,omitempty"`
	Outputs            map[string]interface{} `json:"outputs,omitempty"`
	SelectedNextStepID string                 `json:"selectedNextStepId,omitempty"`
	NextStepID         string                 `json:"nextStepId,omitempty"`
	EvaluationTrace    []string               `json:"evaluationTrace,omitempty"`
	Rules              []*graph.Rule          `json:"rules,omitempty"`
	Optional           bool                   `json:"isOptional"`
	UpdatedAt          time.Time              `json:"updatedAt"`
}

// Trace appends an evaluation trace entry.
func (s *RunStep) Trace(entry string) {
	s.EvaluationTrace = append(s.EvaluationTrace, entry)
}

// Settled reports whether the step no longer needs work.
func (s *RunStep) Settled() bool {
	switch s.Status {
	case StepExecuted, StepSkipped, StepFailed, StepRejected:
		return true
	}
	return false
}

// MaterializeSteps expands a template snapshot into PENDING run steps,
// preserving template order and routing metadata. The id factory keeps the
// function deterministic in tests.
func MaterializeSteps(runID string, template *Template, newID func() string) []*RunStep {
	var steps []*RunStep
	now := time.Now()
	for _, step := range template.Steps() {
		steps = append(steps, &RunStep{
			ID:              newID(),
			RunID:           runID,
			TemplateStepID:  step.ID,
			Order:           step.Order,
			Type:            step.Type,
			Status:          StepPending,
			ResolvedPayload: step.Payload,
			NextStepID:      step.NextStepID,
			Rules:           step.Rules,
			Optional:        step.Optional,
			UpdatedAt:       now,
		})
	}
	return steps
}
