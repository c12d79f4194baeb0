package autoact

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoact/autoact/errcode"
	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/model/graph"
	modeljob "github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/policy"
	"github.com/autoact/autoact/service/audit"
	"github.com/autoact/autoact/service/decision"
	"github.com/autoact/autoact/service/engine"
	"github.com/autoact/autoact/service/executor"
	"github.com/autoact/autoact/service/job"
)

type proposalMap map[string]*action.Proposal

func (p proposalMap) GetProposal(_ context.Context, id string) (*action.Proposal, error) {
	proposal, ok := p[id]
	if !ok {
		return nil, errcode.New(errcode.NotFound, "proposal not found")
	}
	return proposal, nil
}

type countingExecutor struct {
	calls atomic.Int32
}

func (c *countingExecutor) Execute(context.Context, map[string]interface{}, executor.Metadata) (map[string]interface{}, error) {
	c.calls.Add(1)
	return map[string]interface{}{"taskId": "t-1"}, nil
}

func newEngine(t *testing.T, options ...Option) *Service {
	t.Helper()
	options = append(options, WithAudit(audit.Nop()), WithWorkers(2))
	svc, err := New(options...)
	require.NoError(t, err)
	return svc
}

func publishOnboarding(t *testing.T, svc *Service) *playbook.Template {
	t.Helper()
	g := &graph.Graph{}
	g.WithNode(&graph.Node{ID: "start", Type: graph.NodeStart})
	g.WithNode(&graph.Node{ID: "create-task", Type: graph.NodeAction,
		ActionType: action.TypeTaskCreate,
		Payload:    map[string]interface{}{"title": "welcome call"}})
	g.WithNode(&graph.Node{ID: "end", Type: graph.NodeEnd})
	g.WithEdge("start", "create-task", "")
	g.WithEdge("create-task", "end", "")

	template := &playbook.Template{
		ID:            "tpl-1",
		Key:           "onboarding",
		Title:         "customer onboarding",
		TriggerSignal: "CUSTOMER_SIGNED",
		Graph:         g,
		Status:        playbook.TemplateDraft,
	}
	require.NoError(t, template.Publish())
	require.NoError(t, svc.Templates().Save(context.Background(), template))
	return template
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(WithWorkers(-1))
	require.Error(t, err)
}

func TestService_PlaybookRunEndToEnd(t *testing.T) {
	svc := newEngine(t)
	capability := &countingExecutor{}
	svc.Executors().Register(action.TypeTaskCreate, capability)
	publishOnboarding(t, svc)

	ctx := context.Background()
	run, err := svc.Runs().InitiateRun(ctx, &engine.InitiateInput{
		TemplateID:     "tpl-1",
		OrganizationID: "org-1",
		InitiatedBy:    "user-1",
	})
	require.NoError(t, err)

	// first advance settles the action step, second recomputes completion
	_, err = svc.Runs().AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	result, err := svc.Runs().AdvanceRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, playbook.RunCompleted, result.Run.Status)
	assert.Equal(t, int32(1), capability.calls.Load())

	_, steps, err := svc.Runs().GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, playbook.StepExecuted, steps[0].Status)
	assert.NotEmpty(t, steps[0].DecisionID)
}

func TestService_DecisionToJobExecution(t *testing.T) {
	proposals := proposalMap{
		"prop-1": {
			ID:         "prop-1",
			ActionType: action.TypeTaskCreate,
			RiskLevel:  action.RiskLow,
			Payload:    map[string]interface{}{"title": "follow up"},
		},
	}
	svc := newEngine(t, WithProposalSource(proposals))
	capability := &countingExecutor{}
	svc.Executors().Register(action.TypeTaskCreate, capability)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	defer svc.Shutdown()

	recorded, err := svc.Decisions().Record(ctx, &decision.Input{
		ProposalID:     "prop-1",
		OrganizationID: "org-1",
		Decision:       action.DecisionApproved,
		DecidedBy:      "user-1",
	})
	require.NoError(t, err)

	queued, err := svc.Jobs().Enqueue(ctx, &job.EnqueueInput{
		Type:           modeljob.TypeExecuteDecision,
		OrganizationID: "org-1",
		EntityID:       recorded.ID,
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		record, err := svc.Jobs().Get(ctx, queued.ID, "org-1")
		return err == nil && record.Status == modeljob.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), capability.calls.Load())
	history, err := svc.Executors().History(ctx, recorded.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, action.ExecutionSuccess, history[0].Status)
}

func TestService_PolicyAutoDecide(t *testing.T) {
	proposals := proposalMap{
		"prop-1": {
			ID:         "prop-1",
			ActionType: action.TypeTaskCreate,
			Scope:      "team:alpha",
			RiskLevel:  action.RiskLow,
			Payload:    map[string]interface{}{"title": "routine"},
		},
	}
	svc := newEngine(t, WithProposalSource(proposals))
	ctx := context.Background()

	require.NoError(t, svc.Rules().Save(ctx, &policy.Rule{
		ID:                 "rule-1",
		OrganizationID:     "org-1",
		ActionType:         action.TypeTaskCreate,
		Scope:              "team:alpha",
		MaxRiskLevel:       action.RiskMedium,
		AutoDecision:       action.DecisionApproved,
		AutoDecisionReason: "low risk routine work",
		Enabled:            true,
	}))

	recorded, err := svc.Decisions().AutoDecideByPolicy(ctx, "prop-1", "org-1")
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, action.SystemPolicyDeciderID, recorded.DecidedBy)
	assert.Equal(t, "rule-1", recorded.PolicyRuleID)
}

func TestService_PolicyDisabledByConfig(t *testing.T) {
	proposals := proposalMap{
		"prop-1": {ID: "prop-1", ActionType: action.TypeTaskCreate, RiskLevel: action.RiskLow},
	}
	config := DefaultConfig()
	config.Policy.Disabled = true
	svc := newEngine(t, WithConfig(config), WithProposalSource(proposals))

	recorded, err := svc.Decisions().AutoDecideByPolicy(context.Background(), "prop-1", "org-1")
	require.NoError(t, err)
	assert.Nil(t, recorded)
}
