package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoact/autoact/errcode"
	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/model/graph"
	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/policy"
	"github.com/autoact/autoact/service/audit"
	decisionmem "github.com/autoact/autoact/service/dao/decision/memory"
	executionmem "github.com/autoact/autoact/service/dao/execution/memory"
	rulemem "github.com/autoact/autoact/service/dao/rule/memory"
	runmem "github.com/autoact/autoact/service/dao/run/memory"
	templatemem "github.com/autoact/autoact/service/dao/template/memory"
	"github.com/autoact/autoact/service/decision"
	"github.com/autoact/autoact/service/executor"
)

type noProposals struct{}

func (noProposals) GetProposal(context.Context, string) (*action.Proposal, error) {
	return nil, errors.New("proposal source not wired")
}

type recordingExecutor struct {
	calls []string
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, payload map[string]interface{}, meta executor.Metadata) (map[string]interface{}, error) {
	r.calls = append(r.calls, meta.ProposalID)
	if r.err != nil {
		return nil, r.err
	}
	return map[string]interface{}{"done": true, "title": payload["title"]}, nil
}

func newFixture(t *testing.T) (*Service, *recordingExecutor, func(*playbook.Template)) {
	t.Helper()
	decisions := decisionmem.New()
	executions := executionmem.New()
	templates := templatemem.New()
	runs := runmem.New()

	ledger := decision.New(decisions, noProposals{}, nil, decision.WithAudit(audit.Nop()))
	capability := &recordingExecutor{}
	adapter := executor.New(decisions, executions, executor.WithAudit(audit.Nop()))
	adapter.Register(action.TypeTaskCreate, capability)
	adapter.Register(action.TypePlaybookStep, capability)

	eng := New(runs, templates, ledger, adapter, WithAudit(audit.Nop()))
	publish := func(template *playbook.Template) {
		require.NoError(t, template.Publish())
		require.NoError(t, templates.Save(context.Background(), template))
	}
	return eng, capability, publish
}

func draftTemplate(id string, g *graph.Graph) *playbook.Template {
	return &playbook.Template{
		ID:            id,
		Key:           "key-" + id,
		Title:         "template " + id,
		TriggerSignal: "DEAL_AT_RISK",
		Graph:         g,
		Status:        playbook.TemplateDraft,
	}
}

func linearGraph() *graph.Graph {
	g := &graph.Graph{}
	g.WithNode(&graph.Node{ID: "start", Type: graph.NodeStart})
	g.WithNode(&graph.Node{ID: "create-task", Type: graph.NodeAction, ActionType: action.TypeTaskCreate,
		Payload: map[string]interface{}{"title": "call the customer"}})
	g.WithNode(&graph.Node{ID: "end", Type: graph.NodeEnd})
	g.WithEdge("start", "create-task", "")
	g.WithEdge("create-task", "end", "")
	return g
}

func branchGraph() *graph.Graph {
	g := &graph.Graph{}
	g.WithNode(&graph.Node{ID: "start", Type: graph.NodeStart})
	g.WithNode(&graph.Node{ID: "route", Type: graph.NodeBranch, Rules: []*graph.Rule{
		{ID: "sev", Kind: graph.RuleFieldEq, Field: "severity", Value: "high", Goto: "escalate", ElseGoto: "log"},
	}})
	g.WithNode(&graph.Node{ID: "escalate", Type: graph.NodeAction, ActionType: action.TypeTaskCreate,
		Payload: map[string]interface{}{"title": "escalate"}})
	g.WithNode(&graph.Node{ID: "log", Type: graph.NodeAction, ActionType: action.TypeTaskCreate,
		Payload: map[string]interface{}{"title": "log"}})
	g.WithNode(&graph.Node{ID: "end", Type: graph.NodeEnd})
	g.WithEdge("start", "route", "")
	g.WithEdge("route", "escalate", "sev")
	g.WithEdge("route", "log", "else")
	g.WithEdge("escalate", "end", "")
	g.WithEdge("log", "end", "")
	return g
}

func initiate(t *testing.T, eng *Service, templateID string, runContext map[string]interface{}) *playbook.Run {
	t.Helper()
	run, err := eng.InitiateRun(context.Background(), &InitiateInput{
		TemplateID:     templateID,
		OrganizationID: "org-1",
		InitiatedBy:    "user-1",
		Context:        runContext,
	})
	require.NoError(t, err)
	return run
}

func TestInitiateRun_RequiresPublishedTemplate(t *testing.T) {
	eng, _, _ := newFixture(t)

	_, err := eng.InitiateRun(context.Background(), &InitiateInput{TemplateID: "missing"})
	require.Error(t, err)
	assert.Equal(t, errcode.NotFound, errcode.CodeOf(err))
}

func TestInitiateRun_MaterializesSteps(t *testing.T) {
	eng, _, publish := newFixture(t)
	publish(draftTemplate("t1", linearGraph()))

	run := initiate(t, eng, "t1", map[string]interface{}{"deal_id": "d-1"})
	assert.Equal(t, playbook.RunInProgress, run.Status)

	_, steps, err := eng.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, playbook.StepPending, steps[0].Status)
	assert.Equal(t, "create-task", steps[0].TemplateStepID)
}

func TestAdvanceRun_LinearCompletion(t *testing.T) {
	eng, capability, publish := newFixture(t)
	publish(draftTemplate("t1", linearGraph()))
	run := initiate(t, eng, "t1", nil)
	ctx := context.Background()

	// first advance executes the single action step
	result, err := eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.Equal(t, playbook.StepExecuted, result.Step.Status)
	assert.NotEmpty(t, result.Step.DecisionID)
	assert.NotEmpty(t, result.Step.ExecutionID)
	assert.Len(t, capability.calls, 1)

	// second advance finds no pending work and completes the run
	result, err = eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.Equal(t, playbook.RunCompleted, result.Run.Status)
	assert.NotNil(t, result.Run.CompletedAt)

	// advancing a terminal run is a no-op
	result, err = eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.Len(t, capability.calls, 1, "the side effect must not repeat")
}

func TestAdvanceRun_BranchRouting(t *testing.T) {
	eng, capability, publish := newFixture(t)
	publish(draftTemplate("t1", branchGraph()))
	run := initiate(t, eng, "t1", map[string]interface{}{"severity": "high"})
	ctx := context.Background()

	result, err := eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "escalate", result.Step.SelectedNextStepID)

	result, err = eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "escalate", result.Step.TemplateStepID)
	assert.Equal(t, playbook.StepExecuted, result.Step.Status)

	result, err = eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunCompleted, result.Run.Status)
	require.Len(t, capability.calls, 1)

	// the untaken branch is skipped, not executed
	_, steps, err := eng.GetRun(ctx, run.ID)
	require.NoError(t, err)
	for _, step := range steps {
		if step.TemplateStepID == "log" {
			assert.Equal(t, playbook.StepSkipped, step.Status)
		}
	}
}

func TestAdvanceRun_BranchElseFallback(t *testing.T) {
	eng, _, publish := newFixture(t)
	publish(draftTemplate("t1", branchGraph()))
	run := initiate(t, eng, "t1", map[string]interface{}{"severity": "low"})

	result, err := eng.AdvanceRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "log", result.Step.SelectedNextStepID)
}

func TestAdvanceRun_BranchWithoutMatchFails(t *testing.T) {
	eng, _, publish := newFixture(t)
	g := &graph.Graph{}
	g.WithNode(&graph.Node{ID: "start", Type: graph.NodeStart})
	g.WithNode(&graph.Node{ID: "route", Type: graph.NodeBranch, Rules: []*graph.Rule{
		{ID: "sev", Kind: graph.RuleFieldEq, Field: "severity", Value: "high", Goto: "after"},
	}})
	g.WithNode(&graph.Node{ID: "after", Type: graph.NodeAction, ActionType: action.TypeTaskCreate})
	g.WithNode(&graph.Node{ID: "end", Type: graph.NodeEnd})
	g.WithEdge("start", "route", "")
	g.WithEdge("route", "after", "sev")
	g.WithEdge("route", "after", "otherwise")
	g.WithEdge("after", "end", "")
	publish(draftTemplate("t1", g))
	run := initiate(t, eng, "t1", map[string]interface{}{"severity": "low"})

	result, err := eng.AdvanceRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.Equal(t, errcode.PlaybookAdvance, errcode.CodeOf(err))
	assert.Equal(t, playbook.StepFailed, result.Step.Status)
	assert.Equal(t, playbook.RunFailed, result.Run.Status)
}

func TestAdvanceRun_FailedActionFailsRun(t *testing.T) {
	eng, capability, publish := newFixture(t)
	publish(draftTemplate("t1", linearGraph()))
	run := initiate(t, eng, "t1", nil)
	capability.err = errors.New("upstream unavailable")

	result, err := eng.AdvanceRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.Equal(t, playbook.StepFailed, result.Step.Status)
	assert.Equal(t, playbook.RunFailed, result.Run.Status)
}

func TestAdvanceRun_CheckRouting(t *testing.T) {
	eng, _, publish := newFixture(t)
	g := &graph.Graph{}
	g.WithNode(&graph.Node{ID: "start", Type: graph.NodeStart})
	g.WithNode(&graph.Node{ID: "gate", Type: graph.NodeCheck, Rules: []*graph.Rule{
		{ID: "amount", Kind: graph.RuleFieldGte, Field: "amount", Value: 1000, Goto: "notify", ElseGoto: "end"},
	}})
	g.WithNode(&graph.Node{ID: "notify", Type: graph.NodeAction, ActionType: action.TypeTaskCreate})
	g.WithNode(&graph.Node{ID: "end", Type: graph.NodeEnd})
	g.WithEdge("start", "gate", "")
	g.WithEdge("gate", "notify", "amount")
	g.WithEdge("gate", "end", "else")
	g.WithEdge("notify", "end", "")
	publish(draftTemplate("t1", g))
	run := initiate(t, eng, "t1", map[string]interface{}{"amount": 2500})

	result, err := eng.AdvanceRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "notify", result.Step.SelectedNextStepID)
	assert.Equal(t, playbook.StepExecuted, result.Step.Status)
}

func TestAdvanceRun_WaitUnmetLeavesPending(t *testing.T) {
	eng, _, publish := newFixture(t)
	g := &graph.Graph{}
	g.WithNode(&graph.Node{ID: "start", Type: graph.NodeStart})
	g.WithNode(&graph.Node{ID: "first", Type: graph.NodeAction, ActionType: action.TypeTaskCreate})
	g.WithNode(&graph.Node{ID: "cooldown", Type: graph.NodeWait, Rules: []*graph.Rule{
		{ID: "wait", Kind: graph.RuleTimeSinceStepGte, Field: "first", Value: "24h"},
	}})
	g.WithNode(&graph.Node{ID: "end", Type: graph.NodeEnd})
	g.WithEdge("start", "first", "")
	g.WithEdge("first", "cooldown", "")
	g.WithEdge("cooldown", "end", "")
	publish(draftTemplate("t1", g))
	run := initiate(t, eng, "t1", nil)
	ctx := context.Background()

	_, err := eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)

	// the wait has not elapsed, so the step stays pending and nothing moves
	result, err := eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, result.Advanced)
	assert.Equal(t, playbook.StepPending, result.Step.Status)
	assert.Equal(t, playbook.RunInProgress, result.Run.Status)
}

func TestDryRunRoute(t *testing.T) {
	eng, _, publish := newFixture(t)
	publish(draftTemplate("t1", branchGraph()))
	run := initiate(t, eng, "t1", map[string]interface{}{"severity": "high"})

	route, err := eng.DryRunRoute(context.Background(), run.ID, "route")
	require.NoError(t, err)
	assert.Equal(t, "escalate", route.NextStepID)
	assert.NotEmpty(t, route.Trace)

	// the dry run mutates nothing
	_, steps, err := eng.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	for _, step := range steps {
		assert.Equal(t, playbook.StepPending, step.Status)
		assert.Empty(t, step.SelectedNextStepID)
	}
}

func TestCancelRun(t *testing.T) {
	eng, _, publish := newFixture(t)
	publish(draftTemplate("t1", branchGraph()))
	run := initiate(t, eng, "t1", map[string]interface{}{"severity": "high"})
	ctx := context.Background()

	cancelled, err := eng.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunCancelled, cancelled.Status)

	_, steps, err := eng.GetRun(ctx, run.ID)
	require.NoError(t, err)
	for _, step := range steps {
		assert.Equal(t, playbook.StepSkipped, step.Status)
	}

	_, err = eng.CancelRun(ctx, run.ID)
	require.Error(t, err, "terminal runs cannot be cancelled again")
}

func TestAdvanceRun_PolicyRejectedStepSkipped(t *testing.T) {
	decisions := decisionmem.New()
	executions := executionmem.New()
	templates := templatemem.New()
	runs := runmem.New()
	rules := rulemem.New()

	ledger := decision.New(decisions, noProposals{}, policy.New(rules, nil),
		decision.WithAudit(audit.Nop()))
	capability := &recordingExecutor{}
	adapter := executor.New(decisions, executions, executor.WithAudit(audit.Nop()))
	adapter.Register(action.TypeTaskCreate, capability)
	eng := New(runs, templates, ledger, adapter, WithAudit(audit.Nop()))

	template := draftTemplate("t1", linearGraph())
	require.NoError(t, template.Publish())
	require.NoError(t, templates.Save(context.Background(), template))
	run := initiate(t, eng, "t1", nil)

	require.NoError(t, rules.Save(context.Background(), &policy.Rule{
		ID:                 "deny-run",
		OrganizationID:     "org-1",
		ActionType:         action.TypeTaskCreate,
		Scope:              "playbook_run:" + run.ID,
		MaxRiskLevel:       action.RiskHigh,
		AutoDecision:       action.DecisionRejected,
		AutoDecisionReason: "task creation suspended",
		Enabled:            true,
	}))

	ctx := context.Background()
	result, err := eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, result.Advanced)
	assert.Equal(t, playbook.StepSkipped, result.Step.Status)
	assert.NotEmpty(t, result.Step.DecisionID, "the veto is still a ledger row")
	assert.Empty(t, capability.calls, "a rejected step must not execute")

	// a skipped step does not block completion
	result, err = eng.AdvanceRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, playbook.RunCompleted, result.Run.Status)
}
