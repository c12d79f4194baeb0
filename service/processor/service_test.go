package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoact/autoact/internal/idgen"
	"github.com/autoact/autoact/model/action"
	modeljob "github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/audit"
	daodecision "github.com/autoact/autoact/service/dao/decision"
	decisionmem "github.com/autoact/autoact/service/dao/decision/memory"
	executionmem "github.com/autoact/autoact/service/dao/execution/memory"
	jobmem "github.com/autoact/autoact/service/dao/job/memory"
	runmem "github.com/autoact/autoact/service/dao/run/memory"
	templatemem "github.com/autoact/autoact/service/dao/template/memory"
	"github.com/autoact/autoact/service/decision"
	"github.com/autoact/autoact/service/engine"
	"github.com/autoact/autoact/service/executor"
	"github.com/autoact/autoact/service/job"
	"github.com/autoact/autoact/service/messaging"
	queuemem "github.com/autoact/autoact/service/messaging/memory"
)

type noProposals struct{}

func (noProposals) GetProposal(context.Context, string) (*action.Proposal, error) {
	return nil, errors.New("proposal source not wired")
}

type flakyExecutor struct {
	calls    atomic.Int32
	failures int32
}

func (f *flakyExecutor) Execute(context.Context, map[string]interface{}, executor.Metadata) (map[string]interface{}, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, errors.New("upstream unavailable")
	}
	return map[string]interface{}{"ok": true}, nil
}

type harness struct {
	processor *Service
	ledger    *job.Service
	decisions daodecision.Store
	exec      *flakyExecutor
}

func newHarness(t *testing.T, failures int32) *harness {
	t.Helper()
	decisions := decisionmem.New()
	executions := executionmem.New()

	queueConfig := queuemem.DefaultConfig()
	queueConfig.RetryDelay = 5 * time.Millisecond
	queue := queuemem.NewQueue[job.Envelope](queueConfig)
	ledger := job.New(jobmem.New(), queue,
		job.WithAudit(audit.Nop()),
		job.WithBackoff(messaging.Backoff{Delay: 5 * time.Millisecond, Multiplier: 2}))

	capability := &flakyExecutor{failures: failures}
	adapter := executor.New(decisions, executions, executor.WithAudit(audit.Nop()))
	adapter.Register(action.TypeTaskCreate, capability)

	decisionLedger := decision.New(decisions, noProposals{}, nil, decision.WithAudit(audit.Nop()))
	eng := engine.New(runmem.New(), templatemem.New(), decisionLedger, adapter, engine.WithAudit(audit.Nop()))

	pool, err := New(queue, ledger, adapter, eng, WithWorkers(2), WithAudit(audit.Nop()))
	require.NoError(t, err)
	return &harness{processor: pool, ledger: ledger, decisions: decisions, exec: capability}
}

func (h *harness) seedDecision(t *testing.T) *action.Decision {
	t.Helper()
	record := &action.Decision{
		ID:             idgen.New(),
		ProposalID:     idgen.New(),
		OrganizationID: "org-1",
		CorrelationID:  idgen.New(),
		ActionType:     action.TypeTaskCreate,
		Decision:       action.DecisionApproved,
		DecidedBy:      "user-1",
		ProposalSnapshot: &action.Proposal{
			ID:         "p1",
			ActionType: action.TypeTaskCreate,
			Payload:    map[string]interface{}{"title": "call"},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, h.decisions.Insert(context.Background(), record))
	return record
}

func awaitStatus(t *testing.T, ledger *job.Service, id string, want modeljob.Status) *modeljob.Job {
	t.Helper()
	var got *modeljob.Job
	require.Eventually(t, func() bool {
		record, err := ledger.Get(context.Background(), id, "org-1")
		if err != nil {
			return false
		}
		got = record
		return record.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestProcessor_ExecutesDecisionJob(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.processor.Start(ctx))
	defer h.processor.Shutdown()

	record := h.seedDecision(t)
	queued, err := h.ledger.Enqueue(ctx, &job.EnqueueInput{
		Type:           modeljob.TypeExecuteDecision,
		OrganizationID: "org-1",
		EntityID:       record.ID,
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)

	done := awaitStatus(t, h.ledger, queued.ID, modeljob.StatusSuccess)
	assert.Equal(t, int32(1), h.exec.calls.Load())
	assert.NotNil(t, done.FinishedAt)
}

func TestProcessor_RetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.processor.Start(ctx))
	defer h.processor.Shutdown()

	record := h.seedDecision(t)
	queued, err := h.ledger.Enqueue(ctx, &job.EnqueueInput{
		Type:           modeljob.TypeExecuteDecision,
		OrganizationID: "org-1",
		EntityID:       record.ID,
		MaxAttempts:    3,
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)

	done := awaitStatus(t, h.ledger, queued.ID, modeljob.StatusSuccess)
	assert.Equal(t, int32(2), h.exec.calls.Load())
	assert.Equal(t, 2, done.Attempts)
}

func TestProcessor_ExhaustedRetriesDeadLetter(t *testing.T) {
	h := newHarness(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.processor.Start(ctx))
	defer h.processor.Shutdown()

	record := h.seedDecision(t)
	queued, err := h.ledger.Enqueue(ctx, &job.EnqueueInput{
		Type:           modeljob.TypeExecuteDecision,
		OrganizationID: "org-1",
		EntityID:       record.ID,
		MaxAttempts:    2,
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)

	done := awaitStatus(t, h.ledger, queued.ID, modeljob.StatusDeadLetter)
	assert.Equal(t, 2, done.Attempts)
}

func TestProcessor_NonRetryableDeadLettersImmediately(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.processor.Start(ctx))
	defer h.processor.Shutdown()

	// the referenced decision does not exist, a NOT_FOUND failure
	queued, err := h.ledger.Enqueue(ctx, &job.EnqueueInput{
		Type:           modeljob.TypeExecuteDecision,
		OrganizationID: "org-1",
		EntityID:       "missing-decision",
		MaxAttempts:    5,
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)

	done := awaitStatus(t, h.ledger, queued.ID, modeljob.StatusDeadLetter)
	assert.Equal(t, 1, done.Attempts, "non-retryable failures must not burn the retry budget")
	assert.Equal(t, int32(0), h.exec.calls.Load())
}

func TestProcessor_CancelledJobEnvelopeIsDropped(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	record := h.seedDecision(t)
	queued, err := h.ledger.Enqueue(ctx, &job.EnqueueInput{
		Type:           modeljob.TypeExecuteDecision,
		OrganizationID: "org-1",
		EntityID:       record.ID,
		CreatedBy:      "user-1",
	})
	require.NoError(t, err)

	// cancel before any worker runs; queue removal plus the claim guard
	// both protect against execution
	_, err = h.ledger.Cancel(ctx, queued.ID, "org-1")
	require.NoError(t, err)

	require.NoError(t, h.processor.Start(ctx))
	defer h.processor.Shutdown()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), h.exec.calls.Load())
	done, err := h.ledger.Get(ctx, queued.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, modeljob.StatusCancelled, done.Status)
}
