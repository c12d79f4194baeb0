package job

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoact/autoact/errcode"
	"github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/audit"
	jobmem "github.com/autoact/autoact/service/dao/job/memory"
	queuemem "github.com/autoact/autoact/service/messaging/memory"
)

func newLedger(t *testing.T) (*Service, *queuemem.Queue[Envelope]) {
	t.Helper()
	queue := queuemem.NewQueue[Envelope](queuemem.DefaultConfig())
	ledger := New(jobmem.New(), queue, WithAudit(audit.Nop()))
	return ledger, queue
}

func enqueueInput(entityID string) *EnqueueInput {
	return &EnqueueInput{
		Type:           job.TypeExecuteDecision,
		OrganizationID: "org-1",
		EntityID:       entityID,
		Priority:       job.PriorityNormal,
		CreatedBy:      "user-1",
	}
}

func TestEnqueue_PublishesEnvelope(t *testing.T) {
	ledger, queue := newLedger(t)

	record, err := ledger.Enqueue(context.Background(), enqueueInput("decision-1"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, record.Status)
	assert.False(t, record.Deduplicated)
	assert.NotEmpty(t, record.CorrelationID)
	assert.Equal(t, 1, queue.Size())
}

func TestEnqueue_Deduplicates(t *testing.T) {
	ledger, queue := newLedger(t)
	ctx := context.Background()

	first, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)

	second, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, queue.Size(), "deduplicated enqueue must not publish")

	// a different entity gets its own job
	third, err := ledger.Enqueue(ctx, enqueueInput("decision-2"))
	require.NoError(t, err)
	assert.False(t, third.Deduplicated)
}

func TestEnqueue_ConcurrentCallsShareOneSlot(t *testing.T) {
	ledger, queue := newLedger(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan *job.Job, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
			assert.NoError(t, err)
			if record != nil {
				results <- record
			}
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	var slotID string
	for record := range results {
		if !record.Deduplicated {
			fresh++
			slotID = record.ID
		}
	}
	require.Equal(t, 1, fresh, "exactly one caller may insert the active row")
	assert.Equal(t, 1, queue.Size(), "only the winning caller publishes")

	active, err := ledger.List(ctx, "org-1", job.StatusQueued, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, slotID, active[0].ID)
}

func TestEnqueue_OrgMismatch(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	_, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)

	other := enqueueInput("decision-1")
	other.OrganizationID = "org-2"
	_, err = ledger.Enqueue(ctx, other)
	require.Error(t, err)
	assert.Equal(t, errcode.JobOrgMismatch, errcode.CodeOf(err))
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan *job.Job, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, won, err := ledger.Claim(ctx, record.ID)
			assert.NoError(t, err)
			if won {
				wins <- claimed
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []*job.Job
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one worker may claim a job")
	assert.Equal(t, job.StatusRunning, winners[0].Status)
	assert.Equal(t, 1, winners[0].Attempts)
}

func TestCompleteAndFail_Lifecycle(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	_, won, err := ledger.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, won)

	done, err := ledger.Complete(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSuccess, done.Status)
	assert.NotNil(t, done.FinishedAt)

	// terminal jobs refuse further transitions
	_, err = ledger.Complete(ctx, record.ID)
	require.Error(t, err)
	assert.Equal(t, errcode.JobInvalidState, errcode.CodeOf(err))
}

func TestFail_RetryableKeepsBudget(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	_, won, err := ledger.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, won)

	failed, err := ledger.Fail(ctx, record.ID, errcode.New(errcode.IntegrationError, "upstream unavailable"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, failed.Status)
	assert.Equal(t, string(errcode.IntegrationError), failed.LastErrorCode)
}

func TestFail_NonRetryableDeadLettersImmediately(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	_, won, err := ledger.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, won)

	failed, err := ledger.Fail(ctx, record.ID, errcode.New(errcode.ValidationError, "bad payload"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusDeadLetter, failed.Status, "non-retryable failures skip the retry budget")
	assert.Equal(t, 1, failed.Attempts)
}

func TestFail_ExhaustedBudgetDeadLetters(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	input := enqueueInput("decision-1")
	input.MaxAttempts = 2
	record, err := ledger.Enqueue(ctx, input)
	require.NoError(t, err)

	// attempt 1: claim, fail retryably, requeue for redelivery
	_, won, err := ledger.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, won)
	failed, err := ledger.Fail(ctx, record.ID, errors.New("connection reset"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, failed.Status)
	requeued, err := ledger.Requeue(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, requeued.Status)
	assert.Equal(t, 1, requeued.Attempts, "requeue preserves the attempt count")

	// attempt 2: the budget is exhausted, the job dead-letters
	_, won, err = ledger.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, won)
	failed, err = ledger.Fail(ctx, record.ID, errors.New("connection reset"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusDeadLetter, failed.Status)
	assert.Equal(t, 2, failed.Attempts)
}

func TestRetry_Rules(t *testing.T) {
	ledger, queue := newLedger(t)
	ctx := context.Background()

	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)

	// QUEUED jobs cannot be retried
	_, err = ledger.Retry(ctx, record.ID, "org-1")
	require.Error(t, err)
	assert.Equal(t, errcode.JobInvalidState, errcode.CodeOf(err))

	_, won, err := ledger.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, won)
	_, err = ledger.Fail(ctx, record.ID, errcode.New(errcode.Timeout, "timed out"))
	require.NoError(t, err)

	// wrong org is rejected
	_, err = ledger.Retry(ctx, record.ID, "org-2")
	require.Error(t, err)
	assert.Equal(t, errcode.JobOrgMismatch, errcode.CodeOf(err))

	before := queue.Size()
	retried, err := ledger.Retry(ctx, record.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, retried.Status)
	assert.Zero(t, retried.Attempts)
	assert.Equal(t, before+1, queue.Size())
}

func TestRetry_RefusesNonRetryableFailure(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	_, won, err := ledger.Claim(ctx, record.ID)
	require.NoError(t, err)
	require.True(t, won)
	_, err = ledger.Fail(ctx, record.ID, errcode.New(errcode.RBACDenied, "forbidden"))
	require.NoError(t, err)

	_, err = ledger.Retry(ctx, record.ID, "org-1")
	require.Error(t, err)
	assert.Equal(t, errcode.JobInvalidState, errcode.CodeOf(err))
}

func TestCancel(t *testing.T) {
	ledger, queue := newLedger(t)
	ctx := context.Background()

	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)

	cancelled, err := ledger.Cancel(ctx, record.ID, "org-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCancelled, cancelled.Status)
	assert.Equal(t, 0, queue.Size(), "the pending envelope is removed")

	// running jobs cannot be cancelled
	other, err := ledger.Enqueue(ctx, enqueueInput("decision-2"))
	require.NoError(t, err)
	_, won, err := ledger.Claim(ctx, other.ID)
	require.NoError(t, err)
	require.True(t, won)
	_, err = ledger.Cancel(ctx, other.ID, "org-1")
	require.Error(t, err)
	assert.Equal(t, errcode.JobInvalidState, errcode.CodeOf(err))
}

func TestGet_OrgScoped(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	record, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)

	_, err = ledger.Get(ctx, record.ID, "org-2")
	require.Error(t, err)
	assert.Equal(t, errcode.JobOrgMismatch, errcode.CodeOf(err))

	_, err = ledger.Get(ctx, "missing", "org-1")
	require.Error(t, err)
	assert.Equal(t, errcode.JobNotFound, errcode.CodeOf(err))
}

func TestList_Filters(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	_, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	advance := enqueueInput("step-1")
	advance.Type = job.TypeAdvancePlaybookStep
	_, err = ledger.Enqueue(ctx, advance)
	require.NoError(t, err)

	all, err := ledger.List(ctx, "org-1", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	executions, err := ledger.List(ctx, "org-1", job.StatusQueued, job.TypeExecuteDecision)
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	none, err := ledger.List(ctx, "org-2", "", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRetry_RefusesOccupiedSlot(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	first, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	_, won, err := ledger.Claim(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, won)
	_, err = ledger.Fail(ctx, first.ID, errcode.New(errcode.Timeout, "upstream timed out"))
	require.NoError(t, err)

	// the failed job freed the slot, so a fresh enqueue takes it
	second, err := ledger.Enqueue(ctx, enqueueInput("decision-1"))
	require.NoError(t, err)
	require.False(t, second.Deduplicated)

	_, err = ledger.Retry(ctx, first.ID, "org-1")
	require.Error(t, err)
	assert.Equal(t, errcode.Conflict, errcode.CodeOf(err))
}
