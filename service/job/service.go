// Package job implements the async job ledger. The ledger row is the source
// of truth for queued work; the durable queue only carries wake-up
// envelopes, so duplicate or lost deliveries are harmless as long as the
// claim stays atomic.
package job

import (
	"context"
	"errors"
	"time"

	"github.com/autoact/autoact/errcode"
	"github.com/autoact/autoact/internal/clock"
	"github.com/autoact/autoact/internal/idgen"
	"github.com/autoact/autoact/metrics"
	"github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/audit"
	"github.com/autoact/autoact/service/dao"
	daojob "github.com/autoact/autoact/service/dao/job"
	"github.com/autoact/autoact/service/messaging"
)

// Envelope is the queue payload: a pointer to the ledger row. Workers load
// and claim the row before doing anything with it.
type Envelope struct {
	JobID string `json:"jobId"`
}

// DefaultMaxAttempts bounds automatic redelivery when the caller does not
// set a budget.
const DefaultMaxAttempts = 3

// Service is the async job ledger.
type Service struct {
	store   daojob.Store
	queue   messaging.DurableQueue[Envelope]
	audit   *audit.Logger
	metrics *metrics.Metrics
	backoff messaging.Backoff
}

// Option customises the ledger.
type Option func(*Service)

// WithAudit overrides the audit logger.
func WithAudit(logger *audit.Logger) Option {
	return func(s *Service) { s.audit = logger }
}

// WithMetrics wires the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBackoff sets the queue redelivery schedule.
func WithBackoff(backoff messaging.Backoff) Option {
	return func(s *Service) { s.backoff = backoff }
}

// New creates a job ledger backed by the given store and durable queue.
func New(store daojob.Store, queue messaging.DurableQueue[Envelope], options ...Option) *Service {
	s := &Service{
		store:   store,
		queue:   queue,
		audit:   audit.New(),
		metrics: metrics.Nop(),
		backoff: messaging.Backoff{Delay: time.Second, Multiplier: 2, MaxDelay: time.Minute},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// EnqueueInput describes a job to enqueue.
type EnqueueInput struct {
	Type           job.Type
	OrganizationID string
	CorrelationID  string
	EntityID       string
	Priority       job.Priority
	MaxAttempts    int
	CreatedBy      string
}

// Enqueue inserts a job row and publishes its wake-up envelope. When an
// active job already holds the (type, entity) slot that job is returned
// with Deduplicated set instead of inserting a duplicate.
func (s *Service) Enqueue(ctx context.Context, input *EnqueueInput) (*job.Job, error) {
	if input == nil || input.EntityID == "" {
		return nil, errcode.New(errcode.ValidationError, "entity id is required")
	}
	switch input.Type {
	case job.TypeExecuteDecision, job.TypeAdvancePlaybookStep:
	default:
		return nil, errcode.New(errcode.ValidationError, "unknown job type %q", input.Type)
	}

	existing, err := s.store.FindActive(ctx, input.Type, input.EntityID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.deduplicate(existing, input.OrganizationID)
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	priority := input.Priority
	if priority == "" {
		priority = job.PriorityNormal
	}
	record := &job.Job{
		ID:             idgen.New(),
		Type:           input.Type,
		OrganizationID: input.OrganizationID,
		CorrelationID:  input.CorrelationID,
		EntityID:       input.EntityID,
		Status:         job.StatusQueued,
		Priority:       priority,
		MaxAttempts:    maxAttempts,
		CreatedBy:      input.CreatedBy,
		CreatedAt:      clock.Now(),
	}
	if record.CorrelationID == "" {
		record.CorrelationID = idgen.New()
	}
	if err := s.store.Insert(ctx, record); err != nil {
		if errors.Is(err, dao.ErrConflict) {
			// lost the slot race: a concurrent caller inserted the active
			// row between FindActive and Insert
			winner, findErr := s.store.FindActive(ctx, input.Type, input.EntityID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return s.deduplicate(winner, input.OrganizationID)
			}
		}
		return nil, err
	}
	if err := s.publish(ctx, record); err != nil {
		return nil, errcode.Wrap(errcode.IntegrationError, err)
	}
	s.metrics.JobsEnqueued.WithLabelValues(string(record.Type)).Inc()
	s.audit.Event(audit.EventJobEnqueued).
		Correlation(record.CorrelationID).Org(record.OrganizationID).
		Str("job_id", record.ID).
		Str("job_type", string(record.Type)).
		Str("entity_id", record.EntityID).
		Str("priority", string(record.Priority)).Emit()
	return record.Clone(), nil
}

// deduplicate answers an enqueue request with the job already holding the
// (type, entity) slot.
func (s *Service) deduplicate(existing *job.Job, orgID string) (*job.Job, error) {
	if existing.OrganizationID != orgID {
		return nil, errcode.New(errcode.JobOrgMismatch,
			"job %s belongs to another organization", existing.ID)
	}
	dedup := existing.Clone()
	dedup.Deduplicated = true
	s.metrics.JobsDeduplicated.Inc()
	s.audit.Event(audit.EventJobDeduplicated).
		Correlation(existing.CorrelationID).Org(existing.OrganizationID).
		Str("job_id", existing.ID).
		Str("job_type", string(existing.Type)).
		Str("entity_id", existing.EntityID).Emit()
	return dedup, nil
}

func (s *Service) publish(ctx context.Context, record *job.Job) error {
	return s.queue.PublishDurable(ctx, &Envelope{JobID: record.ID}, &messaging.Options{
		ID:          record.ID,
		Priority:    record.Priority.Numeric(),
		MaxAttempts: record.MaxAttempts,
		Backoff:     s.backoff,
	})
}

// Claim attempts to take exclusive ownership of a queued job. The boolean
// reports whether this caller won; losing is a benign outcome under
// at-least-once delivery.
func (s *Service) Claim(ctx context.Context, id string) (*job.Job, bool, error) {
	won, err := s.store.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, false, errcode.New(errcode.JobNotFound, "job %s not found", id)
		}
		return nil, false, err
	}
	if !won {
		return nil, false, nil
	}
	record, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	s.metrics.JobsClaimed.Inc()
	s.audit.Event(audit.EventJobClaimed).
		Correlation(record.CorrelationID).Org(record.OrganizationID).
		Str("job_id", record.ID).
		Int("attempt", record.Attempts).Emit()
	return record, true, nil
}

// Complete marks a running job successful.
func (s *Service) Complete(ctx context.Context, id string) (*job.Job, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != job.StatusRunning {
		return nil, errcode.New(errcode.JobInvalidState,
			"job %s is %s, only RUNNING jobs can complete", id, record.Status)
	}
	record.Succeed()
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	s.metrics.JobsCompleted.WithLabelValues(string(record.Status)).Inc()
	s.audit.Event(audit.EventJobCompleted).
		Correlation(record.CorrelationID).Org(record.OrganizationID).
		Str("job_id", record.ID).Emit()
	return record, nil
}

// Fail records a failed attempt. Non-retryable codes and exhausted attempt
// budgets dead-letter the job; everything else leaves it FAILED for retry.
func (s *Service) Fail(ctx context.Context, id string, cause error) (*job.Job, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != job.StatusRunning {
		return nil, errcode.New(errcode.JobInvalidState,
			"job %s is %s, only RUNNING jobs can fail", id, record.Status)
	}
	code := errcode.CodeOf(cause)
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	record.Fail(code, message)
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	s.metrics.JobsCompleted.WithLabelValues(string(record.Status)).Inc()
	if record.Status == job.StatusDeadLetter {
		s.metrics.JobsDeadLettered.Inc()
		s.audit.Error(audit.EventJobDeadLettered, cause).
			Correlation(record.CorrelationID).Org(record.OrganizationID).
			Str("job_id", record.ID).
			Str("job_type", string(record.Type)).
			Str("entity_id", record.EntityID).
			Str("error_code", record.LastErrorCode).
			Int("attempts", record.Attempts).Emit()
	} else {
		s.audit.Warn(audit.EventJobFailed).
			Correlation(record.CorrelationID).Org(record.OrganizationID).
			Str("job_id", record.ID).
			Str("error_code", record.LastErrorCode).
			Int("attempts", record.Attempts).Emit()
	}
	return record, nil
}

// Requeue moves a retryably FAILED job back to QUEUED ahead of a queue
// redelivery. Attempts are preserved so the budget keeps counting down;
// manual Retry is the only path that resets it.
func (s *Service) Requeue(ctx context.Context, id string) (*job.Job, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != job.StatusFailed {
		return nil, errcode.New(errcode.JobInvalidState,
			"job %s is %s, only FAILED jobs can be requeued", id, record.Status)
	}
	record.Status = job.StatusQueued
	record.StartedAt = nil
	record.FinishedAt = nil
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Retry re-queues a FAILED or DEAD_LETTER job after an operator request.
// Jobs whose last failure is non-retryable are refused: retrying them would
// burn the budget on a deterministic failure.
func (s *Service) Retry(ctx context.Context, id, orgID string) (*job.Job, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.OrganizationID != orgID {
		return nil, errcode.New(errcode.JobOrgMismatch, "job %s belongs to another organization", id)
	}
	if record.Status != job.StatusFailed && record.Status != job.StatusDeadLetter {
		return nil, errcode.New(errcode.JobInvalidState,
			"job %s is %s, only FAILED or DEAD_LETTER jobs can be retried", id, record.Status)
	}
	if record.LastErrorCode != "" && !errcode.IsRetryable(errcode.Code(record.LastErrorCode)) {
		return nil, errcode.New(errcode.JobInvalidState,
			"job %s failed with non-retryable %s", id, record.LastErrorCode)
	}
	record.ResetForRetry()
	if err := s.store.Update(ctx, record); err != nil {
		if errors.Is(err, dao.ErrConflict) {
			return nil, errcode.New(errcode.Conflict,
				"entity %s already has an active %s job", record.EntityID, record.Type)
		}
		return nil, err
	}
	if err := s.publish(ctx, record); err != nil {
		return nil, errcode.Wrap(errcode.IntegrationError, err)
	}
	s.audit.Event(audit.EventJobRetried).
		Correlation(record.CorrelationID).Org(record.OrganizationID).
		Str("job_id", record.ID).Emit()
	return record, nil
}

// Cancel stops a job that has not started. Removing the queue envelope is
// best effort; a worker that still receives it will lose the claim.
func (s *Service) Cancel(ctx context.Context, id, orgID string) (*job.Job, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.OrganizationID != orgID {
		return nil, errcode.New(errcode.JobOrgMismatch, "job %s belongs to another organization", id)
	}
	if record.Status != job.StatusQueued {
		return nil, errcode.New(errcode.JobInvalidState,
			"job %s is %s, only QUEUED jobs can be cancelled", id, record.Status)
	}
	record.Status = job.StatusCancelled
	now := clock.Now()
	record.FinishedAt = &now
	if err := s.store.Update(ctx, record); err != nil {
		return nil, err
	}
	if _, err := s.queue.Remove(ctx, record.ID); err != nil {
		s.audit.Warn(audit.EventJobCancelled).
			Correlation(record.CorrelationID).Org(record.OrganizationID).
			Str("job_id", record.ID).
			Str("note", "queue removal failed, claim guard will drop the envelope").Emit()
	} else {
		s.audit.Event(audit.EventJobCancelled).
			Correlation(record.CorrelationID).Org(record.OrganizationID).
			Str("job_id", record.ID).Emit()
	}
	s.metrics.JobsCompleted.WithLabelValues(string(record.Status)).Inc()
	return record, nil
}

// Get returns a job scoped to the caller's organization.
func (s *Service) Get(ctx context.Context, id, orgID string) (*job.Job, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.OrganizationID != orgID {
		return nil, errcode.New(errcode.JobOrgMismatch, "job %s belongs to another organization", id)
	}
	return record, nil
}

// List returns the organization's jobs, optionally filtered by status and
// type.
func (s *Service) List(ctx context.Context, orgID string, status job.Status, jobType job.Type) ([]*job.Job, error) {
	parameters := []*dao.Parameter{dao.NewParameter("OrganizationID", orgID)}
	if status != "" {
		parameters = append(parameters, dao.NewParameter("Status", string(status)))
	}
	if jobType != "" {
		parameters = append(parameters, dao.NewParameter("Type", string(jobType)))
	}
	return s.store.List(ctx, parameters...)
}

func (s *Service) load(ctx context.Context, id string) (*job.Job, error) {
	record, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, errcode.New(errcode.JobNotFound, "job %s not found", id)
		}
		return nil, err
	}
	return record, nil
}
