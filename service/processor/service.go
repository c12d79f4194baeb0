// Package processor runs the worker pool that drains the job queue. The
// queue only wakes workers up; the job row is the unit of work, and the
// atomic claim makes duplicate deliveries collapse into no-ops.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	modeljob "github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/audit"
	"github.com/autoact/autoact/service/engine"
	"github.com/autoact/autoact/service/executor"
	"github.com/autoact/autoact/service/job"
	"github.com/autoact/autoact/service/messaging"
	"github.com/autoact/autoact/tracing"
)

// Config holds the worker pool settings.
type Config struct {
	// WorkerCount is the number of concurrent workers.
	WorkerCount int

	// ConsumeBackoff is the pause after a transient consume error.
	ConsumeBackoff time.Duration
}

// DefaultConfig returns the standard worker pool configuration.
func DefaultConfig() Config {
	return Config{
		WorkerCount:    5,
		ConsumeBackoff: 100 * time.Millisecond,
	}
}

// Service is the job worker pool.
type Service struct {
	config Config
	queue  messaging.Queue[job.Envelope]
	ledger *job.Service
	exec   *executor.Service
	engine *engine.Service
	audit  *audit.Logger

	workers    []*worker
	workerWg   sync.WaitGroup
	shutdownMu sync.Mutex
	shutdown   bool
}

type worker struct {
	id       int
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// Option customises the worker pool.
type Option func(*Service)

// WithConfig sets the pool configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithWorkers sets the number of worker goroutines.
func WithWorkers(count int) Option {
	return func(s *Service) { s.config.WorkerCount = count }
}

// WithAudit overrides the audit logger.
func WithAudit(logger *audit.Logger) Option {
	return func(s *Service) { s.audit = logger }
}

// New creates a worker pool bound to the queue, job ledger and the two job
// handlers.
func New(queue messaging.Queue[job.Envelope], ledger *job.Service, exec *executor.Service, eng *engine.Service, options ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		queue:  queue,
		ledger: ledger,
		exec:   exec,
		engine: eng,
		audit:  audit.New(),
	}
	for _, option := range options {
		option(s)
	}
	if s.queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if s.ledger == nil {
		return nil, fmt.Errorf("job ledger is required")
	}
	if s.exec == nil {
		return nil, fmt.Errorf("execution adapter is required")
	}
	if s.engine == nil {
		return nil, fmt.Errorf("run engine is required")
	}
	return s, nil
}

// Start launches the worker goroutines.
func (s *Service) Start(ctx context.Context) error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.shutdown {
		return fmt.Errorf("processor already shut down")
	}
	for i := 0; i < s.config.WorkerCount; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{id: i, service: s, ctx: workerCtx, cancelFn: cancel}
		s.workers = append(s.workers, w)
		s.workerWg.Add(1)
		go w.run()
	}
	return nil
}

// Shutdown stops the workers and waits for in-flight jobs to finish.
func (s *Service) Shutdown() {
	s.shutdownMu.Lock()
	s.shutdown = true
	workers := s.workers
	s.shutdownMu.Unlock()
	for _, w := range workers {
		w.cancelFn()
	}
	s.workerWg.Wait()
}

func (w *worker) run() {
	defer w.service.workerWg.Done()
	for {
		message, err := w.service.queue.Consume(w.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			time.Sleep(w.service.config.ConsumeBackoff)
			continue
		}
		if message == nil {
			continue
		}
		w.service.processMessage(w.ctx, message)
	}
}

// processMessage claims and runs one job. Every path settles the message:
// Ack for handled or stale envelopes, Nack when the job should come back.
func (s *Service) processMessage(ctx context.Context, message messaging.Message[job.Envelope]) {
	envelope := message.T()
	ctx, span := tracing.StartSpan(ctx, "processor.process")
	span.WithAttributes(map[string]string{"job.id": envelope.JobID})

	claimed, won, err := s.ledger.Claim(ctx, envelope.JobID)
	if err != nil || !won {
		// stale, cancelled or concurrently-claimed envelope
		_ = message.Ack()
		tracing.EndSpan(span, nil)
		return
	}

	handlerErr := s.dispatch(ctx, claimed)
	if handlerErr == nil {
		if _, err := s.ledger.Complete(ctx, claimed.ID); err != nil {
			s.audit.Error(audit.EventJobFailed, err).
				Correlation(claimed.CorrelationID).Org(claimed.OrganizationID).
				Str("job_id", claimed.ID).
				Str("note", "job finished but completion could not be recorded").Emit()
		}
		_ = message.Ack()
		tracing.EndSpan(span, nil)
		return
	}

	failed, err := s.ledger.Fail(ctx, claimed.ID, handlerErr)
	if err != nil {
		_ = message.Nack(handlerErr)
		tracing.EndSpan(span, err)
		return
	}
	if failed.Status == modeljob.StatusFailed {
		// retryable with budget left: requeue the row and let the broker
		// redeliver after backoff
		if _, err := s.ledger.Requeue(ctx, claimed.ID); err == nil {
			_ = message.Nack(handlerErr)
		} else {
			_ = message.Ack()
		}
		tracing.EndSpan(span, handlerErr)
		return
	}
	// dead-lettered: the envelope is spent
	_ = message.Ack()
	tracing.EndSpan(span, handlerErr)
}

func (s *Service) dispatch(ctx context.Context, claimed *modeljob.Job) error {
	switch claimed.Type {
	case modeljob.TypeExecuteDecision:
		_, err := s.exec.Execute(ctx, &executor.Request{
			DecisionID: claimed.EntityID,
			ExecutedBy: claimed.CreatedBy,
			JobID:      claimed.ID,
		})
		return err
	case modeljob.TypeAdvancePlaybookStep:
		_, err := s.engine.AdvanceRun(ctx, claimed.EntityID)
		return err
	default:
		return fmt.Errorf("unknown job type %q", claimed.Type)
	}
}
