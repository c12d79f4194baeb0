package autoact

import (
	"context"
	"fmt"

	"github.com/autoact/autoact/metrics"
	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/policy"
	"github.com/autoact/autoact/service/audit"
	daodecision "github.com/autoact/autoact/service/dao/decision"
	decisionmem "github.com/autoact/autoact/service/dao/decision/memory"
	daoexecution "github.com/autoact/autoact/service/dao/execution"
	executionmem "github.com/autoact/autoact/service/dao/execution/memory"
	daojob "github.com/autoact/autoact/service/dao/job"
	jobmem "github.com/autoact/autoact/service/dao/job/memory"
	daorule "github.com/autoact/autoact/service/dao/rule"
	rulemem "github.com/autoact/autoact/service/dao/rule/memory"
	daorun "github.com/autoact/autoact/service/dao/run"
	runmem "github.com/autoact/autoact/service/dao/run/memory"
	daotemplate "github.com/autoact/autoact/service/dao/template"
	templatemem "github.com/autoact/autoact/service/dao/template/memory"
	"github.com/autoact/autoact/service/decision"
	"github.com/autoact/autoact/service/engine"
	"github.com/autoact/autoact/service/evidence"
	"github.com/autoact/autoact/service/executor"
	"github.com/autoact/autoact/service/executor/nop"
	"github.com/autoact/autoact/service/job"
	"github.com/autoact/autoact/service/messaging"
	queuemem "github.com/autoact/autoact/service/messaging/memory"
	"github.com/autoact/autoact/service/processor"
)

// Service is the assembled orchestration engine. Construction wires the
// decision ledger, execution adapter, policy engine, job ledger, run engine
// and worker pool around a shared set of stores; in-memory defaults fill
// every gap so New() alone yields a working engine.
type Service struct {
	config *Config

	decisions  daodecision.Store
	executions daoexecution.Store
	jobs       daojob.Store
	runs       daorun.Store
	templates  daotemplate.Store
	rules      daorule.Store
	queue      messaging.DurableQueue[job.Envelope]

	proposals decision.ProposalSource
	evidence  evidence.Sink
	auditor   *audit.Logger
	metrics   *metrics.Metrics

	policyEngine   *policy.Engine
	decisionLedger *decision.Service
	execAdapter    *executor.Service
	jobLedger      *job.Service
	runEngine      *engine.Service
	pool           *processor.Service
}

// noProposalSource is the default proposal source: every lookup fails until
// the embedding application wires the real one.
type noProposalSource struct{}

func (noProposalSource) GetProposal(context.Context, string) (*action.Proposal, error) {
	return nil, fmt.Errorf("no proposal source configured")
}

// New assembles an engine. Options may replace any store, the queue, the
// proposal source and the observability plumbing.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	s.ensureBaseSetup()

	decisionOptions := []decision.Option{
		decision.WithAudit(s.auditor), decision.WithMetrics(s.metrics)}
	if s.evidence != nil {
		decisionOptions = append(decisionOptions, decision.WithEvidence(s.evidence))
	}

	// the policy engine counts the ledger's own auto-decisions, so a
	// counter-only ledger instance over the same store breaks the cycle
	counter := decision.New(s.decisions, s.proposals, nil)
	var policyOptions []policy.Option
	if s.config.Policy.Disabled {
		policyOptions = append(policyOptions, policy.WithDisabled())
	}
	s.policyEngine = policy.New(s.rules, counter, policyOptions...)

	s.decisionLedger = decision.New(s.decisions, s.proposals, s.policyEngine, decisionOptions...)
	s.execAdapter = executor.New(s.decisions, s.executions,
		executor.WithAudit(s.auditor), executor.WithMetrics(s.metrics))
	s.execAdapter.Register(action.TypePlaybookStep, nop.New())

	s.jobLedger = job.New(s.jobs, s.queue,
		job.WithAudit(s.auditor), job.WithMetrics(s.metrics))
	s.runEngine = engine.New(s.runs, s.templates, s.decisionLedger, s.execAdapter,
		engine.WithAudit(s.auditor), engine.WithMetrics(s.metrics))

	pool, err := processor.New(s.queue, s.jobLedger, s.execAdapter, s.runEngine,
		processor.WithWorkers(s.config.Processor.Workers),
		processor.WithAudit(s.auditor))
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

func (s *Service) ensureBaseSetup() {
	if s.decisions == nil {
		s.decisions = decisionmem.New()
	}
	if s.executions == nil {
		s.executions = executionmem.New()
	}
	if s.jobs == nil {
		s.jobs = jobmem.New()
	}
	if s.runs == nil {
		s.runs = runmem.New()
	}
	if s.templates == nil {
		s.templates = templatemem.New()
	}
	if s.rules == nil {
		s.rules = rulemem.New()
	}
	if s.queue == nil {
		queueConfig := queuemem.DefaultConfig()
		if s.config.Queue.MaxRetries > 0 {
			queueConfig.MaxRetries = s.config.Queue.MaxRetries
		}
		if s.config.Queue.RetryDelay > 0 {
			queueConfig.RetryDelay = s.config.Queue.RetryDelay
		}
		s.queue = queuemem.NewQueue[job.Envelope](queueConfig)
	}
	if s.proposals == nil {
		s.proposals = noProposalSource{}
	}
	if s.auditor == nil {
		s.auditor = audit.New()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
}

// Start launches the worker pool.
func (s *Service) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Shutdown stops the workers and waits for in-flight jobs.
func (s *Service) Shutdown() {
	s.pool.Shutdown()
}

// Decisions returns the decision ledger.
func (s *Service) Decisions() *decision.Service { return s.decisionLedger }

// Executors returns the execution adapter; applications register one
// executor per action type on it.
func (s *Service) Executors() *executor.Service { return s.execAdapter }

// Jobs returns the async job ledger.
func (s *Service) Jobs() *job.Service { return s.jobLedger }

// Runs returns the playbook run engine.
func (s *Service) Runs() *engine.Service { return s.runEngine }

// Policy returns the policy engine.
func (s *Service) Policy() *policy.Engine { return s.policyEngine }

// Rules returns the policy rule store for administration.
func (s *Service) Rules() daorule.Store { return s.rules }

// Templates returns the playbook template store.
func (s *Service) Templates() daotemplate.Store { return s.templates }

// Metrics returns the engine's metric collectors.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }
