package autoact

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/autoact/autoact/metrics"
	"github.com/autoact/autoact/service/audit"
	daodecision "github.com/autoact/autoact/service/dao/decision"
	daoexecution "github.com/autoact/autoact/service/dao/execution"
	daojob "github.com/autoact/autoact/service/dao/job"
	daorule "github.com/autoact/autoact/service/dao/rule"
	daorun "github.com/autoact/autoact/service/dao/run"
	"github.com/autoact/autoact/service/dao/sqlite"
	daotemplate "github.com/autoact/autoact/service/dao/template"
	"github.com/autoact/autoact/service/decision"
	"github.com/autoact/autoact/service/evidence"
	"github.com/autoact/autoact/service/job"
	"github.com/autoact/autoact/service/messaging"
	"github.com/autoact/autoact/tracing"
)

// Option customises the engine assembly.
type Option func(s *Service)

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithWorkers sets the worker pool size.
func WithWorkers(count int) Option {
	return func(s *Service) { s.config.Processor.Workers = count }
}

// WithProposalSource wires the authoritative proposal lookup.
func WithProposalSource(source decision.ProposalSource) Option {
	return func(s *Service) { s.proposals = source }
}

// WithEvidenceSink wires asynchronous evidence emission.
func WithEvidenceSink(sink evidence.Sink) Option {
	return func(s *Service) { s.evidence = sink }
}

// WithAudit replaces the audit logger.
func WithAudit(logger *audit.Logger) Option {
	return func(s *Service) { s.auditor = logger }
}

// WithMetrics replaces the metric collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithQueue replaces the in-process durable queue.
func WithQueue(queue messaging.DurableQueue[job.Envelope]) Option {
	return func(s *Service) { s.queue = queue }
}

// WithDecisionStore replaces the decision store.
func WithDecisionStore(store daodecision.Store) Option {
	return func(s *Service) { s.decisions = store }
}

// WithExecutionStore replaces the execution store.
func WithExecutionStore(store daoexecution.Store) Option {
	return func(s *Service) { s.executions = store }
}

// WithJobStore replaces the job store.
func WithJobStore(store daojob.Store) Option {
	return func(s *Service) { s.jobs = store }
}

// WithRunStore replaces the playbook run store.
func WithRunStore(store daorun.Store) Option {
	return func(s *Service) { s.runs = store }
}

// WithTemplateStore replaces the template store.
func WithTemplateStore(store daotemplate.Store) Option {
	return func(s *Service) { s.templates = store }
}

// WithRuleStore replaces the policy rule store.
func WithRuleStore(store daorule.Store) Option {
	return func(s *Service) { s.rules = store }
}

// WithStorage wires the SQLite-backed stores (decisions, executions, jobs,
// runs, rules) from one initialised database. Templates keep their
// configured store; they are authored as files or in memory.
func WithStorage(store *sqlite.Store) Option {
	return func(s *Service) {
		s.decisions = store.Decisions()
		s.executions = store.Executions()
		s.jobs = store.Jobs()
		s.runs = store.Runs()
		s.rules = store.Rules()
	}
}

// WithTracing configures OpenTelemetry tracing. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied
// file path. The first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing with a custom span
// exporter, e.g. OTLP. The first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
