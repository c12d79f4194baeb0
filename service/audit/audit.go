// Package audit emits the structured audit trail for decisions, executions,
// jobs and playbook runs. Every event carries the correlation id so a signal
// can be traced end to end.
package audit

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Event names recorded by the orchestration services.
const (
	EventDecisionRecorded   = "decision.recorded"
	EventDecisionAutomated  = "decision.automated"
	EventDecisionConflict   = "decision.conflict"
	EventExecutionStarted   = "execution.started"
	EventExecutionSucceeded = "execution.succeeded"
	EventExecutionFailed    = "execution.failed"
	EventExecutionReplayed  = "execution.replayed"
	EventExecutionDryRun    = "execution.dry_run"
	EventJobEnqueued        = "job.enqueued"
	EventJobDeduplicated    = "job.deduplicated"
	EventJobClaimed         = "job.claimed"
	EventJobCompleted       = "job.completed"
	EventJobFailed          = "job.failed"
	EventJobDeadLettered    = "job.dead_lettered"
	EventJobRetried         = "job.retried"
	EventJobCancelled       = "job.cancelled"
	EventRunInitiated       = "run.initiated"
	EventRunAdvanced        = "run.advanced"
	EventRunCompleted       = "run.completed"
	EventRunFailed          = "run.failed"
	EventRunCancelled       = "run.cancelled"
)

// Logger writes audit events as structured log lines.
type Logger struct {
	zlog zerolog.Logger
}

// Option customises a Logger.
type Option func(*Logger)

// WithOutput directs audit events to the given writer.
func WithOutput(w io.Writer) Option {
	return func(l *Logger) {
		l.zlog = l.zlog.Output(w)
	}
}

// WithLevel sets the minimum level emitted.
func WithLevel(level zerolog.Level) Option {
	return func(l *Logger) {
		l.zlog = l.zlog.Level(level)
	}
}

// New creates an audit logger writing JSON lines to stderr by default.
func New(options ...Option) *Logger {
	l := &Logger{
		zlog: zerolog.New(os.Stderr).With().Timestamp().Str("component", "audit").Logger(),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Nop returns a logger that discards every event, used in tests.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Entry accumulates fields for a single audit event.
type Entry struct {
	event *zerolog.Event
	name  string
}

// Event starts an info-level audit entry.
func (l *Logger) Event(name string) *Entry {
	return &Entry{event: l.zlog.Info(), name: name}
}

// Warn starts a warn-level audit entry.
func (l *Logger) Warn(name string) *Entry {
	return &Entry{event: l.zlog.Warn(), name: name}
}

// Error starts an error-level audit entry carrying the cause.
func (l *Logger) Error(name string, err error) *Entry {
	return &Entry{event: l.zlog.Error().Err(err), name: name}
}

// Str adds a string field.
func (e *Entry) Str(key, value string) *Entry {
	e.event = e.event.Str(key, value)
	return e
}

// Int adds an integer field.
func (e *Entry) Int(key string, value int) *Entry {
	e.event = e.event.Int(key, value)
	return e
}

// Bool adds a boolean field.
func (e *Entry) Bool(key string, value bool) *Entry {
	e.event = e.event.Bool(key, value)
	return e
}

// Dur adds a duration field in milliseconds.
func (e *Entry) Dur(key string, value time.Duration) *Entry {
	e.event = e.event.Dur(key, value)
	return e
}

// Correlation adds the correlation id shared by every event of one signal.
func (e *Entry) Correlation(id string) *Entry {
	return e.Str("correlation_id", id)
}

// Org adds the organization scope.
func (e *Entry) Org(id string) *Entry {
	return e.Str("organization_id", id)
}

// Emit writes the accumulated entry.
func (e *Entry) Emit() {
	e.event.Str("event", e.name).Msg(e.name)
}
