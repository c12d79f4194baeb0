// Package execution defines the execution-record store contract. One row
// is written per real execution attempt; successful rows drive idempotent
// replay.
package execution

import (
	"context"

	"github.com/autoact/autoact/model/action"
)

// Store persists execution records.
type Store interface {
	// Insert appends an execution row. A second SUCCESS row for one
	// decision must be rejected atomically with dao.ErrConflict – callers
	// are expected to replay instead of re-executing.
	Insert(ctx context.Context, record *action.Execution) error

	// Load returns an execution by id, dao.ErrNotFound when absent.
	Load(ctx context.Context, id string) (*action.Execution, error)

	// FindSuccess returns the SUCCESS execution for a decision, or nil.
	FindSuccess(ctx context.Context, decisionID string) (*action.Execution, error)

	// ListByDecision returns every attempt for a decision in insertion
	// order.
	ListByDecision(ctx context.Context, decisionID string) ([]*action.Execution, error)
}
