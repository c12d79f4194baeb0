// Package decision defines the append-only decision store contract. Rows
// are inserted, never updated or deleted; a correction is a new row.
package decision

import (
	"context"
	"time"

	"github.com/autoact/autoact/model/action"
)

// Store is the persistence contract of the decision ledger.
type Store interface {
	// Insert appends a decision row. When the new decision is
	// APPROVED/MODIFIED and an active approval already exists for the same
	// proposal, the implementation must reject atomically with
	// dao.ErrConflict.
	Insert(ctx context.Context, record *action.Decision) error

	// Load returns a decision by id, dao.ErrNotFound when absent.
	Load(ctx context.Context, id string) (*action.Decision, error)

	// FindActive returns the APPROVED/MODIFIED decision for a proposal, or
	// nil when none exists.
	FindActive(ctx context.Context, proposalID string) (*action.Decision, error)

	// ListByProposal returns every decision recorded for a proposal in
	// insertion order.
	ListByProposal(ctx context.Context, proposalID string) ([]*action.Decision, error)

	// CountByDeciderSince counts org decisions recorded by deciderID at or
	// after since. Used by the policy engine's max_actions_per_day check.
	CountByDeciderSince(ctx context.Context, orgID, deciderID string, since time.Time) (int, error)
}
