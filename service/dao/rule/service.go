// Package rule defines the policy rule store contract. The engine reads
// rules; administrators create, toggle and delete them.
package rule

import (
	"context"

	"github.com/autoact/autoact/policy"
)

// Store persists policy rules and doubles as the engine's RuleSource.
type Store interface {
	policy.RuleSource

	// Save inserts or updates a rule, assigning a monotonic Seq on first
	// insert so same-timestamp rules keep a deterministic order.
	Save(ctx context.Context, record *policy.Rule) error

	// Load returns a rule by id, dao.ErrNotFound when absent.
	Load(ctx context.Context, id string) (*policy.Rule, error)

	// Delete removes a rule.
	Delete(ctx context.Context, id string) error

	// ListByOrg returns every rule configured for an organization.
	ListByOrg(ctx context.Context, orgID string) ([]*policy.Rule, error)
}
