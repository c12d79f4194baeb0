// Package template defines the playbook template store contract. Drafts
// are mutable, published templates are frozen snapshots.
package template

import (
	"context"

	"github.com/autoact/autoact/model/playbook"
)

// Store persists playbook templates.
type Store interface {
	// Save inserts or updates a template. Implementations must reject
	// updates to templates that are no longer mutable.
	Save(ctx context.Context, record *playbook.Template) error

	// Load returns a template by id, dao.ErrNotFound when absent.
	Load(ctx context.Context, id string) (*playbook.Template, error)

	// LoadByKey returns a template by its unique key.
	LoadByKey(ctx context.Context, key string) (*playbook.Template, error)

	// List returns every stored template.
	List(ctx context.Context) ([]*playbook.Template, error)
}
