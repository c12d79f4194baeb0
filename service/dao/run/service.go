// Package run defines the playbook run store contract: runs plus the step
// rows a run exclusively owns.
package run

import (
	"context"

	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/service/dao"
)

// Store persists playbook runs and their steps.
type Store interface {
	// SaveRun inserts or updates a run.
	SaveRun(ctx context.Context, record *playbook.Run) error

	// LoadRun returns a run by id, dao.ErrNotFound when absent.
	LoadRun(ctx context.Context, id string) (*playbook.Run, error)

	// ListRuns returns runs matching the parameters (Status,
	// OrganizationID, TemplateID).
	ListRuns(ctx context.Context, parameters ...*dao.Parameter) ([]*playbook.Run, error)

	// SaveStep inserts or updates a single step.
	SaveStep(ctx context.Context, record *playbook.RunStep) error

	// LoadStep returns a step by id, dao.ErrNotFound when absent.
	LoadStep(ctx context.Context, id string) (*playbook.RunStep, error)

	// ListSteps returns every step of a run ordered by step order.
	ListSteps(ctx context.Context, runID string) ([]*playbook.RunStep, error)
}
