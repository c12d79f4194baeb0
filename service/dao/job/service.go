// Package job defines the async job ledger's persistence contract. The
// claim operation is the engine's only cross-process mutual-exclusion
// primitive and must be an atomic conditional update.
package job

import (
	"context"

	"github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/dao"
)

// Store persists async jobs.
type Store interface {
	// Insert adds a new job row.
	Insert(ctx context.Context, record *job.Job) error

	// Load returns a job by id, dao.ErrNotFound when absent.
	Load(ctx context.Context, id string) (*job.Job, error)

	// FindActive returns the QUEUED/RUNNING job for (jobType, entityID),
	// or nil. This lookup backs enqueue deduplication.
	FindActive(ctx context.Context, jobType job.Type, entityID string) (*job.Job, error)

	// Claim atomically moves the job from QUEUED to RUNNING and reports
	// whether this caller won. Implementations must use a single
	// conditional update (status=RUNNING WHERE id=? AND status=QUEUED),
	// never read-then-write.
	Claim(ctx context.Context, id string) (bool, error)

	// Update persists status/error/timestamp changes for an existing job.
	Update(ctx context.Context, record *job.Job) error

	// List returns jobs matching the given parameters (Status, Type,
	// OrganizationID).
	List(ctx context.Context, parameters ...*dao.Parameter) ([]*job.Job, error)
}
