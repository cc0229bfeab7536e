package repository

import (
	"context"

	"media-gen-orchestrator/internal/domain/model"
)

// Mutation edits a job in place. Returning an error aborts the update and
// leaves the stored record untouched.
type Mutation func(job *model.GenerationJob) error

// GenerationJobRepository is the durable job store. Implementations return
// copies, never shared pointers, and run every mutation through
// model.CheckMutation before persisting it.
type GenerationJobRepository interface {
	// Create fails with domain.ErrAlreadyExists for a duplicate id.
	Create(ctx context.Context, job *model.GenerationJob) error

	// Get fails with domain.ErrNotFound.
	Get(ctx context.Context, id string) (*model.GenerationJob, error)

	// Update applies fn atomically with respect to other updates of the same
	// job and returns the stored result. A terminal job yields domain.ErrJobTerminal.
	Update(ctx context.Context, id string, fn Mutation) (*model.GenerationJob, error)

	// ListNonTerminal returns every job that is not yet succeeded or failed,
	// oldest first.
	ListNonTerminal(ctx context.Context) ([]*model.GenerationJob, error)
}

// JobLocker grants a short exclusive lease on a job so that several
// orchestrator instances sharing a store never act on it concurrently.
type JobLocker interface {
	// TryLock returns domain.ErrLeaseHeld if another holder owns the lease.
	TryLock(ctx context.Context, jobID string) (unlock func(), err error)
}

// JobWatcher is implemented by stores that can push jobs written by other
// processes instead of waiting for the next full listing.
type JobWatcher interface {
	Watch(ctx context.Context) <-chan *model.GenerationJob
}
