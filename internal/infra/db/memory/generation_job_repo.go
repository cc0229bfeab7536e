package memory

import (
	"context"
	"sort"
	"sync"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/repository"
)

var _ repository.GenerationJobRepository = (*GenerationJobRepo)(nil)

// GenerationJobRepo keeps jobs in process memory. Used by the demo, the
// CLI dev mode and tests.
type GenerationJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.GenerationJob
}

func NewGenerationJobRepo() *GenerationJobRepo {
	return &GenerationJobRepo{jobs: make(map[string]*model.GenerationJob)}
}

func (r *GenerationJobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	if job == nil {
		return domain.ErrInvalidArgument
	}
	if err := job.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *GenerationJobRepo) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (r *GenerationJobRepo) Update(ctx context.Context, id string, fn repository.Mutation) (*model.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if cur.State.IsTerminal() {
		return nil, domain.ErrJobTerminal
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := model.CheckMutation(cur, next); err != nil {
		return nil, err
	}
	r.jobs[id] = next
	return next.Clone(), nil
}

func (r *GenerationJobRepo) ListNonTerminal(ctx context.Context) ([]*model.GenerationJob, error) {
	r.mu.Lock()
	out := make([]*model.GenerationJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		if !j.State.IsTerminal() {
			out = append(out, j.Clone())
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}
