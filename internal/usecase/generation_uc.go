// File: internal/usecase/generation_uc.go
package usecase

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
	"media-gen-orchestrator/internal/domain/ports/repository"
	"media-gen-orchestrator/internal/domain/ports/usecase"
	"media-gen-orchestrator/internal/infra/clock"
	"media-gen-orchestrator/internal/infra/logging"
	"media-gen-orchestrator/internal/infra/metrics"
)

// Compile-time check
var _ usecase.GenerationUseCase = (*generationUC)(nil)

type generationUC struct {
	jobs     repository.GenerationJobRepository
	registry adapter.ProviderRegistry
	tracker  usecase.JobTracker
	clock    clock.Clock
	log      *zerolog.Logger
}

// NewGenerationUseCase wires request validation to the job store. tracker may
// be nil when another process runs the scheduler; the reconciler there picks
// the job up.
func NewGenerationUseCase(
	jobs repository.GenerationJobRepository,
	registry adapter.ProviderRegistry,
	tracker usecase.JobTracker,
	clk clock.Clock,
	logger *zerolog.Logger,
) *generationUC {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "GenerationUseCase").Logger()
	return &generationUC{jobs: jobs, registry: registry, tracker: tracker, clock: clk, log: &l}
}

func (uc *generationUC) SubmitGeneration(ctx context.Context, req model.GenerationRequest) (*model.GenerationJob, error) {
	req, err := uc.registry.Validate(req)
	if err != nil {
		return nil, err
	}

	now := uc.clock.Now()
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	job, err := model.NewGenerationJob(id, req, now)
	if err != nil {
		return nil, err
	}
	if err := uc.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	metrics.IncJobAccepted(string(job.Request.Provider))
	logging.With(logging.WithJobID(ctx, id), uc.log).Info().
		Str("provider", string(job.Request.Provider)).
		Str("model", job.Request.Model).
		Int("prompt_len", len(job.Request.Prompt)).
		Msg("generation accepted")

	if uc.tracker != nil {
		uc.tracker.Enqueue(job.Clone())
	}
	return job, nil
}

func (uc *generationUC) GetJobStatus(ctx context.Context, id string) (*model.GenerationJob, error) {
	return uc.jobs.Get(ctx, id)
}

func (uc *generationUC) ListModels(ctx context.Context) []adapter.ModelDescriptor {
	return uc.registry.Models()
}
