package usecase

import (
	"context"

	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
)

// JobTracker is the scheduler surface the use case hands new jobs to.
type JobTracker interface {
	Enqueue(job *model.GenerationJob)
}

type GenerationUseCase interface {
	// SubmitGeneration validates and persists a request and returns the queued
	// job. Invalid requests never create a job.
	SubmitGeneration(ctx context.Context, req model.GenerationRequest) (*model.GenerationJob, error)
	GetJobStatus(ctx context.Context, id string) (*model.GenerationJob, error)
	ListModels(ctx context.Context) []adapter.ModelDescriptor
}
