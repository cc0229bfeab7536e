package media

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.GenerationAdapter = (*SimulatedAdapter)(nil)

// SimulatedAdapter is an in-process provider for local runs, the demo and
// tests. A job reports processing for `steps` polls, then resolves per
// `outcome`. The external id is derived from the idempotency key, so a
// repeated submission maps onto the same simulated job.
type SimulatedAdapter struct {
	mu      sync.Mutex
	jobs    map[string]*simJob
	latency time.Duration
	baseURL string
}

type simJob struct {
	steps       int
	outcome     string
	polls       int
	failSubmits int
	submits     int
}

func NewSimulatedAdapter(latency time.Duration) *SimulatedAdapter {
	return &SimulatedAdapter{
		jobs:    make(map[string]*simJob),
		latency: latency,
		baseURL: "https://artifacts.simulated.local",
	}
}

func (s *SimulatedAdapter) Provider() model.Provider { return model.ProviderSimulated }

func (s *SimulatedAdapter) Models() []adapter.ModelSpec {
	opts := []adapter.OptionSpec{
		{Name: "steps", Kind: adapter.OptionInt, Min: 0, Max: 20, Default: "2", Description: "polls answered with processing before the outcome"},
		{Name: "outcome", Kind: adapter.OptionEnum, Allowed: []string{"success", "failure", "no_artifact"}, Default: "success"},
		{Name: "fail_submits", Kind: adapter.OptionInt, Min: 0, Max: 10, Default: "0", Description: "retryable submission failures before acceptance"},
	}
	return []adapter.ModelSpec{
		{Name: "sim-video", Description: "Simulated text-to-video model", MaxPromptTokens: 2000, Options: opts},
		{Name: "sim-image", Description: "Simulated text-to-image model", MaxPromptTokens: 1000, Options: opts},
	}
}

func (s *SimulatedAdapter) Submit(ctx context.Context, req model.GenerationRequest, idempotencyKey string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", &domain.SubmissionError{Retryable: true, Message: transportMessage(err), Err: err}
	}
	id := "sim_" + idempotencyKey
	if idempotencyKey == "" {
		id = fmt.Sprintf("sim_%d", time.Now().UnixNano())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		steps, _ := strconv.Atoi(req.Option("steps", "2"))
		fails, _ := strconv.Atoi(req.Option("fail_submits", "0"))
		j = &simJob{steps: steps, outcome: req.Option("outcome", "success"), failSubmits: fails}
		s.jobs[id] = j
	}
	j.submits++
	if j.submits <= j.failSubmits {
		return "", &domain.SubmissionError{Retryable: true, Message: "simulated provider busy", StatusCode: 503}
	}
	return id, nil
}

func (s *SimulatedAdapter) Poll(ctx context.Context, externalID string) (model.NormalizedStatus, error) {
	if err := s.wait(ctx); err != nil {
		return model.NormalizedStatus{}, &domain.PollError{Retryable: true, Message: transportMessage(err), Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[externalID]
	if !ok || j.submits <= j.failSubmits {
		return model.NormalizedStatus{}, &domain.PollError{Message: "unknown simulated job " + externalID, StatusCode: 404}
	}
	j.polls++
	if j.polls <= j.steps {
		return model.StatusProcessing(j.polls * 100 / (j.steps + 1)), nil
	}
	switch j.outcome {
	case "failure":
		return model.StatusFailed("simulated generation failure", false), nil
	case "no_artifact":
		return model.StatusSucceeded(""), nil
	}
	return model.StatusSucceeded(fmt.Sprintf("%s/%s.mp4", s.baseURL, externalID)), nil
}

func (s *SimulatedAdapter) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
