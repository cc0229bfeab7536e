// File: cmd/demo/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"media-gen-orchestrator/internal/config"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/infra/adapters/media"
	"media-gen-orchestrator/internal/infra/clock"
	"media-gen-orchestrator/internal/infra/db/memory"
	"media-gen-orchestrator/internal/infra/logging"
	"media-gen-orchestrator/internal/infra/worker"
	"media-gen-orchestrator/internal/usecase"
)

// Runs a handful of simulated jobs end to end against the in-memory store
// with a compressed timing policy.
func main() {
	log := logging.New(config.LogConfig{Level: "info", Format: "console"}, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	repo := memory.NewGenerationJobRepo()
	reg, err := media.NewRegistry(nil, media.NewSimulatedAdapter(20*time.Millisecond))
	if err != nil {
		log.Fatal().Err(err).Msg("registry")
	}
	policy := model.Policy{
		InitialPollDelay:  100 * time.Millisecond,
		MaxPollInterval:   time.Second,
		SubmitBackoff:     100 * time.Millisecond,
		MaxSubmitAttempts: 3,
		MaxLifetime:       time.Minute,
	}
	scheduler := worker.NewScheduler(repo, reg, clock.Real{}, worker.SchedulerConfig{
		Workers:      4,
		TickInterval: 50 * time.Millisecond,
		CallTimeout:  5 * time.Second,
		Policy:       policy,
	}, log)
	uc := usecase.NewGenerationUseCase(repo, reg, scheduler, clock.Real{}, log)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(runCtx) }()

	requests := []map[string]string{
		{"steps": "3"},
		{"steps": "1", "outcome": "failure"},
		{"steps": "0", "outcome": "no_artifact"},
		{"fail_submits": "2"},
		{"fail_submits": "5"},
	}
	var ids []string
	for i, opts := range requests {
		job, err := uc.SubmitGeneration(ctx, model.GenerationRequest{
			Prompt:   fmt.Sprintf("demo clip %d", i+1),
			Provider: model.ProviderSimulated,
			Model:    "sim-video",
			Options:  opts,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("submit")
		}
		ids = append(ids, job.ID)
	}

	for scheduler.Tracked() > 0 && ctx.Err() == nil {
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	<-done

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tSUBMITS\tPOLLS\tRESULT")
	for _, id := range ids {
		j, err := uc.GetJobStatus(context.Background(), id)
		if err != nil {
			fmt.Fprintf(tw, "%s\t?\t\t\t%v\n", id, err)
			continue
		}
		result := j.ArtifactURL
		if j.Error != nil {
			result = string(j.Error.Kind) + ": " + j.Error.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", j.ID, j.State, j.SubmitAttempts, j.PollAttempts, result)
	}
	_ = tw.Flush()
}
