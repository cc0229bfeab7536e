package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/repository"
	"media-gen-orchestrator/internal/infra/metrics"
)

// Adopter takes jobs into a scheduler working set and reports how many were new.
type Adopter interface {
	Adopt(jobs []*model.GenerationJob) int
}

// Reconciler periodically re-reads the non-terminal jobs from the store and
// hands the ones the local scheduler does not know about to it. This picks up
// jobs created by other instances or left behind by a crashed one. When the
// store can push changes, those are adopted as they arrive.
type Reconciler struct {
	interval time.Duration
	repo     repository.GenerationJobRepository
	tracker  Adopter
	watcher  repository.JobWatcher
	log      *zerolog.Logger
}

func NewReconciler(interval time.Duration, repo repository.GenerationJobRepository, tracker Adopter, logger *zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	recLog := logger.With().Str("component", "Reconciler").Logger()
	return &Reconciler{
		interval: interval,
		repo:     repo,
		tracker:  tracker,
		log:      &recLog,
	}
}

// WithWatcher subscribes to store change notifications.
func (w *Reconciler) WithWatcher(watcher repository.JobWatcher) *Reconciler {
	w.watcher = watcher
	return w
}

func (w *Reconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Bool("watch", w.watcher != nil).Msg("Starting reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var changes <-chan *model.GenerationJob
	if w.watcher != nil {
		changes = w.watcher.Watch(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reconciler")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				w.log.Error().Err(err).Msg("reconcile failed")
			}
		case job, ok := <-changes:
			if !ok {
				// watch ended; fall back to the ticker alone
				changes = nil
				continue
			}
			if n := w.tracker.Adopt([]*model.GenerationJob{job}); n > 0 {
				metrics.AddJobsReconciled(n)
				w.log.Debug().Str("job_id", job.ID).Msg("job adopted from watch")
			}
		}
	}
}

// Tick runs one reconciliation pass and returns the number of adopted jobs.
func (w *Reconciler) Tick(ctx context.Context) (int, error) {
	jobs, err := w.repo.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}
	n := w.tracker.Adopt(jobs)
	if n > 0 {
		metrics.AddJobsReconciled(n)
		w.log.Info().Int("count", n).Int("non_terminal", len(jobs)).Msg("jobs adopted from store")
	}
	return n, nil
}
