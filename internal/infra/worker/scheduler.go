package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
	"media-gen-orchestrator/internal/domain/ports/repository"
	"media-gen-orchestrator/internal/domain/ports/usecase"
	"media-gen-orchestrator/internal/infra/clock"
	"media-gen-orchestrator/internal/infra/logging"
	"media-gen-orchestrator/internal/infra/metrics"
)

var _ usecase.JobTracker = (*Scheduler)(nil)

// idempotencyNamespace scopes the UUIDv5 keys derived from job ids.
var idempotencyNamespace = uuid.MustParse("6f1c4f0e-2b57-5a8e-9d3c-6d8f3b1e7a42")

// IdempotencyKey is stable across every submission attempt of a job.
func IdempotencyKey(jobID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(jobID)).String()
}

type SchedulerConfig struct {
	Workers      int
	TickInterval time.Duration
	CallTimeout  time.Duration
	Policy       model.Policy
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.Policy == (model.Policy{}) {
		c.Policy = model.DefaultPolicy()
	}
	return c
}

type tracked struct {
	nextAt   time.Time
	inFlight bool
}

// Scheduler drives every non-terminal job through its lifecycle. A job id is
// dispatched only when it is due and not already in flight, so one process
// never runs two actions for the same job; the optional JobLocker extends
// that to several processes sharing a store.
type Scheduler struct {
	repo     repository.GenerationJobRepository
	registry adapter.ProviderRegistry
	clock    clock.Clock
	locker   repository.JobLocker
	cfg      SchedulerConfig
	log      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*tracked
	wake chan struct{}
}

func NewScheduler(
	repo repository.GenerationJobRepository,
	registry adapter.ProviderRegistry,
	clk clock.Clock,
	cfg SchedulerConfig,
	log *zerolog.Logger,
) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Scheduler{
		repo:     repo,
		registry: registry,
		clock:    clk,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "Scheduler").Logger(),
		jobs:     make(map[string]*tracked),
		wake:     make(chan struct{}, 1),
	}
}

// WithLocker enables the per-job lease.
func (s *Scheduler) WithLocker(l repository.JobLocker) *Scheduler {
	s.locker = l
	return s
}

// Load rebuilds the working set from the store. Interrupted submissions are
// recovered first so a restart resumes polling instead of resubmitting.
func (s *Scheduler) Load(ctx context.Context) error {
	jobs, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list non-terminal jobs: %w", err)
	}
	recovered := 0
	for _, j := range jobs {
		if j.State == model.JobStateSubmitting {
			if out, err := s.recoverJob(ctx, j.ID); err == nil {
				j = out
				recovered++
			} else if errors.Is(err, domain.ErrJobTerminal) || errors.Is(err, domain.ErrNotFound) {
				continue
			} else {
				s.log.Warn().Err(err).Str("job_id", j.ID).Msg("recovery deferred")
			}
		}
		s.track(j)
	}
	s.log.Info().Int("jobs", len(jobs)).Int("recovered", recovered).Msg("working set loaded")
	return nil
}

func (s *Scheduler) recoverJob(ctx context.Context, id string) (*model.GenerationJob, error) {
	unlock, err := s.lease(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	now := s.clock.Now()
	return s.repo.Update(ctx, id, func(j *model.GenerationJob) error {
		return j.Recover(now)
	})
}

// Enqueue adds a freshly accepted job and wakes the loop.
func (s *Scheduler) Enqueue(job *model.GenerationJob) {
	if job == nil || job.State.IsTerminal() {
		return
	}
	s.track(job)
	s.notify()
}

// Adopt adds the jobs that are not tracked yet and reports how many were new.
func (s *Scheduler) Adopt(jobs []*model.GenerationJob) int {
	added := 0
	s.mu.Lock()
	for _, j := range jobs {
		if j == nil || j.State.IsTerminal() {
			continue
		}
		if _, ok := s.jobs[j.ID]; ok {
			continue
		}
		s.jobs[j.ID] = &tracked{nextAt: dueAt(j)}
		added++
	}
	n := len(s.jobs)
	s.mu.Unlock()

	metrics.SetJobsTracked(n)
	if added > 0 {
		s.notify()
	}
	return added
}

// Tracked is the size of the working set.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Run loads the working set and dispatches due jobs to the worker pool until
// ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	pool := NewPool(s.cfg.Workers, s.cfg.Workers*4, &s.log)
	pool.Start(ctx)
	defer pool.Stop()

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info().Int("workers", s.cfg.Workers).Dur("tick", s.cfg.TickInterval).Msg("scheduler started")
	for {
		s.dispatch(ctx, pool)
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return nil
		case <-ticker.C():
		case <-s.wake:
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, pool *Pool) {
	due := s.takeDue(s.clock.Now())
	for i, id := range due {
		id := id
		err := pool.Submit(func(ctx context.Context) error {
			s.runJob(ctx, id)
			return nil
		})
		if err != nil {
			// leave the rest due for the next tick
			for _, rest := range due[i:] {
				s.release(rest)
				metrics.IncDispatchDropped()
			}
			s.log.Debug().Int("dropped", len(due)-i).Msg("worker pool saturated")
			return
		}
	}
}

// RunOnce processes every job that is due now, at most Workers at a time, and
// waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	due := s.takeDue(s.clock.Now())
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, id := range due {
		id := id
		g.Go(func() error {
			s.runJob(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, id string) {
	job, err := s.ProcessJob(ctx, id)
	s.settle(id, job, err)
}

// ProcessJob takes the single next step for one job and returns the stored
// result.
func (s *Scheduler) ProcessJob(ctx context.Context, id string) (*model.GenerationJob, error) {
	ctx = logging.WithJobID(ctx, id)
	log := logging.With(ctx, &s.log)
	defer logging.TraceDuration(log, "Scheduler.ProcessJob")()

	unlock, err := s.lease(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	p := s.cfg.Policy

	switch job.NextAction(now, p) {
	case model.ActionExpire:
		log.Warn().Str("state", string(job.State)).Msg("job exceeded its lifetime")
		return s.update(ctx, job, func(j *model.GenerationJob) error { return j.Expire(now, p) })
	case model.ActionRecover:
		log.Info().Bool("has_external_id", job.ExternalID != "").Msg("recovering interrupted submission")
		return s.update(ctx, job, func(j *model.GenerationJob) error { return j.Recover(now) })
	case model.ActionSubmit:
		return s.submit(ctx, job, log)
	case model.ActionPoll:
		return s.poll(ctx, job, log)
	}
	return job, nil
}

func (s *Scheduler) submit(ctx context.Context, job *model.GenerationJob, log *zerolog.Logger) (*model.GenerationJob, error) {
	p := s.cfg.Policy
	provider := string(job.Request.Provider)

	adp, resolveErr := s.registry.Resolve(job.Request.Provider, job.Request.Model)
	if resolveErr != nil {
		now := s.clock.Now()
		metrics.IncJobSubmission(provider, "failed")
		return s.update(ctx, job, func(j *model.GenerationJob) error {
			if err := j.BeginSubmit(now); err != nil {
				return err
			}
			return j.FailSubmit(resolveErr.Error(), false, now, p)
		})
	}

	now := s.clock.Now()
	job, err := s.repo.Update(ctx, job.ID, func(j *model.GenerationJob) error { return j.BeginSubmit(now) })
	if err != nil {
		return nil, fmt.Errorf("begin submit: %w", err)
	}

	extID, callErr := s.callSubmit(ctx, adp, job.Request, IdempotencyKey(job.ID))

	// the outcome is persisted even when shutdown canceled the call
	wctx := context.WithoutCancel(ctx)
	done := s.clock.Now()
	var ie *domain.InvalidProviderResponseError
	switch {
	case callErr == nil:
		log.Info().Str("external_id", extID).Int("attempt", job.SubmitAttempts).Msg("job submitted")
		out, err := s.update(wctx, job, func(j *model.GenerationJob) error { return j.CompleteSubmit(extID, done, p) })
		if err == nil {
			metrics.IncJobSubmission(provider, submitOutcome(out))
		}
		return out, err
	case errors.As(callErr, &ie):
		log.Error().Err(callErr).Msg("invalid submission response")
		metrics.IncJobSubmission(provider, "invalid")
		return s.update(wctx, job, func(j *model.GenerationJob) error { return j.FailInvalidResponse(ie.Message, done) })
	default:
		retryable := domain.IsRetryable(callErr)
		log.Warn().Err(callErr).Bool("retryable", retryable).Int("attempt", job.SubmitAttempts).Msg("submission failed")
		out, err := s.update(wctx, job, func(j *model.GenerationJob) error {
			return j.FailSubmit(domain.ErrorMessage(callErr), retryable, done, p)
		})
		if err == nil {
			metrics.IncJobSubmission(provider, submitOutcome(out))
		}
		return out, err
	}
}

func (s *Scheduler) poll(ctx context.Context, job *model.GenerationJob, log *zerolog.Logger) (*model.GenerationJob, error) {
	p := s.cfg.Policy
	provider := string(job.Request.Provider)

	adp, resolveErr := s.registry.Resolve(job.Request.Provider, job.Request.Model)
	if resolveErr != nil {
		now := s.clock.Now()
		metrics.IncJobPoll(provider, "error")
		return s.update(ctx, job, func(j *model.GenerationJob) error { return j.ApplyPollError(resolveErr.Error(), false, now, p) })
	}

	st, callErr := s.callPoll(ctx, adp, job.ExternalID)

	wctx := context.WithoutCancel(ctx)
	done := s.clock.Now()
	var ie *domain.InvalidProviderResponseError
	switch {
	case callErr == nil:
		metrics.IncJobPoll(provider, string(st.Kind))
		log.Debug().Str("status", string(st.Kind)).Int("progress", st.Progress).Int("poll", job.PollAttempts+1).Msg("job polled")
		return s.update(wctx, job, func(j *model.GenerationJob) error { return j.ApplyPoll(st, done, p) })
	case errors.As(callErr, &ie):
		metrics.IncJobPoll(provider, "error")
		log.Error().Err(callErr).Msg("invalid poll response")
		return s.update(wctx, job, func(j *model.GenerationJob) error { return j.FailInvalidResponse(ie.Message, done) })
	default:
		metrics.IncJobPoll(provider, "error")
		retryable := domain.IsRetryable(callErr)
		log.Warn().Err(callErr).Bool("retryable", retryable).Msg("poll failed")
		return s.update(wctx, job, func(j *model.GenerationJob) error {
			return j.ApplyPollError(domain.ErrorMessage(callErr), retryable, done, p)
		})
	}
}

// callSubmit bounds the provider call and turns an adapter panic into a
// non-retryable invalid response. Untyped adapter errors are transport
// failures and stay retryable.
func (s *Scheduler) callSubmit(ctx context.Context, a adapter.GenerationAdapter, req model.GenerationRequest, key string) (id string, err error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			id, err = "", &domain.InvalidProviderResponseError{Message: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()
	id, err = a.Submit(cctx, req, key)
	var se *domain.SubmissionError
	var ie *domain.InvalidProviderResponseError
	if err != nil && !errors.As(err, &se) && !errors.As(err, &ie) {
		err = &domain.SubmissionError{Retryable: true, Message: err.Error(), Err: err}
	}
	return id, err
}

func (s *Scheduler) callPoll(ctx context.Context, a adapter.GenerationAdapter, externalID string) (st model.NormalizedStatus, err error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			st, err = model.NormalizedStatus{}, &domain.InvalidProviderResponseError{Message: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()
	st, err = a.Poll(cctx, externalID)
	var pe *domain.PollError
	var ie *domain.InvalidProviderResponseError
	if err != nil && !errors.As(err, &pe) && !errors.As(err, &ie) {
		err = &domain.PollError{Retryable: true, Message: err.Error(), Err: err}
	}
	return st, err
}

// update persists fn and records the job's arrival in a terminal state.
func (s *Scheduler) update(ctx context.Context, job *model.GenerationJob, fn repository.Mutation) (*model.GenerationJob, error) {
	out, err := s.repo.Update(ctx, job.ID, fn)
	if err != nil {
		return nil, err
	}
	if out.State.IsTerminal() {
		kind := ""
		ev := s.log.Info().Str("job_id", out.ID).Str("provider", string(out.Request.Provider)).Str("state", string(out.State))
		if out.Error != nil {
			kind = string(out.Error.Kind)
			ev = ev.Str("error_kind", kind).Str("error", out.Error.Message)
		}
		ev.Dur("age", out.UpdatedAt.Sub(out.CreatedAt)).Msg("job finished")
		metrics.IncJobFinished(string(out.Request.Provider), string(out.State), kind)
	}
	return out, nil
}

func (s *Scheduler) lease(ctx context.Context, id string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.TryLock(ctx, id)
}

// settle returns a processed job to the working set, or drops it once it is
// terminal or gone. Store and lease failures keep the job for the next tick.
func (s *Scheduler) settle(id string, job *model.GenerationJob, err error) {
	now := s.clock.Now()
	s.mu.Lock()
	t, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.inFlight = false
	switch {
	case err == nil && job.State.IsTerminal(),
		errors.Is(err, domain.ErrJobTerminal),
		errors.Is(err, domain.ErrNotFound):
		delete(s.jobs, id)
	case err == nil:
		t.nextAt = dueAt(job)
	default:
		t.nextAt = now.Add(s.cfg.TickInterval)
	}
	n := len(s.jobs)
	s.mu.Unlock()
	metrics.SetJobsTracked(n)

	if err != nil && !errors.Is(err, domain.ErrJobTerminal) && !errors.Is(err, domain.ErrNotFound) {
		ev := s.log.Warn()
		if errors.Is(err, domain.ErrLeaseHeld) {
			ev = s.log.Debug()
		}
		ev.Err(err).Str("job_id", id).Msg("job action deferred")
	}
}

func (s *Scheduler) track(job *model.GenerationJob) {
	s.mu.Lock()
	if t, ok := s.jobs[job.ID]; ok {
		if !t.inFlight {
			t.nextAt = dueAt(job)
		}
	} else {
		s.jobs[job.ID] = &tracked{nextAt: dueAt(job)}
	}
	n := len(s.jobs)
	s.mu.Unlock()
	metrics.SetJobsTracked(n)
}

// takeDue marks due jobs in flight and returns them oldest-due first.
func (s *Scheduler) takeDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for id, t := range s.jobs {
		if !t.inFlight && !now.Before(t.nextAt) {
			t.inFlight = true
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := s.jobs[due[i]].nextAt, s.jobs[due[j]].nextAt
		if a.Equal(b) {
			return due[i] < due[j]
		}
		return a.Before(b)
	})
	return due
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	if t, ok := s.jobs[id]; ok {
		t.inFlight = false
	}
	s.mu.Unlock()
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dueAt is when the scheduler should next look at the job. Interrupted
// submissions are due at once.
func dueAt(j *model.GenerationJob) time.Time {
	if j.State == model.JobStateSubmitting {
		return time.Time{}
	}
	return j.NextPollAt
}

func submitOutcome(j *model.GenerationJob) string {
	switch {
	case j.State == model.JobStateProcessing:
		return "accepted"
	case j.State == model.JobStateQueued:
		return "retry"
	case j.Error != nil && j.Error.Kind == model.ErrorKindSubmissionExhausted:
		return "exhausted"
	case j.Error != nil && j.Error.Kind == model.ErrorKindInvalidProviderResponse:
		return "invalid"
	}
	return "failed"
}
