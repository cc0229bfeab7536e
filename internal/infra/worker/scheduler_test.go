//go:build !integration

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
	"media-gen-orchestrator/internal/infra/clock"
	"media-gen-orchestrator/internal/infra/db/memory"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type mockAdapter struct {
	SubmitFunc func(ctx context.Context, req model.GenerationRequest, key string) (string, error)
	PollFunc   func(ctx context.Context, externalID string) (model.NormalizedStatus, error)

	mu      sync.Mutex
	submits []string
	polls   []string
}

func (m *mockAdapter) Provider() model.Provider { return model.ProviderSimulated }
func (m *mockAdapter) Models() []adapter.ModelSpec { return []adapter.ModelSpec{{Name: "sim-video"}} }

func (m *mockAdapter) Submit(ctx context.Context, req model.GenerationRequest, key string) (string, error) {
	m.mu.Lock()
	m.submits = append(m.submits, key)
	m.mu.Unlock()
	if m.SubmitFunc == nil {
		return "ext-1", nil
	}
	return m.SubmitFunc(ctx, req, key)
}

func (m *mockAdapter) Poll(ctx context.Context, externalID string) (model.NormalizedStatus, error) {
	m.mu.Lock()
	m.polls = append(m.polls, externalID)
	m.mu.Unlock()
	return m.PollFunc(ctx, externalID)
}

func (m *mockAdapter) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submits), len(m.polls)
}

type mockRegistry struct {
	a adapter.GenerationAdapter
}

func (r *mockRegistry) Resolve(provider model.Provider, modelName string) (adapter.GenerationAdapter, error) {
	if provider != model.ProviderSimulated {
		return nil, &domain.UnsupportedModelError{Provider: string(provider), Model: modelName}
	}
	return r.a, nil
}

func (r *mockRegistry) Validate(req model.GenerationRequest) (model.GenerationRequest, error) {
	return req, nil
}

func (r *mockRegistry) Models() []adapter.ModelDescriptor { return nil }

type mockLocker struct {
	TryLockFunc func(ctx context.Context, jobID string) (func(), error)
}

func (m *mockLocker) TryLock(ctx context.Context, jobID string) (func(), error) {
	return m.TryLockFunc(ctx, jobID)
}

type harness struct {
	s    *Scheduler
	clk  *clock.Fake
	repo *memory.GenerationJobRepo
	a    *mockAdapter
}

func newHarness(t *testing.T, a *mockAdapter) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	repo := memory.NewGenerationJobRepo()
	log := zerolog.Nop()
	s := NewScheduler(repo, &mockRegistry{a: a}, clk, SchedulerConfig{Workers: 4, TickInterval: time.Second}, &log)
	return &harness{s: s, clk: clk, repo: repo, a: a}
}

func (h *harness) addJob(t *testing.T, id string, provider model.Provider) *model.GenerationJob {
	t.Helper()
	job, err := model.NewGenerationJob(id, model.GenerationRequest{Prompt: "a lighthouse", Provider: provider, Model: "sim-video"}, h.clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.repo.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	h.s.Enqueue(job)
	return job
}

// drive runs one scheduler pass per step until the job is terminal.
func (h *harness) drive(t *testing.T, id string, step time.Duration, maxSteps int) *model.GenerationJob {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxSteps; i++ {
		if err := h.s.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		job, err := h.repo.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.State.IsTerminal() {
			return job
		}
		h.clk.Advance(step)
	}
	t.Fatalf("job %s not terminal after %d steps", id, maxSteps)
	return nil
}

func processingThen(n int, final model.NormalizedStatus, clk clock.Clock, at *[]time.Time) func(context.Context, string) (model.NormalizedStatus, error) {
	calls := 0
	return func(context.Context, string) (model.NormalizedStatus, error) {
		*at = append(*at, clk.Now())
		calls++
		if calls <= n {
			return model.StatusProcessing(calls * 10), nil
		}
		return final, nil
	}
}

func TestScheduler_Polling(t *testing.T) {
	t.Run("should poll N+1 times with exponential delays and keep the artifact url", func(t *testing.T) {
		var pollTimes []time.Time
		a := &mockAdapter{}
		h := newHarness(t, a)
		a.PollFunc = processingThen(5, model.StatusSucceeded("https://cdn.example/v.mp4?sig=abc"), h.clk, &pollTimes)
		h.addJob(t, "job-1", model.ProviderSimulated)

		job := h.drive(t, "job-1", time.Second, 1000)

		if job.State != model.JobStateSucceeded || job.ArtifactURL != "https://cdn.example/v.mp4?sig=abc" {
			t.Fatalf("unexpected job %+v", job)
		}
		if job.Error != nil {
			t.Fatalf("succeeded job carries an error: %+v", job.Error)
		}
		if len(pollTimes) != 6 || job.PollAttempts != 6 {
			t.Fatalf("expected 6 polls, got %d (attempts %d)", len(pollTimes), job.PollAttempts)
		}
		want := []time.Duration{5, 10, 20, 40, 60, 60}
		prev := t0
		for i, at := range pollTimes {
			if gap := at.Sub(prev); gap != want[i]*time.Second {
				t.Errorf("poll %d came %s after the previous action, want %s", i+1, gap, want[i]*time.Second)
			}
			prev = at
		}
	})

	t.Run("should fail a success without an artifact url", func(t *testing.T) {
		var at []time.Time
		a := &mockAdapter{}
		h := newHarness(t, a)
		a.PollFunc = processingThen(0, model.StatusSucceeded(""), h.clk, &at)
		h.addJob(t, "job-2", model.ProviderSimulated)

		job := h.drive(t, "job-2", time.Second, 100)
		if job.State != model.JobStateFailed || job.Error.Kind != model.ErrorKindInvalidProviderResponse || job.Error.Retryable {
			t.Fatalf("unexpected job %+v", job)
		}
		if job.ArtifactURL != "" {
			t.Fatal("failed job carries an artifact url")
		}
	})

	t.Run("should record a provider failure", func(t *testing.T) {
		var at []time.Time
		a := &mockAdapter{}
		h := newHarness(t, a)
		a.PollFunc = processingThen(1, model.StatusFailed("content policy", false), h.clk, &at)
		h.addJob(t, "job-3", model.ProviderSimulated)

		job := h.drive(t, "job-3", time.Second, 100)
		if job.Error == nil || job.Error.Kind != model.ErrorKindProviderFailed || job.Error.Message != "content policy" {
			t.Fatalf("unexpected job %+v", job)
		}
		if job.ExternalID != "ext-1" {
			t.Fatalf("expected external id to survive the failure, got %q", job.ExternalID)
		}
	})

	t.Run("should retry a transient poll error on the backoff", func(t *testing.T) {
		calls := 0
		a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			calls++
			if calls == 1 {
				return model.NormalizedStatus{}, &domain.PollError{Retryable: true, Message: "gateway timeout", StatusCode: 504}
			}
			return model.StatusSucceeded("https://cdn.example/x.mp4"), nil
		}}
		h := newHarness(t, a)
		h.addJob(t, "job-4", model.ProviderSimulated)

		if err := h.s.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		h.clk.Advance(5 * time.Second)
		_ = h.s.RunOnce(context.Background())
		job, _ := h.repo.Get(context.Background(), "job-4")
		if job.State != model.JobStateProcessing || job.LastError != "gateway timeout" {
			t.Fatalf("expected a retried poll, got %+v", job)
		}
		if got := job.NextPollAt.Sub(h.clk.Now()); got != 10*time.Second {
			t.Fatalf("expected next poll in 10s, got %s", got)
		}

		job = h.drive(t, "job-4", time.Second, 100)
		if job.State != model.JobStateSucceeded || job.LastError != "" {
			t.Fatalf("unexpected job %+v", job)
		}
	})

	t.Run("should retry a bare adapter error as a transport failure", func(t *testing.T) {
		calls := 0
		a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			calls++
			if calls == 1 {
				return model.NormalizedStatus{}, errors.New("read tcp: connection reset by peer")
			}
			return model.StatusSucceeded("https://cdn.example/reset.mp4"), nil
		}}
		h := newHarness(t, a)
		h.addJob(t, "job-21", model.ProviderSimulated)

		_ = h.s.RunOnce(context.Background())
		h.clk.Advance(5 * time.Second)
		_ = h.s.RunOnce(context.Background())
		job, _ := h.repo.Get(context.Background(), "job-21")
		if job.State != model.JobStateProcessing || job.Error != nil {
			t.Fatalf("expected the job to stay in processing, got %+v", job)
		}
		if !strings.Contains(job.LastError, "connection reset") || job.PollAttempts != 1 {
			t.Fatalf("expected the error to be recorded as a poll retry, got %+v", job)
		}

		job = h.drive(t, "job-21", time.Second, 100)
		if job.State != model.JobStateSucceeded || job.ArtifactURL != "https://cdn.example/reset.mp4" {
			t.Fatalf("unexpected job %+v", job)
		}
	})

	t.Run("should not poll before the next poll time", func(t *testing.T) {
		a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			return model.StatusProcessing(1), nil
		}}
		h := newHarness(t, a)
		h.addJob(t, "job-22", model.ProviderSimulated)
		if err := h.s.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		before, _ := h.repo.Get(context.Background(), "job-22")
		if before.State != model.JobStateProcessing {
			t.Fatalf("expected a processing job, got %+v", before)
		}

		h.clk.Advance(4 * time.Second)
		for i := 0; i < 3; i++ {
			job, err := h.s.ProcessJob(context.Background(), "job-22")
			if err != nil {
				t.Fatalf("ProcessJob: %v", err)
			}
			if job.PollAttempts != 0 || !job.NextPollAt.Equal(before.NextPollAt) || !job.UpdatedAt.Equal(before.UpdatedAt) {
				t.Fatalf("early call changed the job: %+v", job)
			}
		}
		if _, polls := a.counts(); polls != 0 {
			t.Fatalf("expected no polls before the next poll time, got %d", polls)
		}
	})

	t.Run("should fail on a permanent poll error", func(t *testing.T) {
		a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			return model.NormalizedStatus{}, &domain.PollError{Message: "not found", StatusCode: 404}
		}}
		h := newHarness(t, a)
		h.addJob(t, "job-5", model.ProviderSimulated)

		job := h.drive(t, "job-5", time.Second, 100)
		if job.Error == nil || job.Error.Kind != model.ErrorKindPoll || job.Error.Message != "not found" {
			t.Fatalf("unexpected job %+v", job)
		}
	})
}

func TestScheduler_Submission(t *testing.T) {
	t.Run("should give up after exactly MaxSubmitAttempts retryable failures", func(t *testing.T) {
		var at []time.Time
		a := &mockAdapter{}
		h := newHarness(t, a)
		a.SubmitFunc = func(context.Context, model.GenerationRequest, string) (string, error) {
			at = append(at, h.clk.Now())
			return "", &domain.SubmissionError{Retryable: true, Message: "overloaded", StatusCode: 503}
		}
		h.addJob(t, "job-6", model.ProviderSimulated)

		job := h.drive(t, "job-6", time.Second, 100)
		if job.State != model.JobStateFailed || job.Error.Kind != model.ErrorKindSubmissionExhausted || !job.Error.Retryable {
			t.Fatalf("unexpected job %+v", job)
		}
		if len(at) != 4 || job.SubmitAttempts != 4 {
			t.Fatalf("expected 4 submissions, got %d (attempts %d)", len(at), job.SubmitAttempts)
		}
		for i, want := range []time.Duration{0, 2, 6, 12} {
			if got := at[i].Sub(t0); got != want*time.Second {
				t.Errorf("submission %d at +%s, want +%s", i+1, got, want*time.Second)
			}
		}
		if job.ExternalID != "" {
			t.Fatal("exhausted job must not carry an external id")
		}
	})

	t.Run("should retry a bare adapter error as a transport failure", func(t *testing.T) {
		calls := 0
		a := &mockAdapter{
			SubmitFunc: func(context.Context, model.GenerationRequest, string) (string, error) {
				calls++
				if calls == 1 {
					return "", errors.New("dial tcp: i/o timeout")
				}
				return "ext-9", nil
			},
			PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
				return model.StatusSucceeded("https://cdn.example/dial.mp4"), nil
			},
		}
		h := newHarness(t, a)
		h.addJob(t, "job-23", model.ProviderSimulated)

		_ = h.s.RunOnce(context.Background())
		job, _ := h.repo.Get(context.Background(), "job-23")
		if job.State != model.JobStateQueued || job.Error != nil || job.SubmitAttempts != 1 {
			t.Fatalf("expected a queued retry, got %+v", job)
		}

		job = h.drive(t, "job-23", time.Second, 100)
		if job.State != model.JobStateSucceeded || job.ExternalID != "ext-9" || job.SubmitAttempts != 2 {
			t.Fatalf("unexpected job %+v", job)
		}
	})

	t.Run("should fail at once on a permanent rejection", func(t *testing.T) {
		a := &mockAdapter{SubmitFunc: func(context.Context, model.GenerationRequest, string) (string, error) {
			return "", &domain.SubmissionError{Message: "prompt rejected", StatusCode: 400}
		}}
		h := newHarness(t, a)
		h.addJob(t, "job-7", model.ProviderSimulated)

		job := h.drive(t, "job-7", time.Second, 10)
		if job.Error == nil || job.Error.Kind != model.ErrorKindSubmission || job.SubmitAttempts != 1 {
			t.Fatalf("unexpected job %+v", job)
		}
	})

	t.Run("should use one idempotency key for every attempt", func(t *testing.T) {
		fails := 2
		a := &mockAdapter{
			SubmitFunc: func(context.Context, model.GenerationRequest, string) (string, error) {
				if fails > 0 {
					fails--
					return "", &domain.SubmissionError{Retryable: true, Message: "busy"}
				}
				return "ext-7", nil
			},
			PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
				return model.StatusSucceeded("https://cdn.example/y.mp4"), nil
			},
		}
		h := newHarness(t, a)
		h.addJob(t, "job-8", model.ProviderSimulated)
		h.drive(t, "job-8", time.Second, 100)

		if len(a.submits) != 3 {
			t.Fatalf("expected 3 submissions, got %d", len(a.submits))
		}
		for _, k := range a.submits {
			if k != IdempotencyKey("job-8") {
				t.Fatalf("unexpected key %q", k)
			}
		}
	})

	t.Run("should turn an adapter panic into an invalid response", func(t *testing.T) {
		a := &mockAdapter{SubmitFunc: func(context.Context, model.GenerationRequest, string) (string, error) {
			panic("nil map")
		}}
		h := newHarness(t, a)
		h.addJob(t, "job-9", model.ProviderSimulated)

		job := h.drive(t, "job-9", time.Second, 10)
		if job.Error == nil || job.Error.Kind != model.ErrorKindInvalidProviderResponse || job.Error.Retryable {
			t.Fatalf("unexpected job %+v", job)
		}
	})

	t.Run("should fail a job whose provider is no longer registered", func(t *testing.T) {
		h := newHarness(t, &mockAdapter{})
		h.addJob(t, "job-10", model.ProviderVeo)

		job := h.drive(t, "job-10", time.Second, 10)
		if job.Error == nil || job.Error.Kind != model.ErrorKindSubmission {
			t.Fatalf("unexpected job %+v", job)
		}
		if n, _ := h.a.counts(); n != 0 {
			t.Fatalf("adapter must not be called, got %d submissions", n)
		}
	})
}

func TestScheduler_Lifetime(t *testing.T) {
	t.Run("should time out a job that never finishes", func(t *testing.T) {
		a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			return model.StatusProcessing(50), nil
		}}
		h := newHarness(t, a)
		h.addJob(t, "job-11", model.ProviderSimulated)

		job := h.drive(t, "job-11", 30*time.Second, 200)
		if job.Error == nil || job.Error.Kind != model.ErrorKindTimeout || job.Error.Retryable {
			t.Fatalf("unexpected job %+v", job)
		}
		if got := job.UpdatedAt.Sub(t0); got != 30*time.Minute {
			t.Fatalf("expected expiry exactly at the deadline, got +%s", got)
		}
		if h.s.Tracked() != 0 {
			t.Fatal("terminal job still tracked")
		}
	})

	t.Run("should bring every job to a terminal state", func(t *testing.T) {
		a := &mockAdapter{}
		h := newHarness(t, a)
		a.PollFunc = func(ctx context.Context, id string) (model.NormalizedStatus, error) {
			if id == "ext-bad" {
				return model.NormalizedStatus{}, &domain.PollError{Retryable: true, Message: "flaky"}
			}
			return model.StatusSucceeded("https://cdn.example/" + id), nil
		}
		a.SubmitFunc = func(_ context.Context, req model.GenerationRequest, key string) (string, error) {
			if req.Prompt == "bad" {
				return "ext-bad", nil
			}
			return "ext-" + key[:8], nil
		}
		ids := []string{"a", "b", "c", "d", "e", "f"}
		for _, id := range ids {
			h.addJob(t, id, model.ProviderSimulated)
		}
		bad, _ := model.NewGenerationJob("bad", model.GenerationRequest{Prompt: "bad", Provider: model.ProviderSimulated, Model: "sim-video"}, t0)
		_ = h.repo.Create(context.Background(), bad)
		h.s.Enqueue(bad)

		for i := 0; i < 100 && h.s.Tracked() > 0; i++ {
			_ = h.s.RunOnce(context.Background())
			h.clk.Advance(time.Minute)
		}
		left, _ := h.repo.ListNonTerminal(context.Background())
		if len(left) != 0 || h.s.Tracked() != 0 {
			t.Fatalf("non-terminal jobs left: %d (tracked %d)", len(left), h.s.Tracked())
		}
		got, _ := h.repo.Get(context.Background(), "bad")
		if got.Error == nil || got.Error.Kind != model.ErrorKindTimeout {
			t.Fatalf("unexpected job %+v", got)
		}
	})
}

func TestScheduler_Restart(t *testing.T) {
	ctx := context.Background()
	p := model.DefaultPolicy()

	t.Run("should resume polling with the stored external id", func(t *testing.T) {
		a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			return model.StatusSucceeded("https://cdn.example/r.mp4"), nil
		}}
		h := newHarness(t, a)
		job, _ := model.NewGenerationJob("job-12", model.GenerationRequest{Prompt: "p", Provider: model.ProviderSimulated, Model: "sim-video"}, t0)
		_ = h.repo.Create(ctx, job)
		_, err := h.repo.Update(ctx, "job-12", func(j *model.GenerationJob) error {
			if err := j.BeginSubmit(t0); err != nil {
				return err
			}
			return j.CompleteSubmit("ext-stored", t0, p)
		})
		if err != nil {
			t.Fatal(err)
		}

		if err := h.s.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		out := h.drive(t, "job-12", time.Second, 100)
		submits, polls := a.counts()
		if submits != 0 || polls != 1 || a.polls[0] != "ext-stored" {
			t.Fatalf("expected a single poll of ext-stored, got submits=%d polls=%v", submits, a.polls)
		}
		if out.State != model.JobStateSucceeded {
			t.Fatalf("unexpected job %+v", out)
		}
	})

	t.Run("should requeue an interrupted submission", func(t *testing.T) {
		a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			return model.StatusSucceeded("https://cdn.example/q.mp4"), nil
		}}
		h := newHarness(t, a)
		job, _ := model.NewGenerationJob("job-13", model.GenerationRequest{Prompt: "p", Provider: model.ProviderSimulated, Model: "sim-video"}, t0)
		_ = h.repo.Create(ctx, job)
		_, _ = h.repo.Update(ctx, "job-13", func(j *model.GenerationJob) error { return j.BeginSubmit(t0) })

		if err := h.s.Load(ctx); err != nil {
			t.Fatalf("Load: %v", err)
		}
		got, _ := h.repo.Get(ctx, "job-13")
		if got.State != model.JobStateQueued {
			t.Fatalf("expected queued after recovery, got %s", got.State)
		}
		out := h.drive(t, "job-13", time.Second, 100)
		if out.State != model.JobStateSucceeded || out.SubmitAttempts != 2 {
			t.Fatalf("unexpected job %+v", out)
		}
		if a.submits[0] != IdempotencyKey("job-13") {
			t.Fatal("resubmission must reuse the idempotency key")
		}
	})
}

func TestScheduler_Lease(t *testing.T) {
	t.Run("should leave a leased job alone", func(t *testing.T) {
		h := newHarness(t, &mockAdapter{})
		h.s.WithLocker(&mockLocker{TryLockFunc: func(context.Context, string) (func(), error) {
			return nil, domain.ErrLeaseHeld
		}})
		h.addJob(t, "job-14", model.ProviderSimulated)

		_ = h.s.RunOnce(context.Background())
		if n, _ := h.a.counts(); n != 0 {
			t.Fatal("adapter called without the lease")
		}
		if h.s.Tracked() != 1 {
			t.Fatal("job dropped from the working set")
		}
		job, _ := h.repo.Get(context.Background(), "job-14")
		if job.State != model.JobStateQueued {
			t.Fatalf("unexpected state %s", job.State)
		}
	})

	t.Run("should release the lease after each action", func(t *testing.T) {
		var mu sync.Mutex
		held := map[string]bool{}
		h := newHarness(t, &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
			return model.StatusSucceeded("https://cdn.example/l.mp4"), nil
		}})
		h.s.WithLocker(&mockLocker{TryLockFunc: func(_ context.Context, id string) (func(), error) {
			mu.Lock()
			defer mu.Unlock()
			if held[id] {
				return nil, domain.ErrLeaseHeld
			}
			held[id] = true
			return func() { mu.Lock(); held[id] = false; mu.Unlock() }, nil
		}})
		h.addJob(t, "job-15", model.ProviderSimulated)

		job := h.drive(t, "job-15", time.Second, 100)
		if job.State != model.JobStateSucceeded || held["job-15"] {
			t.Fatalf("unexpected job %+v (held %v)", job, held["job-15"])
		}
	})
}

func TestScheduler_WorkingSet(t *testing.T) {
	h := newHarness(t, &mockAdapter{})
	a, _ := model.NewGenerationJob("a", model.GenerationRequest{Prompt: "p", Provider: model.ProviderSimulated, Model: "m"}, t0)
	b, _ := model.NewGenerationJob("b", model.GenerationRequest{Prompt: "p", Provider: model.ProviderSimulated, Model: "m"}, t0)
	done := a.Clone()
	done.ID = "c"
	done.State = model.JobStateFailed
	done.Error = &model.JobError{Kind: model.ErrorKindTimeout, Message: "x"}

	if n := h.s.Adopt([]*model.GenerationJob{a, b, done}); n != 2 {
		t.Fatalf("expected 2 adopted, got %d", n)
	}
	if n := h.s.Adopt([]*model.GenerationJob{a, b}); n != 0 {
		t.Fatalf("expected nothing new, got %d", n)
	}
	h.s.Enqueue(done)
	if h.s.Tracked() != 2 {
		t.Fatalf("expected 2 tracked, got %d", h.s.Tracked())
	}
}

func TestScheduler_Run(t *testing.T) {
	t.Run("should drive an enqueued job to completion", func(t *testing.T) {
		var at []time.Time
		a := &mockAdapter{}
		h := newHarness(t, a)
		a.PollFunc = processingThen(1, model.StatusSucceeded("https://cdn.example/run.mp4"), h.clk, &at)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- h.s.Run(ctx) }()

		h.addJob(t, "job-16", model.ProviderSimulated)
		var job *model.GenerationJob
		for i := 0; i < 5000; i++ {
			job, _ = h.repo.Get(context.Background(), "job-16")
			if job.State.IsTerminal() {
				break
			}
			if h.clk.Waiters() > 0 {
				h.clk.Advance(time.Second)
			}
			time.Sleep(time.Millisecond)
		}
		cancel()
		if err := <-errc; err != nil {
			t.Fatalf("Run: %v", err)
		}
		if job.State != model.JobStateSucceeded {
			t.Fatalf("unexpected job %+v", job)
		}
	})
}

func TestScheduler_RunTimers(t *testing.T) {
	a := &mockAdapter{PollFunc: func(context.Context, string) (model.NormalizedStatus, error) {
		return model.StatusProcessing(1), nil
	}}
	h := newHarness(t, a)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.s.Run(ctx) }()

	waitFor := func(what string, cond func() bool) {
		t.Helper()
		for i := 0; i < 2000; i++ {
			if cond() {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s", what)
	}
	waitFor("the scheduler to start", func() bool { return h.clk.Waiters() == 1 })

	// every enqueue wakes the loop
	for i := 0; i < 5; i++ {
		h.addJob(t, fmt.Sprintf("job-3%d", i), model.ProviderSimulated)
		waitFor("the submission", func() bool { s, _ := a.counts(); return s == i+1 })
	}
	time.Sleep(10 * time.Millisecond)
	if n := h.clk.Waiters(); n != 1 {
		t.Fatalf("expected the loop to reuse one timer, got %d pending", n)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := h.clk.Waiters(); n != 0 {
		t.Fatalf("expected the ticker to be stopped, got %d pending", n)
	}
}

func TestIdempotencyKey(t *testing.T) {
	k := IdempotencyKey("01HZX")
	if k != IdempotencyKey("01HZX") {
		t.Fatal("key must be stable")
	}
	if k == IdempotencyKey("01HZY") {
		t.Fatal("keys must differ per job")
	}
	if u := uuid.MustParse(k); u.Version() != 5 {
		t.Fatalf("expected a version 5 uuid, got %d", u.Version())
	}
}
