//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/repository"
)

type mockJobRepo struct {
	ListNonTerminalFunc func(ctx context.Context) ([]*model.GenerationJob, error)
}

func (m *mockJobRepo) Create(ctx context.Context, job *model.GenerationJob) error { return nil }
func (m *mockJobRepo) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	return nil, nil
}
func (m *mockJobRepo) Update(ctx context.Context, id string, fn repository.Mutation) (*model.GenerationJob, error) {
	return nil, nil
}
func (m *mockJobRepo) ListNonTerminal(ctx context.Context) ([]*model.GenerationJob, error) {
	return m.ListNonTerminalFunc(ctx)
}

type mockAdopter struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockAdopter) Adopt(jobs []*model.GenerationJob) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	n := 0
	for _, j := range jobs {
		if !m.seen[j.ID] {
			m.seen[j.ID] = true
			n++
		}
	}
	return n
}

func (m *mockAdopter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

type chanWatcher struct {
	ch chan *model.GenerationJob
}

func (w *chanWatcher) Watch(ctx context.Context) <-chan *model.GenerationJob { return w.ch }

func job(id string) *model.GenerationJob {
	return &model.GenerationJob{ID: id, State: model.JobStateQueued}
}

func TestReconciler_Tick(t *testing.T) {
	t.Run("should adopt only unknown jobs", func(t *testing.T) {
		repo := &mockJobRepo{ListNonTerminalFunc: func(context.Context) ([]*model.GenerationJob, error) {
			return []*model.GenerationJob{job("a"), job("b")}, nil
		}}
		ad := &mockAdopter{}
		ad.Adopt([]*model.GenerationJob{job("a")})
		r := NewReconciler(time.Minute, repo, ad, nil)

		n, err := r.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = r.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("should surface store errors", func(t *testing.T) {
		repo := &mockJobRepo{ListNonTerminalFunc: func(context.Context) ([]*model.GenerationJob, error) {
			return nil, errors.New("connection reset")
		}}
		r := NewReconciler(time.Minute, repo, &mockAdopter{}, nil)
		_, err := r.Tick(context.Background())
		assert.Error(t, err)
	})
}

func TestReconciler_Run(t *testing.T) {
	t.Run("should adopt jobs on every tick", func(t *testing.T) {
		var calls int32
		repo := &mockJobRepo{ListNonTerminalFunc: func(context.Context) ([]*model.GenerationJob, error) {
			atomic.AddInt32(&calls, 1)
			return []*model.GenerationJob{job("x")}, nil
		}}
		ad := &mockAdopter{}
		r := NewReconciler(10*time.Millisecond, repo, ad, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()

		require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.Equal(t, 1, ad.count())
	})

	t.Run("should adopt watched jobs without waiting for a tick", func(t *testing.T) {
		repo := &mockJobRepo{ListNonTerminalFunc: func(context.Context) ([]*model.GenerationJob, error) {
			return nil, nil
		}}
		ad := &mockAdopter{}
		w := &chanWatcher{ch: make(chan *model.GenerationJob, 2)}
		r := NewReconciler(time.Hour, repo, ad, nil).WithWatcher(w)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = r.Run(ctx) }()

		w.ch <- job("w1")
		w.ch <- job("w2")
		close(w.ch)
		require.Eventually(t, func() bool { return ad.count() == 2 }, time.Second, 5*time.Millisecond)
	})
}

func TestDBStatsWorker(t *testing.T) {
	var calls int32
	stats := func() (int32, int32, int32) {
		atomic.AddInt32(&calls, 1)
		return 10, 7, 3
	}
	w := NewDBStatsWorker(10*time.Millisecond, stats, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
