package media

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/adapter"
	"media-gen-orchestrator/internal/infra/metrics"
	red "media-gen-orchestrator/internal/infra/redis"
)

// Compile-time check
var _ adapter.GenerationAdapter = (*limitedAdapter)(nil)

// CallLimiter is a shared fixed-window limiter (see redis.RateLimiter).
type CallLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type limitedAdapter struct {
	inner     adapter.GenerationAdapter
	sem       chan struct{}
	limiter   CallLimiter
	perMinute int
	log       zerolog.Logger
}

// NewLimitedAdapter bounds in-flight calls to one provider and, when limiter is
// set and perMinute > 0, applies the shared per-minute budget. Every call is
// timed into the provider latency histogram.
func NewLimitedAdapter(inner adapter.GenerationAdapter, maxConcurrent int, limiter CallLimiter, perMinute int, log *zerolog.Logger) adapter.GenerationAdapter {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	l := &limitedAdapter{
		inner:     inner,
		limiter:   limiter,
		perMinute: perMinute,
		log:       log.With().Str("component", "LimitedAdapter").Str("provider", string(inner.Provider())).Logger(),
	}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *limitedAdapter) Provider() model.Provider { return l.inner.Provider() }

func (l *limitedAdapter) Models() []adapter.ModelSpec { return l.inner.Models() }

func (l *limitedAdapter) Submit(ctx context.Context, req model.GenerationRequest, idempotencyKey string) (string, error) {
	release, msg, err := l.acquire(ctx, "submit")
	if err != nil {
		return "", &domain.SubmissionError{Retryable: true, Message: msg, Err: err}
	}
	defer release()

	start := time.Now()
	id, err := l.inner.Submit(ctx, req, idempotencyKey)
	metrics.ObserveProviderCall(string(l.inner.Provider()), "submit", time.Since(start), err == nil)
	return id, err
}

func (l *limitedAdapter) Poll(ctx context.Context, externalID string) (model.NormalizedStatus, error) {
	release, msg, err := l.acquire(ctx, "poll")
	if err != nil {
		return model.NormalizedStatus{}, &domain.PollError{Retryable: true, Message: msg, Err: err}
	}
	defer release()

	start := time.Now()
	st, err := l.inner.Poll(ctx, externalID)
	metrics.ObserveProviderCall(string(l.inner.Provider()), "poll", time.Since(start), err == nil)
	return st, err
}

func (l *limitedAdapter) acquire(ctx context.Context, op string) (func(), string, error) {
	if l.limiter != nil && l.perMinute > 0 {
		provider := string(l.inner.Provider())
		ok, err := l.limiter.Allow(ctx, red.ProviderCallKey(provider, op), l.perMinute, time.Minute)
		switch {
		case err != nil:
			// fail open
			l.log.Warn().Err(err).Str("op", op).Msg("rate limiter unavailable")
		case !ok:
			metrics.IncProviderRateLimited(provider, op)
			return nil, "local rate limit reached", domain.ErrRateLimited
		}
	}

	if l.sem == nil {
		return func() {}, "", nil
	}
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, "", nil
	case <-ctx.Done():
		return nil, transportMessage(ctx.Err()), ctx.Err()
	}
}
