// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/ports/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var _ repository.JobLocker = (*JobLeaseLocker)(nil)

// JobLeaseLocker is a SET NX lease per job id, released with a token check
// so an expired holder can never drop a lease that moved on.
type JobLeaseLocker struct {
	cli   RedisClient
	ttl   time.Duration
	tries int
	wait  time.Duration
	log   *zerolog.Logger
}

func NewJobLeaseLocker(cli RedisClient, ttl time.Duration, log *zerolog.Logger) *JobLeaseLocker {
	l := log.With().Str("component", "JobLeaseLocker").Logger()
	return &JobLeaseLocker{cli: cli, ttl: ttl, tries: 1, wait: 50 * time.Millisecond, log: &l}
}

// WithRetries makes TryLock try n times before giving up.
func (l *JobLeaseLocker) WithRetries(n int, wait time.Duration) *JobLeaseLocker {
	if n > 0 {
		l.tries = n
	}
	l.wait = wait
	return l
}

func LeaseKey(jobID string) string { return "lease:job:" + jobID }

func (l *JobLeaseLocker) TryLock(ctx context.Context, jobID string) (func(), error) {
	key := LeaseKey(jobID)
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.wait):
			}
		}
		ok, err := l.cli.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return func() {
				// the job's own context may be gone by now
				uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if _, err := l.cli.DelIfEquals(uctx, key, token); err != nil {
					l.log.Warn().Err(err).Str("job_id", jobID).Msg("lease release failed")
				}
			}, nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, domain.ErrLeaseHeld
}
