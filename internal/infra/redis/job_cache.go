package redis

import (
	"context"
	"encoding/json"
	"time"

	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/repository"
	"media-gen-orchestrator/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ repository.GenerationJobRepository = (*JobCache)(nil)

// JobCache is a write-through cache in front of a job store. Reads of
// terminal jobs are served from Redis; non-terminal snapshots are cached
// only briefly since another instance may be advancing them.
type JobCache struct {
	inner     repository.GenerationJobRepository
	cache     RedisClient
	ttl       time.Duration
	activeTTL time.Duration
	log       *zerolog.Logger
}

func NewJobCache(inner repository.GenerationJobRepository, cache RedisClient, ttl time.Duration, log *zerolog.Logger) *JobCache {
	l := log.With().Str("component", "JobCache").Logger()
	return &JobCache{
		inner:     inner,
		cache:     cache,
		ttl:       ttl,
		activeTTL: 2 * time.Second,
		log:       &l,
	}
}

func JobKey(id string) string { return "generation_job:" + id }

func (c *JobCache) Create(ctx context.Context, job *model.GenerationJob) error {
	if err := c.inner.Create(ctx, job); err != nil {
		return err
	}
	c.store(ctx, job)
	return nil
}

func (c *JobCache) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	val, err := c.cache.Get(ctx, JobKey(id))
	if err == nil {
		var job model.GenerationJob
		if json.Unmarshal([]byte(val), &job) == nil {
			metrics.IncCacheRequest("generation_job", "hit")
			return &job, nil
		}
	} else if !IsNil(err) {
		c.log.Warn().Err(err).Str("job_id", id).Msg("cache read failed")
	}

	metrics.IncCacheRequest("generation_job", "miss")
	job, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, job)
	return job, nil
}

func (c *JobCache) Update(ctx context.Context, id string, fn repository.Mutation) (*model.GenerationJob, error) {
	job, err := c.inner.Update(ctx, id, fn)
	if err != nil {
		// drop whatever we hold; the store is the authority
		if derr := c.cache.Del(ctx, JobKey(id)); derr != nil {
			c.log.Warn().Err(derr).Str("job_id", id).Msg("cache invalidation failed")
		}
		return nil, err
	}
	c.store(ctx, job)
	return job, nil
}

func (c *JobCache) ListNonTerminal(ctx context.Context) ([]*model.GenerationJob, error) {
	return c.inner.ListNonTerminal(ctx)
}

func (c *JobCache) store(ctx context.Context, job *model.GenerationJob) {
	b, err := json.Marshal(job)
	if err != nil {
		return
	}
	ttl := c.activeTTL
	if job.State.IsTerminal() {
		ttl = c.ttl
	}
	if err := c.cache.Set(ctx, JobKey(job.ID), b, ttl); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.ID).Msg("cache write failed")
	}
}
