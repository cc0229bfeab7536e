package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"media-gen-orchestrator/internal/config"
	"media-gen-orchestrator/internal/domain/ports/adapter"
	"media-gen-orchestrator/internal/domain/ports/repository"
	"media-gen-orchestrator/internal/infra/adapters/media"
	"media-gen-orchestrator/internal/infra/clock"
	etcdstore "media-gen-orchestrator/internal/infra/db/etcd"
	"media-gen-orchestrator/internal/infra/db/memory"
	pg "media-gen-orchestrator/internal/infra/db/postgres"
	red "media-gen-orchestrator/internal/infra/redis"
	"media-gen-orchestrator/internal/infra/worker"
)

// services holds the long-lived dependencies shared by the subcommands.
type services struct {
	repo     repository.GenerationJobRepository
	watcher  repository.JobWatcher
	locker   repository.JobLocker
	pool     *pgxpool.Pool
	registry *media.Registry
	closers  []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(ctx context.Context, e *env) (*services, error) {
	cfg, log := e.cfg, e.log
	s := &services{}

	// ---- Job store ----
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		s.pool = pool
		s.repo = pg.NewGenerationJobRepo(pool, pg.NewTxManager(pool))
	case "etcd":
		cli, err := etcdstore.Connect(cfg.Etcd)
		if err != nil {
			return nil, fmt.Errorf("etcd: %w", err)
		}
		s.closers = append(s.closers, func() { _ = cli.Close() })
		store := etcdstore.NewGenerationJobStore(cli, cfg.Etcd.Prefix, log)
		s.repo = store
		s.watcher = store
	default:
		s.repo = memory.NewGenerationJobRepo()
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("job store ready")

	// ---- Redis ----
	var limiter media.CallLimiter
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = rc.Close() })
		limiter = red.NewRateLimiter(rc)
		if cfg.Store.Cache {
			s.repo = red.NewJobCache(s.repo, rc, cfg.Redis.TTL, log)
		}
		if cfg.Redis.Lease {
			s.locker = red.NewJobLeaseLocker(rc, cfg.Orchestrator.LeaseTTL, log)
		}
	}

	// ---- Providers ----
	reg, err := buildRegistry(ctx, cfg, limiter, e)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.registry = reg
	return s, nil
}

func buildRegistry(ctx context.Context, cfg *config.Config, limiter media.CallLimiter, e *env) (*media.Registry, error) {
	log := e.log
	p := cfg.Providers
	limited := func(a adapter.GenerationAdapter, pc config.ProviderConfig) adapter.GenerationAdapter {
		return media.NewLimitedAdapter(a, pc.Concurrency, limiter, pc.RatePerMinute, log)
	}

	var adapters []adapter.GenerationAdapter
	if p.Veo.Enabled {
		veo, err := media.NewVeoAdapter(ctx, p.Veo.APIKey, p.Veo.BaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("veo adapter: %w", err)
		}
		adapters = append(adapters, limited(veo, p.Veo))
	}
	if p.Sora.Enabled {
		sora, err := media.NewSoraAdapter(p.Sora.APIKey, p.Sora.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("sora adapter: %w", err)
		}
		adapters = append(adapters, limited(sora, p.Sora))
	}
	if p.Replicate.Enabled {
		rep, err := media.NewReplicateAdapter(p.Replicate.APIKey, p.Replicate.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("replicate adapter: %w", err)
		}
		adapters = append(adapters, limited(rep, p.Replicate))
	}
	if p.Simulated.Enabled {
		adapters = append(adapters, media.NewSimulatedAdapter(0))
	}

	tokens, err := media.NewTokenCounter()
	if err != nil {
		log.Warn().Err(err).Msg("token counter unavailable; estimating prompt tokens")
	}
	reg, err := media.NewRegistry(tokens, adapters...)
	if err != nil {
		return nil, err
	}
	for _, a := range adapters {
		log.Info().Str("provider", string(a.Provider())).Int("models", len(a.Models())).Msg("provider registered")
	}
	return reg, nil
}

func newScheduler(e *env, s *services) *worker.Scheduler {
	o := e.cfg.Orchestrator
	sch := worker.NewScheduler(s.repo, s.registry, clock.Real{}, worker.SchedulerConfig{
		Workers:      o.Workers,
		TickInterval: o.TickInterval,
		CallTimeout:  o.CallTimeout,
		Policy:       o.Policy(),
	}, e.log)
	if s.locker != nil {
		sch.WithLocker(s.locker)
	}
	return sch
}
