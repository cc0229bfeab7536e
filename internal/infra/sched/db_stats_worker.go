package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"media-gen-orchestrator/internal/infra/metrics"
)

// PoolStatsFunc reports total, idle and in-use connections.
type PoolStatsFunc func() (total, idle, inUse int32)

func PgxPoolStats(pool *pgxpool.Pool) PoolStatsFunc {
	return func() (int32, int32, int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	}
}

// DBStatsWorker exports connection pool gauges.
type DBStatsWorker struct {
	interval time.Duration
	stats    PoolStatsFunc
	log      *zerolog.Logger
}

func NewDBStatsWorker(interval time.Duration, stats PoolStatsFunc, logger *zerolog.Logger) *DBStatsWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "DBStatsWorker").Logger()
	return &DBStatsWorker{interval: interval, stats: stats, log: &l}
}

func (w *DBStatsWorker) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	w.collect()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.collect()
		}
	}
}

func (w *DBStatsWorker) collect() {
	total, idle, inUse := w.stats()
	metrics.SetDBPoolStats(total, idle, inUse)
	w.log.Trace().Int32("total", total).Int32("idle", idle).Int32("in_use", inUse).Msg("db pool stats")
}
