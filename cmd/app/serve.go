package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"media-gen-orchestrator/internal/infra/api"
	"media-gen-orchestrator/internal/infra/clock"
	httpapi "media-gen-orchestrator/internal/infra/http"
	"media-gen-orchestrator/internal/infra/sched"
	"media-gen-orchestrator/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, background workers and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEnv(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := buildServices(ctx, e)
		if err != nil {
			return err
		}
		defer s.Close()

		cfg := e.cfg
		scheduler := newScheduler(e, s)
		genUC := usecase.NewGenerationUseCase(s.repo, s.registry, scheduler, clock.Real{}, e.log)
		server := httpapi.NewServer(cfg.HTTP, api.NewRouter(genUC, cfg.HTTP.RequestTimeout, e.log), e.log)

		reconciler := sched.NewReconciler(cfg.Orchestrator.ReconcileInterval, s.repo, scheduler, e.log)
		if s.watcher != nil {
			reconciler.WithWatcher(s.watcher)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return scheduler.Run(gctx) })
		g.Go(func() error { return reconciler.Run(gctx) })
		g.Go(func() error { return server.Run(gctx) })
		if s.pool != nil {
			dbStats := sched.NewDBStatsWorker(cfg.Orchestrator.DBStatsInterval, sched.PgxPoolStats(s.pool), e.log)
			g.Go(func() error { return dbStats.Run(gctx) })
		}

		e.log.Info().Str("addr", cfg.HTTP.Addr).Int("workers", cfg.Orchestrator.Workers).Msg("orchestrator started")
		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		e.log.Info().Msg("orchestrator stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
