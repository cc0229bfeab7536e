package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"media-gen-orchestrator/internal/config"
	"media-gen-orchestrator/internal/infra/logging"
	"media-gen-orchestrator/internal/infra/metrics"
)

type contextKey string

const envContextKey contextKey = "mediagen-env"

// env is what every subcommand needs: the loaded config and the root logger.
type env struct {
	cfg *config.Config
	log *zerolog.Logger
}

var (
	cfgFile string
	devMode bool
	rootCmd = &cobra.Command{
		Use:   "mediagen",
		Short: "Asynchronous media generation orchestrator",
		Long: `mediagen accepts text-to-video and text-to-image requests, submits them to
the configured providers (Veo, Sora, Replicate or the built-in simulator),
polls each provider job until it finishes and exposes the result over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgFile, devMode)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log, cfg.Runtime.Dev)
			metrics.MustRegister()
			metrics.SetBuildInfo(version, commit)

			ctx := context.WithValue(cmd.Context(), envContextKey, &env{cfg: cfg, log: log})
			cmd.SetContext(ctx)
			return nil
		},
	}
)

func getEnv(cmd *cobra.Command) (*env, error) {
	e, ok := cmd.Context().Value(envContextKey).(*env)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return e, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to YAML config file (empty for defaults and environment only)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode: console logs, .env loading, unredacted prompts")
}
