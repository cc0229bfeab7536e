package main

import (
	"errors"

	"github.com/spf13/cobra"

	pg "media-gen-orchestrator/internal/infra/db/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres job table",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := getEnv(cmd)
		if err != nil {
			return err
		}
		if e.cfg.Store.Backend != "postgres" {
			return errors.New("migrate needs store.backend: postgres")
		}
		pool, err := pg.Connect(cmd.Context(), e.cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pg.Migrate(cmd.Context(), pool); err != nil {
			return err
		}
		e.log.Info().Msg("schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
