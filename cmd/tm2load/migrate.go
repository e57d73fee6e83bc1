package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/tm2ingest/internal/db"
	"github.com/gyeh/tm2ingest/internal/exitcode"
	"github.com/gyeh/tm2ingest/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx := context.Background()

	pool := openPool(ctx, log)
	defer pool.Close()

	applied, err := db.ApplyMigrations(ctx, pool, log)
	if err != nil {
		log.Error().Err(err).Msg("migration failed, schema unchanged")
		os.Exit(exitcode.DBConnError)
	}

	log.Info().Strs("migrations", applied).Msg("all migrations applied successfully")
	return nil
}
