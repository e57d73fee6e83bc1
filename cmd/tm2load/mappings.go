package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/tm2ingest/internal/exitcode"
	"github.com/gyeh/tm2ingest/internal/logging"
	"github.com/gyeh/tm2ingest/internal/mapping"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage the TM2 reference mapping table in postgres",
}

var mappingsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert a mapping YAML file into ref.tm2_mappings",
	RunE:  runMappingsImport,
}

var mappingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write ref.tm2_mappings to stdout as mapping YAML",
	RunE:  runMappingsExport,
}

func init() {
	mappingsCmd.AddCommand(mappingsImportCmd, mappingsExportCmd)
	rootCmd.AddCommand(mappingsCmd)
}

func runMappingsImport(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx := context.Background()

	if cfg.MappingsPath == "" {
		log.Error().Msg("--mappings is required")
		os.Exit(exitcode.UsageError)
	}
	t, err := mapping.LoadFile(cfg.MappingsPath)
	if err != nil {
		log.Error().Err(err).Msg("mapping file invalid")
		os.Exit(exitcode.ValidationError)
	}

	pool := openPool(ctx, log)
	defer pool.Close()

	n, err := mapping.Import(ctx, pool, log, t)
	if err != nil {
		log.Error().Err(err).Msg("mapping import failed")
		os.Exit(exitcode.DBConnError)
	}
	log.Info().Int64("codes", n).Str("file", cfg.MappingsPath).Msg("mapping table imported")
	return nil
}

func runMappingsExport(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx := context.Background()

	pool := openPool(ctx, log)
	defer pool.Close()

	t, err := mapping.LoadPostgres(ctx, pool)
	if err != nil {
		log.Error().Err(err).Msg("mapping table unavailable")
		os.Exit(exitcode.ValidationError)
	}
	return mapping.Encode(os.Stdout, t.Entries())
}
