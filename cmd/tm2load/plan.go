package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/gyeh/tm2ingest/internal/exitcode"
	"github.com/gyeh/tm2ingest/internal/ingest"
	"github.com/gyeh/tm2ingest/internal/logging"
	"github.com/gyeh/tm2ingest/internal/validate"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Dry-run validation and mapping (no store or downstream I/O)",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&cfg.FilePath, "file", "", "Path to the input file (required)")
	_ = planCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx := context.Background()

	if err := cfg.ValidateFile(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	pf, err := ingest.Preflight(log, cfg.FilePath, cfg.MaxFileBytes)
	if err != nil {
		log.Error().Err(err).Msg("preflight failed")
		os.Exit(exitcode.InputError)
	}

	// Without --mappings the table is read from postgres; nothing else is.
	var pool *pgxpool.Pool
	if cfg.MappingsPath == "" {
		pool = openPool(ctx, log)
		defer pool.Close()
	}
	table := loadTable(ctx, log, pool)

	rep := ingest.Plan(validate.New(), table, pf.Rows)
	printPlan(os.Stdout, pf, rep)
	return nil
}

func printPlan(w io.Writer, pf *ingest.PreflightResult, rep ingest.PlanReport) {
	fmt.Fprintln(w, "=== tm2load plan ===")
	fmt.Fprintf(w, "File:       %s\n", pf.FilePath)
	fmt.Fprintf(w, "Format:     %s\n", pf.Format)
	fmt.Fprintf(w, "SHA-256:    %s\n", pf.FileSHA256)
	fmt.Fprintf(w, "Size:       %d bytes\n", pf.FileSize)
	fmt.Fprintf(w, "Rows:       %d read, %d blank skipped\n", pf.RowsRead, pf.RowsEmpty)
	fmt.Fprintf(w, "Ready:      %d (%d distinct keys, %d in-file duplicates)\n", rep.Ready, len(rep.Keys), rep.Duplicates)

	if len(rep.Rejections) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Rejections:")
		rules := make([]string, 0, len(rep.Rejections))
		for r := range rep.Rejections {
			rules = append(rules, r)
		}
		sort.Strings(rules)
		for _, r := range rules {
			fmt.Fprintf(w, "  %-28s %d\n", r, rep.Rejections[r])
		}
	}
	if len(rep.UnknownCodes) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Unknown TM2 codes:")
		for _, c := range rep.UnknownCodes {
			fmt.Fprintf(w, "  %s\n", c)
		}
	}
}
