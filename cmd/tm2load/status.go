package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/tm2ingest/internal/exitcode"
	"github.com/gyeh/tm2ingest/internal/ingest"
	"github.com/gyeh/tm2ingest/internal/logging"
	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/staging"
)

var (
	statusRecent int
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts per status and recent batches from postgres",
	RunE:  runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.IntVar(&statusRecent, "recent", 5, "Number of recent batches to list")
	f.BoolVar(&statusJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx := context.Background()

	pool := openPool(ctx, log)
	defer pool.Close()
	store := staging.NewPostgres(pool)

	rep, err := ingest.Status(ctx, store, store, nil, statusRecent)
	if err != nil {
		log.Error().Err(err).Msg("status query failed")
		os.Exit(exitcode.DBConnError)
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printStatus(os.Stdout, rep)
	return nil
}

func printStatus(w io.Writer, rep *ingest.StatusReport) {
	fmt.Fprintln(w, "=== tm2load status ===")
	for _, st := range model.AllStatuses {
		if st == model.StatusPending {
			continue
		}
		fmt.Fprintf(w, "  %-10s %d\n", st, rep.Counts[st])
	}
	if len(rep.RecentBatches) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recent batches:")
	for _, b := range rep.RecentBatches {
		fmt.Fprintf(w, "  %s  %s  %-24s confirmed=%d failed=%d noop=%d\n",
			b.StartedAt.Format("2006-01-02 15:04:05"), b.BatchID, b.SourceFile, b.Confirmed, b.Failed, b.NoOp)
	}
}
