package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gyeh/tm2ingest/internal/exitcode"
	"github.com/gyeh/tm2ingest/internal/ingest"
	"github.com/gyeh/tm2ingest/internal/logging"
	"github.com/gyeh/tm2ingest/internal/model"
)

var ingestJSON bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Validate, stage and submit every record in a CSV, Parquet or XLSX file",
	RunE:  runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&cfg.FilePath, "file", "", "Path to the input file (required)")
	f.BoolVar(&ingestJSON, "json", false, "Print the full result as JSON")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateFile(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	st := openStack(ctx, log)
	defer st.Close()

	res, err := st.pipeline.RunFile(ctx, cfg.FilePath, cfg.MaxFileBytes, st.batchLog)
	if err != nil {
		var pe *ingest.PipelineError
		if errors.As(err, &pe) && pe.Phase == ingest.PhaseRecord && res != nil {
			// Rows are already processed; only the audit entry is missing.
			log.Error().Err(pe.Err).Msg("batch summary not recorded")
		} else {
			log.Error().Err(err).Msg("ingest failed")
			os.Exit(exitcode.InputError)
		}
	}

	if ingestJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printFileResult(os.Stdout, res)
	}

	if code := batchExitCode(res.Batch); code != exitcode.Success {
		os.Exit(code)
	}
	return nil
}

// batchExitCode maps a finished batch to the process exit status.
func batchExitCode(b model.BatchResult) int {
	switch {
	case b.Failed == 0:
		return exitcode.Success
	case b.Partial():
		return exitcode.PartialSuccess
	}
	for _, f := range b.Failures {
		if f.Stage != model.StageSubmission {
			return exitcode.AllRecordsFailed
		}
	}
	// Nothing got through and the downstream is the only reason.
	return exitcode.DownstreamError
}

func printFileResult(w io.Writer, res *ingest.FileResult) {
	s, b := res.Summary, res.Batch
	fmt.Fprintln(w, "=== tm2load ingest ===")
	fmt.Fprintf(w, "File:       %s\n", s.SourceFile)
	fmt.Fprintf(w, "SHA-256:    %s\n", s.FileSHA256)
	fmt.Fprintf(w, "Batch:      %s\n", s.BatchID)
	fmt.Fprintf(w, "Rows:       %d read, %d blank skipped\n", s.RowsRead, s.RowsEmpty)
	fmt.Fprintf(w, "Confirmed:  %d (%d already confirmed)\n", b.Confirmed, b.NoOp)
	fmt.Fprintf(w, "Failed:     %d\n", b.Failed)
	fmt.Fprintf(w, "Duration:   %.1fs\n", b.Duration().Seconds())

	if len(b.Failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Failures:")
	for _, f := range b.Failures {
		retry := ""
		if f.Retryable {
			retry = " (retryable)"
		}
		fmt.Fprintf(w, "  row %-6d %-10s %s%s\n", f.Row, f.Stage, f.Reason, retry)
	}
}
