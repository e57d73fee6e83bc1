package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/tm2ingest/internal/exitcode"
	"github.com/gyeh/tm2ingest/internal/logging"
	"github.com/gyeh/tm2ingest/internal/server"
)

// shutdownGrace bounds how long serve waits for in-flight requests.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP ingestion and status API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	st := openStack(ctx, log)
	defer st.Close()

	srv := server.New(server.Deps{
		Pipeline:     st.pipeline,
		Store:        st.store,
		BatchLog:     st.batchLog,
		Client:       st.client,
		MaxFileBytes: cfg.MaxFileBytes,
	}, log)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(cfg.ListenAddr) }()

	select {
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
			os.Exit(exitcode.UsageError)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	return <-errc
}
