package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gyeh/tm2ingest/internal/config"
	"github.com/gyeh/tm2ingest/internal/db"
	"github.com/gyeh/tm2ingest/internal/exitcode"
	"github.com/gyeh/tm2ingest/internal/ingest"
	"github.com/gyeh/tm2ingest/internal/mapping"
	"github.com/gyeh/tm2ingest/internal/staging"
	"github.com/gyeh/tm2ingest/internal/submit"
)

// stack is the set of components one command operates on.
type stack struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	store    staging.Store
	batchLog staging.BatchLog
	client   submit.Client
	table    *mapping.Table
	pipeline *ingest.Pipeline
}

// openStack builds the configured store, mapping table, downstream client
// and key locker. Failures exit the process with the matching code.
func openStack(ctx context.Context, log zerolog.Logger) *stack {
	st := &stack{}

	switch cfg.StoreKind {
	case config.StorePostgres:
		st.pool = openPool(ctx, log)
		pg := staging.NewPostgres(st.pool)
		st.store, st.batchLog = pg, pg
	default:
		mem := staging.NewMemory()
		st.store, st.batchLog = mem, mem
		log.Warn().Msg("using the in-memory store; record status is lost on exit")
	}

	st.table = loadTable(ctx, log, st.pool)

	switch cfg.DownstreamKind {
	case config.DownstreamOpenMRS:
		c, err := submit.NewOpenMRS(submit.OpenMRSConfig{
			BaseURL:       cfg.OpenMRSBaseURL,
			Username:      cfg.OpenMRSUsername,
			Password:      cfg.OpenMRSPassword,
			RatePerSecond: cfg.SubmitRate,
		})
		if err != nil {
			log.Error().Err(err).Msg("downstream client setup failed")
			os.Exit(exitcode.UsageError)
		}
		st.client = c
	default:
		st.client = submit.NewMemory()
		log.Warn().Msg("using the in-memory downstream; nothing leaves this process")
	}

	var locker staging.Locker
	if cfg.RedisAddr != "" {
		st.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: cfg.Concurrency})
		if err := st.rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connection failed")
			os.Exit(exitcode.DBConnError)
		}
		locker = staging.NewRedisLocker(st.rdb, cfg.LockTTL)
	}

	st.pipeline = ingest.NewPipeline(st.table, st.store, st.client, log, ingest.Options{
		Concurrency:   cfg.Concurrency,
		SubmitTimeout: cfg.SubmitTimeout,
		Locker:        locker,
	})
	return st
}

func (st *stack) Close() {
	if st.rdb != nil {
		_ = st.rdb.Close()
	}
	if st.pool != nil {
		st.pool.Close()
	}
}

func openPool(ctx context.Context, log zerolog.Logger) *pgxpool.Pool {
	if err := cfg.ValidateDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}
	// One connection per worker plus headroom for status queries.
	pool, err := db.NewPool(ctx, cfg.DSN, int32(min(cfg.Concurrency+4, 200)))
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	return pool
}

// loadTable reads the mapping table from --mappings, or from postgres when
// no file is given.
func loadTable(ctx context.Context, log zerolog.Logger, pool *pgxpool.Pool) *mapping.Table {
	var (
		t      *mapping.Table
		err    error
		source = cfg.MappingsPath
	)
	switch {
	case cfg.MappingsPath != "":
		t, err = mapping.LoadFile(cfg.MappingsPath)
	case pool != nil:
		source = "ref.tm2_mappings"
		t, err = mapping.LoadPostgres(ctx, pool)
	default:
		log.Error().Msg("--mappings is required without a postgres store")
		os.Exit(exitcode.UsageError)
	}
	if err != nil {
		pe := &ingest.PipelineError{Phase: ingest.PhaseMappings, Err: err}
		log.Error().Err(pe).Str("source", source).Msg("mapping table unavailable")
		os.Exit(exitcode.ValidationError)
	}
	log.Info().Str("source", source).Int("codes", t.Len()).Msg("mapping table loaded")
	return t
}
