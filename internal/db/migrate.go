package db

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	embedsql "github.com/gyeh/tm2ingest/internal/sql"
)

// migrationLock keys the advisory lock held while migrating, so several
// tm2load processes starting at once do not race on the same DDL.
const migrationLock int64 = 0x746d32

// ApplyMigrations runs the embedded schema files in filename order inside one
// transaction and returns the names applied. Either every file applies or
// none does; all DDL uses IF NOT EXISTS, so re-running is safe.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) ([]string, error) {
	files, err := fs.Glob(embedsql.Migrations, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var applied []string
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLock); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		for _, file := range files {
			name := path.Base(file)
			data, err := fs.ReadFile(embedsql.Migrations, file)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", name, err)
			}
			start := time.Now()
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return fmt.Errorf("execute migration %s: %w", name, err)
			}
			log.Debug().Str("migration", name).Dur("took", time.Since(start)).Msg("migration executed")
			applied = append(applied, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("count", len(applied)).Msg("schema up to date")
	return applied, nil
}
