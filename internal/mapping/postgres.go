package mapping

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gyeh/tm2ingest/internal/db"
	"github.com/gyeh/tm2ingest/internal/model"
	embedsql "github.com/gyeh/tm2ingest/internal/sql"
)

// LoadPostgres reads ref.tm2_mappings into a Table.
func LoadPostgres(ctx context.Context, pool *pgxpool.Pool) (*Table, error) {
	rows, err := pool.Query(ctx, embedsql.SelectMappings)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CodeMapping, error) {
		var m model.CodeMapping
		err := row.Scan(&m.Code, &m.Title, &m.Category, &m.FoundationURI,
			&m.ConceptUUID, &m.Description, &m.TraditionalNames)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan mappings: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("ref.tm2_mappings is empty (run `tm2load mappings import` first)")
	}
	return NewTable(entries)
}

// Import upserts every entry of t into ref.tm2_mappings in one transaction.
// Rows are COPY-loaded into a temporary table and merged by code.
func Import(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, t *Table) (int64, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, embedsql.CreateMappingStaging); err != nil {
		return 0, fmt.Errorf("create load table: %w", err)
	}

	entries := t.Entries()
	ch := make(chan *model.CodeMapping, 64)
	go func() {
		defer close(ch)
		for i := range entries {
			select {
			case ch <- &entries[i]:
			case <-ctx.Done():
				return
			}
		}
	}()

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"tm2_mappings_load"},
		model.MappingColumns(),
		db.NewChannelSource(ch),
	)
	if err != nil {
		// Drain so the producer exits.
		for range ch {
		}
		return 0, fmt.Errorf("copy mappings: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, embedsql.MergeMappings)
	if err != nil {
		return 0, fmt.Errorf("merge mappings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Int64("copied", copied).
		Int64("upserted", tag.RowsAffected()).
		Msg("mapping table imported")
	return tag.RowsAffected(), nil
}
