package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyeh/tm2ingest/internal/model"
	embedsql "github.com/gyeh/tm2ingest/internal/sql"
)

// Postgres stores entries in ingest.tm2_records and batch summaries in
// ingest.batches.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. The schema must already be migrated.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Get(ctx context.Context, key model.Key) (*Entry, error) {
	row := p.pool.QueryRow(ctx, embedsql.GetRecord, string(key))
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key.Short(), err)
	}
	return e, nil
}

func (p *Postgres) Put(ctx context.Context, key model.Key, status model.Status, pl Payload) error {
	if err := checkWritable(status); err != nil {
		return err
	}

	var (
		patientID, code *string
		record, receipt []byte
		err             error
	)
	if pl.Record != nil {
		patientID, code = &pl.Record.PatientID, &pl.Record.TM2Code
		if record, err = json.Marshal(pl.Record); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	if pl.Receipt != nil {
		if receipt, err = json.Marshal(pl.Receipt); err != nil {
			return fmt.Errorf("encode receipt: %w", err)
		}
	}

	tag, err := p.pool.Exec(ctx, embedsql.PutRecord,
		string(key), string(status), patientID, code, record, receipt,
		nilIfEmpty(pl.FailureReason), pl.Retryable,
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", key.Short(), status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConfirmed
	}
	return nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status model.Status) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, embedsql.ListRecordsByStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", status, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		e, err := scanEntry(row)
		if err != nil {
			return Entry{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", status, err)
	}
	return entries, nil
}

// CountByStatus returns the number of keys in each stored status.
func (p *Postgres) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := p.pool.Query(ctx, embedsql.CountRecordsByStatus)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[model.Status(status)] = n
	}
	return out, rows.Err()
}

func (p *Postgres) RecordBatch(ctx context.Context, s model.BatchSummary) error {
	_, err := p.pool.Exec(ctx, embedsql.InsertBatch,
		s.BatchID, s.SourceFile, s.FileSHA256, s.FileSize, s.RowsRead, s.RowsEmpty,
		s.Confirmed, s.Failed, s.NoOp, s.StartedAt, s.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record batch %s: %w", s.BatchID, err)
	}
	return nil
}

func (p *Postgres) RecentBatches(ctx context.Context, limit int) ([]model.BatchSummary, error) {
	rows, err := p.pool.Query(ctx, embedsql.RecentBatches, limit)
	if err != nil {
		return nil, fmt.Errorf("recent batches: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BatchSummary, error) {
		var s model.BatchSummary
		err := row.Scan(&s.BatchID, &s.SourceFile, &s.FileSHA256, &s.FileSize,
			&s.RowsRead, &s.RowsEmpty, &s.Confirmed, &s.Failed, &s.NoOp,
			&s.StartedAt, &s.FinishedAt)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan batches: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e               Entry
		key, status     string
		record, receipt []byte
		reason          *string
	)
	if err := row.Scan(&key, &status, &record, &receipt, &reason,
		&e.Payload.Retryable, &e.Attempts, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Key = model.Key(key)
	e.Status = model.Status(status)
	if reason != nil {
		e.Payload.FailureReason = *reason
	}
	if record != nil {
		e.Payload.Record = new(model.NormalizedRecord)
		if err := json.Unmarshal(record, e.Payload.Record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
	}
	if receipt != nil {
		e.Payload.Receipt = new(model.Receipt)
		if err := json.Unmarshal(receipt, e.Payload.Receipt); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
	}
	return &e, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
