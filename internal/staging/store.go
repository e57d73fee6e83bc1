// Package staging persists the lifecycle status of each record, keyed by its
// idempotency key, and serializes work on a key across workers.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gyeh/tm2ingest/internal/model"
)

var (
	// ErrNotFound is returned by Get for a key the store has never seen.
	ErrNotFound = errors.New("staging: key not found")
	// ErrAlreadyConfirmed is returned by Put when the key is confirmed.
	// A confirmed key never moves to another status.
	ErrAlreadyConfirmed = errors.New("staging: key already confirmed")
	// ErrLockNotObtained is returned by a Locker that gave up waiting.
	ErrLockNotObtained = errors.New("staging: key lock not obtained")
)

// Payload is the data written alongside a status. Nil Record and Receipt
// keep whatever the store already holds for the key; FailureReason and
// Retryable always replace.
type Payload struct {
	Record        *model.NormalizedRecord `json:"record,omitempty"`
	Receipt       *model.Receipt          `json:"receipt,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	Retryable     bool                    `json:"retryable,omitempty"`
}

// Entry is the stored state of one key.
type Entry struct {
	Key       model.Key    `json:"key"`
	Status    model.Status `json:"status"`
	Payload   Payload      `json:"payload"`
	Attempts  int          `json:"attempts"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store is the durable record of per-key status. Each Put is atomic per key.
type Store interface {
	Get(ctx context.Context, key model.Key) (*Entry, error)
	Put(ctx context.Context, key model.Key, status model.Status, p Payload) error
	ListByStatus(ctx context.Context, status model.Status) ([]Entry, error)
}

// BatchLog records one summary per file ingestion.
type BatchLog interface {
	RecordBatch(ctx context.Context, s model.BatchSummary) error
	RecentBatches(ctx context.Context, limit int) ([]model.BatchSummary, error)
}

type statusCounter interface {
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
}

// Counts returns the number of stored keys in each persisted status. Stores
// with a native count are used directly; others fall back to ListByStatus.
func Counts(ctx context.Context, s Store) (map[model.Status]int, error) {
	if c, ok := s.(statusCounter); ok {
		return c.CountByStatus(ctx)
	}
	out := make(map[model.Status]int, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		if st == model.StatusPending {
			continue
		}
		entries, err := s.ListByStatus(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", st, err)
		}
		out[st] = len(entries)
	}
	return out, nil
}

func checkWritable(status model.Status) error {
	switch status {
	case model.StatusValidated, model.StatusMapped, model.StatusSubmitted,
		model.StatusConfirmed, model.StatusFailed:
		return nil
	}
	return fmt.Errorf("staging: status %q cannot be stored", status)
}
