package staging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gyeh/tm2ingest/internal/model"
)

// Memory is an in-process Store and BatchLog. The zero value is not usable;
// call NewMemory.
type Memory struct {
	mu      sync.RWMutex
	entries map[model.Key]*Entry
	batches []model.BatchSummary
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[model.Key]*Entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key model.Key) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) Put(ctx context.Context, key model.Key, status model.Status, p Payload) error {
	if err := checkWritable(status); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok {
		e = &Entry{Key: key, CreatedAt: now}
		m.entries[key] = e
	} else if e.Status == model.StatusConfirmed {
		return ErrAlreadyConfirmed
	}

	e.Status = status
	if p.Record != nil {
		rec := *p.Record
		e.Payload.Record = &rec
	}
	if p.Receipt != nil {
		rc := *p.Receipt
		e.Payload.Receipt = &rc
	}
	e.Payload.FailureReason = p.FailureReason
	e.Payload.Retryable = p.Retryable
	if status == model.StatusSubmitted {
		e.Attempts++
	}
	e.UpdatedAt = now
	return nil
}

func (m *Memory) ListByStatus(_ context.Context, status model.Status) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Status == status {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// CountByStatus returns the number of keys in each stored status.
func (m *Memory) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.Status]int)
	for _, e := range m.entries {
		out[e.Status]++
	}
	return out, nil
}

func (m *Memory) RecordBatch(_ context.Context, s model.BatchSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, s)
	return nil
}

// RecentBatches returns up to limit summaries, newest first.
func (m *Memory) RecentBatches(_ context.Context, limit int) ([]model.BatchSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.BatchSummary, 0, min(limit, len(m.batches)))
	for i := len(m.batches) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.batches[i])
	}
	return out, nil
}
