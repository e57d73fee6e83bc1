package submit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyeh/tm2ingest/internal/model"
)

// Memory is an in-process Client that accepts each key once and reports
// later submissions of the same key as conflicts, like a downstream that
// honors Idempotency-Key.
type Memory struct {
	mu       sync.Mutex
	accepted map[model.Key]model.Receipt
	calls    map[model.Key]int
	stats    Stats

	// FailWith, when set, is consulted before accepting a record. A non-nil
	// return is the submission error.
	FailWith func(key model.Key, rec *model.NormalizedRecord) error
	// Delay is waited before answering; context expiry during the wait is
	// a timeout.
	Delay time.Duration
}

// NewMemory returns an empty in-memory downstream.
func NewMemory() *Memory {
	return &Memory{
		accepted: make(map[model.Key]model.Receipt),
		calls:    make(map[model.Key]int),
	}
}

func (m *Memory) Submit(ctx context.Context, key model.Key, rec *model.NormalizedRecord) (*model.Receipt, error) {
	m.mu.Lock()
	m.calls[key]++
	m.stats.Requests++
	fail, delay := m.FailWith, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, m.failed(contextError(ctx.Err()))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, m.failed(contextError(err))
	}
	if fail != nil {
		if err := fail(key, rec); err != nil {
			return nil, m.failed(Classify(err))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.accepted[key]; ok {
		m.stats.Conflicts++
		return nil, &Error{Kind: KindConflict, Detail: "record already exists as " + prev.ID}
	}
	r := model.Receipt{
		ID:         uuid.NewString(),
		Downstream: "memory",
		Resource:   rec.Mapping.Code,
		AcceptedAt: time.Now().UTC(),
	}
	m.accepted[key] = r
	m.stats.Succeeded++
	return &r, nil
}

func (m *Memory) failed(err *Error) error {
	m.mu.Lock()
	m.stats.Failed++
	m.mu.Unlock()
	return err
}

// Calls returns how many times key was submitted.
func (m *Memory) Calls(key model.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

// Accepted returns the number of distinct keys accepted.
func (m *Memory) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accepted)
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func contextError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Detail: "submission deadline exceeded"}
	}
	return &Error{Kind: KindUnreachable, Detail: err.Error()}
}
