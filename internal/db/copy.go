package db

import (
	"github.com/jackc/pgx/v5"
)

// CopyRow is a value that can be written by COPY.
type CopyRow interface {
	CopyValues() []any
}

// ChannelSource implements pgx.CopyFromSource by reading rows from a channel,
// so the producer and the COPY writer apply backpressure to each other.
type ChannelSource[T CopyRow] struct {
	ch      <-chan T
	current T
}

var _ pgx.CopyFromSource = (*ChannelSource[CopyRow])(nil)

// NewChannelSource creates a CopyFromSource backed by a channel.
func NewChannelSource[T CopyRow](ch <-chan T) *ChannelSource[T] {
	return &ChannelSource[T]{ch: ch}
}

// Next advances to the next row. Returns false when the channel is closed.
func (s *ChannelSource[T]) Next() bool {
	row, ok := <-s.ch
	if !ok {
		return false
	}
	s.current = row
	return true
}

// Values returns the current row's values in COPY column order.
func (s *ChannelSource[T]) Values() ([]any, error) {
	return s.current.CopyValues(), nil
}

// Err always returns nil; producers report their own errors.
func (s *ChannelSource[T]) Err() error {
	return nil
}
