package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline step where a row stopped.
type Stage string

const (
	StageValidation Stage = "validation"
	StageMapping    Stage = "mapping"
	StageStorage    Stage = "storage"
	StageSubmission Stage = "submission"
	StageCancelled  Stage = "cancelled"
)

// RowOutcome is the terminal result of one row in one run.
type RowOutcome struct {
	Row       int    `json:"row"`
	Key       Key    `json:"key,omitempty"`
	Status    Status `json:"status"`
	Stage     Stage  `json:"stage,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	NoOp      bool   `json:"noop,omitempty"`
}

// RowFailure is one entry of a BatchResult's failure list.
type RowFailure struct {
	Row       int    `json:"row"`
	Stage     Stage  `json:"stage"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// BatchResult aggregates one ingestion run. It is built once, after every row
// has reached a terminal status, and is not modified afterwards.
type BatchResult struct {
	BatchID    uuid.UUID      `json:"batch_id"`
	Total      int            `json:"total_rows"`
	Counts     map[Status]int `json:"counts"`
	Confirmed  int            `json:"confirmed_count"`
	Failed     int            `json:"failed_count"`
	NoOp       int            `json:"noop_count"`
	Failures   []RowFailure   `json:"failures"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// NewBatchResult aggregates outcomes, which must be ordered by row index.
func NewBatchResult(id uuid.UUID, outcomes []RowOutcome, started, finished time.Time) BatchResult {
	res := BatchResult{
		BatchID:    id,
		Total:      len(outcomes),
		Counts:     map[Status]int{StatusConfirmed: 0, StatusFailed: 0},
		Failures:   []RowFailure{},
		StartedAt:  started,
		FinishedAt: finished,
	}
	for _, o := range outcomes {
		res.Counts[o.Status]++
		switch o.Status {
		case StatusConfirmed:
			res.Confirmed++
			if o.NoOp {
				res.NoOp++
			}
		case StatusFailed:
			res.Failed++
			res.Failures = append(res.Failures, RowFailure{
				Row:       o.Row,
				Stage:     o.Stage,
				Reason:    o.Reason,
				Retryable: o.Retryable,
			})
		}
	}
	return res
}

// Duration returns the wall time of the run.
func (r BatchResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Partial reports whether some but not all rows failed.
func (r BatchResult) Partial() bool {
	return r.Failed > 0 && r.Failed < r.Total
}

// BatchSummary is the audit entry recorded for one file ingestion.
type BatchSummary struct {
	BatchID    uuid.UUID `json:"batch_id"`
	SourceFile string    `json:"source_file"`
	FileSHA256 string    `json:"file_sha256"`
	FileSize   int64     `json:"file_size_bytes"`
	RowsRead   int       `json:"rows_read"`
	RowsEmpty  int       `json:"rows_empty"`
	Confirmed  int       `json:"confirmed_count"`
	Failed     int       `json:"failed_count"`
	NoOp       int       `json:"noop_count"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
