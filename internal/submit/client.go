// Package submit delivers normalized records to the downstream clinical
// records API.
package submit

import (
	"context"

	"github.com/gyeh/tm2ingest/internal/model"
)

// Client submits one record. Implementations send key with the request so
// the downstream can deduplicate; a duplicate is reported as KindConflict.
// Errors are *Error.
type Client interface {
	Submit(ctx context.Context, key model.Key, rec *model.NormalizedRecord) (*model.Receipt, error)
}

// Stats counts client calls since construction.
type Stats struct {
	Requests  int64 `json:"requests"`
	Succeeded int64 `json:"succeeded"`
	Conflicts int64 `json:"conflicts"`
	Failed    int64 `json:"failed"`
}

// StatsReporter is implemented by clients that keep Stats.
type StatsReporter interface {
	Stats() Stats
}
