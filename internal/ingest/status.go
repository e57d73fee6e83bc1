package ingest

import (
	"context"
	"fmt"

	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/staging"
	"github.com/gyeh/tm2ingest/internal/submit"
)

// StatusReport is the operational view shared by `tm2load status` and the
// HTTP status endpoint.
type StatusReport struct {
	Counts        map[model.Status]int `json:"counts"`
	RecentBatches []model.BatchSummary `json:"recent_batches"`
	// Downstream is nil when the client keeps no statistics.
	Downstream *submit.Stats `json:"downstream,omitempty"`
}

// Status gathers per-status counts, up to recent batch summaries when
// batchLog is non-nil, and client statistics.
func Status(ctx context.Context, store staging.Store, batchLog staging.BatchLog, client submit.Client, recent int) (*StatusReport, error) {
	counts, err := staging.Counts(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	rep := &StatusReport{Counts: counts, RecentBatches: []model.BatchSummary{}}
	if batchLog != nil && recent > 0 {
		batches, err := batchLog.RecentBatches(ctx, recent)
		if err != nil {
			return nil, fmt.Errorf("recent batches: %w", err)
		}
		rep.RecentBatches = batches
	}
	if sr, ok := client.(submit.StatsReporter); ok {
		st := sr.Stats()
		rep.Downstream = &st
	}
	return rep, nil
}
