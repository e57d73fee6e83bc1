// Package ingest runs batches of raw TM2 rows through validation, mapping,
// staging and downstream submission.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gyeh/tm2ingest/internal/config"
	"github.com/gyeh/tm2ingest/internal/mapping"
	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/staging"
	"github.com/gyeh/tm2ingest/internal/submit"
	"github.com/gyeh/tm2ingest/internal/validate"
)

// PipelineError wraps an error with the phase where it occurred.
type PipelineError struct {
	Phase string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// File-level phases reported in PipelineError.
const (
	PhaseRead     = "read"
	PhaseMappings = "mappings"
	PhaseRun      = "run"
	PhaseRecord   = "record"
)

// Options tunes a Pipeline. Zero fields take the config defaults.
type Options struct {
	Concurrency   int
	SubmitTimeout time.Duration
	// Locker serializes work per key; defaults to an in-process KeyMutex.
	Locker    staging.Locker
	Validator *validate.Validator
	// Clock stamps batch start and finish times and duplicate receipts.
	Clock func() time.Time
}

// Pipeline processes batches against one store, mapping table and
// downstream. It holds no per-batch state and may run batches concurrently.
type Pipeline struct {
	table         *mapping.Table
	store         staging.Store
	client        submit.Client
	locker        staging.Locker
	validator     *validate.Validator
	log           zerolog.Logger
	concurrency   int
	submitTimeout time.Duration
	now           func() time.Time
}

// NewPipeline wires the components of one ingestion target.
func NewPipeline(table *mapping.Table, store staging.Store, client submit.Client, log zerolog.Logger, opts Options) *Pipeline {
	p := &Pipeline{
		table:         table,
		store:         store,
		client:        client,
		locker:        opts.Locker,
		validator:     opts.Validator,
		log:           log,
		concurrency:   opts.Concurrency,
		submitTimeout: opts.SubmitTimeout,
		now:           opts.Clock,
	}
	if p.locker == nil {
		p.locker = staging.NewKeyMutex()
	}
	if p.validator == nil {
		p.validator = validate.New()
	}
	if p.concurrency <= 0 {
		p.concurrency = config.DefaultConcurrency
	}
	if p.submitTimeout <= 0 {
		p.submitTimeout = config.DefaultSubmitTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// RunBatch processes every row independently and returns once each row has
// a terminal outcome. A row failure never stops the batch, and RunBatch
// always returns a result. Cancelling ctx stops new work; rows that had not
// finished keep their last stored status and are reported as cancelled.
func (p *Pipeline) RunBatch(ctx context.Context, rows []model.RawRecord) model.BatchResult {
	return p.runBatch(ctx, rows, nil)
}

// runBatch reports row i as rowNumbers[i] when rowNumbers is non-nil.
func (p *Pipeline) runBatch(ctx context.Context, rows []model.RawRecord, rowNumbers []int) model.BatchResult {
	batchID := uuid.New()
	started := p.now()
	log := p.log.With().Str("batch_id", batchID.String()).Logger()
	log.Info().Int("rows", len(rows)).Int("concurrency", p.concurrency).Msg("batch started")

	outcomes := make([]model.RowOutcome, len(rows))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range rows {
		n := i
		if rowNumbers != nil {
			n = rowNumbers[i]
		}
		if ctx.Err() != nil {
			outcomes[i] = cancelled(n, "")
			continue
		}
		g.Go(func() error {
			outcomes[i] = p.processRow(ctx, log, n, &rows[i])
			return nil
		})
	}
	_ = g.Wait()

	res := model.NewBatchResult(batchID, outcomes, started, p.now())
	log.Info().
		Int("rows", res.Total).
		Int("confirmed", res.Confirmed).
		Int("failed", res.Failed).
		Int("noop", res.NoOp).
		Str("duration", res.Duration().String()).
		Msg("batch complete")
	return res
}
