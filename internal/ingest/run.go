package ingest

import (
	"context"
	"path/filepath"

	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/staging"
)

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Summary model.BatchSummary `json:"summary"`
	Batch   model.BatchResult  `json:"batch"`
}

// RunFile ingests one tabular file: preflight, batch run, then an audit
// entry in batchLog when one is given. Row failures are in the result;
// only file-level failures return a *PipelineError. Failure rows are
// numbered by data row in the file, starting at 1.
func (p *Pipeline) RunFile(ctx context.Context, path string, maxBytes int64, batchLog staging.BatchLog) (*FileResult, error) {
	pf, err := Preflight(p.log, path, maxBytes)
	if err != nil {
		return nil, &PipelineError{Phase: PhaseRead, Err: err}
	}

	batch := p.runBatch(ctx, pf.Rows, pf.SourceRows)

	summary := model.BatchSummary{
		BatchID:    batch.BatchID,
		SourceFile: filepath.Base(path),
		FileSHA256: pf.FileSHA256,
		FileSize:   pf.FileSize,
		RowsRead:   pf.RowsRead,
		RowsEmpty:  pf.RowsEmpty,
		Confirmed:  batch.Confirmed,
		Failed:     batch.Failed,
		NoOp:       batch.NoOp,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
	}
	res := &FileResult{Summary: summary, Batch: batch}

	if batchLog != nil {
		// Record even when ctx was cancelled so the partial run is audited.
		if err := batchLog.RecordBatch(context.WithoutCancel(ctx), summary); err != nil {
			return res, &PipelineError{Phase: PhaseRecord, Err: err}
		}
	}
	return res, nil
}
