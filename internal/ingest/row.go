package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/gyeh/tm2ingest/internal/mapping"
	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/normalize"
	"github.com/gyeh/tm2ingest/internal/staging"
	"github.com/gyeh/tm2ingest/internal/submit"
)

// processRow takes one row from raw input to a terminal outcome.
func (p *Pipeline) processRow(ctx context.Context, log zerolog.Logger, row int, raw *model.RawRecord) model.RowOutcome {
	if ctx.Err() != nil {
		return cancelled(row, "")
	}

	cand, err := p.validator.Validate(raw)
	if err != nil {
		return p.reject(log, model.RowOutcome{Row: row}, model.StageValidation, err.Error(), false)
	}
	rec, err := mapping.Resolve(cand, p.table)
	if err != nil {
		return p.reject(log, model.RowOutcome{Row: row}, model.StageMapping, err.Error(), false)
	}

	key := normalize.DeriveKey(rec)
	out := model.RowOutcome{Row: row, Key: key}

	unlock, err := p.locker.Lock(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(row, key)
		}
		return p.reject(log, out, model.StageStorage, err.Error(), true)
	}
	defer unlock()

	entry, err := p.store.Get(ctx, key)
	switch {
	case err == nil && entry.Status == model.StatusConfirmed:
		return confirmedNoOp(out)
	case err != nil && !errors.Is(err, staging.ErrNotFound):
		if ctx.Err() != nil {
			return cancelled(row, key)
		}
		return p.reject(log, out, model.StageStorage, err.Error(), true)
	}

	// Write-ahead: the record is durable before the downstream sees it.
	for _, step := range []struct {
		status model.Status
		p      staging.Payload
	}{
		{model.StatusValidated, staging.Payload{}},
		{model.StatusMapped, staging.Payload{Record: rec}},
		{model.StatusSubmitted, staging.Payload{}},
	} {
		if ctx.Err() != nil {
			return cancelled(row, key)
		}
		if err := p.store.Put(ctx, key, step.status, step.p); err != nil {
			if errors.Is(err, staging.ErrAlreadyConfirmed) {
				return confirmedNoOp(out)
			}
			if ctx.Err() != nil {
				return cancelled(row, key)
			}
			return p.reject(log, out, model.StageStorage, err.Error(), true)
		}
	}

	receipt, serr := p.submit(ctx, key, rec)
	if serr != nil && serr.Kind != submit.KindConflict {
		if ctx.Err() != nil {
			return cancelled(row, key)
		}
		reason := serr.Error()
		if err := p.store.Put(ctx, key, model.StatusFailed, staging.Payload{
			FailureReason: reason,
			Retryable:     serr.Transient(),
		}); err != nil && !errors.Is(err, staging.ErrAlreadyConfirmed) {
			log.Error().Err(err).Str("key", key.Short()).Msg("could not record submission failure")
		}
		return p.reject(log, out, model.StageSubmission, reason, serr.Transient())
	}
	if serr != nil {
		receipt = &model.Receipt{Duplicate: true, AcceptedAt: p.now().UTC()}
		log.Debug().Str("key", key.Short()).Msg("downstream already holds record")
	}

	err = p.store.Put(ctx, key, model.StatusConfirmed, staging.Payload{Receipt: receipt})
	if err != nil && !errors.Is(err, staging.ErrAlreadyConfirmed) {
		// The downstream has the record; the next run resubmits, gets a
		// conflict and confirms.
		return p.reject(log, out, model.StageStorage, "confirmed downstream but not recorded: "+err.Error(), true)
	}
	out.Status = model.StatusConfirmed
	return out
}

// submit calls the client under the per-record deadline and classifies
// the result.
func (p *Pipeline) submit(ctx context.Context, key model.Key, rec *model.NormalizedRecord) (*model.Receipt, *submit.Error) {
	sctx, cancel := context.WithTimeout(ctx, p.submitTimeout)
	defer cancel()

	receipt, err := p.client.Submit(sctx, key, rec)
	if err == nil {
		return receipt, nil
	}
	if errors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &submit.Error{Kind: submit.KindTimeout, Detail: "no response within " + p.submitTimeout.String()}
	}
	return nil, submit.Classify(err)
}

func (p *Pipeline) reject(log zerolog.Logger, out model.RowOutcome, stage model.Stage, reason string, retryable bool) model.RowOutcome {
	out.Status = model.StatusFailed
	out.Stage = stage
	out.Reason = reason
	out.Retryable = retryable
	ev := log.Warn().Int("row", out.Row).Str("stage", string(stage)).Bool("retryable", retryable)
	if out.Key != "" {
		ev = ev.Str("key", out.Key.Short())
	}
	ev.Msg(reason)
	return out
}

func confirmedNoOp(out model.RowOutcome) model.RowOutcome {
	out.Status = model.StatusConfirmed
	out.NoOp = true
	return out
}

func cancelled(row int, key model.Key) model.RowOutcome {
	return model.RowOutcome{
		Row:       row,
		Key:       key,
		Status:    model.StatusFailed,
		Stage:     model.StageCancelled,
		Reason:    "batch cancelled before the row finished",
		Retryable: true,
	}
}
