package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/tm2ingest/internal/mapping"
	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/normalize"
	"github.com/gyeh/tm2ingest/internal/staging"
	"github.com/gyeh/tm2ingest/internal/submit"
	"github.com/gyeh/tm2ingest/internal/validate"
)

var processingDay = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store  *staging.Memory
	client *submit.Memory
	p      *Pipeline
}

func testTable(t *testing.T) *mapping.Table {
	t.Helper()
	tbl, err := mapping.NewTable([]model.CodeMapping{
		{Code: "TM2.A01.01", Title: "Vata disorder of sleep", ConceptUUID: "c-a01"},
		{Code: "TM2.B02.03", Title: "Qi stagnation pattern"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{store: staging.NewMemory(), client: submit.NewMemory()}
	opts.Validator = validate.New(validate.WithClock(func() time.Time { return processingDay }))
	h.p = NewPipeline(testTable(t), h.store, h.client, zerolog.New(io.Discard), opts)
	return h
}

func row(patient, code, date string) model.RawRecord {
	return model.RawRecord{
		PatientID:      patient,
		TM2Code:        code,
		ConditionName:  "Chronic Insomnia",
		SystemType:     "Ayurveda",
		Severity:       "Moderate",
		DiagnosisDate:  date,
		PractitionerID: "DOC001",
	}
}

func (h *harness) status(t *testing.T, key model.Key) model.Status {
	t.Helper()
	e, err := h.store.Get(context.Background(), key)
	if errors.Is(err, staging.ErrNotFound) {
		return model.StatusPending
	}
	if err != nil {
		t.Fatal(err)
	}
	return e.Status
}

func TestRunBatch_SingleValidRecord(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.p.RunBatch(context.Background(), []model.RawRecord{row("PAT001", "TM2.A01.01", "2024-01-15")})

	if res.Total != 1 || res.Confirmed != 1 || res.Failed != 0 {
		t.Fatalf("got total=%d confirmed=%d failed=%d", res.Total, res.Confirmed, res.Failed)
	}
	if h.client.Accepted() != 1 {
		t.Errorf("downstream accepted %d, want 1", h.client.Accepted())
	}
	confirmed, _ := h.store.ListByStatus(context.Background(), model.StatusConfirmed)
	if len(confirmed) != 1 {
		t.Fatalf("confirmed entries: got %d, want 1", len(confirmed))
	}
	e := confirmed[0]
	if e.Payload.Record == nil || e.Payload.Record.Mapping.ConceptUUID != "c-a01" {
		t.Errorf("stored record: got %+v", e.Payload.Record)
	}
	if e.Payload.Receipt == nil || e.Payload.Receipt.ID == "" {
		t.Errorf("receipt: got %+v", e.Payload.Receipt)
	}
	if res.BatchID.String() == "" || res.FinishedAt.Before(res.StartedAt) {
		t.Errorf("batch metadata: %+v", res)
	}
}

func TestRunBatch_UnknownCode(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.p.RunBatch(context.Background(), []model.RawRecord{row("PAT001", "TM2.ZZ.99", "2024-01-15")})

	if res.Failed != 1 || res.Confirmed != 0 {
		t.Fatalf("got confirmed=%d failed=%d", res.Confirmed, res.Failed)
	}
	f := res.Failures[0]
	if f.Stage != model.StageMapping || !strings.Contains(f.Reason, "TM2.ZZ.99") {
		t.Errorf("failure: got %+v", f)
	}
	if f.Retryable {
		t.Error("mapping failure must not be retryable")
	}
	if h.client.Stats().Requests != 0 {
		t.Error("unmapped record reached the downstream")
	}
}

func TestRunBatch_MissingRequiredField(t *testing.T) {
	h := newHarness(t, Options{})
	bad := row("PAT001", "TM2.A01.01", "2024-01-15")
	bad.PractitionerID = " "
	res := h.p.RunBatch(context.Background(), []model.RawRecord{bad})

	if res.Failed != 1 {
		t.Fatalf("failed: got %d, want 1", res.Failed)
	}
	f := res.Failures[0]
	if f.Stage != model.StageValidation || !strings.Contains(f.Reason, "practitioner_id") {
		t.Errorf("failure: got %+v", f)
	}
	if counts, _ := staging.Counts(context.Background(), h.store); len(counts) != 0 {
		t.Errorf("invalid row produced store entries: %v", counts)
	}
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 3})
	rows := []model.RawRecord{
		row("PAT001", "TM2.A01.01", "2024-01-15"),
		row("PAT002", "TM2.A01.01", "2024-01-15"),
		row("PAT003", "TM2.A01.01", "2099-01-01"), // future date
		row("PAT004", "TM2.B02.03", "2024-01-15"),
		row("PAT005", "TM2.B02.03", "2024-01-15"),
	}
	res := h.p.RunBatch(context.Background(), rows)

	if res.Total != 5 || res.Confirmed != 4 || res.Failed != 1 {
		t.Fatalf("got total=%d confirmed=%d failed=%d", res.Total, res.Confirmed, res.Failed)
	}
	if res.Failures[0].Row != 2 || res.Failures[0].Stage != model.StageValidation {
		t.Errorf("failure: got %+v, want row 2 validation", res.Failures[0])
	}
	if res.Counts[model.StatusConfirmed] != 4 || res.Counts[model.StatusFailed] != 1 {
		t.Errorf("counts: got %v", res.Counts)
	}
}

func TestRunBatch_SecondRunIsNoOp(t *testing.T) {
	h := newHarness(t, Options{})
	rows := []model.RawRecord{
		row("PAT001", "TM2.A01.01", "2024-01-15"),
		row("PAT002", "TM2.B02.03", "2024-02-01"),
	}
	first := h.p.RunBatch(context.Background(), rows)
	if first.Confirmed != 2 || first.NoOp != 0 {
		t.Fatalf("first run: %+v", first)
	}
	requests := h.client.Stats().Requests

	second := h.p.RunBatch(context.Background(), rows)
	if second.Confirmed != 2 || second.NoOp != 2 || second.Failed != 0 {
		t.Fatalf("second run: confirmed=%d noop=%d failed=%d", second.Confirmed, second.NoOp, second.Failed)
	}
	if got := h.client.Stats().Requests; got != requests {
		t.Errorf("second run submitted %d more requests", got-requests)
	}
	if first.BatchID == second.BatchID {
		t.Error("batch ids must differ")
	}
}

func TestRunBatch_EquivalentRowsShareKey(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 4})
	a := row("PAT001", "TM2.A01.01", "2024-01-15")
	b := row(" pat001", "tm2.a01.01", "01/15/2024")
	b.ConditionName = "Insomnia"
	res := h.p.RunBatch(context.Background(), []model.RawRecord{a, b})

	if res.Confirmed != 2 || res.NoOp != 1 {
		t.Fatalf("got confirmed=%d noop=%d, want 2 and 1", res.Confirmed, res.NoOp)
	}
	if h.client.Stats().Requests != 1 {
		t.Errorf("downstream requests: got %d, want 1", h.client.Stats().Requests)
	}
	confirmed, _ := h.store.ListByStatus(context.Background(), model.StatusConfirmed)
	if len(confirmed) != 1 {
		t.Errorf("confirmed entries: got %d, want 1", len(confirmed))
	}
}

func TestRunBatch_SubmitTimeoutThenRetry(t *testing.T) {
	h := newHarness(t, Options{SubmitTimeout: 20 * time.Millisecond})
	h.client.Delay = time.Second
	rows := []model.RawRecord{row("PAT001", "TM2.A01.01", "2024-01-15")}

	res := h.p.RunBatch(context.Background(), rows)
	if res.Failed != 1 {
		t.Fatalf("failed: got %d, want 1", res.Failed)
	}
	f := res.Failures[0]
	if f.Stage != model.StageSubmission || !strings.Contains(f.Reason, "timeout") || !f.Retryable {
		t.Errorf("failure: got %+v", f)
	}
	failed, _ := h.store.ListByStatus(context.Background(), model.StatusFailed)
	if len(failed) != 1 || !failed[0].Payload.Retryable || failed[0].Payload.Record == nil {
		t.Fatalf("stored failure: got %+v", failed)
	}

	h.client.Delay = 0
	res = h.p.RunBatch(context.Background(), rows)
	if res.Confirmed != 1 || res.NoOp != 0 {
		t.Fatalf("retry: confirmed=%d noop=%d", res.Confirmed, res.NoOp)
	}
	if h.status(t, failed[0].Key) != model.StatusConfirmed {
		t.Error("retried key not confirmed")
	}
}

func TestRunBatch_ConflictIsSuccess(t *testing.T) {
	h := newHarness(t, Options{})
	rows := []model.RawRecord{row("PAT001", "TM2.A01.01", "2024-01-15")}

	// The downstream already has the record but the store lost it.
	if first := h.p.RunBatch(context.Background(), rows); first.Confirmed != 1 {
		t.Fatalf("seed run: %+v", first)
	}
	fresh := staging.NewMemory()
	p := NewPipeline(testTable(t), fresh, h.client, zerolog.New(io.Discard), Options{
		Validator: validate.New(validate.WithClock(func() time.Time { return processingDay })),
		Clock:     func() time.Time { return processingDay },
	})

	res := p.RunBatch(context.Background(), rows)
	if res.Confirmed != 1 || res.Failed != 0 || res.NoOp != 0 {
		t.Fatalf("got confirmed=%d failed=%d noop=%d", res.Confirmed, res.Failed, res.NoOp)
	}
	if h.client.Stats().Conflicts != 1 {
		t.Errorf("conflicts: got %d, want 1", h.client.Stats().Conflicts)
	}
	confirmed, _ := fresh.ListByStatus(context.Background(), model.StatusConfirmed)
	if len(confirmed) != 1 || confirmed[0].Payload.Receipt == nil || !confirmed[0].Payload.Receipt.Duplicate {
		t.Fatalf("stored receipt: got %+v", confirmed)
	}
	if got := confirmed[0].Payload.Receipt.AcceptedAt; !got.Equal(processingDay) {
		t.Errorf("duplicate receipt time: got %v, want %v", got, processingDay)
	}
}

func TestRunBatch_LeftoverInFlightIsRetried(t *testing.T) {
	for _, status := range []model.Status{model.StatusValidated, model.StatusMapped, model.StatusSubmitted} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, Options{})
			rows := []model.RawRecord{row("PAT001", "TM2.A01.01", "2024-01-15")}

			// A crashed run left the key part way through the lifecycle.
			cand, err := h.p.validator.Validate(&rows[0])
			if err != nil {
				t.Fatal(err)
			}
			rec, err := mapping.Resolve(cand, h.p.table)
			if err != nil {
				t.Fatal(err)
			}
			key := normalize.DeriveKey(rec)
			if err := h.store.Put(context.Background(), key, status, staging.Payload{Record: rec}); err != nil {
				t.Fatal(err)
			}

			res := h.p.RunBatch(context.Background(), rows)
			if res.Confirmed != 1 || res.NoOp != 0 || res.Failed != 0 {
				t.Fatalf("got confirmed=%d noop=%d failed=%d", res.Confirmed, res.NoOp, res.Failed)
			}
			if n := h.client.Stats().Requests; n != 1 {
				t.Errorf("downstream requests: got %d, want 1", n)
			}
			if got := h.status(t, key); got != model.StatusConfirmed {
				t.Errorf("status: got %s, want confirmed", got)
			}
		})
	}
}

func TestRunBatch_SubmissionErrorKinds(t *testing.T) {
	cases := []struct {
		kind      submit.Kind
		retryable bool
	}{
		{submit.KindUnreachable, true},
		{submit.KindRejected, false},
		{submit.KindAuthFailure, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			h := newHarness(t, Options{})
			h.client.FailWith = func(model.Key, *model.NormalizedRecord) error {
				return &submit.Error{Kind: tc.kind, Detail: "downstream said no"}
			}
			res := h.p.RunBatch(context.Background(), []model.RawRecord{row("PAT001", "TM2.A01.01", "2024-01-15")})
			if res.Failed != 1 {
				t.Fatalf("failed: got %d", res.Failed)
			}
			f := res.Failures[0]
			if f.Stage != model.StageSubmission || f.Retryable != tc.retryable || !strings.Contains(f.Reason, string(tc.kind)) {
				t.Errorf("failure: got %+v", f)
			}
			failed, _ := h.store.ListByStatus(context.Background(), model.StatusFailed)
			if len(failed) != 1 || failed[0].Payload.FailureReason != f.Reason {
				t.Errorf("stored failure: got %+v", failed)
			}
		})
	}
}

func TestRunBatch_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.p.RunBatch(ctx, []model.RawRecord{
		row("PAT001", "TM2.A01.01", "2024-01-15"),
		row("PAT002", "TM2.A01.01", "2024-01-15"),
	})
	if res.Total != 2 || res.Failed != 2 {
		t.Fatalf("got total=%d failed=%d", res.Total, res.Failed)
	}
	for _, f := range res.Failures {
		if f.Stage != model.StageCancelled || !f.Retryable {
			t.Errorf("failure: got %+v", f)
		}
	}
	if counts, _ := staging.Counts(context.Background(), h.store); len(counts) != 0 {
		t.Errorf("cancelled batch wrote to the store: %v", counts)
	}
}

func TestRunBatch_CancelledMidSubmit(t *testing.T) {
	h := newHarness(t, Options{SubmitTimeout: 10 * time.Second})
	h.client.Delay = 10 * time.Second
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for h.client.Stats().Requests == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res := h.p.RunBatch(ctx, []model.RawRecord{row("PAT001", "TM2.A01.01", "2024-01-15")})
	if res.Failed != 1 || res.Failures[0].Stage != model.StageCancelled {
		t.Fatalf("got %+v", res.Failures)
	}
	submitted, _ := h.store.ListByStatus(context.Background(), model.StatusSubmitted)
	if len(submitted) != 1 {
		t.Errorf("row should keep its submitted status, got %d submitted entries", len(submitted))
	}
}

// flakyStore fails every Put for one status.
type flakyStore struct {
	*staging.Memory
	failOn model.Status
}

func (f *flakyStore) Put(ctx context.Context, key model.Key, status model.Status, p staging.Payload) error {
	if status == f.failOn {
		return errors.New("connection reset by peer")
	}
	return f.Memory.Put(ctx, key, status, p)
}

func TestRunBatch_StorageFailure(t *testing.T) {
	for _, st := range []model.Status{model.StatusMapped, model.StatusConfirmed} {
		t.Run(string(st), func(t *testing.T) {
			store := &flakyStore{Memory: staging.NewMemory(), failOn: st}
			client := submit.NewMemory()
			p := NewPipeline(testTable(t), store, client, zerolog.New(io.Discard), Options{
				Validator: validate.New(validate.WithClock(func() time.Time { return processingDay })),
			})
			res := p.RunBatch(context.Background(), []model.RawRecord{row("PAT001", "TM2.A01.01", "2024-01-15")})
			if res.Failed != 1 {
				t.Fatalf("failed: got %d", res.Failed)
			}
			f := res.Failures[0]
			if f.Stage != model.StageStorage || !f.Retryable {
				t.Errorf("failure: got %+v", f)
			}
			wantSubmitted := int64(0)
			if st == model.StatusConfirmed {
				wantSubmitted = 1
			}
			if client.Stats().Requests != wantSubmitted {
				t.Errorf("requests: got %d, want %d", client.Stats().Requests, wantSubmitted)
			}
		})
	}
}

func TestRunBatch_ManyRowsBoundedConcurrency(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 4})
	h.client.Delay = time.Millisecond
	var rows []model.RawRecord
	for i := 0; i < 40; i++ {
		rows = append(rows, row(fmt.Sprintf("PAT%03d", i), "TM2.A01.01", "2024-01-15"))
	}
	res := h.p.RunBatch(context.Background(), rows)
	if res.Confirmed != 40 || res.Failed != 0 {
		t.Fatalf("got confirmed=%d failed=%d", res.Confirmed, res.Failed)
	}
	if h.client.Accepted() != 40 {
		t.Errorf("accepted: got %d, want 40", h.client.Accepted())
	}
}

func TestRunBatch_Empty(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.p.RunBatch(context.Background(), nil)
	if res.Total != 0 || res.Failures == nil {
		t.Errorf("got %+v", res)
	}
}
