package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/tm2ingest/internal/ingest"
	"github.com/gyeh/tm2ingest/internal/mapping"
	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/staging"
	"github.com/gyeh/tm2ingest/internal/submit"
	"github.com/gyeh/tm2ingest/internal/validate"
)

const uploadCSV = "patient_id,tm2_code,condition_name,system_type,severity,diagnosis_date,practitioner_id\n" +
	"PAT001,TM2.A01.01,Chronic Insomnia,Ayurveda,Moderate,2024-01-15,DOC001\n" +
	"PAT002,TM2.ZZ.99,Unknown Pattern,Siddha,Mild,2024-01-20,DOC002\n"

type fixture struct {
	store  *staging.Memory
	client *submit.Memory
	srv    *Server
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	t.Helper()
	tbl, err := mapping.NewTable([]model.CodeMapping{{Code: "TM2.A01.01", Title: "Vata disorder of sleep"}})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{store: staging.NewMemory(), client: submit.NewMemory()}
	clock := func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	p := ingest.NewPipeline(tbl, f.store, f.client, zerolog.Nop(), ingest.Options{
		Validator: validate.New(validate.WithClock(clock)),
	})
	f.srv = New(Deps{
		Pipeline:     p,
		Store:        f.store,
		BatchLog:     f.store,
		Client:       f.client,
		MaxFileBytes: maxBytes,
	}, zerolog.Nop())
	return f
}

func multipartBody(t *testing.T, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/trigger", body)
	req.Header.Set("Content-Type", ct)
	return f.do(req)
}

func TestTrigger_IngestsCSV(t *testing.T) {
	f := newFixture(t, 1<<20)
	rec := f.upload(t, "records.csv", uploadCSV)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rec.Code, rec.Body)
	}
	var res ingest.FileResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Summary.Confirmed != 1 || res.Summary.Failed != 1 || res.Summary.SourceFile != "records.csv" {
		t.Errorf("summary: got %+v", res.Summary)
	}
	if len(res.Batch.Failures) != 1 || !strings.Contains(res.Batch.Failures[0].Reason, "TM2.ZZ.99") {
		t.Errorf("failures: got %+v", res.Batch.Failures)
	}
	if f.client.Accepted() != 1 {
		t.Errorf("accepted: got %d, want 1", f.client.Accepted())
	}
}

func TestTrigger_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		content  string
		maxBytes int64
		want     int
	}{
		{"not csv", "records.xlsx", uploadCSV, 1 << 20, http.StatusBadRequest},
		{"too large", "records.csv", uploadCSV, 64, http.StatusRequestEntityTooLarge},
		{"missing columns", "records.csv", "patient_id\nPAT001\n", 1 << 20, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.maxBytes)
			rec := f.upload(t, tc.filename, tc.content)
			if rec.Code != tc.want {
				t.Fatalf("status: got %d, want %d (%s)", rec.Code, tc.want, rec.Body)
			}
			if f.client.Stats().Requests != 0 {
				t.Error("rejected upload reached the downstream")
			}
		})
	}
}

func TestTrigger_NoFile(t *testing.T) {
	f := newFixture(t, 1<<20)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/trigger", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	if rec := f.do(req); rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.upload(t, "records.csv", uploadCSV)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var rep ingest.StatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Counts[model.StatusConfirmed] != 1 {
		t.Errorf("counts: got %v", rep.Counts)
	}
	if len(rep.RecentBatches) != 1 || rep.RecentBatches[0].SourceFile != "records.csv" {
		t.Errorf("recent batches: got %+v", rep.RecentBatches)
	}
	if rep.Downstream == nil || rep.Downstream.Succeeded != 1 {
		t.Errorf("downstream stats: got %+v", rep.Downstream)
	}
}

func TestRecords(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.client.FailWith = func(model.Key, *model.NormalizedRecord) error {
		return &submit.Error{Kind: submit.KindUnreachable, Detail: "connection refused"}
	}
	f.upload(t, "records.csv", uploadCSV)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/records?status=failed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body struct {
		Total   int             `json:"total"`
		Records []staging.Entry `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The unmapped row never reaches the store; the unreachable one does.
	if body.Total != 1 || len(body.Records) != 1 || !body.Records[0].Payload.Retryable {
		t.Errorf("records: got %+v", body)
	}

	for _, q := range []string{"status=pending", "status=bogus", "status=failed&limit=0"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/records?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, rec.Code)
		}
	}
}

func TestHealthAndIndex(t *testing.T) {
	f := newFixture(t, 1<<20)
	for _, path := range []string{"/health", "/"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: got %d, want 200", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type %q", path, ct)
		}
	}
}
