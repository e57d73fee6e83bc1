package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gyeh/tm2ingest/internal/ingest"
	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/staging"
)

const (
	recentBatches      = 10
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "tm2load",
		"endpoints": []string{
			"POST /api/v1/ingest/trigger",
			"GET /api/v1/status",
			"GET /api/v1/records?status=failed",
			"GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := staging.Counts(r.Context(), s.deps.Store); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTrigger ingests one uploaded CSV file and returns its FileResult.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	maxSize := s.deps.MaxFileBytes
	// Multipart framing needs a little room beyond the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxSize))
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		s.writeError(w, http.StatusBadRequest, "only .csv uploads are accepted")
		return
	}
	if header.Size > maxSize {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", maxSize))
		return
	}

	dir, err := os.MkdirTemp("", "tm2load-upload-")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not stage upload")
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		s.writeError(w, http.StatusInternalServerError, "could not stage upload")
		return
	}

	res, err := s.deps.Pipeline.RunFile(r.Context(), path, maxSize, s.deps.BatchLog)
	if err != nil {
		var pe *ingest.PipelineError
		switch {
		case errors.As(err, &pe) && pe.Phase == ingest.PhaseRead:
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case res != nil:
			s.log.Error().Err(err).Str("batch_id", res.Summary.BatchID.String()).Msg("ingest finished with error")
			s.writeJSON(w, http.StatusOK, res)
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func saveUpload(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := ingest.Status(r.Context(), s.deps.Store, s.deps.BatchLog, s.deps.Client, recentBatches)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

// handleRecords lists stored entries in one status, oldest update first.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("status")
	if raw == "" {
		raw = string(model.StatusFailed)
	}
	status, err := model.ParseStatus(raw)
	if err != nil || status == model.StatusPending {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", raw))
		return
	}

	limit := defaultRecordLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecordLimit)
	}

	entries, err := s.deps.Store.ListByStatus(r.Context(), status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total := len(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"total":   total,
		"records": entries,
	})
}
