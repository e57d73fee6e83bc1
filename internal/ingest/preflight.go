package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/gyeh/tm2ingest/internal/model"
	"github.com/gyeh/tm2ingest/internal/normalize"
	"github.com/gyeh/tm2ingest/internal/tableread"
)

// PreflightResult is an input file checked and read into memory.
type PreflightResult struct {
	FilePath   string
	FileSHA256 string
	FileSize   int64
	Format     tableread.Format
	// Rows holds the non-empty data rows in file order.
	Rows []model.RawRecord
	// SourceRows[i] is the 1-based data row number of Rows[i] in the file.
	SourceRows []int
	RowsRead   int
	RowsEmpty  int
}

// Preflight checks size and format, hashes the file, validates its header
// and reads every row, dropping rows whose cells are all blank.
func Preflight(log zerolog.Logger, path string, maxBytes int64) (*PreflightResult, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("preflight stat: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("preflight: %s is a directory", path)
	}
	if maxBytes > 0 && stat.Size() > maxBytes {
		return nil, fmt.Errorf("preflight: file is %d bytes, limit is %d", stat.Size(), maxBytes)
	}
	format, err := tableread.FormatOf(path)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}

	sha, err := normalize.FileHash(path)
	if err != nil {
		return nil, fmt.Errorf("preflight hash: %w", err)
	}

	r, err := tableread.Open(path)
	if err != nil {
		return nil, fmt.Errorf("preflight open: %w", err)
	}
	defer r.Close()

	all, err := tableread.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("preflight read: %w", err)
	}

	pf := &PreflightResult{
		FilePath:   path,
		FileSHA256: sha,
		FileSize:   stat.Size(),
		Format:     format,
		RowsRead:   len(all),
	}
	for i := range all {
		if all[i].IsEmpty() {
			pf.RowsEmpty++
			continue
		}
		pf.Rows = append(pf.Rows, all[i])
		pf.SourceRows = append(pf.SourceRows, i+1)
	}
	if len(pf.Rows) == 0 {
		return nil, fmt.Errorf("preflight: %s has no non-empty data rows", filepath.Base(path))
	}

	log.Info().
		Str("file", filepath.Base(path)).
		Str("format", string(format)).
		Str("sha256", sha).
		Int64("bytes", pf.FileSize).
		Int("rows_read", pf.RowsRead).
		Int("rows_empty", pf.RowsEmpty).
		Msg("preflight complete")
	return pf, nil
}
