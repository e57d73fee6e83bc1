// Package tableread streams RawRecords out of tabular input files. CSV,
// Parquet and XLSX sources all yield the same row shape.
package tableread

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gyeh/tm2ingest/internal/model"
)

// Reader streams rows in file order.
type Reader interface {
	// Read fills rows and returns the count, and io.EOF once exhausted.
	Read(rows []model.RawRecord) (int, error)
	Close() error
}

// Format is a supported input file type.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatXLSX    Format = "xlsx"
)

// ErrUnsupportedFormat is returned for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported file format (want .csv, .parquet or .xlsx)")

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
}

// Open opens path with the reader for its extension. The header or schema
// is checked before Open returns.
func Open(path string) (Reader, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatParquet:
		return OpenParquet(path)
	case FormatXLSX:
		return OpenXLSX(path)
	default:
		return OpenCSVFile(path)
	}
}

// ReadAll drains r. It does not close r.
func ReadAll(r Reader) ([]model.RawRecord, error) {
	var out []model.RawRecord
	buf := make([]model.RawRecord, 256)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// MissingColumnsError lists required input columns absent from the header.
type MissingColumnsError struct {
	Missing []string
	Found   []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// CleanHeader normalizes a header cell: trimmed, lowercased, quotes and BOM
// removed, inner spaces and hyphens turned into underscores.
func CleanHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.Trim(strings.TrimSpace(h), `"'`)
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '-' || r == '\t'
	}), "_")
}

// columnIndex maps each required column to its position in header. Unknown
// header columns are ignored.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	found := make([]string, 0, len(header))
	for i, h := range header {
		name := CleanHeader(h)
		if name == "" {
			continue
		}
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
		found = append(found, name)
	}

	var missing []string
	for _, col := range model.Columns() {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingColumnsError{Missing: missing, Found: found}
	}
	return idx, nil
}

// fill assigns cells to rec through idx; short rows leave fields empty.
func fill(rec *model.RawRecord, idx map[string]int, cells []string) {
	*rec = model.RawRecord{}
	for _, col := range model.Columns() {
		if i := idx[col]; i < len(cells) {
			rec.Set(col, cells[i])
		}
	}
}
