package tableread

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/tm2ingest/internal/model"
)

// ParquetReader streams RawRecords from a Parquet file whose columns are
// named like the CSV header.
type ParquetReader struct {
	file   *os.File
	reader *parquet.GenericReader[model.RawRecord]
}

// OpenParquet opens a Parquet file and checks its schema.
func OpenParquet(path string) (*ParquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	if err := ValidateSchema(pf.Schema()); err != nil {
		f.Close()
		return nil, err
	}

	r := parquet.NewGenericReader[model.RawRecord](pf)
	return &ParquetReader{file: f, reader: r}, nil
}

// ValidateSchema checks that every input column is present.
func ValidateSchema(schema *parquet.Schema) error {
	names := make([]string, 0, len(schema.Fields()))
	for _, field := range schema.Fields() {
		names = append(names, field.Name())
	}
	_, err := columnIndex(names)
	return err
}

// NumRows returns the total number of rows in the file.
func (r *ParquetReader) NumRows() int64 {
	return r.reader.NumRows()
}

func (r *ParquetReader) Read(rows []model.RawRecord) (int, error) {
	n, err := r.reader.Read(rows)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("read parquet rows: %w", err)
	}
	return n, err
}

func (r *ParquetReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
