package tableread

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/gyeh/tm2ingest/internal/model"
)

// CSVReader reads a CSV file with a header row. encoding/csv drops empty
// lines, so CSVReader yields an all-blank row for each one it skipped before
// a record; data row numbers then match the file.
type CSVReader struct {
	closer io.Closer
	r      *csv.Reader
	idx    map[string]int
	data   []byte
	off    int64 // input offset just past the last record read

	blanks  int // skipped empty lines still to be returned
	held    []string
	hasHeld bool
}

// OpenCSVFile opens a CSV file on disk.
func OpenCSVFile(path string) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	r, err := NewCSVReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewCSVReader reads the header from src and checks it. A UTF-8 byte order
// mark is skipped; input that is not valid UTF-8 is decoded as Latin-1.
func NewCSVReader(src io.Reader) (*CSVReader, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}
	if !utf8.Valid(data) {
		if data, err = charmap.ISO8859_1.NewDecoder().Bytes(data); err != nil {
			return nil, fmt.Errorf("decode latin-1 csv: %w", err)
		}
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}
	return &CSVReader{r: cr, idx: idx, data: data, off: cr.InputOffset()}, nil
}

func (c *CSVReader) Read(rows []model.RawRecord) (int, error) {
	n := 0
	for n < len(rows) {
		switch {
		case c.blanks > 0:
			rows[n] = model.RawRecord{}
			c.blanks--
			n++
			continue
		case c.hasHeld:
			fill(&rows[n], c.idx, c.held)
			c.hasHeld = false
			n++
			continue
		}

		skipped := emptyLines(c.data[c.off:])
		cells, err := c.r.Read()
		if err == io.EOF {
			return n, io.EOF
		}
		if err != nil {
			return n, fmt.Errorf("read csv: %w", err)
		}
		c.off = c.r.InputOffset()
		c.blanks = skipped
		c.held = append(c.held[:0], cells...)
		c.hasHeld = true
	}
	return n, nil
}

// emptyLines counts the empty lines at the start of b.
func emptyLines(b []byte) int {
	n := 0
	for {
		switch {
		case bytes.HasPrefix(b, []byte("\n")):
			b = b[1:]
		case bytes.HasPrefix(b, []byte("\r\n")):
			b = b[2:]
		default:
			return n
		}
		n++
	}
}

func (c *CSVReader) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
