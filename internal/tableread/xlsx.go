package tableread

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gyeh/tm2ingest/internal/model"
)

// maxExcelSerial is the serial number of 9999-12-31, the last date Excel
// can represent.
const maxExcelSerial = 2958465

// XLSXReader streams rows from the first sheet of a workbook. The first
// non-empty row is the header. Cells are read raw, so a diagnosis date
// stored as an Excel date serial is rendered as YYYY-MM-DD rather than in
// the cell's display format.
type XLSXReader struct {
	file     *excelize.File
	rows     *excelize.Rows
	idx      map[string]int
	sheet    string
	date1904 bool
}

// OpenXLSX opens a workbook and checks the header of its first sheet.
func OpenXLSX(path string) (*XLSXReader, error) {
	f, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open xlsx file: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("xlsx file has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	x := &XLSXReader{file: f, rows: rows, sheet: sheet}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		x.date1904 = *props.Date1904
	}
	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			x.Close()
			return nil, fmt.Errorf("read xlsx header: %w", err)
		}
		if len(cells) == 0 {
			continue
		}
		if x.idx, err = columnIndex(cells); err != nil {
			x.Close()
			return nil, err
		}
		return x, nil
	}
	x.Close()
	return nil, fmt.Errorf("sheet %q has no header row", sheet)
}

func (x *XLSXReader) Read(rows []model.RawRecord) (int, error) {
	n := 0
	for n < len(rows) {
		if !x.rows.Next() {
			if err := x.rows.Error(); err != nil {
				return n, fmt.Errorf("read sheet %q: %w", x.sheet, err)
			}
			return n, io.EOF
		}
		cells, err := x.rows.Columns()
		if err != nil {
			return n, fmt.Errorf("read sheet %q: %w", x.sheet, err)
		}
		x.fixDate(cells)
		fill(&rows[n], x.idx, cells)
		n++
	}
	return n, nil
}

// fixDate rewrites a numeric diagnosis date cell from its serial form.
// Text cells are left for the validator to parse.
func (x *XLSXReader) fixDate(cells []string) {
	i := x.idx[model.ColDiagnosisDate]
	if i >= len(cells) {
		return
	}
	serial, err := strconv.ParseFloat(cells[i], 64)
	if err != nil || serial <= 0 || serial > maxExcelSerial {
		return
	}
	t, err := excelize.ExcelDateToTime(serial, x.date1904)
	if err != nil {
		return
	}
	cells[i] = t.Format(time.DateOnly)
}

func (x *XLSXReader) Close() error {
	if x.rows != nil {
		x.rows.Close()
	}
	return x.file.Close()
}
