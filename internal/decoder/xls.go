package decoder

import (
	"bytes"
	"io"
	"math"
	"strings"

	"github.com/extrame/xls"

	"tabimport/internal/errs"
)

// xlsReader reads the first sheet of a legacy BIFF workbook. The BIFF reader
// only exposes formatted text, so every cell is a string here; inference then
// works on that text exactly as it does for CSV.
type xlsReader struct {
	sheet *xls.WorkSheet
	cols  []Column
	next  int
	max   int
}

func newXLSReader(data []byte, opt Options) (r *xlsReader, err error) {
	// The BIFF parser panics on some truncated files.
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, errs.Ef(errs.KindDecode, "decoder.xls", "corrupt workbook: %v", p)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, errs.E(errs.KindDecode, "decoder.xls", err)
	}
	if wb == nil {
		return nil, errs.Ef(errs.KindDecode, "decoder.xls", "no Workbook stream")
	}
	if wb.NumSheets() == 0 {
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.xls", "workbook has no sheets")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.xls", "workbook has no sheets")
	}
	r = &xlsReader{sheet: sheet, max: int(sheet.MaxRow)}

	hdrRow := sheetRow(sheet, 0)
	if hdrRow == nil {
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.xls", "no header row")
	}
	// ROW records are optional, so LastCol cannot bound the header.
	hdr := make([]string, biffMaxCols)
	for i := range hdr {
		hdr[i] = hdrRow.Col(i)
	}
	// Trailing blank header cells are formatting leftovers, not columns.
	for len(hdr) > 0 && strings.TrimSpace(hdr[len(hdr)-1]) == "" {
		hdr = hdr[:len(hdr)-1]
	}
	if len(hdr) == 0 {
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.xls", "no header row")
	}
	r.cols = BuildColumns(hdr, opt.Rename)
	r.next = 1
	return r, nil
}

func (r *xlsReader) Columns() []Column { return r.cols }
func (r *xlsReader) Issues() int       { return 0 }

func (r *xlsReader) Progress() float64 {
	if r.max <= 0 {
		return 0
	}
	return math.Min(1, float64(r.next)/float64(r.max+1))
}

func (r *xlsReader) Read() (row *Row, err error) {
	defer func() {
		if p := recover(); p != nil {
			row, err = nil, errs.Ef(errs.KindDecode, "decoder.xls", "row %d: %v", r.next, p)
		}
	}()
	for r.next <= r.max {
		src := sheetRow(r.sheet, r.next)
		r.next++
		if src == nil {
			continue
		}
		row = GetRow(len(r.cols))
		row.Line = r.next
		empty := true
		for i := range r.cols {
			if v := strings.TrimSpace(src.Col(i)); v != "" {
				row.V[i] = v
				empty = false
			}
		}
		if empty {
			row.Free()
			continue
		}
		return row, nil
	}
	return nil, io.EOF
}

func (r *xlsReader) Close() error { return nil }

// biffMaxCols is the BIFF8 column limit (A..IV).
const biffMaxCols = 256

// sheetRow returns nil for rows the sheet holds no records for. The BIFF
// reader dereferences a nil row in that case.
func sheetRow(s *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return s.Row(i)
}
