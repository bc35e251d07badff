package decoder

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"tabimport/internal/errs"
)

var (
	magicZIP = []byte{'P', 'K', 0x03, 0x04}
	magicOLE = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// newSpreadsheetReader sniffs the container and dispatches: OOXML (zip) goes
// to excelize whatever the extension says, OLE2 compound files go to the BIFF
// reader. Anything else is a DecodeError.
func newSpreadsheetReader(kind Kind, src io.Reader, opt Options) (Reader, error) {
	data, err := io.ReadAll(src)
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
	if err != nil {
		return nil, errs.E(errs.KindDecode, "decoder."+string(kind), err)
	}
	if len(data) == 0 {
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder."+string(kind), "file is empty")
	}
	switch {
	case bytes.HasPrefix(data, magicZIP):
		return newXLSXReader(data, opt)
	case bytes.HasPrefix(data, magicOLE):
		return newXLSReader(data, opt)
	}
	return nil, errs.Ef(errs.KindDecode, "decoder."+string(kind), "not a spreadsheet workbook")
}

// xlsxReader walks the first worksheet with excelize's row iterator and keeps
// native cell types. Cell types and styles come from a second stream over the
// same sheet part, so the worksheet is never unmarshalled in full.
type xlsxReader struct {
	f        *excelize.File
	sheet    string
	rows     *excelize.Rows
	attrs    *sheetAttrs
	cols     []Column
	line     int
	total    int
	date1904 bool
	dateFmt  map[int]bool // style id -> is a date format
}

func newXLSXReader(data []byte, opt Options) (*xlsxReader, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errs.E(errs.KindDecode, "decoder.xlsx", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.xlsx", "workbook has no sheets")
	}
	r := &xlsxReader{f: f, sheet: sheets[0], dateFmt: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		r.date1904 = *props.Date1904
	}

	// Counting pass for Progress; excelize streams the sheet XML so this does
	// not materialize cell values.
	counter, err := f.Rows(r.sheet)
	if err != nil {
		_ = f.Close()
		return nil, errs.E(errs.KindDecode, "decoder.xlsx", err)
	}
	for counter.Next() {
		r.total++
	}
	_ = counter.Close()

	r.rows, err = f.Rows(r.sheet)
	if err != nil {
		_ = f.Close()
		return nil, errs.E(errs.KindDecode, "decoder.xlsx", err)
	}
	r.attrs, err = openSheetAttrs(data, r.sheet)
	if err != nil {
		_ = r.Close()
		return nil, errs.E(errs.KindDecode, "decoder.xlsx", err)
	}
	if !r.rows.Next() {
		_ = r.Close()
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.xlsx", "sheet %q has no header row", r.sheet)
	}
	r.line = 1
	hdr, err := r.rows.Columns()
	if err != nil {
		_ = r.Close()
		return nil, errs.E(errs.KindDecode, "decoder.xlsx", fmt.Errorf("read header: %w", err))
	}
	r.cols = BuildColumns(hdr, opt.Rename)
	return r, nil
}

func (r *xlsxReader) Columns() []Column { return r.cols }
func (r *xlsxReader) Issues() int       { return 0 }

func (r *xlsxReader) Progress() float64 {
	if r.total <= 1 {
		return 0
	}
	return math.Min(1, float64(r.line)/float64(r.total))
}

func (r *xlsxReader) Read() (*Row, error) {
	for r.rows.Next() {
		r.line++
		raw, err := r.rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, errs.E(errs.KindDecode, "decoder.xlsx", fmt.Errorf("row %d: %w", r.line, err))
		}
		if blankRow(raw) {
			continue
		}
		attrs, err := r.attrs.row(r.line)
		if err != nil {
			return nil, errs.E(errs.KindDecode, "decoder.xlsx", fmt.Errorf("row %d: %w", r.line, err))
		}
		row := GetRow(len(r.cols))
		row.Line = r.line
		for i := range r.cols {
			if i >= len(raw) || raw[i] == "" {
				continue
			}
			var a cellAttr
			if i < len(attrs) {
				a = attrs[i]
			}
			v, err := r.cellValue(raw[i], a)
			if err != nil {
				row.Drop()
				return nil, errs.E(errs.KindDecode, "decoder.xlsx", err)
			}
			row.V[i] = v
		}
		return row, nil
	}
	if err := r.rows.Error(); err != nil {
		return nil, errs.E(errs.KindDecode, "decoder.xlsx", err)
	}
	return nil, io.EOF
}

// blankRow reports rows whose cells are all empty, such as rows that only
// carry formatting.
func blankRow(raw []string) bool {
	for _, v := range raw {
		if v != "" {
			return false
		}
	}
	return true
}

// cellValue converts a raw cell string to its native Go value.
func (r *xlsxReader) cellValue(raw string, a cellAttr) (any, error) {
	switch a.typ {
	case "b":
		return raw == "1" || strings.EqualFold(raw, "true"), nil
	case "s", "inlineStr", "str", "e":
		return raw, nil
	case "d":
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
			return t, nil
		}
		return raw, nil
	}

	num, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw, nil
	}
	isDate, err := r.isDateStyle(a.style)
	if err != nil {
		return nil, err
	}
	if isDate {
		t, err := excelize.ExcelDateToTime(num, r.date1904)
		if err == nil {
			return t, nil
		}
	}
	if num == math.Trunc(num) && math.Abs(num) < 1<<53 {
		return int64(num), nil
	}
	return num, nil
}

func (r *xlsxReader) isDateStyle(styleID int) (bool, error) {
	if v, ok := r.dateFmt[styleID]; ok {
		return v, nil
	}
	isDate := false
	if styleID != 0 {
		st, err := r.f.GetStyle(styleID)
		if err != nil {
			return false, err
		}
		isDate = isDateNumFmt(st.NumFmt)
		if st.CustomNumFmt != nil {
			isDate = isDateFormatCode(*st.CustomNumFmt)
		}
	}
	r.dateFmt[styleID] = isDate
	return isDate, nil
}

func (r *xlsxReader) Close() error {
	if r.rows != nil {
		_ = r.rows.Close()
	}
	if r.attrs != nil {
		_ = r.attrs.Close()
	}
	return r.f.Close()
}

// isDateNumFmt reports built-in number formats that render dates or times.
func isDateNumFmt(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode inspects a custom format code ignoring quoted literals,
// escaped characters and bracketed sections ([Red], [$-409]).
func isDateFormatCode(code string) bool {
	var b strings.Builder
	inQuote, inBracket := false, false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '[':
			inBracket = true
		case c == ']':
			inBracket = false
		case inBracket:
		case c == '\\' || c == '_' || c == '*':
			i++
		default:
			b.WriteByte(c)
		}
	}
	s := strings.ToLower(b.String())
	if strings.Contains(s, "general") {
		return false
	}
	return strings.ContainsAny(s, "ydhs")
}
