// Package decoder turns uploaded CSV, XLS and XLSX bytes into a header plus a
// stream of pooled positional rows.
//
// Every reader follows the same shape contract:
//   - the first record is the header (see BuildColumns for naming rules);
//   - rows shorter than the header are padded with nil, longer rows are
//     truncated;
//   - empty cells are nil, never "".
//
// CSV cells are strings. Spreadsheet cells keep their native type: float64 or
// int64 for numbers, bool, time.Time for date-formatted numbers, string.
package decoder

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"tabimport/internal/errs"
)

// BatchSize is the number of rows handed to the statistics stage per batch.
const BatchSize = 1000

// Kind is a supported file format.
type Kind string

const (
	KindCSV  Kind = "csv"
	KindXLS  Kind = "xls"
	KindXLSX Kind = "xlsx"
)

// KindFromFilename resolves the format from the file extension.
func KindFromFilename(name string) (Kind, error) {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(name))) {
	case ".csv":
		return KindCSV, nil
	case ".xls":
		return KindXLS, nil
	case ".xlsx":
		return KindXLSX, nil
	}
	return "", errs.Ef(errs.KindUnsupportedFormat, "decoder", "unsupported file type %q (accepted: .csv, .xls, .xlsx)", filepath.Ext(name))
}

// Options tunes decoding. The zero value is usable.
type Options struct {
	// Delimiter forces the CSV separator. 0 sniffs among , ; TAB |.
	Delimiter rune
	// Charset forces the CSV text encoding: "utf-8", "utf-16",
	// "windows-1252", "iso-8859-1". Empty or "auto" detects.
	Charset string
	// LazyQuotes relaxes CSV quote handling.
	LazyQuotes bool
	// Rename maps original header names to suggested names before
	// disambiguation.
	Rename map[string]string
	// OnIssue receives recoverable row-level problems (malformed CSV records).
	OnIssue func(line int, err error)
}

// Reader yields the rows of one decoded file.
type Reader interface {
	// Columns is the disambiguated header, index-aligned with Row.V.
	Columns() []Column
	// Read returns the next row or io.EOF. The caller owns the row.
	Read() (*Row, error)
	// Progress is the decoded fraction of the input in [0, 1].
	Progress() float64
	// Issues counts records that were skipped as malformed.
	Issues() int
	Close() error
}

// NewReader opens a reader for kind over src. size is the input length in
// bytes (or <= 0 when unknown) and only feeds Progress for CSV.
//
// Errors: UnsupportedFormat for an unknown kind, EmptyDataset when there is no
// header, DecodeError when the container cannot be parsed.
func NewReader(kind Kind, src io.Reader, size int64, opt Options) (Reader, error) {
	switch kind {
	case KindCSV:
		return newCSVReader(src, size, opt)
	case KindXLSX, KindXLS:
		return newSpreadsheetReader(kind, src, opt)
	}
	return nil, errs.Ef(errs.KindUnsupportedFormat, "decoder", "unsupported kind %q", kind)
}

// ReadBatch reads up to n rows into dst[:0]. It returns io.EOF only when no row
// was read. ctx is checked between rows.
func ReadBatch(ctx context.Context, r Reader, n int, dst []*Row) ([]*Row, error) {
	if n <= 0 {
		n = BatchSize
	}
	dst = dst[:0]
	for len(dst) < n {
		if err := ctx.Err(); err != nil {
			for _, row := range dst {
				row.Drop()
			}
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			if len(dst) == 0 {
				return nil, io.EOF
			}
			return dst, nil
		}
		if err != nil {
			for _, row := range dst {
				row.Drop()
			}
			return nil, err
		}
		dst = append(dst, row)
	}
	return dst, nil
}

// Batch is a run of decoded rows plus the reader's progress right after the
// last of them was read.
type Batch struct {
	Rows     []*Row
	Progress float64
}

// StreamBatches pushes batches of n rows to out until the reader is drained.
// It does not close out. Progress is sampled on the producing goroutine, so
// consumers never touch the reader. On cancellation in-flight rows are
// dropped, not re-pooled.
func StreamBatches(ctx context.Context, r Reader, n int, out chan<- Batch) error {
	for {
		rows, err := ReadBatch(ctx, r, n, make([]*Row, 0, n))
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- Batch{Rows: rows, Progress: r.Progress()}:
		case <-ctx.Done():
			for _, row := range rows {
				row.Drop()
			}
			return ctx.Err()
		}
	}
}
