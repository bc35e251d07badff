package decoder

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/text/transform"

	"tabimport/internal/errs"
)

const sniffWindow = 64 << 10

// countingReader tracks raw bytes pulled from the source for Progress.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

type csvReader struct {
	src    *countingReader
	size   int64
	cr     *csv.Reader
	cols   []Column
	rows   int
	issues int
	onIss  func(line int, err error)
	closer io.Closer
}

func newCSVReader(src io.Reader, size int64, opt Options) (*csvReader, error) {
	cnt := &countingReader{r: src}
	br := bufio.NewReaderSize(cnt, sniffWindow)

	prefix, err := br.Peek(sniffWindow)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, errs.E(errs.KindDecode, "decoder.csv", err)
	}
	if len(bytes.TrimSpace(bytes.TrimPrefix(prefix, bomUTF8))) == 0 {
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.csv", "file is empty")
	}

	enc, err := pickEncoding(opt.Charset, prefix)
	if err != nil {
		return nil, errs.E(errs.KindDecode, "decoder.csv", err)
	}
	var text io.Reader = br
	if enc != nil {
		text = transform.NewReader(br, enc.NewDecoder())
	}

	comma := opt.Delimiter
	if comma == 0 {
		comma = sniffDelimiter(prefix)
	}

	cr := csv.NewReader(text)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opt.LazyQuotes
	cr.ReuseRecord = true

	r := &csvReader{src: cnt, size: size, cr: cr, onIss: opt.OnIssue}
	if c, ok := src.(io.Closer); ok {
		r.closer = c
	}

	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errs.Ef(errs.KindEmptyDataset, "decoder.csv", "no header row")
	}
	if err != nil {
		return nil, errs.E(errs.KindDecode, "decoder.csv", fmt.Errorf("read header: %w", err))
	}
	r.cols = BuildColumns(hdr, opt.Rename)
	return r, nil
}

func (r *csvReader) Columns() []Column { return r.cols }
func (r *csvReader) Issues() int       { return r.issues }

func (r *csvReader) Progress() float64 {
	if r.size <= 0 {
		return 0
	}
	p := float64(r.src.n.Load()) / float64(r.size)
	if p > 1 {
		return 1
	}
	return p
}

// Read returns the next data row. Malformed records are reported through
// OnIssue and skipped; if every record after the header is malformed the
// reader ends with a DecodeError instead of io.EOF.
func (r *csvReader) Read() (*Row, error) {
	for {
		rec, err := r.cr.Read()
		if errors.Is(err, io.EOF) {
			if r.rows == 0 && r.issues > 0 {
				return nil, errs.Ef(errs.KindDecode, "decoder.csv", "all %d records are malformed", r.issues)
			}
			return nil, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				r.issues++
				if r.onIss != nil {
					r.onIss(pe.StartLine, err)
				}
				continue
			}
			return nil, errs.E(errs.KindDecode, "decoder.csv", err)
		}

		row := GetRow(len(r.cols))
		row.Line, _ = r.cr.FieldPos(0)
		for i := range r.cols {
			if i >= len(rec) {
				break
			}
			v := strings.TrimSpace(rec[i])
			if v != "" {
				row.V[i] = v
			}
		}
		r.rows++
		return row, nil
	}
}

func (r *csvReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
