package decoder

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// cellAttr is what a worksheet says about a cell besides its value.
type cellAttr struct {
	style int
	typ   string // the t attribute: "", n, s, str, inlineStr, b, e, d
}

// sheetAttrs streams the s and t attributes of every cell of one worksheet
// part, row by row. excelize's row iterator yields values only, and asking it
// for a cell's type or style unmarshals the whole sheet.
type sheetAttrs struct {
	rc      io.ReadCloser
	dec     *xml.Decoder
	pending int // row number of cells; math.MaxInt once the sheet is exhausted
	cells   []cellAttr
}

// openSheetAttrs locates the part of the named sheet inside the OOXML package.
func openSheetAttrs(data []byte, sheet string) (*sheetAttrs, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	part, err := sheetPart(zr, sheet)
	if err != nil {
		return nil, err
	}
	rc, err := zr.Open(part)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", part, err)
	}
	return &sheetAttrs{rc: rc, dec: xml.NewDecoder(rc)}, nil
}

// row returns the attributes of row line indexed by column (0-based), or nil
// when the sheet holds no cells for it. Lines must be asked for in order.
func (s *sheetAttrs) row(line int) ([]cellAttr, error) {
	for s.pending < line {
		if err := s.advance(); err != nil {
			return nil, err
		}
	}
	if s.pending != line {
		return nil, nil
	}
	return s.cells, nil
}

// advance reads the next row element.
func (s *sheetAttrs) advance() error {
	prev := s.pending
	s.cells = s.cells[:0]
	for {
		tok, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			s.pending = math.MaxInt
			return nil
		}
		if err != nil {
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "row" {
			continue
		}
		s.pending = prev + 1
		if n, err := strconv.Atoi(attr(start.Attr, "r")); err == nil && n > 0 {
			s.pending = n
		}
		return s.readCells()
	}
}

func (s *sheetAttrs) readCells() error {
	col := 0
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local != "c" {
				if err := s.dec.Skip(); err != nil {
					return err
				}
				continue
			}
			col++
			if ref := attr(el.Attr, "r"); ref != "" {
				c, _, err := excelize.CellNameToCoordinates(ref)
				if err != nil {
					return err
				}
				col = c
			}
			a := cellAttr{typ: attr(el.Attr, "t")}
			if v := attr(el.Attr, "s"); v != "" {
				if a.style, err = strconv.Atoi(v); err != nil {
					return fmt.Errorf("cell style %q: %w", v, err)
				}
			}
			for len(s.cells) < col-1 {
				s.cells = append(s.cells, cellAttr{})
			}
			s.cells = append(s.cells, a)
			if err := s.dec.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			if el.Name.Local == "row" {
				return nil
			}
		}
	}
}

func (s *sheetAttrs) Close() error { return s.rc.Close() }

func attr(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

type xmlRels struct {
	Rels []struct {
		ID     string `xml:"Id,attr"`
		Type   string `xml:"Type,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type xmlWorkbookSheets struct {
	Sheets []struct {
		Name  string     `xml:"name,attr"`
		Attrs []xml.Attr `xml:",any,attr"`
	} `xml:"sheets>sheet"`
}

// sheetPart resolves a sheet name to its zip entry through the package and
// workbook relationships.
func sheetPart(zr *zip.Reader, sheet string) (string, error) {
	var root xmlRels
	if err := decodeZipXML(zr, "_rels/.rels", &root); err != nil {
		return "", err
	}
	wbPath := "xl/workbook.xml"
	for _, r := range root.Rels {
		if strings.HasSuffix(r.Type, "/officeDocument") {
			wbPath = partPath("", r.Target)
		}
	}

	var wb xmlWorkbookSheets
	if err := decodeZipXML(zr, wbPath, &wb); err != nil {
		return "", err
	}
	rid := ""
	for _, sh := range wb.Sheets {
		if sh.Name == sheet {
			rid = attr(sh.Attrs, "id")
			break
		}
	}
	if rid == "" {
		return "", fmt.Errorf("sheet %q not found in %s", sheet, wbPath)
	}

	var rels xmlRels
	dir, file := path.Split(wbPath)
	if err := decodeZipXML(zr, dir+"_rels/"+file+".rels", &rels); err != nil {
		return "", err
	}
	for _, r := range rels.Rels {
		if r.ID == rid {
			return partPath(dir, r.Target), nil
		}
	}
	return "", fmt.Errorf("sheet %q: relationship %s not found", sheet, rid)
}

// partPath resolves a relationship target against the directory of its source.
func partPath(dir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join(dir, target)
}

func decodeZipXML(zr *zip.Reader, name string, v any) error {
	f, err := zr.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	if err := xml.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
