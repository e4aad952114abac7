package ingest

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
)

// RowSource yields one file's records as string slices. Next returns io.EOF
// after the last record.
type RowSource interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// OpenSource picks a reader implementation by file extension. Anything that
// is not an Excel workbook is treated as delimited text.
func OpenSource(path string) (RowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return openXLSXSource(path)
	default:
		return openCSVSource(path)
	}
}

type csvSource struct {
	header []string
	reader *csv.Reader
}

// openCSVSource reads the file as UTF-8, falling back to Latin-1 when the
// content is not valid UTF-8. Older published files are Latin-1 encoded.
func openCSVSource(path string) (*csvSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}

	if !utf8.Valid(data) {
		data, err = charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: decode %s as latin-1", path)
		}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Errorf("ingest: %s is empty", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read header of %s", path)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return &csvSource{header: header, reader: reader}, nil
}

func (s *csvSource) Header() []string { return s.header }

func (s *csvSource) Next() ([]string, error) {
	record, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *csvSource) Close() error { return nil }

type xlsxSource struct {
	header []string
	rows   [][]string
	pos    int
}

func openXLSXSource(path string) (*xlsxSource, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open workbook %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("ingest: %s is empty", path)
	}

	toStrings := func(row *xlsx.Row) []string {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		return cells
	}

	header := toStrings(sheet.Rows[0])
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, toStrings(row))
	}

	return &xlsxSource{header: header, rows: rows}, nil
}

func (s *xlsxSource) Header() []string { return s.header }

func (s *xlsxSource) Next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *xlsxSource) Close() error { return nil }
