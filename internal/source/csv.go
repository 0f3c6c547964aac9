// Package source reads client data files and produces raw rows for the
// processing pipeline.
//
// A Source is a finite, single-pass sequence of rows keyed by column header.
// CSV is the bundled format; other formats plug in behind the same
// interface.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// Row is one raw data row: column header -> cell value.
type Row map[string]string

// Source produces a file's rows in order. Next returns io.EOF after the last
// row. Restarting requires re-opening the source.
type Source interface {
	Headers() []string
	Next() (Row, error)
	Close() error
}

// Opener opens a stored file as a row source.
type Opener func(path string) (Source, error)

// ErrEmptyFile is returned when a file holds no data rows.
var ErrEmptyFile = errors.New("file has no data rows")

// MaxHeaderSearchRows is how many leading rows are scanned for the header.
var MaxHeaderSearchRows = 20

// NewCSVOpener returns an Opener for CSV files, rejecting files larger than
// maxSize bytes.
func NewCSVOpener(maxSize int64) Opener {
	return func(path string) (Source, error) {
		return OpenCSV(path, maxSize)
	}
}

// CSVSource iterates the data rows of a parsed CSV file.
type CSVSource struct {
	headers []string
	rows    [][]string
	pos     int
}

// OpenCSV reads and parses a CSV file. The whole file is parsed up front;
// iteration never fails after a successful open.
func OpenCSV(path string, maxSize int64) (*CSVSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("file size %d exceeds limit %d", info.Size(), maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return ParseCSV(data)
}

// ParseCSV builds a source from raw CSV bytes. It sanitizes invalid UTF-8,
// strips a BOM, locates the header row within the first rows, and skips
// blank rows.
func ParseCSV(data []byte) (*CSVSource, error) {
	data = sanitizeUTF8(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	headerIdx := findHeaderRow(records)
	if headerIdx < 0 {
		return nil, ErrEmptyFile
	}

	headers := cleanHeaders(records[headerIdx])

	var rows [][]string
	for _, rec := range records[headerIdx+1:] {
		if isEmptyRow(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	return &CSVSource{headers: headers, rows: rows}, nil
}

// Headers returns the cleaned column names in file order.
func (s *CSVSource) Headers() []string {
	return s.headers
}

// Next returns the next data row, or io.EOF when exhausted.
func (s *CSVSource) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	rec := s.rows[s.pos]
	s.pos++

	row := make(Row, len(s.headers))
	for i, name := range s.headers {
		if name == "" || i >= len(rec) {
			continue
		}
		if _, dup := row[name]; dup {
			continue // first occurrence of a duplicated header wins
		}
		row[name] = rec[i]
	}
	return row, nil
}

// Close is a no-op; the file handle is released at open time.
func (s *CSVSource) Close() error { return nil }

// findHeaderRow returns the index of the first row within the search window
// that has at least one non-empty cell.
func findHeaderRow(records [][]string) int {
	limit := MaxHeaderSearchRows
	if len(records) < limit {
		limit = len(records)
	}
	for i := 0; i < limit; i++ {
		if !isEmptyRow(records[i]) {
			return i
		}
	}
	return -1
}

// cleanHeaders trims surrounding whitespace and collapses runs of inner
// whitespace; header names are otherwise preserved as written.
func cleanHeaders(rec []string) []string {
	out := make([]string, len(rec))
	for i, h := range rec {
		out[i] = strings.Join(strings.Fields(h), " ")
	}
	return out
}

func isEmptyRow(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with the replacement rune so
// downstream string handling never sees broken encoding.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
