package core

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DelimiterAuto sniffs the delimiter from the header line.
const DelimiterAuto = "auto"

// sniffPeek bounds how much of the file is inspected to find the header line.
const sniffPeek = 64 * 1024

// CSVOptions controls how a data file is read.
type CSVOptions struct {
	Delimiter string // ",", ";", "\t", "tab" or "auto" (default)
	Encoding  string // see NormalizeEncoding; default utf-8
}

// Table is a parsed data file.
type Table struct {
	Path      string
	Header    []string
	Index     HeaderIndex
	Rows      []Row
	Delimiter rune
	Bytes     int64
}

// Column reports whether the file has any of names as a column.
func (t *Table) Column(names ...string) bool {
	_, ok := t.Index.Lookup(names...)
	return ok
}

// ReadCSV reads the file at path. A missing file yields ErrMissingFile.
func ReadCSV(path string, opts CSVOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	counter := NewCountingReader(f)

	t, err := ParseCSV(counter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Path = path
	t.Bytes = counter.BytesRead
	return t, nil
}

// ParseCSV reads a header line and data rows from r. Header names are
// cleaned and lowercased, fully empty rows are dropped, and every row
// carries its 1-based line number in the source.
func ParseCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	decoded, err := NewDecodingReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(decoded, sniffPeek)

	delim, err := resolveDelimiter(br, opts.Delimiter)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(CleanCell(h))
	}

	t := &Table{Header: header, Index: MakeHeaderIndex(header), Delimiter: delim}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		line, _ := cr.FieldPos(0)
		t.Rows = append(t.Rows, Row{Line: line, Cells: rec, Header: t.Index})
	}
	return t, nil
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if CleanCell(c) != "" {
			return false
		}
	}
	return true
}

func resolveDelimiter(br *bufio.Reader, name string) (rune, error) {
	switch strings.ToLower(name) {
	case ",":
		return ',', nil
	case ";":
		return ';', nil
	case "\t", "tab", `\t`:
		return '\t', nil
	case "|":
		return '|', nil
	case "", DelimiterAuto:
		peek, _ := br.Peek(sniffPeek)
		return SniffDelimiter(peek), nil
	default:
		return 0, fmt.Errorf("unsupported delimiter %q", name)
	}
}

// SniffDelimiter picks the most frequent of ';', ',' and tab in the first
// line of data, preferring ',' on a tie or when none occurs.
func SniffDelimiter(data []byte) rune {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[:i]
	}
	best, bestCount := ',', bytes.Count(data, []byte{','})
	for _, c := range []rune{';', '\t'} {
		if n := bytes.Count(data, []byte{byte(c)}); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}
