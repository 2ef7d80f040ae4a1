package core

// streaming.go wraps data files for CSV reading without loading them whole:
//
//   - NewDecodingReader: decodes the file's encoding to UTF-8. UTF-8 input
//     has its BOM removed and invalid sequences replaced with U+FFFD.
//   - CountingReader: tracks bytes read, reported as Table.Bytes.

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Supported source encodings.
const (
	EncodingUTF8        = "utf-8"
	EncodingLatin1      = "latin-1"
	EncodingWindows1252 = "windows-1252"
)

// NormalizeEncoding maps common spellings to a supported encoding name.
// Unknown names are returned lowercased.
func NormalizeEncoding(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "utf8", "utf-8", "utf-8-sig":
		return EncodingUTF8
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return EncodingLatin1
	case "cp1252", "windows-1252", "windows1252":
		return EncodingWindows1252
	default:
		return n
	}
}

// NewDecodingReader returns a reader producing valid UTF-8 from r.
func NewDecodingReader(r io.Reader, encoding string) (io.Reader, error) {
	switch NormalizeEncoding(encoding) {
	case EncodingUTF8:
		return transform.NewReader(r, transform.Chain(
			unicode.UTF8BOM.NewDecoder(),
			runes.ReplaceIllFormed(),
		)), nil
	case EncodingLatin1:
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case EncodingWindows1252:
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// NewCountingReader creates a counting reader.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}
