package core

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestDecodingReader(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		input    []byte
		expected string
	}{
		{
			name:     "utf-8 with BOM",
			encoding: "utf-8",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("code;name")...),
			expected: "code;name",
		},
		{
			name:     "utf-8 without BOM",
			encoding: "",
			input:    []byte("code;name"),
			expected: "code;name",
		},
		{
			name:     "only BOM",
			encoding: "utf-8-sig",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "invalid byte replaced",
			encoding: "utf8",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			expected: "he�lo",
		},
		{
			name:     "multibyte preserved",
			encoding: "utf-8",
			input:    []byte("Löten,Stück"),
			expected: "Löten,Stück",
		},
		{
			name:     "latin-1",
			encoding: "latin1",
			input:    []byte{'L', 0xF6, 't', 'e', 'n'},
			expected: "Löten",
		},
		{
			name:     "windows-1252 euro sign",
			encoding: "cp1252",
			input:    []byte{'1', '2', ',', '5', '0', ' ', 0x80},
			expected: "12,50 €",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewDecodingReader(bytes.NewReader(tt.input), tt.encoding)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			result, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}

func TestDecodingReader_UnsupportedEncoding(t *testing.T) {
	_, err := NewDecodingReader(strings.NewReader("x"), "ebcdic")
	if err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
	if !strings.Contains(err.Error(), "unsupported encoding") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNormalizeEncoding(t *testing.T) {
	tests := map[string]string{
		"":             EncodingUTF8,
		"UTF-8":        EncodingUTF8,
		"ISO-8859-1":   EncodingLatin1,
		"Windows-1252": EncodingWindows1252,
		"koi8-r":       "koi8-r",
	}
	for in, want := range tests {
		if got := NormalizeEncoding(in); got != want {
			t.Errorf("NormalizeEncoding(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCountingReader(t *testing.T) {
	data := strings.Repeat("a", 1000)
	r := NewCountingReader(strings.NewReader(data))

	buf := make([]byte, 250)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.BytesRead != 250 {
		t.Errorf("BytesRead = %d, want 250", r.BytesRead)
	}

	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.BytesRead != 1000 {
		t.Errorf("BytesRead = %d, want 1000", r.BytesRead)
	}
}
