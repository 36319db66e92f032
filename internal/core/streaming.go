package core

// streaming.go provides the reader stack used while parsing source files:
//
//   - CountingReader: tracks raw bytes read for progress reporting
//   - NewLatin1Reader: decodes ISO-8859-1 into UTF-8 on the fly
//
// Files are never loaded into memory; parsing keeps O(line) memory and the
// loader keeps O(batch_size).

import (
	"io"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// NewLatin1Reader wraps r so that ISO-8859-1 input is read as UTF-8.
// Every byte maps to exactly one rune, so decoding never fails.
func NewLatin1Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
}

// CountingReader wraps an io.Reader to track bytes read.
// Used for progress reporting during long file loads.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // If known (0 if unknown)
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{
		reader: r,
		Total:  total,
	}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}
