package codec

// streaming.go prepares raw delimited text for encoding/csv:
//
//   - a leading UTF-8 or UTF-16 BOM is consumed (UTF-16 input is transcoded)
//   - invalid UTF-8 sequences become U+FFFD
//   - bytes consumed are counted and reported as Table.BytesRead
//
// Use WrapForDecoding to apply all of them in order.

import (
	"io"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// CountingReader tracks bytes read from the underlying reader.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
}

// NewCountingReader wraps r.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// NewSanitizingReader strips a BOM and replaces invalid UTF-8 with U+FFFD.
func NewSanitizingReader(r io.Reader) io.Reader {
	return transform.NewReader(r, transform.Chain(
		unicode.BOMOverride(unicode.UTF8.NewDecoder()),
		runes.ReplaceIllFormed(),
	))
}

// WrapForDecoding counts raw bytes and sanitizes the stream.
// The counter sits below the transform so progress reflects file bytes.
func WrapForDecoding(r io.Reader) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r)
	return NewSanitizingReader(counter), counter
}
