package persist

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	writers = sync.Pool{New: func() any { return lz4.NewWriter(nil) }}
	readers = sync.Pool{New: func() any { return lz4.NewReader(nil) }}
)

// Compress wraps an encoded snapshot in an LZ4 frame. Ledgers repeat their day
// and epoch fields on every record and shrink well.
func Compress(raw []byte) ([]byte, error) {
	w := writers.Get().(*lz4.Writer)
	defer writers.Put(w)

	var out bytes.Buffer
	out.Grow(len(raw) / 2)
	w.Reset(&out)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Level4), lz4.ChecksumOption(true)); err != nil {
		return nil, fmt.Errorf("persist: lz4 options: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("persist: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("persist: compress: %w", err)
	}
	return out.Bytes(), nil
}

// Decompress reverses Compress. A damaged frame reports ErrCorrupt.
func Decompress(frame []byte) ([]byte, error) {
	r := readers.Get().(*lz4.Reader)
	defer readers.Put(r)

	r.Reset(bytes.NewReader(frame))
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, fmt.Errorf("%w: lz4 frame: %v", ErrCorrupt, err)
	}
	return out.Bytes(), nil
}
