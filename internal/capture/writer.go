package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// flushWriter is the compression stage between the CBOR encoder and the file
type flushWriter interface {
	io.WriteCloser
	Flush() error
}

// bufferedWriter adapts bufio.Writer for uncompressed captures
type bufferedWriter struct {
	*bufio.Writer
}

func (b bufferedWriter) Close() error {
	return b.Flush()
}

// Writer appends records to a capture log. It is safe for concurrent use.
type Writer struct {
	mu          sync.Mutex
	file        io.Closer
	stage       flushWriter
	enc         *cbor.Encoder
	compression Compression
	records     uint64
	closed      bool
}

// Create makes a new capture file in dir named after stamp
func Create(dir, stamp string, c Compression) (*Writer, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create capture directory: %w", err)
	}

	path := filepath.Join(dir, FileName(stamp))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("create capture file: %w", err)
	}

	w, err := NewWriter(file, c)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, "", err
	}
	w.file = file

	return w, path, nil
}

// NewWriter writes the capture header to w and returns a Writer over it.
// Close flushes the compressor but does not close w.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	if _, err := w.Write(encodeHeader(c)); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}

	var stage flushWriter
	switch c {
	case CompressionNone:
		stage = bufferedWriter{bufio.NewWriter(w)}
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		stage = enc
	case CompressionLZ4:
		stage = lz4.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}

	return &Writer{
		stage:       stage,
		enc:         encMode.NewEncoder(stage),
		compression: c,
	}, nil
}

// Write appends one record
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode capture record: %w", err)
	}
	w.records++
	return nil
}

// Flush pushes buffered records through the compressor to the file
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	return w.stage.Flush()
}

// Records returns the number of records written
func (w *Writer) Records() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.records
}

// Compression returns the stream compression
func (w *Writer) Compression() Compression {
	return w.compression
}

// Close finishes the compressed stream and closes the file when the Writer
// owns it. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.stage.Close()
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
