package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Reader iterates the records of a capture log in write order
type Reader struct {
	file        io.Closer
	zstd        *zstd.Decoder
	dec         *cbor.Decoder
	compression Compression
}

// Open opens a capture file for reading
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}

	r, err := NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.file = file
	return r, nil
}

// NewReader validates the capture header on r and returns a Reader over it
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrBadMagic
		}
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	c, err := decodeHeader(header)
	if err != nil {
		return nil, err
	}

	reader := &Reader{compression: c}

	var stream io.Reader
	switch c {
	case CompressionNone:
		stream = bufio.NewReader(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		reader.zstd = dec
		stream = dec
	case CompressionLZ4:
		stream = lz4.NewReader(r)
	}

	reader.dec = decMode.NewDecoder(stream)
	return reader, nil
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("decode capture record: %w", err)
	}
	return rec, nil
}

// Compression returns the stream compression recorded in the header
func (r *Reader) Compression() Compression {
	return r.compression
}

// Close releases the decompressor and the file when the Reader owns it
func (r *Reader) Close() error {
	if r.zstd != nil {
		r.zstd.Close()
		r.zstd = nil
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
