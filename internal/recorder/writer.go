package recorder

import (
	"io"
	"os"
	"sync"
)

// FileWriter is a sequential append-only sink over one open file.
// Writes go straight to the file descriptor with no user-space buffering.
type FileWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	written int64
}

// CreateFileWriter creates path exclusively and opens it for appending
func CreateFileWriter(path string) (*FileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return NewFileWriter(file), nil
}

// NewFileWriter wraps an already-open file
func NewFileWriter(file *os.File) *FileWriter {
	return &FileWriter{file: file, path: file.Name()}
}

// Write appends p to the file
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, ErrWriterClosed
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Rewrite replaces the whole file content with p and syncs it
func (w *FileWriter) Rewrite(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrWriterClosed
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Write(p)
	w.written = int64(n)
	if err != nil {
		return err
	}
	return w.file.Sync()
}

// Close syncs and closes the file. It is safe to call more than once and on a
// nil or never-opened writer.
func (w *FileWriter) Close() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	file := w.file
	w.file = nil

	syncErr := file.Sync()
	if err := file.Close(); err != nil {
		return err
	}
	return syncErr
}

// Path returns the file path
func (w *FileWriter) Path() string {
	return w.path
}

// Written returns the number of bytes currently in the file from this writer
func (w *FileWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
