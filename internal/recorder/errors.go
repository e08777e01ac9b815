package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRecording is returned by StartRecording outside the Idle state
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrFileOperation is matched by every FileOperationError
	ErrFileOperation = errors.New("file operation failed")
	// ErrEncoding is matched by every EncodingError
	ErrEncoding = errors.New("aggregate encoding failed")
	// ErrWriterClosed is returned when writing to a closed FileWriter
	ErrWriterClosed = errors.New("file writer closed")
)

// FileOperationError reports a create, write, finalize or close failure
type FileOperationError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileOperationError) Unwrap() []error {
	return []error{ErrFileOperation, e.Err}
}

// EncodingError reports a failure serializing the aggregate document
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode aggregate: %v", e.Err)
}

func (e *EncodingError) Unwrap() []error {
	return []error{ErrEncoding, e.Err}
}
