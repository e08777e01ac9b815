// Package recorder provides the recording session state machine.
// It fans decoded sensor readings out to per-sensor CSV files and an in-memory
// column aggregate that is written as a single JSON document when the session stops.
// All file-mutating operations are serialized behind one mutex.
package recorder
