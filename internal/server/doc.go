// Package server implements the frame relay listener and the HTTP control API.
// The relay receives one sensor notification per datagram, prefixed with the
// sensor id byte, and runs it through Ingest: capture, decode, optional
// validation, record. The HTTP API starts, stops and reconfigures recording
// sessions and exposes statistics, the session catalog and Prometheus metrics.
package server
