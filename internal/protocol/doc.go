// Package protocol implements headband notification frame decoding and reading validation.
// It covers the fixed-offset EEG, PPG, accelerometer and battery layouts, 24-bit sample
// reconstruction, and the static per-sensor metadata used by the recorder.
package protocol
