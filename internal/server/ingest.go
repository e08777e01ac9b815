package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/headband-recorder/internal/capture"
	"github.com/skypro1111/headband-recorder/internal/metrics"
	"github.com/skypro1111/headband-recorder/internal/protocol"
)

// ErrEmptyDatagram is returned for a relay datagram with no sensor id byte
var ErrEmptyDatagram = errors.New("empty datagram")

// FrameRecorder receives decoded frames; *recorder.Recorder implements it
type FrameRecorder interface {
	Record(frame *protocol.Frame) error
}

// IngestConfig controls how received notifications are processed
type IngestConfig struct {
	// DropInvalid removes readings the validator rejects before recording
	DropInvalid bool
}

// Ingest is the transport-side pipeline for one notification:
// capture, decode, optional validation, then record.
type Ingest struct {
	config   IngestConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder FrameRecorder
	capture  *capture.Writer

	mu              sync.RWMutex
	framesReceived  uint64
	framesDecoded   uint64
	parseErrors     uint64
	invalidReadings uint64
	recordErrors    uint64
	battery         *protocol.BatteryReading
	batteryAt       time.Time
}

// NewIngest creates a new Ingest. capture may be nil.
func NewIngest(cfg IngestConfig, logger *slog.Logger, m *metrics.Metrics, rec FrameRecorder, cw *capture.Writer) *Ingest {
	return &Ingest{
		config:   cfg,
		logger:   logger,
		metrics:  m,
		recorder: rec,
		capture:  cw,
	}
}

// ParseDatagram splits a relay datagram into its sensor kind and notification payload
func ParseDatagram(data []byte) (protocol.SensorType, []byte, error) {
	if len(data) == 0 {
		return 0, nil, ErrEmptyDatagram
	}
	sensor := protocol.SensorType(data[0])
	if !sensor.IsValid() {
		return 0, nil, fmt.Errorf("%w: 0x%02x", protocol.ErrUnknownSensor, data[0])
	}
	return sensor, data[1:], nil
}

// Handle processes one notification received at receivedAt. Decode errors are
// counted, logged and returned; the frame is dropped.
func (in *Ingest) Handle(sensor protocol.SensorType, payload []byte, receivedAt time.Time) (*protocol.Frame, error) {
	in.mu.Lock()
	in.framesReceived++
	in.mu.Unlock()
	in.metrics.RecordFrameReceived(sensor.String())

	if in.capture != nil {
		if err := in.capture.Write(capture.NewRecord(sensor, payload, receivedAt)); err != nil {
			in.logger.Warn("Failed to capture frame",
				slog.String("sensor", sensor.String()),
				slog.String("error", err.Error()),
			)
		} else {
			in.metrics.RecordCapturedFrame()
		}
	}

	frame, err := protocol.Decode(sensor, payload)
	if err != nil {
		in.mu.Lock()
		in.parseErrors++
		in.mu.Unlock()
		in.metrics.RecordParseError(sensor.String(), parseErrorReason(err))

		in.logger.Warn("Failed to decode frame",
			slog.String("sensor", sensor.String()),
			slog.Int("payload_size", len(payload)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	in.mu.Lock()
	in.framesDecoded++
	in.mu.Unlock()
	in.metrics.RecordFrameDecoded(sensor.String())

	if in.config.DropInvalid {
		valid, dropped := protocol.ValidateFrame(frame)
		if dropped > 0 {
			in.mu.Lock()
			in.invalidReadings += uint64(dropped)
			in.mu.Unlock()
			in.metrics.RecordInvalidReadings(sensor.String(), dropped)

			in.logger.Debug("Dropped invalid readings",
				slog.String("sensor", sensor.String()),
				slog.Int("dropped", dropped),
				slog.Int("kept", valid.Len()),
			)
		}
		frame = valid
	}

	if frame.Sensor == protocol.SensorBattery && len(frame.Battery) > 0 {
		// Battery frames carry no tick header
		frame.Battery[0].Timestamp = float64(receivedAt.UnixNano()) / float64(time.Second)

		in.mu.Lock()
		reading := frame.Battery[0]
		in.battery = &reading
		in.batteryAt = receivedAt
		in.mu.Unlock()
		in.metrics.SetBatteryLevel(reading.Level)
	}

	// Record errors already reach the recorder's delegate; the frame itself decoded fine
	if in.recorder != nil {
		if err := in.recorder.Record(frame); err != nil {
			in.mu.Lock()
			in.recordErrors++
			in.mu.Unlock()
		}
	}

	return frame, nil
}

// HandleDatagram parses and processes one relay datagram
func (in *Ingest) HandleDatagram(data []byte, receivedAt time.Time) (*protocol.Frame, error) {
	sensor, payload, err := ParseDatagram(data)
	if err != nil {
		in.mu.Lock()
		in.framesReceived++
		in.parseErrors++
		in.mu.Unlock()
		in.metrics.RecordParseError("unknown", parseErrorReason(err))
		return nil, err
	}
	return in.Handle(sensor, payload, receivedAt)
}

// RunCaptureFlusher flushes the capture log every interval until ctx is done
func (in *Ingest) RunCaptureFlusher(ctx context.Context, interval time.Duration) {
	if in.capture == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := in.capture.Flush(); err != nil {
				in.logger.Warn("Failed to flush capture log", slog.String("error", err.Error()))
			}
		}
	}
}

// Statistics returns the ingest counters
func (in *Ingest) Statistics() IngestStatistics {
	in.mu.RLock()
	defer in.mu.RUnlock()

	stats := IngestStatistics{
		FramesReceived:  in.framesReceived,
		FramesDecoded:   in.framesDecoded,
		ParseErrors:     in.parseErrors,
		InvalidReadings: in.invalidReadings,
		RecordErrors:    in.recordErrors,
	}
	if in.capture != nil {
		stats.FramesCaptured = in.capture.Records()
	}
	if in.battery != nil {
		level := in.battery.Level
		stats.BatteryLevel = &level
		stats.BatteryUpdated = in.batteryAt
	}
	return stats
}

// IngestStatistics represents frame processing counters
type IngestStatistics struct {
	FramesReceived  uint64    `json:"frames_received"`
	FramesDecoded   uint64    `json:"frames_decoded"`
	ParseErrors     uint64    `json:"parse_errors"`
	InvalidReadings uint64    `json:"invalid_readings"`
	RecordErrors    uint64    `json:"record_errors"`
	FramesCaptured  uint64    `json:"frames_captured"`
	BatteryLevel    *uint8    `json:"battery_level,omitempty"`
	BatteryUpdated  time.Time `json:"battery_updated,omitzero"`
}

// parseErrorReason maps a decode error to a metrics label
func parseErrorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, protocol.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, protocol.ErrUnknownSensor):
		return "unknown_sensor"
	case errors.Is(err, ErrEmptyDatagram):
		return "empty_datagram"
	default:
		return "other"
	}
}
