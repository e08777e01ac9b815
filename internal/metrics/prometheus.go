package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the headband recorder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Frame ingest metrics
	FramesReceived   *prometheus.CounterVec
	FramesDecoded    *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	InvalidReadings  *prometheus.CounterVec
	DatagramsDropped prometheus.Counter
	QueueSize        prometheus.Gauge
	BatteryLevel     prometheus.Gauge

	// Recording metrics
	RowsWritten     *prometheus.CounterVec
	FileErrors      *prometheus.CounterVec
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionFailures *prometheus.CounterVec
	Recording       prometheus.Gauge
	SessionDuration prometheus.Histogram
	AggregateRows   prometheus.Histogram

	// Capture metrics
	CapturedFrames prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_frames_received_total",
			Help: "Total number of sensor frames received",
		}, []string{"sensor"}),
		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_frames_decoded_total",
			Help: "Total number of sensor frames decoded successfully",
		}, []string{"sensor"}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_parse_errors_total",
			Help: "Total number of frame decoding errors",
		}, []string{"sensor", "reason"}),
		InvalidReadings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_invalid_readings_total",
			Help: "Total number of readings rejected by range validation",
		}, []string{"sensor"}),
		DatagramsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "headband_datagrams_dropped_total",
			Help: "Total number of datagrams dropped because the processing queue was full",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "headband_frame_queue_size",
			Help: "Current number of frames waiting in the processing queue",
		}),
		BatteryLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "headband_battery_level_percent",
			Help: "Last reported device battery level",
		}),

		RowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_csv_rows_written_total",
			Help: "Total number of CSV rows written per sensor",
		}, []string{"sensor"}),
		FileErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_file_errors_total",
			Help: "Total number of recording file operation failures",
		}, []string{"op"}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "headband_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "headband_sessions_stopped_total",
			Help: "Total number of recording sessions stopped",
		}),
		SessionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_session_failures_total",
			Help: "Total number of recording session errors",
		}, []string{"reason"}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "headband_recording",
			Help: "1 while a recording session is active",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "headband_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),
		AggregateRows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "headband_aggregate_rows",
			Help:    "Number of sample rows in the aggregate document at session stop",
			Buckets: prometheus.ExponentialBuckets(100, 4, 10),
		}),

		CapturedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "headband_captured_frames_total",
			Help: "Total number of raw frames appended to the capture log",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "headband_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "headband_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived(sensor string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(sensor).Inc()
}

// RecordFrameDecoded increments the frames decoded counter
func (m *Metrics) RecordFrameDecoded(sensor string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(sensor).Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError(sensor, reason string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(sensor, reason).Inc()
}

// RecordInvalidReadings adds readings rejected by validation
func (m *Metrics) RecordInvalidReadings(sensor string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.InvalidReadings.WithLabelValues(sensor).Add(float64(count))
}

// RecordDatagramDropped increments the dropped datagram counter
func (m *Metrics) RecordDatagramDropped() {
	if m == nil {
		return
	}
	m.DatagramsDropped.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// SetBatteryLevel sets the last reported battery level
func (m *Metrics) SetBatteryLevel(level uint8) {
	if m == nil {
		return
	}
	m.BatteryLevel.Set(float64(level))
}

// RecordRowsWritten adds CSV rows written for a sensor
func (m *Metrics) RecordRowsWritten(sensor string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	m.RowsWritten.WithLabelValues(sensor).Add(float64(rows))
}

// RecordFileError increments the file error counter for an operation
func (m *Metrics) RecordFileError(op string) {
	if m == nil {
		return
	}
	m.FileErrors.WithLabelValues(op).Inc()
}

// RecordSessionStarted records a session start
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.Recording.Set(1)
}

// RecordSessionStopped records a session stop with its duration and aggregate size
func (m *Metrics) RecordSessionStopped(durationSeconds float64, aggregateRows int) {
	if m == nil {
		return
	}
	m.SessionsStopped.Inc()
	m.Recording.Set(0)
	m.SessionDuration.Observe(durationSeconds)
	m.AggregateRows.Observe(float64(aggregateRows))
}

// RecordSessionFailure increments the session failure counter
func (m *Metrics) RecordSessionFailure(reason string) {
	if m == nil {
		return
	}
	m.SessionFailures.WithLabelValues(reason).Inc()
}

// RecordCapturedFrame increments the captured frames counter
func (m *Metrics) RecordCapturedFrame() {
	if m == nil {
		return
	}
	m.CapturedFrames.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
