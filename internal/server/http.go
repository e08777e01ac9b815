package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/headband-recorder/internal/catalog"
	"github.com/skypro1111/headband-recorder/internal/config"
	"github.com/skypro1111/headband-recorder/internal/metrics"
	"github.com/skypro1111/headband-recorder/internal/protocol"
	"github.com/skypro1111/headband-recorder/internal/recorder"
)

const (
	serviceName    = "headband-recorder"
	serviceVersion = "1.0.0"

	defaultSessionLimit = 50
	maxRequestBody      = 64 << 10
)

// RecordingController is the owning-collaborator surface of the recorder
type RecordingController interface {
	StartRecording(types []protocol.SensorType) error
	StopRecording() error
	UpdateSelectedSensors(types []protocol.SensorType)
	RecordedFiles() []string
	Info() recorder.SessionInfo
}

// StatisticsProvider reports relay listener statistics
type StatisticsProvider interface {
	GetStatistics() ServerStatistics
}

// SessionCatalog lists cataloged recording sessions
type SessionCatalog interface {
	List(ctx context.Context, limit int) ([]catalog.Session, error)
	Get(ctx context.Context, id string) (catalog.Session, error)
}

// HTTPServerDeps are the components the HTTP API exposes. Catalog and
// Gatherer may be nil.
type HTTPServerDeps struct {
	Recorder       RecordingController
	Stats          StatisticsProvider
	Catalog        SessionCatalog
	Gatherer       prometheus.Gatherer
	DefaultSensors []protocol.SensorType
}

// HTTPServer provides the recording control API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	metrics  *metrics.Metrics
	deps     HTTPServerDeps
	listener net.Listener

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.HTTPConfig, logger *slog.Logger, m *metrics.Metrics, deps HTTPServerDeps) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		metrics:   m,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the API handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Recording control
	mux.HandleFunc("/recording", h.withMetrics("/recording", h.handleRecording))
	mux.HandleFunc("/recording/start", h.withMetrics("/recording/start", h.handleStart))
	mux.HandleFunc("/recording/stop", h.withMetrics("/recording/stop", h.handleStop))
	mux.HandleFunc("/recording/sensors", h.withMetrics("/recording/sensors", h.handleSensors))

	// Session catalog
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Prometheus metrics endpoint (not instrumented itself)
	if h.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// sensorsRequest is the body of start and sensor selection requests
type sensorsRequest struct {
	Sensors []string `json:"sensors"`
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.deps.Recorder.Info()
	components := map[string]interface{}{
		"recorder": map[string]interface{}{
			"status": "running",
			"state":  info.State,
		},
		"catalog": map[string]interface{}{
			"enabled": h.deps.Catalog != nil,
		},
	}
	if h.deps.Stats != nil {
		stats := h.deps.Stats.GetStatistics()
		components["relay"] = map[string]interface{}{
			"status":             "running",
			"datagrams_received": stats.DatagramsReceived,
			"frames_decoded":     stats.FramesDecoded,
			"parse_errors":       stats.ParseErrors,
			"queue_size":         stats.QueueSize,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"recording": h.deps.Recorder.Info(),
	}
	if h.deps.Stats != nil {
		stats["relay"] = h.deps.Stats.GetStatistics()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRecording implements GET /recording
func (h *HTTPServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.deps.Recorder.Info())
}

// handleStart implements POST /recording/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sensors, err := h.readSensors(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(sensors) == 0 {
		sensors = h.deps.DefaultSensors
	}

	if err := h.deps.Recorder.StartRecording(sensors); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}

	h.logger.Info("Recording started via API", slog.Any("sensors", sensors))
	writeJSON(w, http.StatusCreated, h.deps.Recorder.Info())
}

// handleStop implements POST /recording/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := h.deps.Recorder.StopRecording()
	response := map[string]interface{}{
		"files": h.deps.Recorder.RecordedFiles(),
		"state": h.deps.Recorder.Info().State,
	}
	if err != nil {
		response["error"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, response)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSensors implements PUT /recording/sensors
func (h *HTTPServer) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sensors, err := h.readSensors(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.deps.Recorder.UpdateSelectedSensors(sensors)
	writeJSON(w, http.StatusOK, h.deps.Recorder.Info())
}

// handleSessions implements GET /sessions?limit=N
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Catalog == nil {
		http.Error(w, "Session catalog disabled", http.StatusNotFound)
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	sessions, err := h.deps.Catalog.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []catalog.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleSessionDetail implements GET /sessions/{id}
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Catalog == nil {
		http.Error(w, "Session catalog disabled", http.StatusNotFound)
		return
	}

	id := r.URL.Path[len("/sessions/"):]
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	session, err := h.deps.Catalog.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Headband Sensor Recorder",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"GET /stats":             "Relay and recording statistics",
			"GET /recording":         "Current recording state",
			"POST /recording/start":  "Start a recording session",
			"POST /recording/stop":   "Stop the recording session",
			"PUT /recording/sensors": "Change the selected sensors",
			"GET /sessions":          "List cataloged sessions",
			"GET /sessions/{id}":     "Get one cataloged session",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

// readSensors parses an optional {"sensors": [...]} body
func (h *HTTPServer) readSensors(r *http.Request) ([]protocol.SensorType, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var req sensorsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return protocol.ParseSensorTypes(req.Sensors)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
