package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/headband-recorder/internal/catalog"
	"github.com/skypro1111/headband-recorder/internal/config"
	"github.com/skypro1111/headband-recorder/internal/metrics"
	"github.com/skypro1111/headband-recorder/internal/protocol"
	"github.com/skypro1111/headband-recorder/internal/recorder"
)

type testAPI struct {
	handler  http.Handler
	recorder *recorder.Recorder
	store    *catalog.Store
}

func createTestAPI(t *testing.T, withCatalog bool) *testAPI {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	opts := []recorder.Option{recorder.WithExecutor(recorder.Inline), recorder.WithMetrics(m)}

	api := &testAPI{}
	deps := HTTPServerDeps{
		Gatherer:       reg,
		DefaultSensors: []protocol.SensorType{protocol.SensorEEG},
	}

	if withCatalog {
		store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
		if err != nil {
			t.Fatalf("catalog.Open failed: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		api.store = store
		deps.Catalog = store
		opts = append(opts, recorder.WithDelegate(catalog.NewTracker(store, testLogger())))
	}

	rec := recorder.NewRecorder(recorder.Config{OutputDirectory: t.TempDir()}, testLogger(), opts...)
	t.Cleanup(func() { rec.Close() })
	api.recorder = rec
	deps.Recorder = rec

	serverCfg := &config.ServerConfig{QueueSize: 4}
	deps.Stats = NewUDPServer(serverCfg, testLogger(), m, NewIngest(IngestConfig{}, testLogger(), m, rec, nil))

	h := NewHTTPServer(&config.HTTPConfig{Address: "127.0.0.1", Port: 0}, testLogger(), m, deps)
	api.handler = h.Handler()
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	var decoded map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: invalid JSON response: %v", method, path, err)
		}
	}
	return w, decoded
}

func TestHealthEndpoint(t *testing.T) {
	api := createTestAPI(t, false)

	w, body := api.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Unexpected health body %v", body)
	}

	w, _ = api.do(t, http.MethodPost, "/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	api := createTestAPI(t, false)

	w, body := api.do(t, http.MethodPost, "/recording/start", `{"sensors":["ppg","accel"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if body["state"] != "recording" {
		t.Errorf("Expected recording state, got %v", body["state"])
	}
	selected, _ := body["selected_sensors"].([]any)
	if len(selected) != 2 || selected[0] != "ppg" || selected[1] != "accelerometer" {
		t.Errorf("Unexpected selected sensors %v", body["selected_sensors"])
	}

	w, body = api.do(t, http.MethodPost, "/recording/start", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for second start, got %d", w.Code)
	}
	if !strings.Contains(body["error"].(string), "already") {
		t.Errorf("Unexpected error body %v", body)
	}

	w, body = api.do(t, http.MethodPut, "/recording/sensors", `{"sensors":["eeg"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !api.recorder.IsRecording() {
		t.Error("Sensor update must not stop the session")
	}

	w, body = api.do(t, http.MethodGet, "/recording", "")
	if w.Code != http.StatusOK || body["state"] != "recording" {
		t.Errorf("Unexpected recording state %d %v", w.Code, body)
	}

	w, body = api.do(t, http.MethodPost, "/recording/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	files, _ := body["files"].([]any)
	if len(files) != 3 {
		t.Errorf("Expected 3 files, got %v", body["files"])
	}
	if body["state"] != "idle" {
		t.Errorf("Expected idle after stop, got %v", body["state"])
	}
}

func TestStartUsesDefaultSensors(t *testing.T) {
	api := createTestAPI(t, false)

	w, body := api.do(t, http.MethodPost, "/recording/start", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	selected, _ := body["selected_sensors"].([]any)
	if len(selected) != 1 || selected[0] != "eeg" {
		t.Errorf("Expected default selection [eeg], got %v", body["selected_sensors"])
	}
}

func TestStartRejectsBadBody(t *testing.T) {
	api := createTestAPI(t, false)

	tests := []string{`{"sensors":["gyro"]}`, `not json`}
	for _, body := range tests {
		w, _ := api.do(t, http.MethodPost, "/recording/start", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected 400, got %d", body, w.Code)
		}
	}

	if api.recorder.IsRecording() {
		t.Error("Recorder must stay idle after rejected requests")
	}
}

func TestSessionsEndpoint(t *testing.T) {
	t.Run("catalog disabled", func(t *testing.T) {
		api := createTestAPI(t, false)
		w, _ := api.do(t, http.MethodGet, "/sessions", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", w.Code)
		}
	})

	t.Run("catalog enabled", func(t *testing.T) {
		api := createTestAPI(t, true)

		api.do(t, http.MethodPost, "/recording/start", `{"sensors":["eeg"]}`)
		api.do(t, http.MethodPost, "/recording/stop", "")

		w, body := api.do(t, http.MethodGet, "/sessions?limit=5", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if body["total_sessions"] != float64(1) {
			t.Fatalf("Expected 1 session, got %v", body["total_sessions"])
		}

		sessions, err := api.store.List(context.Background(), 1)
		if err != nil {
			t.Fatal(err)
		}
		w, body = api.do(t, http.MethodGet, "/sessions/"+sessions[0].ID, "")
		if w.Code != http.StatusOK || body["id"] != sessions[0].ID {
			t.Errorf("Unexpected session detail %d %v", w.Code, body)
		}

		w, _ = api.do(t, http.MethodGet, "/sessions/unknown", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for unknown session, got %d", w.Code)
		}

		w, _ = api.do(t, http.MethodGet, "/sessions?limit=-1", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for bad limit, got %d", w.Code)
		}
	})
}

func TestStatsAndMetricsEndpoints(t *testing.T) {
	api := createTestAPI(t, false)

	w, body := api.do(t, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if _, ok := body["relay"]; !ok {
		t.Errorf("Expected relay statistics, got %v", body)
	}

	w, _ = api.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "headband_http_requests_total") {
		t.Error("Expected HTTP request metrics in /metrics output")
	}

	w, _ = api.do(t, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
