package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/headband-recorder/internal/capture"
	"github.com/skypro1111/headband-recorder/internal/config"
	"github.com/skypro1111/headband-recorder/internal/protocol"
)

func setupCommandTest(t *testing.T) {
	t.Helper()
	cfg = config.Default()
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeTestCapture stores one EEG frame, one malformed PPG frame and one
// battery frame in a zstd capture log
func writeTestCapture(t *testing.T) string {
	t.Helper()

	w, path, err := capture.Create(t.TempDir(), "20240315_103000", capture.CompressionZstd)
	if err != nil {
		t.Fatalf("capture.Create failed: %v", err)
	}

	eeg := make([]byte, protocol.EEGFrameSize)
	binary.LittleEndian.PutUint32(eeg[0:4], 2500)

	at := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	records := []capture.Record{
		capture.NewRecord(protocol.SensorEEG, eeg, at),
		capture.NewRecord(protocol.SensorPPG, []byte{1, 2, 3}, at.Add(time.Millisecond)),
		capture.NewRecord(protocol.SensorBattery, []byte{77}, at.Add(2*time.Millisecond)),
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func TestDecodeCapture(t *testing.T) {
	setupCommandTest(t)
	path := writeTestCapture(t)

	var out, errOut bytes.Buffer
	if err := decodeCapture(path, &out, &errOut, false); err != nil {
		t.Fatalf("decodeCapture failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 decoded frames, got %d: %s", len(lines), out.String())
	}

	var first struct {
		Sensor string `json:"sensor"`
		Frame  struct {
			EEG []protocol.EEGReading `json:"eeg"`
		} `json:"frame"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Invalid JSON line: %v", err)
	}
	if first.Sensor != "eeg" || len(first.Frame.EEG) != protocol.EEGSamplesPerFrame {
		t.Errorf("Unexpected first frame %+v", first)
	}
	if first.Frame.EEG[0].Timestamp != 2.5 {
		t.Errorf("Expected timestamp 2.5, got %v", first.Frame.EEG[0].Timestamp)
	}

	if !strings.Contains(errOut.String(), "frame 1 (ppg)") {
		t.Errorf("Expected malformed PPG frame reported, got %q", errOut.String())
	}
}

func TestDecodeCaptureMissingFile(t *testing.T) {
	setupCommandTest(t)

	var out, errOut bytes.Buffer
	if err := decodeCapture(filepath.Join(t.TempDir(), "missing.hbcap"), &out, &errOut, false); err == nil {
		t.Error("Expected error for missing capture")
	}
}

func TestReplay(t *testing.T) {
	setupCommandTest(t)
	path := writeTestCapture(t)
	output := t.TempDir()

	files, err := replay(path, output, []protocol.SensorType{protocol.SensorEEG, protocol.SensorPPG})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if len(files) != 3 {
		t.Fatalf("Expected 3 files, got %v", files)
	}
	for _, f := range files {
		if filepath.Dir(f) != output {
			t.Errorf("File %s outside output directory", f)
		}
		if _, err := os.Stat(f); err != nil {
			t.Errorf("Missing output file: %v", err)
		}
	}

	var eegCSV string
	for _, f := range files {
		if strings.HasPrefix(filepath.Base(f), "eeg_data_") {
			data, err := os.ReadFile(f)
			if err != nil {
				t.Fatal(err)
			}
			eegCSV = string(data)
		}
	}
	rows := strings.Split(strings.TrimSpace(eegCSV), "\n")
	if len(rows) != 1+protocol.EEGSamplesPerFrame {
		t.Errorf("Expected header plus %d EEG rows, got %d", protocol.EEGSamplesPerFrame, len(rows))
	}
}

func TestInitLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "service.log")
	l := initLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: logPath})

	l.Info("hidden")
	l.Warn("shown")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") || !strings.Contains(string(data), `"msg":"shown"`) {
		t.Errorf("Unexpected log output %q", data)
	}
}
