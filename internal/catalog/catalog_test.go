package catalog

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeebo/blake3"

	"github.com/skypro1111/headband-recorder/internal/protocol"
	"github.com/skypro1111/headband-recorder/internal/recorder"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStoreLifecycle(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	if err := store.StartSession(ctx, "s1", start); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	session, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !session.Open() || !session.StartedAt.Equal(start) {
		t.Errorf("Unexpected open session %+v", session)
	}

	if err := store.FailSession(ctx, "s1", "disk full"); err != nil {
		t.Fatalf("FailSession failed: %v", err)
	}
	if err := store.FailSession(ctx, "s1", "close failed"); err != nil {
		t.Fatalf("FailSession failed: %v", err)
	}

	files := []File{
		{Path: "/data/eeg_data_x.csv", SizeBytes: 120, Digest: "aa"},
		{Path: "/data/raw_data_x.json", SizeBytes: 40, Digest: "bb"},
	}
	if err := store.FinishSession(ctx, "s1", start.Add(time.Minute), []string{"eeg"}, files); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	session, err = store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if session.Open() {
		t.Error("Expected session to be closed")
	}
	if session.Error != "disk full; close failed" {
		t.Errorf("Unexpected error column %q", session.Error)
	}
	if len(session.Sensors) != 1 || session.Sensors[0] != "eeg" {
		t.Errorf("Unexpected sensors %v", session.Sensors)
	}
	if len(session.Files) != 2 || session.Files[0].SizeBytes != 120 {
		t.Errorf("Unexpected files %+v", session.Files)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Get, got %v", err)
	}
	if err := store.FailSession(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from FailSession, got %v", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := store.StartSession(ctx, id, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "c" || sessions[1].ID != "b" {
		t.Errorf("Unexpected order %+v", sessions)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 sessions, got %d", len(all))
	}
	if all[2].Files == nil {
		t.Error("Expected empty, non-nil file list")
	}
}

func TestDescribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := []byte("timestamp,red,ir\n1,2,3\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Describe(path)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}

	sum := blake3.Sum256(content)
	if f.Digest != hex.EncodeToString(sum[:]) {
		t.Errorf("Digest mismatch: %s", f.Digest)
	}
	if f.SizeBytes != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), f.SizeBytes)
	}
}

func TestSensorsFromFiles(t *testing.T) {
	got := SensorsFromFiles([]string{
		"/x/raw_data_20240101_000000.json",
		"/x/ppg_data_20240101_000000.csv",
		"/x/eeg_data_20240101_000000.csv",
	})
	if len(got) != 2 || got[0] != "eeg" || got[1] != "ppg" {
		t.Errorf("Unexpected sensors %v", got)
	}
}

func TestTrackerFollowsRecorder(t *testing.T) {
	store := createTestStore(t)
	tracker := NewTracker(store, testLogger())

	rec := recorder.NewRecorder(recorder.Config{OutputDirectory: t.TempDir()}, testLogger(),
		recorder.WithDelegate(tracker), recorder.WithExecutor(recorder.Inline))
	defer rec.Close()

	if err := rec.StartRecording([]protocol.SensorType{protocol.SensorPPG}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	// A rejected start is not stored as a session error
	if err := rec.StartRecording([]protocol.SensorType{protocol.SensorPPG}); !errors.Is(err, recorder.ErrAlreadyRecording) {
		t.Fatalf("Expected ErrAlreadyRecording, got %v", err)
	}

	frame := &protocol.Frame{Sensor: protocol.SensorPPG, PPG: []protocol.PPGReading{{Red: 1, IR: 2, Timestamp: 0.5}}}
	if err := rec.Record(frame); err != nil {
		t.Fatal(err)
	}
	if err := rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}

	sessions, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}

	session := sessions[0]
	if session.ID != rec.Info().SessionID {
		t.Errorf("Expected session id %s, got %s", rec.Info().SessionID, session.ID)
	}
	if session.Open() || session.Error != "" {
		t.Errorf("Unexpected session state %+v", session)
	}
	if len(session.Sensors) != 1 || session.Sensors[0] != "ppg" {
		t.Errorf("Unexpected sensors %v", session.Sensors)
	}
	if len(session.Files) != 2 {
		t.Fatalf("Expected 2 files, got %+v", session.Files)
	}
	for _, f := range session.Files {
		if f.SizeBytes == 0 || len(f.Digest) != 64 {
			t.Errorf("Unexpected file entry %+v", f)
		}
	}
}
