package catalog

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/skypro1111/headband-recorder/internal/protocol"
	"github.com/skypro1111/headband-recorder/internal/recorder"
)

// writeTimeout bounds each catalog update made from a notification
const writeTimeout = 10 * time.Second

// Tracker is a recorder.Delegate that keeps the catalog in step with the
// recorder's sessions
type Tracker struct {
	store  *Store
	logger *slog.Logger
}

var _ recorder.Delegate = (*Tracker)(nil)

// NewTracker creates a new Tracker writing to store
func NewTracker(store *Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// RecordingStarted inserts the open session
func (t *Tracker) RecordingStarted(sessionID string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := t.store.StartSession(ctx, sessionID, at); err != nil {
		t.logger.Error("Failed to catalog session start",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// RecordingStopped hashes every produced file and closes the session
func (t *Tracker) RecordingStopped(sessionID string, at time.Time, paths []string) {
	files := make([]File, 0, len(paths))
	for _, path := range paths {
		f, err := Describe(path)
		if err != nil {
			t.logger.Warn("Failed to describe session file",
				slog.String("session_id", sessionID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		files = append(files, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := t.store.FinishSession(ctx, sessionID, at, SensorsFromFiles(paths), files); err != nil {
		t.logger.Error("Failed to catalog session stop",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	t.logger.Debug("Session cataloged",
		slog.String("session_id", sessionID),
		slog.Int("files", len(files)),
	)
}

// RecordingFailed stores the error against its session. Rejected starts and
// failures outside a session are not session history and are skipped.
func (t *Tracker) RecordingFailed(sessionID string, err error) {
	if sessionID == "" || errors.Is(err, recorder.ErrAlreadyRecording) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if serr := t.store.FailSession(ctx, sessionID, err.Error()); serr != nil {
		t.logger.Error("Failed to catalog session error",
			slog.String("session_id", sessionID),
			slog.String("error", serr.Error()),
		)
	}
}

// Describe stats and hashes one file
func Describe(path string) (File, error) {
	file, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer file.Close()

	hasher := blake3.New()
	n, err := io.Copy(hasher, file)
	if err != nil {
		return File{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	return File{
		Path:      path,
		SizeBytes: n,
		Digest:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// SensorsFromFiles recovers the recorded sensor names from per-sensor CSV file names
func SensorsFromFiles(paths []string) []string {
	var sensors []string
	for _, s := range protocol.AllSensors {
		info, _ := s.Info()
		prefix := info.Tag + "_data_"
		for _, path := range paths {
			base := filepath.Base(path)
			if strings.HasPrefix(base, prefix) && strings.HasSuffix(base, ".csv") {
				sensors = append(sensors, s.String())
				break
			}
		}
	}
	return sensors
}
