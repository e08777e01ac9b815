package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/headband-recorder/internal/metrics"
	"github.com/skypro1111/headband-recorder/internal/protocol"
)

// State is the recording session lifecycle state
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// stampLayout is the human timestamp embedded in session file names
const stampLayout = "20060102_150405"

// Config contains recorder configuration
type Config struct {
	OutputDirectory string
}

// Option customizes a Recorder
type Option func(*Recorder)

// WithDelegate sets the notification delegate
func WithDelegate(d Delegate) Option {
	return func(r *Recorder) { r.delegate = d }
}

// WithExecutor sets where notifications run instead of the internal dispatcher
func WithExecutor(exec Executor) Option {
	return func(r *Recorder) { r.exec = exec }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithClock replaces time.Now for session timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder owns the recording state machine and every open session file.
// It is created once and reused across many start/stop cycles.
type Recorder struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	delegate   Delegate
	exec       Executor
	dispatcher *dispatcher

	// Session state, guarded by mu
	state      State
	selected   map[protocol.SensorType]bool
	writers    map[protocol.SensorType]*sensorWriter
	aggregateW *FileWriter
	aggregate  *Aggregate
	files      []string
	sessionID  string
	startTime  time.Time
	stamp      string
	rows       map[protocol.SensorType]uint64

	// Notifications raised under mu, handed to exec once mu is released
	outbox     []func()
	delivering bool
	delivered  *sync.Cond

	closeOnce sync.Once
	mu        sync.Mutex
}

// SessionInfo is a snapshot of the recorder for monitoring and APIs
type SessionInfo struct {
	State         string                `json:"state"`
	SessionID     string                `json:"session_id,omitempty"`
	StartTime     time.Time             `json:"start_time,omitempty"`
	Duration      time.Duration         `json:"duration,omitempty"`
	Selected      []protocol.SensorType `json:"selected_sensors"`
	Files         []string              `json:"files"`
	RowsWritten   map[string]uint64     `json:"rows_written"`
	BytesWritten  int64                 `json:"bytes_written"`
	AggregateRows int                   `json:"aggregate_rows"`
}

// NewRecorder creates an idle recorder writing into cfg.OutputDirectory
func NewRecorder(cfg Config, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		state:     StateIdle,
		selected:  make(map[protocol.SensorType]bool),
		aggregate: NewAggregate(),
		rows:      make(map[protocol.SensorType]uint64),
	}
	r.delivered = sync.NewCond(&r.mu)

	for _, opt := range opts {
		opt(r)
	}

	if r.exec == nil {
		r.dispatcher = newDispatcher()
		r.exec = r.dispatcher.Submit
	}

	return r
}

// StartRecording opens one CSV file per selected sensor plus the aggregate file
// and moves the recorder to Recording. On failure nothing is left open and the
// recorder stays Idle.
func (r *Recorder) StartRecording(selected []protocol.SensorType) error {
	r.mu.Lock()
	defer r.unlockAndDeliver()

	if r.state != StateIdle {
		r.fail("already_recording", ErrAlreadyRecording)
		return ErrAlreadyRecording
	}

	// Failures below belong to no session
	r.sessionID = ""

	dir := r.config.OutputDirectory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		opErr := &FileOperationError{Op: "create directory", Path: dir, Err: err}
		r.metrics.RecordFileError("create")
		r.fail("file_operation", opErr)
		return opErr
	}

	startTime := r.now()
	stamp := r.uniqueStamp(startTime)

	selection := make(map[protocol.SensorType]bool, len(selected))
	for _, s := range selected {
		if s.IsValid() {
			selection[s] = true
		}
	}

	writers := make(map[protocol.SensorType]*sensorWriter, len(selection))
	files := make([]string, 0, len(selection)+1)

	cleanup := func() {
		for _, w := range writers {
			w.close()
		}
		for _, path := range files {
			os.Remove(path)
		}
	}

	for _, sensor := range protocol.AllSensors {
		if !selection[sensor] {
			continue
		}
		w, path, err := r.openSensorWriter(sensor, stamp)
		if path != "" {
			files = append(files, path)
		}
		if err != nil {
			cleanup()
			r.metrics.RecordFileError("create")
			r.fail("file_operation", err)
			return err
		}
		writers[sensor] = w
	}

	aggregatePath := filepath.Join(dir, aggregateFileName(stamp))
	aggregateW, err := CreateFileWriter(aggregatePath)
	if err != nil {
		cleanup()
		opErr := &FileOperationError{Op: "create", Path: aggregatePath, Err: err}
		r.metrics.RecordFileError("create")
		r.fail("file_operation", opErr)
		return opErr
	}
	files = append(files, aggregatePath)

	r.state = StateRecording
	r.selected = selection
	r.writers = writers
	r.aggregateW = aggregateW
	r.aggregate.Reset()
	r.files = files
	r.sessionID = uuid.NewString()
	r.startTime = startTime
	r.stamp = stamp
	r.rows = make(map[protocol.SensorType]uint64)

	r.metrics.RecordSessionStarted()
	r.logger.Info("Recording started",
		slog.String("session_id", r.sessionID),
		slog.String("output_directory", dir),
		slog.Any("sensors", sortedSensors(selection)),
		slog.Int("files", len(files)),
	)

	sessionID := r.sessionID
	r.notify(func(d Delegate) { d.RecordingStarted(sessionID, startTime) })

	return nil
}

// UpdateSelectedSensors replaces the set of sensors whose readings are written.
// Files already open stay open; deselected sensors just stop receiving rows.
func (r *Recorder) UpdateSelectedSensors(types []protocol.SensorType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	selection := make(map[protocol.SensorType]bool, len(types))
	for _, s := range types {
		if s.IsValid() {
			selection[s] = true
		}
	}
	r.selected = selection

	r.logger.Debug("Selected sensors updated",
		slog.String("state", r.state.String()),
		slog.Any("sensors", sortedSensors(selection)),
	)
}

// Record writes the frame's readings when recording and the frame's sensor is
// selected; otherwise it does nothing. Battery frames are never archived.
func (r *Recorder) Record(frame *protocol.Frame) error {
	if frame == nil {
		return nil
	}

	r.mu.Lock()
	defer r.unlockAndDeliver()

	if r.state != StateRecording || !r.selected[frame.Sensor] {
		return nil
	}
	switch frame.Sensor {
	case protocol.SensorEEG, protocol.SensorPPG, protocol.SensorAccelerometer:
	default:
		return nil
	}
	if frame.Len() == 0 {
		return nil
	}

	w, ok := r.writers[frame.Sensor]
	if !ok {
		// Sensor was selected after the session started. A sensor whose file
		// cannot be created leaves the selection until it is selected again.
		var path string
		var err error
		w, path, err = r.openSensorWriter(frame.Sensor, r.stamp)
		if err != nil {
			delete(r.selected, frame.Sensor)
			r.metrics.RecordFileError("create")
			r.fail("file_operation", err)
			return err
		}
		r.writers[frame.Sensor] = w
		r.files = append(r.files, path)
	}

	// The aggregate only archives readings its sensor file holds
	rows, err := w.writeFrame(frame)
	if err != nil {
		opErr := &FileOperationError{Op: "write", Path: w.file.Path(), Err: err}
		r.metrics.RecordFileError("write")
		r.fail("file_operation", opErr)
		return opErr
	}

	switch frame.Sensor {
	case protocol.SensorEEG:
		for _, reading := range frame.EEG {
			r.aggregate.AppendEEG(reading)
		}
	case protocol.SensorPPG:
		for _, reading := range frame.PPG {
			r.aggregate.AppendPPG(reading)
		}
	case protocol.SensorAccelerometer:
		for _, reading := range frame.Accelerometer {
			r.aggregate.AppendAccelerometer(reading)
		}
	}

	r.rows[frame.Sensor] += uint64(rows)
	r.metrics.RecordRowsWritten(frame.Sensor.String(), rows)
	return nil
}

// StopRecording writes the aggregate document, closes every file and returns
// to Idle. It is a no-op when Idle. The recorder is Idle afterwards even when
// finalization fails.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.unlockAndDeliver()

	if r.state != StateRecording {
		return nil
	}

	var finalErr error

	data, err := r.aggregate.Encode()
	if err != nil {
		finalErr = &EncodingError{Err: err}
		r.metrics.RecordSessionFailure("encoding")
	} else if err := r.aggregateW.Rewrite(data); err != nil {
		finalErr = &FileOperationError{Op: "finalize", Path: r.aggregateW.Path(), Err: err}
		r.metrics.RecordFileError("finalize")
	}

	for sensor, w := range r.writers {
		if err := w.close(); err != nil {
			r.metrics.RecordFileError("close")
			r.logger.Warn("Failed to close sensor file",
				slog.String("session_id", r.sessionID),
				slog.String("sensor", sensor.String()),
				slog.String("error", err.Error()),
			)
			if finalErr == nil {
				finalErr = &FileOperationError{Op: "close", Path: w.file.Path(), Err: err}
			}
		}
	}
	if err := r.aggregateW.Close(); err != nil {
		r.metrics.RecordFileError("close")
		if finalErr == nil {
			finalErr = &FileOperationError{Op: "close", Path: r.aggregateW.Path(), Err: err}
		}
	}

	stoppedAt := r.now()
	duration := stoppedAt.Sub(r.startTime)
	aggregateRows := r.aggregate.Len()
	sessionID := r.sessionID
	files := append([]string(nil), r.files...)

	r.state = StateIdle
	r.writers = nil
	r.aggregateW = nil
	r.aggregate.Reset()

	r.metrics.RecordSessionStopped(duration.Seconds(), aggregateRows)

	if finalErr != nil {
		r.logger.Error("Recording finalization failed",
			slog.String("session_id", sessionID),
			slog.String("error", finalErr.Error()),
		)
		r.notify(func(d Delegate) { d.RecordingFailed(sessionID, finalErr) })
	}

	r.logger.Info("Recording stopped",
		slog.String("session_id", sessionID),
		slog.Duration("duration", duration),
		slog.Int("aggregate_rows", aggregateRows),
		slog.Int("files", len(files)),
	)

	r.notify(func(d Delegate) { d.RecordingStopped(sessionID, stoppedAt, files) })

	return finalErr
}

// IsRecording reports whether a session is active
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRecording
}

// State returns the current lifecycle state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RecordedFiles returns the files of the current, or most recent, session
func (r *Recorder) RecordedFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Info returns a snapshot of the recorder state
func (r *Recorder) Info() SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := SessionInfo{
		State:         r.state.String(),
		SessionID:     r.sessionID,
		StartTime:     r.startTime,
		Selected:      sortedSensors(r.selected),
		Files:         append([]string(nil), r.files...),
		RowsWritten:   make(map[string]uint64, len(r.rows)),
		AggregateRows: r.aggregate.Len(),
	}
	if r.state == StateRecording {
		info.Duration = r.now().Sub(r.startTime)
		for _, w := range r.writers {
			info.BytesWritten += w.file.Written()
		}
	}
	for sensor, n := range r.rows {
		info.RowsWritten[sensor.String()] = n
	}
	return info
}

// Close stops any active session on a best-effort basis, then stops
// notification delivery after draining it. Safe to call more than once, but
// not from a delegate.
func (r *Recorder) Close() error {
	err := r.StopRecording()

	r.mu.Lock()
	for r.delivering {
		r.delivered.Wait()
	}
	r.mu.Unlock()

	r.closeOnce.Do(func() {
		if r.dispatcher != nil {
			r.dispatcher.Close()
		}
	})
	return err
}

// openSensorWriter creates a sensor's CSV file and writes its header row.
// The returned path is set whenever the file was created, even on error.
func (r *Recorder) openSensorWriter(sensor protocol.SensorType, stamp string) (*sensorWriter, string, error) {
	path := filepath.Join(r.config.OutputDirectory, sensor.FileName(stamp))

	file, err := CreateFileWriter(path)
	if err != nil {
		return nil, "", &FileOperationError{Op: "create", Path: path, Err: err}
	}

	w, err := newSensorWriter(sensor, file)
	if err != nil {
		file.Close()
		return nil, path, &FileOperationError{Op: "write header", Path: path, Err: err}
	}

	return w, path, nil
}

// uniqueStamp returns a file name timestamp that none of the session's
// possible files already uses, so back-to-back sessions within one second
// and leftovers of earlier sessions never collide
func (r *Recorder) uniqueStamp(t time.Time) string {
	base := t.Format(stampLayout)
	stamp := base
	for i := 1; r.stampTaken(stamp); i++ {
		stamp = fmt.Sprintf("%s_%d", base, i)
	}
	return stamp
}

func (r *Recorder) stampTaken(stamp string) bool {
	names := []string{aggregateFileName(stamp)}
	for _, sensor := range protocol.AllSensors {
		names = append(names, sensor.FileName(stamp))
	}
	for _, name := range names {
		if _, err := os.Lstat(filepath.Join(r.config.OutputDirectory, name)); !errors.Is(err, os.ErrNotExist) {
			return true
		}
	}
	return false
}

func aggregateFileName(stamp string) string {
	return "raw_data_" + stamp + ".json"
}

// fail reports a session error through the delegate; the caller holds mu
func (r *Recorder) fail(reason string, err error) {
	r.metrics.RecordSessionFailure(reason)
	r.logger.Warn("Recording operation failed",
		slog.String("session_id", r.sessionID),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	sessionID := r.sessionID
	r.notify(func(d Delegate) { d.RecordingFailed(sessionID, err) })
}

// notify queues a delegate call; the caller holds mu
func (r *Recorder) notify(fn func(Delegate)) {
	if r.delegate == nil {
		return
	}
	d := r.delegate
	r.outbox = append(r.outbox, func() { fn(d) })
}

// unlockAndDeliver releases mu and hands queued notifications to the executor
// in the order they were raised. One caller delivers at a time; notifications
// raised meanwhile, including from a delegate calling back into the Recorder,
// are picked up by that caller's loop.
func (r *Recorder) unlockAndDeliver() {
	if r.delivering || len(r.outbox) == 0 {
		r.mu.Unlock()
		return
	}

	r.delivering = true
	for len(r.outbox) > 0 {
		batch := r.outbox
		r.outbox = nil
		r.mu.Unlock()

		for _, fn := range batch {
			r.exec(fn)
		}

		r.mu.Lock()
	}
	r.delivering = false
	r.delivered.Broadcast()
	r.mu.Unlock()
}

func sortedSensors(set map[protocol.SensorType]bool) []protocol.SensorType {
	out := make([]protocol.SensorType, 0, len(set))
	for _, s := range protocol.AllSensors {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
