package recorder

import (
	"sync"
	"time"
)

// Delegate receives session lifecycle notifications. The recorder holds no
// ownership over it and works without one.
type Delegate interface {
	RecordingStarted(sessionID string, at time.Time)
	RecordingStopped(sessionID string, at time.Time, files []string)
	RecordingFailed(sessionID string, err error)
}

// MultiDelegate fans notifications out to several delegates in order
type MultiDelegate []Delegate

func (m MultiDelegate) RecordingStarted(sessionID string, at time.Time) {
	for _, d := range m {
		d.RecordingStarted(sessionID, at)
	}
}

func (m MultiDelegate) RecordingStopped(sessionID string, at time.Time, files []string) {
	for _, d := range m {
		d.RecordingStopped(sessionID, at, files)
	}
}

func (m MultiDelegate) RecordingFailed(sessionID string, err error) {
	for _, d := range m {
		d.RecordingFailed(sessionID, err)
	}
}

// Executor runs a notification on the owner's chosen execution context. It is
// called after the recorder lock is released, in the order events were raised,
// so a delegate may query or drive the Recorder even when run inline.
type Executor func(func())

// Inline runs notifications on the calling goroutine
func Inline(fn func()) { fn() }

// dispatcher is the default Executor: an unbounded FIFO drained by one goroutine,
// so delivery never blocks the write path and keeps submission order.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit queues fn; it is dropped once the dispatcher is closed
func (d *dispatcher) Submit(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close delivers everything already queued, then stops the goroutine
func (d *dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.stopped
}

func (d *dispatcher) run() {
	defer close(d.stopped)

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()
	}
}
