// Package mock provides a test double for transport.Transport.
//
// Transport records every call. Captured audio is injected with Emit, and
// playback tokens stay pending until the test completes them with
// CompleteNext or CompleteAll, so tests control exactly when the "heard"
// callback fires.
package mock

import (
	"sync"

	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio"
)

var _ transport.Transport = (*Transport)(nil)

// Enqueued is one EnqueuePlayback call.
type Enqueued struct {
	Frame    audio.AudioFrame
	Playback *transport.Playback
}

// Transport is a mock implementation of transport.Transport.
type Transport struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartCapture.
	StartErr error

	// AutoComplete completes every playback token immediately as played.
	AutoComplete bool

	onFrame   transport.FrameFunc
	capturing bool
	pending   []*transport.Playback

	StartCaptureCalls int
	StopCaptureCalls  int
	StopPlaybackCalls int
	TeardownCalls     int
	Enqueued          []Enqueued
}

func (t *Transport) StartCapture(onFrame transport.FrameFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StartCaptureCalls++
	if t.StartErr != nil {
		return t.StartErr
	}
	t.onFrame = onFrame
	t.capturing = true
	return nil
}

func (t *Transport) StopCapture() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StopCaptureCalls++
	t.capturing = false
	t.onFrame = nil
}

func (t *Transport) EnqueuePlayback(frame audio.AudioFrame) *transport.Playback {
	pb := transport.NewPlayback()
	t.mu.Lock()
	t.Enqueued = append(t.Enqueued, Enqueued{Frame: frame, Playback: pb})
	auto := t.AutoComplete
	if !auto {
		t.pending = append(t.pending, pb)
	}
	t.mu.Unlock()
	if auto {
		pb.Complete(true)
	}
	return pb
}

func (t *Transport) StopPlayback() {
	t.mu.Lock()
	t.StopPlaybackCalls++
	dropped := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, pb := range dropped {
		pb.Complete(false)
	}
}

func (t *Transport) Teardown() error {
	t.mu.Lock()
	t.TeardownCalls++
	t.capturing = false
	t.onFrame = nil
	dropped := t.pending
	t.pending = nil
	t.mu.Unlock()
	for _, pb := range dropped {
		pb.Complete(false)
	}
	return nil
}

// Emit delivers a captured frame to the registered callback. It reports
// whether capture was active.
func (t *Transport) Emit(frame audio.AudioFrame, level float64) bool {
	t.mu.Lock()
	fn := t.onFrame
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(frame, level)
	return true
}

// CompleteNext completes the oldest pending token. It reports whether one
// was pending.
func (t *Transport) CompleteNext(played bool) bool {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return false
	}
	pb := t.pending[0]
	t.pending = t.pending[1:]
	t.mu.Unlock()
	pb.Complete(played)
	return true
}

// CompleteAll completes every pending token as played.
func (t *Transport) CompleteAll() {
	for t.CompleteNext(true) {
	}
}

// Pending returns the number of unresolved playback tokens.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Capturing reports whether capture is active.
func (t *Transport) Capturing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capturing
}

// Calls returns a snapshot of the call counters.
func (t *Transport) Calls() (startCapture, stopCapture, stopPlayback, teardown int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.StartCaptureCalls, t.StopCaptureCalls, t.StopPlaybackCalls, t.TeardownCalls
}

// EnqueuedFrames returns a copy of every enqueued frame.
func (t *Transport) EnqueuedFrames() []Enqueued {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Enqueued, len(t.Enqueued))
	copy(out, t.Enqueued)
	return out
}
