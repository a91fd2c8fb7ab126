// Package transport owns the local audio path: microphone capture converted
// to the wire format, and speaker playback with completion tokens that fire
// only once the audio has actually been heard.
//
// [Pipeline] implements [Transport] on top of a [Microphone] and a [Speaker];
// the ffmpeg sub-package provides real devices, and [NullMicrophone] /
// [NullSpeaker] allow headless operation.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrAudioSetup is matched by every [*SetupError].
var ErrAudioSetup = errors.New("transport: audio setup failed")

// SetupError reports a failure to open an audio device. It is fatal to the
// current session.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAudioSetup) true for every SetupError.
func (e *SetupError) Is(target error) bool { return target == ErrAudioSetup }

// FrameFunc receives one captured frame in the wire format together with its
// coarse loudness level in [0, 1]. It is called from the capture goroutine
// and must not block.
type FrameFunc func(frame audio.AudioFrame, level float64)

// Transport is the audio path used by the session engine.
type Transport interface {
	// StartCapture begins delivering wire-format frames to onFrame. Calling it
	// while capture is already running is a no-op. Device failures are
	// returned as [*SetupError].
	StartCapture(onFrame FrameFunc) error

	// StopCapture stops delivering frames. It returns once onFrame will no
	// longer be called.
	StopCapture()

	// EnqueuePlayback schedules a wire-format frame for rendering. The
	// returned token completes strictly after the frame has been heard, or
	// when it is discarded by StopPlayback or Teardown.
	EnqueuePlayback(frame audio.AudioFrame) *Playback

	// StopPlayback immediately discards everything queued or playing. It
	// must not block on the output device.
	StopPlayback()

	// Teardown stops capture and playback and releases the devices. The
	// transport may be started again afterwards.
	Teardown() error
}

// Playback is the completion token of one enqueued frame.
type Playback struct {
	done   chan struct{}
	once   sync.Once
	played bool
}

// NewPlayback returns a pending token. Transports complete it with
// [Playback.Complete].
func NewPlayback() *Playback {
	return &Playback{done: make(chan struct{})}
}

// Complete resolves the token. played is false when the audio was discarded.
// Only the first call has an effect.
func (p *Playback) Complete(played bool) {
	p.once.Do(func() {
		p.played = played
		close(p.done)
	})
}

// Done is closed once the token is resolved.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Played reports whether the audio was rendered in full. It is only
// meaningful after Done is closed.
func (p *Playback) Played() bool {
	<-p.done
	return p.played
}
