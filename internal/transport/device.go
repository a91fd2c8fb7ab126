package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Microphone is a capture device producing PCM16 in its native format.
type Microphone interface {
	// Format is the native format of the stream returned by Open.
	Format() audio.Format

	// Open starts capturing. Reads block until audio is available; Close
	// stops the device and unblocks pending reads.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Speaker is a render device accepting PCM16 in its native format.
type Speaker interface {
	Format() audio.Format

	// Start opens the device. It is a no-op when already running.
	Start() error

	// Write hands PCM to the device. Callers pace writes in real time.
	Write(pcm []byte) error

	// Restart drops any audio buffered inside the device.
	Restart() error

	Close() error
}

// NullMicrophone produces real-time paced digital silence.
type NullMicrophone struct {
	F audio.Format
}

func (m NullMicrophone) Format() audio.Format { return m.F }

func (m NullMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &silenceReader{f: m.F, ctx: ctx, cancel: cancel}, nil
}

type silenceReader struct {
	f      audio.Format
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (r *silenceReader) Read(p []byte) (int, error) {
	n := len(p) - len(p)%r.f.FrameBytes()
	if n == 0 {
		return 0, io.ErrShortBuffer
	}
	select {
	case <-r.ctx.Done():
		return 0, io.EOF
	case <-time.After(r.f.Duration(n)):
	}
	clear(p[:n])
	return n, nil
}

func (r *silenceReader) Close() error {
	r.once.Do(r.cancel)
	return nil
}

// NullSpeaker discards everything written to it.
type NullSpeaker struct {
	F audio.Format
}

func (s NullSpeaker) Format() audio.Format { return s.F }
func (NullSpeaker) Start() error           { return nil }
func (NullSpeaker) Write([]byte) error     { return nil }
func (NullSpeaker) Restart() error         { return nil }
func (NullSpeaker) Close() error           { return nil }
