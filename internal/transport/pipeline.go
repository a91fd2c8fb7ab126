package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

var _ Transport = (*Pipeline)(nil)

const (
	defaultFrameDuration = 20 * time.Millisecond
	defaultTick          = 20 * time.Millisecond
)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFrameDuration sets the length of each captured frame.
func WithFrameDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.frameDur = d
		}
	}
}

// WithTick sets the pacing granularity of speaker writes.
func WithTick(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.tick = d
		}
	}
}

// WithLatency adds the device's own output buffering to the time before a
// playback token completes.
func WithLatency(d time.Duration) Option {
	return func(p *Pipeline) { p.latency = d }
}

type queued struct {
	pcm []byte
	pb  *Playback
}

// Pipeline implements [Transport] over a Microphone and a Speaker.
//
// Playback is paced against a wall-clock playhead: each enqueued frame is
// written to the speaker in tick-sized chunks at real-time speed, and its
// token completes once the last chunk's duration plus the configured latency
// has elapsed.
type Pipeline struct {
	mic Microphone
	spk Speaker

	frameDur time.Duration
	tick     time.Duration
	latency  time.Duration

	capMu     sync.Mutex
	capCancel context.CancelFunc
	capReader io.ReadCloser
	capDone   chan struct{}

	playMu      sync.Mutex
	queue       []queued
	wake        chan struct{}
	running     bool
	stopWorker  context.CancelFunc
	workerDone  chan struct{}
	cancelFrame context.CancelFunc
	spkConv     *audio.Converter

	// restart asks the worker to flush the speaker before the next frame.
	restart bool
}

// NewPipeline returns a Pipeline. Devices are opened lazily.
func NewPipeline(mic Microphone, spk Speaker, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:      mic,
		spk:      spk,
		frameDur: defaultFrameDuration,
		tick:     defaultTick,
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ── capture ───────────────────────────────────────────────────────────────────

// StartCapture implements [Transport].
func (p *Pipeline) StartCapture(onFrame FrameFunc) error {
	p.capMu.Lock()
	defer p.capMu.Unlock()
	if p.capDone != nil {
		return nil
	}

	native := p.mic.Format()
	if !native.Valid() {
		return &SetupError{Op: "microphone format", Err: errors.New("invalid format " + native.String())}
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc, err := p.mic.Open(ctx)
	if err != nil {
		cancel()
		return &SetupError{Op: "open microphone", Err: err}
	}

	done := make(chan struct{})
	p.capCancel = cancel
	p.capReader = rc
	p.capDone = done

	go p.capture(ctx, rc, native, onFrame, done)
	return nil
}

func (p *Pipeline) capture(ctx context.Context, rc io.Reader, native audio.Format, onFrame FrameFunc, done chan struct{}) {
	defer close(done)

	conv := audio.NewConverter(audio.Wire)
	size := native.BytesFor(p.frameDur)
	if size == 0 {
		size = native.FrameBytes()
	}
	buf := make([]byte, size)
	var offset time.Duration

	for {
		if _, err := io.ReadFull(rc, buf); err != nil {
			if ctx.Err() == nil {
				slog.Warn("transport: capture stream ended", "err", err)
			}
			return
		}
		in := audio.AudioFrame{
			Data:       append([]byte(nil), buf...),
			SampleRate: native.SampleRate,
			Channels:   native.Channels,
			Timestamp:  offset,
		}
		offset += native.Duration(len(buf))

		out, err := conv.Convert(in)
		if err != nil {
			slog.Warn("transport: dropping capture frame", "err", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		onFrame(out, audio.Level(out.Data))
	}
}

// StopCapture implements [Transport].
func (p *Pipeline) StopCapture() {
	p.capMu.Lock()
	cancel, rc, done := p.capCancel, p.capReader, p.capDone
	p.capCancel, p.capReader, p.capDone = nil, nil, nil
	p.capMu.Unlock()

	if done == nil {
		return
	}
	cancel()
	if err := rc.Close(); err != nil {
		slog.Debug("transport: close microphone", "err", err)
	}
	<-done
}

// ── playback ──────────────────────────────────────────────────────────────────

// EnqueuePlayback implements [Transport].
func (p *Pipeline) EnqueuePlayback(frame audio.AudioFrame) *Playback {
	pb := NewPlayback()

	p.playMu.Lock()
	defer p.playMu.Unlock()

	if err := p.ensureRunningLocked(); err != nil {
		slog.Error("transport: speaker unavailable", "err", err)
		pb.Complete(false)
		return pb
	}
	out, err := p.spkConv.Convert(frame)
	if err != nil {
		slog.Warn("transport: dropping playback frame", "err", err)
		pb.Complete(false)
		return pb
	}

	p.queue = append(p.queue, queued{pcm: out.Data, pb: pb})
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return pb
}

func (p *Pipeline) ensureRunningLocked() error {
	if p.running {
		return nil
	}
	if err := p.spk.Start(); err != nil {
		return &SetupError{Op: "open speaker", Err: err}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.spkConv = audio.NewConverter(p.spk.Format())
	p.stopWorker = cancel
	p.workerDone = make(chan struct{})
	p.running = true
	go p.play(ctx, p.workerDone)
	return nil
}

func (p *Pipeline) play(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		p.playMu.Lock()
		for len(p.queue) == 0 && !p.restart {
			p.playMu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
			p.playMu.Lock()
		}
		if p.restart {
			p.restart = false
			p.playMu.Unlock()
			if err := p.spk.Restart(); err != nil {
				slog.Warn("transport: restart speaker", "err", err)
			}
			continue
		}
		item := p.queue[0]
		p.queue = p.queue[1:]
		frameCtx, cancel := context.WithCancel(ctx)
		p.cancelFrame = cancel
		p.playMu.Unlock()

		err := p.render(frameCtx, item.pcm)

		p.playMu.Lock()
		cancel()
		p.cancelFrame = nil
		p.playMu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("transport: playback failed", "err", err)
		}
		item.pb.Complete(err == nil)
	}
}

// render writes pcm to the speaker at real-time pace and returns once it has
// been heard.
func (p *Pipeline) render(ctx context.Context, pcm []byte) error {
	f := p.spk.Format()
	chunk := f.BytesFor(p.tick)
	if chunk < f.FrameBytes() {
		chunk = f.FrameBytes()
	}
	playhead := time.Now()
	for off := 0; off < len(pcm); off += chunk {
		end := min(off+chunk, len(pcm))
		if err := p.spk.Write(pcm[off:end]); err != nil {
			return err
		}
		playhead = playhead.Add(f.Duration(end - off))
		if err := sleepUntil(ctx, playhead); err != nil {
			return err
		}
	}
	return sleepUntil(ctx, playhead.Add(p.latency))
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StopPlayback implements [Transport]. It does not wait for the device: the
// playback worker flushes the speaker before rendering anything queued
// afterwards.
func (p *Pipeline) StopPlayback() {
	p.playMu.Lock()
	dropped := p.queue
	p.queue = nil
	if p.cancelFrame != nil {
		p.cancelFrame()
	}
	if p.running {
		p.restart = true
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	p.playMu.Unlock()

	for _, q := range dropped {
		q.pb.Complete(false)
	}
}

// Teardown implements [Transport].
func (p *Pipeline) Teardown() error {
	p.StopCapture()

	p.playMu.Lock()
	dropped := p.queue
	p.queue = nil
	running, stop, done := p.running, p.stopWorker, p.workerDone
	p.running = false
	p.restart = false
	p.stopWorker, p.workerDone = nil, nil
	p.playMu.Unlock()

	for _, q := range dropped {
		q.pb.Complete(false)
	}
	if !running {
		return nil
	}
	stop()
	<-done
	return p.spk.Close()
}
