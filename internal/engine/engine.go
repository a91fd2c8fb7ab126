// Package engine implements the realtime conversation session: the state
// machine that ties the wire connection, the local audio transport, the
// intent classifier and the tool dispatcher together.
//
// All session state is owned by a single loop goroutine. Inbound protocol
// events, captured audio frames, playback completions, classifier decisions
// and tool results are handed to that loop as closures and applied one at a
// time, so no state is ever touched from an audio or network goroutine.
// Inbound events are strictly sequential: the reader does not receive the
// next event until the loop has finished handling the current one.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/tools"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/internal/wire"
	"github.com/MrWong99/parley/pkg/conversation"
)

const (
	// DefaultConnectTimeout bounds the time from Connect to the first
	// session.updated acknowledgement.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultWarmup is the pause between the initial configuration and
	// auto-listen, giving output devices such as Bluetooth headsets time to
	// switch profiles.
	DefaultWarmup = 300 * time.Millisecond

	// DefaultVoice is the assistant voice when none is configured.
	DefaultVoice = "alloy"

	// DefaultTranscriptionModel transcribes user audio.
	DefaultTranscriptionModel = "whisper-1"

	sendTimeout     = 5 * time.Second
	locationTimeout = time.Second
	storeTimeout    = 5 * time.Second
	inboxSize       = 256
)

var (
	// ErrNotConfigured is returned by operations that need a configured
	// session.
	ErrNotConfigured = errors.New("engine: session is not configured")

	// ErrBusy is returned by StartListening when the voice state is not idle.
	ErrBusy = errors.New("engine: voice state is not idle")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine: closed")
)

// ── Collaborators ────────────────────────────────────────────────────────────

// Classifier decides whether a finished utterance should be answered.
type Classifier interface {
	ShouldRespond(ctx context.Context, utterance string, recent []string) bool
}

// Dispatcher runs tool calls. Dispatch must always return an outcome with a
// non-empty Output.
type Dispatcher interface {
	Manifest() []protocol.Tool
	Progress(name string) string
	Dispatch(ctx context.Context, name, args, callID string) tools.Outcome
}

// Store persists conversation threads.
type Store interface {
	// SaveMessages upserts msgs into the thread by message ID.
	SaveMessages(ctx context.Context, threadID string, msgs []conversation.Message) error

	// LoadHistory returns the thread's messages in order. Unknown threads
	// yield an error matching store.ErrThreadNotFound.
	LoadHistory(ctx context.Context, threadID string) ([]conversation.Message, error)

	// FinalizeThread marks the thread as ended.
	FinalizeThread(ctx context.Context, threadID string) error
}

// Settings exposes the user's saved memories and feature flags.
type Settings interface {
	Memories() map[string]string
	ToolEnabled(name string) bool
}

// Location describes where the user is, best effort.
type Location interface {
	Describe(ctx context.Context) (string, bool)
}

// ── Configuration ────────────────────────────────────────────────────────────

// SessionSettings is the part of the session configuration that may change
// on a live session through [Engine.UpdateSession].
type SessionSettings struct {
	Instructions  string
	Voice         string
	TurnDetection protocol.TurnDetection
}

// Config configures an [Engine]. Zero fields get defaults.
type Config struct {
	SessionSettings

	TranscriptionModel string
	ConnectTimeout     time.Duration

	// Warmup is the delay before auto-listen. Negative disables it.
	Warmup time.Duration

	// WindowSize is the number of recent utterances given to the
	// classifier.
	WindowSize int
}

func (c *Config) applyDefaults() {
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = DefaultTranscriptionModel
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Warmup == 0 {
		c.Warmup = DefaultWarmup
	}
	if c.Warmup < 0 {
		c.Warmup = 0
	}
	if c.TurnDetection.Type == "" {
		c.TurnDetection.Type = "server_vad"
	}
}

// Option configures an [Engine].
type Option func(*Engine)

// WithClassifier sets the intent classifier. Without one every finished
// utterance is answered.
func WithClassifier(c Classifier) Option { return func(e *Engine) { e.classifier = c } }

// WithDispatcher sets the tool dispatcher. Without one no tools are
// advertised.
func WithDispatcher(d Dispatcher) Option { return func(e *Engine) { e.dispatcher = d } }

// WithStore persists messages on disconnect.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithSettings provides memories for the instructions and tool feature flags.
func WithSettings(s Settings) Option { return func(e *Engine) { e.settings = s } }

// WithLocation injects the user's location into the instructions.
func WithLocation(l Location) Option { return func(e *Engine) { e.location = l } }

// WithMetrics records engine metrics into m.
func WithMetrics(m *observe.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithObserver registers fn to be called from the engine loop after every
// state change. fn must return quickly and must not call back into the
// engine.
func WithObserver(fn func(Snapshot)) Option { return func(e *Engine) { e.observer = fn } }

// WithThread resumes threadID: its stored history is replayed to the
// service on the next Connect.
func WithThread(threadID string) Option {
	return func(e *Engine) {
		e.threadID = threadID
		e.resume = threadID != ""
	}
}

// ── Engine ───────────────────────────────────────────────────────────────────

// Engine is one conversation endpoint. It is safe for concurrent use; all
// exported methods hand their work to the engine loop.
type Engine struct {
	cfg        Config
	dialer     wire.Dialer
	transport  transport.Transport
	classifier Classifier
	dispatcher Dispatcher
	store      Store
	settings   Settings
	location   Location
	metrics    *observe.Metrics
	observer   func(Snapshot)

	// lifeMu serialises Connect and Disconnect so a new session never
	// overlaps the teardown of the previous one.
	lifeMu sync.Mutex

	inbox     chan func()
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc

	// Loop-owned state below.

	state    State
	failure  error
	sess     *session
	muted    bool
	threadID string
	resume   bool
	log      conversation.Log
	window   *conversation.Window
}

// New returns an Engine using dialer for the wire connection and tr for
// audio. The engine starts disconnected.
func New(dialer wire.Dialer, tr transport.Transport, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		dialer:    dialer,
		transport: tr,
		inbox:     make(chan func(), inboxSize),
		quit:      make(chan struct{}),
		baseCtx:   ctx,
		cancel:    cancel,
		window:    conversation.NewWindow(cfg.WindowSize),
	}
	for _, o := range opts {
		o(e)
	}

	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.inbox:
			fn()
			if e.observer != nil {
				e.observer(e.snapshot())
			}
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it. It reports false if the engine
// closed first.
func (e *Engine) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case e.inbox <- func() { fn(); close(done) }:
	case <-e.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-e.quit:
		return false
	}
}

// post queues fn without waiting for it to run.
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.quit:
	}
}

// tryPost queues fn unless the inbox is full.
func (e *Engine) tryPost(fn func()) bool {
	select {
	case e.inbox <- fn:
		return true
	default:
		return false
	}
}

// Close disconnects and stops the engine loop.
func (e *Engine) Close() error {
	err := e.Disconnect(context.Background())
	e.closeOnce.Do(func() {
		e.cancel()
		close(e.quit)
	})
	e.wg.Wait()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// ── Public operations ────────────────────────────────────────────────────────

// StartListening opens the capture path. It requires a configured session
// with an idle voice state.
func (e *Engine) StartListening() error {
	var err error
	if !e.do(func() {
		s := e.sess
		switch {
		case s == nil || !s.configured:
			err = ErrNotConfigured
		case s.voice != VoiceIdle:
			err = ErrBusy
		default:
			err = e.startListening(s)
		}
	}) {
		return ErrClosed
	}
	return err
}

// ForceResponse requests a response immediately, skipping the classifier.
func (e *Engine) ForceResponse() error {
	var err error
	if !e.do(func() {
		s := e.sess
		if s == nil || !s.configured {
			err = ErrNotConfigured
			return
		}
		e.requestResponse(s, "forced")
	}) {
		return ErrClosed
	}
	return err
}

// ToggleMute flips the mute flag and returns the new value. While muted,
// captured audio is replaced by silence of the same length.
func (e *Engine) ToggleMute() bool {
	var muted bool
	e.do(func() {
		e.muted = !e.muted
		muted = e.muted
		slog.Info("microphone mute toggled", "muted", muted)
	})
	return muted
}

// UpdateSession replaces the live session settings. On a configured
// session a new session.update is sent; its acknowledgement does not
// restart listening. The settings are also used by later connections.
func (e *Engine) UpdateSession(ss SessionSettings) error {
	var err error
	if !e.do(func() {
		if ss.Voice == "" {
			ss.Voice = e.cfg.Voice
		}
		if ss.TurnDetection.Type == "" {
			ss.TurnDetection.Type = e.cfg.TurnDetection.Type
		}
		e.cfg.SessionSettings = ss
		if s := e.sess; s != nil && s.configured {
			err = e.send(s, e.sessionUpdate(s.ctx))
		}
	}) {
		return ErrClosed
	}
	return err
}

// Snapshot returns the current observable state.
func (e *Engine) Snapshot() Snapshot {
	var snap Snapshot
	if !e.do(func() { snap = e.snapshot() }) {
		return Snapshot{State: StateDisconnected}
	}
	return snap
}

// Ready reports nil when the session is configured. It is used as a
// readiness check.
func (e *Engine) Ready(context.Context) error {
	snap := e.Snapshot()
	switch {
	case snap.State == StateConfigured:
		return nil
	case snap.Err != nil:
		return errors.New(snap.ErrMessage)
	default:
		return errors.New("session " + snap.State.String())
	}
}
