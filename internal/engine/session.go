package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/wire"
	"github.com/MrWong99/parley/pkg/conversation"
)

// session is the state of one wire connection. It is owned by the engine
// loop; goroutines started for a session only read its immutable fields
// (conn, ctx) and compare the pointer against e.sess before touching state.
type session struct {
	conn   wire.Conn
	ctx    context.Context
	cancel context.CancelFunc

	guard  *time.Timer
	warmup *time.Timer

	created    bool
	configured bool
	history    []conversation.Message

	voice     VoiceState
	capturing bool
	level     float64

	// Playback accounting. pending counts assistant audio buffers scheduled
	// but not yet heard; epoch invalidates completions of buffers discarded
	// by barge-in.
	pending            int
	epoch              int
	generationComplete bool

	responseActive   bool
	awaitingResponse bool
	responseID       string
	// cancelPending marks a requested response that was cancelled before
	// response.created; it is dropped when it arrives.
	cancelPending bool

	// interrupted is set by barge-in and drops the rest of the interrupted
	// response until the next response.created.
	interrupted bool
	transcript  strings.Builder

	// seq numbers user turns; classifier results from an older turn are
	// dropped.
	seq             int
	placeholders    map[string]string // input item id -> message id
	openPlaceholder string

	calls        map[string]*call
	toolFollowUp bool

	protocolErr string
}

type call struct {
	name       string
	messageID  string
	dispatched bool
	resolved   bool
}

// Connect opens a session. It returns once the connection is established;
// configuration continues in the background and completes with
// [StateConfigured]. Connect is a no-op while connecting or connected. From
// [StateError] it retries, replaying the messages of the failed session.
func (e *Engine) Connect(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	var (
		skip    bool
		history []conversation.Message
		load    string
	)
	if !e.do(func() {
		switch e.state {
		case StateConnecting, StateConnected, StateConfigured:
			skip = true
			return
		}
		e.state = StateConnecting
		e.failure = nil
		if e.threadID == "" {
			e.threadID = uuid.NewString()
		}
		if e.log.Len() > 0 {
			history = e.log.Messages()
		} else if e.resume {
			load = e.threadID
		}
	}) {
		return ErrClosed
	}
	if skip {
		return nil
	}

	// One deadline covers the dial and the session.updated acknowledgement.
	deadline := time.Now().Add(e.cfg.ConnectTimeout)

	if load != "" && e.store != nil {
		lctx, cancel := context.WithTimeout(ctx, storeTimeout)
		h, err := e.store.LoadHistory(lctx, load)
		cancel()
		if err != nil {
			slog.Warn("could not load conversation history, starting fresh", "thread_id", load, "err", err)
		}
		history = h
	}

	dctx, cancel := context.WithDeadline(ctx, deadline)
	conn, err := e.dialer.Dial(dctx)
	cancel()
	if err != nil {
		werr := wire.Classify(err, nil)
		e.do(func() { e.fail(nil, werr) })
		return fmt.Errorf("engine: connect: %w", werr)
	}

	if !e.do(func() { e.attach(conn, history, deadline) }) {
		_ = conn.Close()
		return ErrClosed
	}
	return nil
}

// attach installs a fresh session for conn and starts its reader. The
// session fails unless it is configured before deadline.
func (e *Engine) attach(conn wire.Conn, history []conversation.Message, deadline time.Time) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	s := &session{
		conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		history:      history,
		placeholders: make(map[string]string),
		calls:        make(map[string]*call),
	}
	e.sess = s
	e.state = StateConnected
	e.resume = false
	s.guard = time.AfterFunc(time.Until(deadline), func() {
		e.post(func() {
			if e.sess == s && !s.configured {
				e.fail(s, wire.NewError(wire.KindTimeout, errors.New("session was not configured in time")))
			}
		})
	})
	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("connected to conversation service", "thread_id", e.threadID, "history", len(history))

	e.wg.Add(1)
	go e.read(s)
}

// read feeds inbound events to the loop one at a time.
func (e *Engine) read(s *session) {
	defer e.wg.Done()
	for ev, err := range s.conn.Events(s.ctx) {
		if !e.do(func() { e.handle(s, ev, err) }) {
			return
		}
	}
}

// Disconnect persists the conversation and releases the connection and the
// audio devices. Outstanding classifier and tool calls are abandoned.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	var (
		msgs     []conversation.Message
		threadID string
	)
	if !e.do(func() {
		msgs = e.log.Messages()
		threadID = e.threadID
		e.detach(e.sess)
		e.log.Reset()
		e.window.Reset()
		e.state = StateDisconnected
		e.failure = nil
		e.threadID = ""
		e.resume = false
	}) {
		return ErrClosed
	}

	var errs []error
	if e.store != nil && threadID != "" && len(msgs) > 0 {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		if err := e.store.SaveMessages(sctx, threadID, msgs); err != nil {
			errs = append(errs, fmt.Errorf("engine: save messages: %w", err))
		} else if err := e.store.FinalizeThread(sctx, threadID); err != nil {
			errs = append(errs, fmt.Errorf("engine: finalize thread: %w", err))
		}
		cancel()
	}
	if err := e.transport.Teardown(); err != nil {
		errs = append(errs, fmt.Errorf("engine: audio teardown: %w", err))
	}
	return errors.Join(errs...)
}

// detach stops everything s owns and clears it from the engine. It is safe
// to call with nil or an already detached session.
func (e *Engine) detach(s *session) {
	if s == nil || e.sess != s {
		return
	}
	e.sess = nil
	s.guard.Stop()
	if s.warmup != nil {
		s.warmup.Stop()
	}
	if s.capturing {
		e.transport.StopCapture()
		s.capturing = false
	}
	e.transport.StopPlayback()
	if e.metrics != nil {
		e.metrics.PlaybackBuffers.Add(s.ctx, -int64(s.pending))
		e.metrics.ActiveSessions.Add(s.ctx, -1)
	}
	s.pending = 0
	s.cancel()
	if err := s.conn.Close(); err != nil {
		slog.Debug("closing connection", "err", err)
	}
}

// fail moves the engine into StateError. A specific failure already shown
// is never replaced by a generic one from the same cascade. s may be nil
// for failures before a session exists.
func (e *Engine) fail(s *session, err error) {
	if s != nil && e.sess != s {
		return
	}
	if e.state == StateError && !replaces(e.failure, err) {
		slog.Debug("ignoring follow-up failure", "err", err, "shown", e.failure)
		e.detach(s)
		return
	}

	kind := "audio_setup"
	var we *wire.Error
	if errors.As(err, &we) {
		kind = we.Kind.String()
	}
	slog.Error("session failed", "kind", kind, "err", err)
	if e.metrics != nil {
		e.metrics.RecordConnectionError(e.baseCtx, kind)
	}

	e.detach(s)
	e.state = StateError
	e.failure = err

	if e.store != nil && e.threadID != "" && e.log.Len() > 0 {
		threadID, msgs := e.threadID, e.log.Messages()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(e.baseCtx), storeTimeout)
			defer cancel()
			if serr := e.store.SaveMessages(ctx, threadID, msgs); serr != nil {
				slog.Warn("could not save messages after failure", "err", serr)
			}
		}()
	}
}

// replaces reports whether next should replace the shown failure prev.
func replaces(prev, next error) bool {
	var pw *wire.Error
	if !errors.As(prev, &pw) {
		return prev == nil
	}
	var nw *wire.Error
	if errors.As(next, &nw) {
		return !pw.Kind.Specific() || nw.Kind.Specific()
	}
	return !pw.Kind.Specific()
}

// send writes ev on s's connection. Failures are logged and returned, never
// retried.
func (e *Engine) send(s *session, ev protocol.ClientEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, ev); err != nil {
		slog.Warn("send failed", "type", ev.EventType(), "err", err)
		return err
	}
	return nil
}

// ── Session configuration ────────────────────────────────────────────────────

func (e *Engine) sessionUpdate(ctx context.Context) protocol.SessionUpdate {
	td := e.cfg.TurnDetection
	td.CreateResponse = false

	return protocol.SessionUpdate{Session: protocol.Session{
		Modalities:              []string{"text", "audio"},
		Instructions:            e.instructions(ctx),
		Voice:                   e.cfg.Voice,
		InputAudioFormat:        protocol.AudioFormatPCM16,
		OutputAudioFormat:       protocol.AudioFormatPCM16,
		InputAudioTranscription: &protocol.Transcription{Model: e.cfg.TranscriptionModel},
		TurnDetection:           &td,
		Tools:                   e.manifest(),
		ToolChoice:              "auto",
	}}
}

// manifest returns the tools enabled in settings.
func (e *Engine) manifest() []protocol.Tool {
	out := []protocol.Tool{}
	if e.dispatcher == nil {
		return out
	}
	for _, t := range e.dispatcher.Manifest() {
		if e.settings == nil || e.settings.ToolEnabled(t.Name) {
			out = append(out, t)
		}
	}
	return out
}

func (e *Engine) instructions(ctx context.Context) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(e.cfg.Instructions))

	if e.location != nil {
		lctx, cancel := context.WithTimeout(ctx, locationTimeout)
		where, ok := e.location.Describe(lctx)
		cancel()
		if ok && where != "" {
			b.WriteString("\n\nThe user is currently at: ")
			b.WriteString(where)
		}
	}

	if e.settings != nil {
		mem := e.settings.Memories()
		if len(mem) > 0 {
			b.WriteString("\n\nThings you remember about the user:")
			for _, k := range slices.Sorted(maps.Keys(mem)) {
				fmt.Fprintf(&b, "\n- %s: %s", k, mem[k])
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// replayHistory sends the queued history as conversation items.
func (e *Engine) replayHistory(s *session) {
	n := 0
	for _, m := range s.history {
		if !m.Replayable() {
			continue
		}
		var ev protocol.ClientEvent
		switch m.Role {
		case conversation.RoleUser:
			ev = protocol.UserText(m.Text)
		case conversation.RoleAssistant:
			ev = protocol.AssistantText(m.Text)
		default:
			continue
		}
		if e.send(s, ev) != nil {
			break
		}
		n++
	}
	if n > 0 {
		slog.Info("replayed conversation history", "items", n)
	}
	s.history = nil
}
