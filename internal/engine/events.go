package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/wire"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/conversation"
)

// handle applies one inbound event or terminal error to s.
func (e *Engine) handle(s *session, ev protocol.ServerEvent, err error) {
	if e.sess != s {
		return
	}
	if err != nil {
		e.fail(s, wire.Classify(err, nil))
		return
	}

	switch ev := ev.(type) {
	case protocol.SessionCreated:
		e.onSessionCreated(s)
	case protocol.SessionUpdated:
		e.onSessionUpdated(s)
	case protocol.ResponseCreated:
		e.onResponseCreated(s, ev)
	case protocol.AudioDelta:
		e.onAudioDelta(s, ev)
	case protocol.AudioDone:
		slog.Debug("response audio done", "response_id", ev.ResponseID)
	case protocol.TranscriptDelta:
		if !s.interrupted {
			s.transcript.WriteString(ev.Delta)
		}
	case protocol.TranscriptDone:
		e.onTranscriptDone(s, ev)
	case protocol.ResponseDone:
		e.onResponseDone(s, ev)
	case protocol.OutputItemAdded:
		if ev.FunctionCall() {
			e.onFunctionCallAnnounced(s, ev.Item.CallID, ev.Item.Name)
		}
	case protocol.FunctionCallArgumentsDone:
		e.onFunctionCallArguments(s, ev)
	case protocol.InputTranscriptionCompleted:
		e.onInputTranscription(s, ev)
	case protocol.SpeechStarted:
		e.onSpeechStarted(s, ev)
	case protocol.SpeechStopped:
		e.onSpeechStopped(s)
	case protocol.InputAudioBufferCommitted:
		slog.Debug("input audio committed")
	case protocol.ErrorEvent:
		e.onError(s, ev)
	case protocol.Unknown:
		slog.Debug("ignoring server event", "type", ev.Type)
	}
}

func (e *Engine) onSessionCreated(s *session) {
	if s.created {
		return
	}
	s.created = true
	_ = e.send(s, e.sessionUpdate(s.ctx))
}

// onSessionUpdated completes configuration on the first acknowledgement.
// Later acknowledgements belong to live updates and change nothing.
func (e *Engine) onSessionUpdated(s *session) {
	if s.configured {
		slog.Debug("live session update acknowledged")
		return
	}
	s.configured = true
	s.guard.Stop()
	e.state = StateConfigured
	slog.Info("session configured")

	e.replayHistory(s)

	ready := func() {
		if e.sess != s || s.voice != VoiceIdle {
			return
		}
		if e.startListening(s) == nil {
			e.enqueue(s, audio.ReadyTone(audio.Wire), false)
		}
	}
	if e.cfg.Warmup <= 0 {
		ready()
		return
	}
	s.warmup = time.AfterFunc(e.cfg.Warmup, func() { e.post(ready) })
}

func (e *Engine) onResponseCreated(s *session, ev protocol.ResponseCreated) {
	if s.cancelPending {
		s.cancelPending = false
		slog.Debug("dropping response cancelled before creation", "response_id", ev.Response.ID)
		s.responseID = ev.Response.ID
		s.interrupted = true
		_ = e.send(s, protocol.ResponseCancel{})
		return
	}
	s.responseActive = true
	s.awaitingResponse = false
	s.responseID = ev.Response.ID
	s.generationComplete = false
	s.interrupted = false
	s.transcript.Reset()
	if s.voice == VoiceIdle {
		s.voice = VoiceProcessing
	}
}

func (e *Engine) onTranscriptDone(s *session, ev protocol.TranscriptDone) {
	if s.interrupted {
		return
	}
	text := ev.Transcript
	if text == "" {
		text = s.transcript.String()
	}
	s.transcript.Reset()
	if text != "" {
		e.log.Append(conversation.NewMessage(conversation.RoleAssistant, text))
	}
}

func (e *Engine) onResponseDone(s *session, ev protocol.ResponseDone) {
	if s.interrupted || (s.responseID != "" && ev.Response.ID != "" && ev.Response.ID != s.responseID) {
		s.responseActive = false
		return
	}
	s.responseActive = false
	s.generationComplete = true
	if ev.Response.Status != "" && ev.Response.Status != "completed" {
		slog.Debug("response ended", "status", ev.Response.Status)
	}

	// A turn that called tools continues once every output has been sent.
	if s.unresolvedCalls() {
		s.toolFollowUp = true
		return
	}
	if s.toolFollowUp {
		s.toolFollowUp = false
		e.requestResponse(s, "tool")
		return
	}
	e.maybeFinishSpeaking(s)
}

func (e *Engine) onSpeechStarted(s *session, ev protocol.SpeechStarted) {
	if s.pending > 0 || s.voice == VoiceSpeaking || s.responseActive || s.awaitingResponse {
		e.bargeIn(s)
	}
	s.voice = VoiceListening
	s.seq++

	if s.openPlaceholder == "" {
		m := conversation.NewMessage(conversation.RoleUser, conversation.Placeholder)
		e.log.Append(m)
		s.openPlaceholder = m.ID
	}
	if ev.ItemID != "" {
		s.placeholders[ev.ItemID] = s.openPlaceholder
	}
}

func (e *Engine) onSpeechStopped(s *session) {
	s.voice = VoiceProcessing
	_ = e.send(s, protocol.InputAudioBufferCommit{})
}

// onInputTranscription fills in the user message for the item and asks the
// classifier whether to respond.
func (e *Engine) onInputTranscription(s *session, ev protocol.InputTranscriptionCompleted) {
	id, ok := s.placeholders[ev.ItemID]
	delete(s.placeholders, ev.ItemID)
	if !ok && s.openPlaceholder != "" {
		id, ok = s.openPlaceholder, true
	}
	if id == s.openPlaceholder {
		s.openPlaceholder = ""
	}

	text := ev.Transcript
	if ok {
		// A placeholder shared by several input items collects all their
		// transcripts.
		prev, _ := e.log.Get(id)
		filled := prev.Text != conversation.Placeholder && prev.Text != ""
		switch {
		case !filled:
			e.log.Update(id, text)
		case text != "":
			e.log.Update(id, prev.Text+" "+text)
		}
	} else if text != "" {
		e.log.Append(conversation.NewMessage(conversation.RoleUser, text))
	}

	if ev.Transcript == "" {
		if s.voice == VoiceProcessing && !s.responseActive && !s.awaitingResponse {
			s.voice = VoiceIdle
		}
		return
	}
	e.window.Add(ev.Transcript)
	e.classify(s, ev.Transcript)
}

func (e *Engine) onError(s *session, ev protocol.ErrorEvent) {
	if ev.Benign() {
		slog.Debug("benign service error", "message", ev.Error.Message)
		return
	}
	if ev.Error.Code == protocol.CodeInvalidAPIKey {
		e.fail(s, wire.NewError(wire.KindAuthenticationFailed, errors.New(ev.Error.Message)))
		return
	}
	slog.Warn("service error", "type", ev.Error.Type, "code", ev.Error.Code, "message", ev.Error.Message)
	s.protocolErr = ev.Error.Message
	s.awaitingResponse = false
	s.cancelPending = false
	s.voice = VoiceIdle
}
