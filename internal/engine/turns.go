package engine

import (
	"log/slog"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/tools"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/conversation"
)

// ── Capture ──────────────────────────────────────────────────────────────────

// startListening opens the capture path if needed and moves to listening.
// Setup failures end the session.
func (e *Engine) startListening(s *session) error {
	if !s.capturing {
		err := e.transport.StartCapture(func(frame audio.AudioFrame, level float64) {
			if !e.tryPost(func() { e.captured(s, frame, level) }) {
				slog.Warn("engine busy, dropping captured frame")
			}
		})
		if err != nil {
			e.fail(s, err)
			return err
		}
		s.capturing = true
	}
	s.voice = VoiceListening
	s.transcript.Reset()
	return nil
}

// captured streams one frame to the service. Muting substitutes silence of
// the same length so the service's voice-activity timing is unaffected.
func (e *Engine) captured(s *session, frame audio.AudioFrame, level float64) {
	if e.sess != s || !s.capturing {
		return
	}
	payload := frame.Data
	if e.muted {
		payload = audio.Silence(len(frame.Data))
		level = 0
	}
	s.level = level
	_ = e.send(s, protocol.InputAudioBufferAppend{Audio: payload})
}

// ── Playback ─────────────────────────────────────────────────────────────────

// enqueue schedules wire-format PCM for playback. Counted buffers take part
// in the speaking-to-idle accounting; notification tones do not.
func (e *Engine) enqueue(s *session, pcm []byte, counted bool) {
	if len(pcm) == 0 {
		return
	}
	frame := audio.AudioFrame{Data: pcm, SampleRate: audio.Wire.SampleRate, Channels: audio.Wire.Channels}
	if !counted {
		e.transport.EnqueuePlayback(frame)
		return
	}

	s.pending++
	if e.metrics != nil {
		e.metrics.PlaybackBuffers.Add(s.ctx, 1)
	}
	pb := e.transport.EnqueuePlayback(frame)
	epoch := s.epoch
	go func() {
		select {
		case <-pb.Done():
			e.post(func() { e.bufferFinished(s, epoch) })
		case <-s.ctx.Done():
		}
	}()
}

func (e *Engine) onAudioDelta(s *session, ev protocol.AudioDelta) {
	if s.interrupted {
		return
	}
	s.voice = VoiceSpeaking
	e.enqueue(s, ev.Audio, true)
}

// bufferFinished runs once a counted buffer has been heard or discarded.
// Completions from before the last barge-in are ignored; the counter was
// already reset.
func (e *Engine) bufferFinished(s *session, epoch int) {
	if e.sess != s || epoch != s.epoch {
		return
	}
	if s.pending > 0 {
		s.pending--
		if e.metrics != nil {
			e.metrics.PlaybackBuffers.Add(s.ctx, -1)
		}
	}
	e.maybeFinishSpeaking(s)
}

// maybeFinishSpeaking returns to idle once generation is complete and every
// counted buffer has been heard. Both conditions are required: the buffer
// count alone reaches zero between deltas, and generation completes long
// before the audio has played.
func (e *Engine) maybeFinishSpeaking(s *session) {
	if !s.generationComplete || s.pending > 0 || s.toolFollowUp {
		return
	}
	if s.voice == VoiceSpeaking || s.voice == VoiceProcessing {
		s.voice = VoiceIdle
	}
}

// bargeIn stops the assistant: playback is discarded, the response is
// cancelled and the partial transcript is kept as an interrupted message.
func (e *Engine) bargeIn(s *session) {
	slog.Debug("barge-in", "pending_buffers", s.pending, "voice", s.voice.String())
	e.transport.StopPlayback()
	if e.metrics != nil {
		e.metrics.PlaybackBuffers.Add(s.ctx, -int64(s.pending))
		e.metrics.BargeIns.Add(s.ctx, 1)
	}
	s.pending = 0
	s.epoch++
	s.generationComplete = false
	_ = e.send(s, protocol.ResponseCancel{})

	if partial := s.transcript.String(); partial != "" {
		e.log.Append(conversation.NewMessage(conversation.RoleAssistant, partial+conversation.InterruptedSuffix))
	}
	s.transcript.Reset()
	s.interrupted = true
	s.responseActive = false
	if s.awaitingResponse {
		s.cancelPending = true
		s.awaitingResponse = false
	}
}

// ── Responses ────────────────────────────────────────────────────────────────

// requestResponse sends response.create unless one is already requested or
// in progress.
func (e *Engine) requestResponse(s *session, source string) bool {
	if s.awaitingResponse || s.responseActive {
		return false
	}
	if e.send(s, protocol.ResponseCreate{}) != nil {
		return false
	}
	s.awaitingResponse = true
	s.generationComplete = false
	s.voice = VoiceProcessing
	if e.metrics != nil {
		e.metrics.RecordResponseRequested(s.ctx, source)
	}
	return true
}

// classify runs the classifier off the loop. The decision is dropped if the
// user has started another turn in the meantime.
func (e *Engine) classify(s *session, utterance string) {
	if e.classifier == nil {
		e.requestResponse(s, "classifier")
		return
	}
	seq := s.seq
	recent := e.window.Items()
	go func() {
		respond := e.classifier.ShouldRespond(s.ctx, utterance, recent)
		e.post(func() {
			if e.sess != s || s.seq != seq {
				slog.Debug("dropping stale classifier decision", "respond", respond)
				return
			}
			if respond {
				e.requestResponse(s, "classifier")
				return
			}
			if s.voice == VoiceProcessing && !s.responseActive && !s.awaitingResponse {
				s.voice = VoiceIdle
			}
		})
	}()
}

// ── Tool calls ───────────────────────────────────────────────────────────────

func (e *Engine) onFunctionCallAnnounced(s *session, callID, name string) {
	if s.interrupted || callID == "" {
		return
	}
	if _, seen := s.calls[callID]; seen {
		return
	}
	e.trackCall(s, callID, name)
	e.enqueue(s, audio.ToolTone(audio.Wire), false)
}

func (e *Engine) trackCall(s *session, callID, name string) *call {
	progress := "Running " + name + "…"
	if e.dispatcher != nil {
		progress = e.dispatcher.Progress(name)
	}
	m := conversation.NewToolMessage(callID, progress)
	e.log.Append(m)
	c := &call{name: name, messageID: m.ID}
	s.calls[callID] = c
	return c
}

func (e *Engine) onFunctionCallArguments(s *session, ev protocol.FunctionCallArgumentsDone) {
	if ev.CallID == "" {
		return
	}
	c, ok := s.calls[ev.CallID]
	if !ok {
		if s.interrupted {
			return
		}
		c = e.trackCall(s, ev.CallID, ev.Name)
	}
	if c.dispatched {
		return
	}
	c.dispatched = true
	if c.name == "" {
		c.name = ev.Name
	}

	name, args, callID := c.name, ev.Arguments, ev.CallID
	go func() {
		var out tools.Outcome
		if e.dispatcher != nil {
			out = e.dispatcher.Dispatch(s.ctx, name, args, callID)
		} else {
			out = tools.Outcome{
				CallID: callID,
				Name:   name,
				Output: `{"error":"no tools are available","kind":"invalid_arguments"}`,
				Status: "Unavailable",
			}
		}
		e.post(func() { e.resolveCall(s, out) })
	}()
}

// resolveCall sends the single function_call_output for a call and asks for
// a follow-up response once no other call of the turn is outstanding.
func (e *Engine) resolveCall(s *session, out tools.Outcome) {
	if e.sess != s {
		slog.Info("dropping tool result after disconnect", "outcome", out)
		return
	}
	c, ok := s.calls[out.CallID]
	if !ok || c.resolved {
		return
	}
	c.resolved = true
	e.log.Update(c.messageID, out.Status)

	if e.send(s, protocol.FunctionCallOutput(out.CallID, out.Output)) != nil {
		return
	}
	if out.Image != nil {
		_ = e.send(s, protocol.InputImage(out.Image.MIMEType, out.Image.Data))
	}

	switch {
	case s.unresolvedCalls(), s.responseActive:
		s.toolFollowUp = true
	case s.awaitingResponse:
		// The pending response will see the output.
	default:
		s.toolFollowUp = false
		e.requestResponse(s, "tool")
	}
}

func (s *session) unresolvedCalls() bool {
	for _, c := range s.calls {
		if c.dispatched && !c.resolved {
			return true
		}
	}
	return false
}
