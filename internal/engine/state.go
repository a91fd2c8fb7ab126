package engine

import (
	"errors"

	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/internal/wire"
	"github.com/MrWong99/parley/pkg/conversation"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	// StateConnected means the connection is open but the session has not
	// acknowledged its configuration yet.
	StateConnected
	StateConfigured
	// StateError is terminal until the user reconnects.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConfigured:
		return "configured"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// VoiceState is the turn-taking state of a configured session.
type VoiceState int

const (
	VoiceIdle VoiceState = iota
	VoiceListening
	VoiceProcessing
	VoiceSpeaking
)

func (v VoiceState) String() string {
	switch v {
	case VoiceIdle:
		return "idle"
	case VoiceListening:
		return "listening"
	case VoiceProcessing:
		return "processing"
	case VoiceSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the engine's observable state.
type Snapshot struct {
	State      State
	Voice      VoiceState
	Configured bool
	Muted      bool

	// Err is the connection or audio setup failure behind StateError.
	Err error

	// ErrMessage is Err rendered for the user.
	ErrMessage string

	// ProtocolError is the last non-benign error reported by the service.
	// It does not end the session.
	ProtocolError string

	// Level is the loudness of the last captured frame, for display only.
	Level float64

	PendingBuffers int
	ThreadID       string
	Messages       []conversation.Message
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{
		State:    e.state,
		Muted:    e.muted,
		Err:      e.failure,
		ThreadID: e.threadID,
		Messages: e.log.Messages(),
	}
	if e.failure != nil {
		snap.ErrMessage = failureMessage(e.failure)
	}
	if s := e.sess; s != nil {
		snap.Voice = s.voice
		snap.Configured = s.configured
		snap.ProtocolError = s.protocolErr
		snap.Level = s.level
		snap.PendingBuffers = s.pending
	}
	return snap
}

// failureMessage renders a session failure as an actionable message.
func failureMessage(err error) string {
	var we *wire.Error
	if errors.As(err, &we) {
		if we.Message != "" {
			return we.Message
		}
		return we.Kind.Message()
	}
	if errors.Is(err, transport.ErrAudioSetup) {
		return "Could not open the microphone or speaker. Check that an audio device is connected and that parley may use it."
	}
	return "Something went wrong. Try connecting again."
}
