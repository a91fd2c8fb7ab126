package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned by [Decode] for messages that are not a JSON object
// with a string "type" field.
var ErrMalformed = errors.New("protocol: malformed server event")

// ServerEvent is one decoded inbound event. The set of implementations is
// closed; switch over the concrete types and treat [Unknown] as a no-op.
type ServerEvent interface {
	EventType() string
	serverEvent()
}

// SessionCreated is the service's ready signal for a new connection.
type SessionCreated struct{}

// SessionUpdated acknowledges a session.update.
type SessionUpdated struct{}

// ResponseCreated announces the start of a response generation.
type ResponseCreated struct {
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

// ResponseDone marks a response generation as complete (including cancelled
// and failed responses).
type ResponseDone struct {
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

// AudioDelta carries one chunk of assistant speech in the wire format. The
// base64 payload is decoded into Audio.
type AudioDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Audio      []byte `json:"delta"`
}

// AudioDone marks the end of assistant audio for one output item.
type AudioDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
}

// TranscriptDelta is an incremental piece of the assistant's spoken text.
type TranscriptDelta struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

// TranscriptDone carries the full assistant transcript of one output item.
type TranscriptDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// OutputItem is the item payload of [OutputItemAdded].
type OutputItem struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

// OutputItemAdded announces a new output item. Items of type
// [ItemFunctionCall] announce a tool call.
type OutputItemAdded struct {
	ResponseID string     `json:"response_id"`
	Item       OutputItem `json:"item"`
}

// FunctionCall reports whether the item announces a function call.
func (e OutputItemAdded) FunctionCall() bool { return e.Item.Type == ItemFunctionCall }

// FunctionCallArgumentsDone delivers the complete JSON arguments of a call.
type FunctionCallArgumentsDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// InputTranscriptionCompleted carries the transcript of a committed user turn.
type InputTranscriptionCompleted struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// SpeechStarted is the service's voice-activity start.
type SpeechStarted struct {
	ItemID       string `json:"item_id"`
	AudioStartMs int    `json:"audio_start_ms"`
}

// SpeechStopped is the service's voice-activity end.
type SpeechStopped struct {
	ItemID     string `json:"item_id"`
	AudioEndMs int    `json:"audio_end_ms"`
}

// InputAudioBufferCommitted acknowledges a committed input buffer.
type InputAudioBufferCommitted struct {
	ItemID string `json:"item_id"`
}

// ErrorDetail is the nested error object of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// ErrorEvent is a protocol-level error reported by the service.
type ErrorEvent struct {
	Error ErrorDetail `json:"error"`
}

// CodeInvalidAPIKey is the error code sent when the credentials are rejected.
const CodeInvalidAPIKey = "invalid_api_key"

// benignErrors are substrings of error messages the service emits during
// normal operation, e.g. when cancelling a response that already finished.
var benignErrors = []string{
	"cancellation failed",
	"no active response",
	"buffer too small",
}

// Benign reports whether the error is an expected side effect of normal
// operation and should not be surfaced.
func (e ErrorEvent) Benign() bool {
	msg := strings.ToLower(e.Error.Message)
	for _, s := range benignErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Unknown is any event type the engine does not act on.
type Unknown struct {
	Type string
	Raw  []byte
}

func (SessionCreated) EventType() string              { return TypeSessionCreated }
func (SessionUpdated) EventType() string              { return TypeSessionUpdated }
func (ResponseCreated) EventType() string             { return TypeResponseCreated }
func (ResponseDone) EventType() string                { return TypeResponseDone }
func (AudioDelta) EventType() string                  { return TypeResponseAudioDelta }
func (AudioDone) EventType() string                   { return TypeResponseAudioDone }
func (TranscriptDelta) EventType() string             { return TypeResponseTranscriptDelta }
func (TranscriptDone) EventType() string              { return TypeResponseTranscriptDone }
func (OutputItemAdded) EventType() string             { return TypeResponseOutputItemAdded }
func (FunctionCallArgumentsDone) EventType() string   { return TypeFunctionCallArgumentsDone }
func (InputTranscriptionCompleted) EventType() string { return TypeInputTranscriptionCompleted }
func (SpeechStarted) EventType() string               { return TypeSpeechStarted }
func (SpeechStopped) EventType() string               { return TypeSpeechStopped }
func (InputAudioBufferCommitted) EventType() string   { return TypeInputAudioBufferCommitted }
func (ErrorEvent) EventType() string                  { return TypeError }
func (u Unknown) EventType() string                   { return u.Type }

func (SessionCreated) serverEvent()              {}
func (SessionUpdated) serverEvent()              {}
func (ResponseCreated) serverEvent()             {}
func (ResponseDone) serverEvent()                {}
func (AudioDelta) serverEvent()                  {}
func (AudioDone) serverEvent()                   {}
func (TranscriptDelta) serverEvent()             {}
func (TranscriptDone) serverEvent()              {}
func (OutputItemAdded) serverEvent()             {}
func (FunctionCallArgumentsDone) serverEvent()   {}
func (InputTranscriptionCompleted) serverEvent() {}
func (SpeechStarted) serverEvent()               {}
func (SpeechStopped) serverEvent()               {}
func (InputAudioBufferCommitted) serverEvent()   {}
func (ErrorEvent) serverEvent()                  {}
func (Unknown) serverEvent()                     {}

var decoders = map[string]func([]byte) (ServerEvent, error){
	TypeSessionCreated:              decodeAs[SessionCreated],
	TypeSessionUpdated:              decodeAs[SessionUpdated],
	TypeResponseCreated:             decodeAs[ResponseCreated],
	TypeResponseDone:                decodeAs[ResponseDone],
	TypeResponseAudioDelta:          decodeAs[AudioDelta],
	TypeResponseAudioDone:           decodeAs[AudioDone],
	TypeResponseTranscriptDelta:     decodeAs[TranscriptDelta],
	TypeResponseTranscriptDone:      decodeAs[TranscriptDone],
	TypeResponseOutputItemAdded:     decodeAs[OutputItemAdded],
	TypeFunctionCallArgumentsDone:   decodeAs[FunctionCallArgumentsDone],
	TypeInputTranscriptionCompleted: decodeAs[InputTranscriptionCompleted],
	TypeSpeechStarted:               decodeAs[SpeechStarted],
	TypeSpeechStopped:               decodeAs[SpeechStopped],
	TypeInputAudioBufferCommitted:   decodeAs[InputAudioBufferCommitted],
	TypeError:                       decodeAs[ErrorEvent],
}

// Decode parses one inbound message. Event types without a dedicated variant
// decode to [Unknown]; only structurally broken messages return an error.
func Decode(data []byte) (ServerEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformed
	}
	typ := gjson.GetBytes(data, "type")
	if typ.Type != gjson.String {
		return nil, ErrMalformed
	}
	dec, ok := decoders[typ.Str]
	if !ok {
		return Unknown{Type: typ.Str, Raw: data}, nil
	}
	ev, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", typ.Str, err)
	}
	return ev, nil
}

func decodeAs[T ServerEvent](data []byte) (ServerEvent, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}
