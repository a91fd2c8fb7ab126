package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// ClientEvent is an outbound event. Implementations carry only their payload;
// [Encode] adds the type discriminator.
type ClientEvent interface {
	EventType() string
}

// Encode serialises ev as a JSON object with its "type" field set.
func Encode(ev ClientEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", ev.EventType(), err)
	}
	out, err := sjson.SetBytes(body, "type", ev.EventType())
	if err != nil {
		return nil, fmt.Errorf("protocol: stamp type %s: %w", ev.EventType(), err)
	}
	return out, nil
}

// ── session.update ────────────────────────────────────────────────────────────

// TurnDetection configures server-side voice-activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`

	// CreateResponse is always serialised: the engine decides when to respond
	// and sends false so the service never answers on its own.
	CreateResponse bool `json:"create_response"`
}

// Transcription selects the model used to transcribe user audio.
type Transcription struct {
	Model string `json:"model"`
}

// Tool is one function advertised in the tool manifest.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Session is the configuration payload of [SessionUpdate].
type Session struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`

	// Tools is sent even when empty so a live update can withdraw tools.
	Tools      []Tool `json:"tools"`
	ToolChoice string `json:"tool_choice,omitempty"`
}

// SessionUpdate configures the session.
type SessionUpdate struct {
	Session Session `json:"session"`
}

func (SessionUpdate) EventType() string { return TypeSessionUpdate }

// ── input audio ───────────────────────────────────────────────────────────────

// InputAudioBufferAppend streams captured wire-format audio. Audio is
// base64-encoded by encoding/json.
type InputAudioBufferAppend struct {
	Audio []byte `json:"audio"`
}

func (InputAudioBufferAppend) EventType() string { return TypeInputAudioBufferAppend }

// InputAudioBufferCommit commits the captured audio as a user turn.
type InputAudioBufferCommit struct{}

func (InputAudioBufferCommit) EventType() string { return TypeInputAudioBufferCommit }

// ── responses ─────────────────────────────────────────────────────────────────

// ResponseCreate requests a response generation.
type ResponseCreate struct{}

func (ResponseCreate) EventType() string { return TypeResponseCreate }

// ResponseCancel cancels the in-flight response generation.
type ResponseCancel struct{}

func (ResponseCancel) EventType() string { return TypeResponseCancel }

// ── conversation items ────────────────────────────────────────────────────────

// ContentPart is one piece of a message item.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Item is a conversation item.
type Item struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ConversationItemCreate inserts an item into the conversation.
type ConversationItemCreate struct {
	Item Item `json:"item"`
}

func (ConversationItemCreate) EventType() string { return TypeConversationItemCreate }

// UserText returns a user message item, used for history replay.
func UserText(text string) ConversationItemCreate {
	return ConversationItemCreate{Item: Item{
		Type:    ItemMessage,
		Role:    "user",
		Content: []ContentPart{{Type: "input_text", Text: text}},
	}}
}

// AssistantText returns an assistant message item, used for history replay.
func AssistantText(text string) ConversationItemCreate {
	return ConversationItemCreate{Item: Item{
		Type:    ItemMessage,
		Role:    "assistant",
		Content: []ContentPart{{Type: "text", Text: text}},
	}}
}

// FunctionCallOutput resolves the pending call callID with output.
func FunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{Item: Item{
		Type:   ItemFunctionCallOutput,
		CallID: callID,
		Output: output,
	}}
}

// InputImage attaches an image to the conversation as a user message with an
// inline data URI.
func InputImage(mimeType string, data []byte) ConversationItemCreate {
	uri := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	return ConversationItemCreate{Item: Item{
		Type:    ItemMessage,
		Role:    "user",
		Content: []ContentPart{{Type: "input_image", ImageURL: uri}},
	}}
}
