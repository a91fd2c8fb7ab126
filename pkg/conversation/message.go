// Package conversation defines the conversation history shared by the session
// engine and the persistence layer: [Message] values in insertion order and
// the bounded [Window] of recent user utterances used as classifier context.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a [Message].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind distinguishes ordinary speech from tool progress notes.
type Kind string

const (
	// KindSpeech is a transcribed user utterance or an assistant reply.
	KindSpeech Kind = "speech"

	// KindTool is a progress note for a tool call, updated in place once the
	// call resolves.
	KindTool Kind = "tool"
)

// Placeholder is the text of a user message whose transcription has not
// arrived yet.
const Placeholder = "…"

// InterruptedSuffix marks an assistant reply that was cut off by barge-in.
const InterruptedSuffix = "..."

// Message is one unit of conversation history. Text may be rewritten until
// the message is final (for example a [Placeholder] replaced by the
// transcript).
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Kind      Kind      `json:"kind,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// CallID correlates a KindTool message with its function call.
	CallID string `json:"call_id,omitempty"`
}

// NewMessage returns a speech message with a fresh identity.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Kind:      KindSpeech,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewToolMessage returns a tool progress message for callID.
func NewToolMessage(callID, text string) Message {
	m := NewMessage(RoleAssistant, text)
	m.Kind = KindTool
	m.CallID = callID
	return m
}

// Replayable reports whether m should be replayed to the service when a
// conversation is resumed. Tool notes and unresolved placeholders are local
// bookkeeping only.
func (m Message) Replayable() bool {
	return m.Kind != KindTool && m.Text != "" && m.Text != Placeholder
}

// Log is an ordered, append-only list of messages with in-place updates by
// identity. It is not safe for concurrent use; the session engine owns it
// from a single goroutine.
type Log struct {
	msgs []Message
}

// Append adds m at the end and returns its index.
func (l *Log) Append(m Message) int {
	l.msgs = append(l.msgs, m)
	return len(l.msgs) - 1
}

// Update rewrites the text of the message with the given id. It reports
// whether the message exists.
func (l *Log) Update(id, text string) bool {
	for i := range l.msgs {
		if l.msgs[i].ID == id {
			l.msgs[i].Text = text
			return true
		}
	}
	return false
}

// Get returns the message with the given id.
func (l *Log) Get(id string) (Message, bool) {
	for _, m := range l.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Len returns the number of messages.
func (l *Log) Len() int { return len(l.msgs) }

// Messages returns a copy of the messages in insertion order.
func (l *Log) Messages() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Reset drops every message.
func (l *Log) Reset() { l.msgs = nil }
