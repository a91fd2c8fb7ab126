// Package protocol models the JSON events exchanged with the realtime
// conversation service.
//
// Inbound messages are decoded exactly once by [Decode] into a closed set of
// typed [ServerEvent] variants, with [Unknown] as the catch-all for event
// types the engine does not act on. Outbound events implement [ClientEvent]
// and are serialised by [Encode], which stamps the "type" discriminator.
package protocol

// Server event types.
const (
	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeResponseCreated             = "response.created"
	TypeResponseDone                = "response.done"
	TypeResponseAudioDelta          = "response.audio.delta"
	TypeResponseAudioDone           = "response.audio.done"
	TypeResponseTranscriptDelta     = "response.audio_transcript.delta"
	TypeResponseTranscriptDone      = "response.audio_transcript.done"
	TypeResponseOutputItemAdded     = "response.output_item.added"
	TypeFunctionCallArgumentsDone   = "response.function_call_arguments.done"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted               = "input_audio_buffer.speech_started"
	TypeSpeechStopped               = "input_audio_buffer.speech_stopped"
	TypeInputAudioBufferCommitted   = "input_audio_buffer.committed"
	TypeError                       = "error"
)

// Client event types.
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeInputAudioBufferCommit = "input_audio_buffer.commit"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
	TypeConversationItemCreate = "conversation.item.create"
)

// AudioFormatPCM16 is the format tag for 24 kHz mono little-endian PCM16.
const AudioFormatPCM16 = "pcm16"

// Item types used in conversation items and output items.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)
