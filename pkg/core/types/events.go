package types

import (
	"encoding/json"
	"strings"
)

// Inbound control-channel event types the core classifies. Anything else is
// tolerated and reaches only the raw log.
const (
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventAudioCommitted         = "input_audio_buffer.committed"
	EventPartialTranscription   = "conversation.item.input_audio_transcription"
	EventFinalTranscription     = "conversation.item.input_audio_transcription.completed"
	EventAssistantTextDelta     = "response.audio_transcript.delta"
	EventAssistantTextDone      = "response.audio_transcript.done"
	EventConversationItemCreate = "conversation.item.create"
	EventFunctionCallDone       = "response.function_call_arguments.done"
	EventResponseDone           = "response.done"
	EventAudioDelta             = "response.audio.delta"
)

// Outbound control-channel event types.
const (
	EventSessionUpdate  = "session.update"
	EventResponseCreate = "response.create"
	EventAudioAppend    = "input_audio_buffer.append"
)

// assistantPrefix marks model-generated event types for raw-log role
// derivation.
const assistantPrefix = "response"

// ServerEvent is the decoded envelope of one inbound control-channel frame.
// Fields are populated per event type; unknown types carry only Type and Raw.
type ServerEvent struct {
	Type string `json:"type"`

	// Transcription events.
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`

	// Assistant transcript deltas.
	Delta string `json:"delta,omitempty"`

	// Function call completion.
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// conversation.item.create (echoed or client-authored).
	Item *ConversationItem `json:"item,omitempty"`

	// response.done usage accounting.
	Response *ResponseInfo `json:"response,omitempty"`

	// response.audio.delta (socket transport only).
	Audio string `json:"audio,omitempty"`

	// Raw is the undecoded frame, retained for the raw event log.
	Raw json.RawMessage `json:"-"`
}

// DecodeServerEvent parses one control-channel frame. A frame without a type
// discriminant is malformed.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, err
	}
	ev.Raw = json.RawMessage(append([]byte(nil), data...))
	return ev, nil
}

// DerivedRole classifies the event for the raw log: assistant for
// model-generated types, user for everything else.
func (e ServerEvent) DerivedRole() Role {
	if strings.HasPrefix(e.Type, assistantPrefix) {
		return RoleAssistant
	}
	return RoleUser
}

// DerivedContent extracts the flattened diagnostic string for the raw log.
func (e ServerEvent) DerivedContent() string {
	switch e.Type {
	case EventAssistantTextDelta:
		return e.Delta
	case EventPartialTranscription:
		if e.Transcript != "" {
			return e.Transcript
		}
		return e.Text
	case EventFinalTranscription:
		return e.Transcript
	default:
		return ""
	}
}

// ResponseInfo carries the usage block of a response.done event.
type ResponseInfo struct {
	Usage *Usage `json:"usage,omitempty"`
}

// ConversationItem is the item object of a conversation.item.create event,
// both for user messages and for function call outputs.
type ConversationItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   []ItemContent `json:"content,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ItemContent is one content block of a conversation item.
type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UserText reports whether the item is a user-authored text message and
// returns its text.
func (i *ConversationItem) UserText() (string, bool) {
	if i == nil || i.Type != "message" || i.Role != string(RoleUser) {
		return "", false
	}
	if len(i.Content) == 0 || i.Content[0].Type != "input_text" {
		return "", false
	}
	return i.Content[0].Text, true
}

// SessionUpdate is the configuration message sent once, first, when the
// control channel opens.
type SessionUpdate struct {
	Type    string          `json:"type"`
	Session SessionSettings `json:"session"`
}

// SessionSettings declares the active modalities, voice, tool manifest and
// transcription model for the session.
type SessionSettings struct {
	Modalities              []string               `json:"modalities"`
	Voice                   string                 `json:"voice"`
	Instructions            string                 `json:"instructions,omitempty"`
	Tools                   []Tool                 `json:"tools"`
	InputAudioTranscription *TranscriptionSettings `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection         `json:"turn_detection,omitempty"`
}

// TranscriptionSettings selects the model used to transcribe user audio.
type TranscriptionSettings struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ConversationItemCreate is the outbound wrapper for user text messages and
// function call outputs.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ResponseCreate instructs the model to continue generating. It must follow
// every function call output or the conversation stalls.
type ResponseCreate struct {
	Type string `json:"type"`
}

// AudioAppend carries one base64 PCM16 frame on the socket transport.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}
