package realtime

import (
	"github.com/voxa-go/voxa/pkg/core/types"
)

// Config holds all configuration for a realtime session.
type Config struct {
	// Model is the realtime model identifier, passed as a query parameter to
	// the negotiation endpoint.
	Model string `json:"model"`

	// Voice selects the synthesized voice.
	Voice string `json:"voice"`

	// Modalities declared in the session configuration message.
	Modalities []string `json:"modalities"`

	// Instructions is optional system guidance included in the session
	// configuration message when non-empty.
	Instructions string `json:"instructions,omitempty"`

	// TranscriptionModel transcribes user audio server-side.
	TranscriptionModel string `json:"transcription_model"`

	// Tools is the manifest advertised to the model. Execution is resolved
	// against the registry, not this list; a manifest entry without a
	// registered function is simply never dispatched.
	Tools []types.Tool `json:"tools,omitempty"`

	// TurnDetection configures server-side voice activity detection. Nil
	// leaves the server default in place.
	TurnDetection *types.TurnDetection `json:"turn_detection,omitempty"`

	// VolumeIntervalMs is the inbound RMS sampling period. Default: 100.
	VolumeIntervalMs int `json:"volume_interval_ms"`

	// DataChannelLabel names the control channel. Default: "response".
	DataChannelLabel string `json:"data_channel_label"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:              "gpt-4o-realtime-preview-2024-12-17",
		Voice:              "shimmer",
		Modalities:         []string{"text", "audio"},
		TranscriptionModel: "whisper-1",
		TurnDetection:      &types.TurnDetection{Type: "server_vad"},
		VolumeIntervalMs:   100,
		DataChannelLabel:   "response",
	}
}

// sessionUpdate builds the configuration message sent first on channel open.
func (c Config) sessionUpdate() types.SessionUpdate {
	tools := c.Tools
	if tools == nil {
		tools = []types.Tool{}
	}
	return types.SessionUpdate{
		Type: types.EventSessionUpdate,
		Session: types.SessionSettings{
			Modalities:              c.Modalities,
			Voice:                   c.Voice,
			Instructions:            c.Instructions,
			Tools:                   tools,
			InputAudioTranscription: &types.TranscriptionSettings{Model: c.TranscriptionModel},
			TurnDetection:           c.TurnDetection,
		},
	}
}
