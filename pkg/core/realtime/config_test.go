package realtime

import (
	"testing"

	"github.com/voxa-go/voxa/pkg/core/types"
)

func TestSessionUpdateCarriesFullConfiguration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Instructions = "be brief"

	update := cfg.sessionUpdate()

	if update.Type != types.EventSessionUpdate {
		t.Errorf("type = %q", update.Type)
	}
	if update.Session.Voice != cfg.Voice {
		t.Errorf("voice = %q, want %q", update.Session.Voice, cfg.Voice)
	}
	if update.Session.Instructions != "be brief" {
		t.Errorf("instructions = %q", update.Session.Instructions)
	}
	if update.Session.Tools == nil {
		t.Error("tools must serialize as an empty manifest, not null")
	}
	if update.Session.InputAudioTranscription == nil ||
		update.Session.InputAudioTranscription.Model != cfg.TranscriptionModel {
		t.Errorf("transcription = %+v", update.Session.InputAudioTranscription)
	}
	if update.Session.TurnDetection == nil || update.Session.TurnDetection.Type != "server_vad" {
		t.Errorf("turn detection = %+v, want server_vad default", update.Session.TurnDetection)
	}
}

func TestSessionUpdateNilTurnDetectionOmitted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TurnDetection = nil

	update := cfg.sessionUpdate()
	if update.Session.TurnDetection != nil {
		t.Errorf("turn detection = %+v, want nil to keep the server default", update.Session.TurnDetection)
	}
}
