package realtime

import (
	"context"
	"encoding/json"

	"github.com/voxa-go/voxa/pkg/core/types"
)

// Transport owns the media legs and the ordered, reliable control channel of
// one session. Implementations guarantee in-order delivery of decoded events
// on Events() and in-order transmission of Send() payloads; the assembler
// relies on this instead of re-implementing ordering.
type Transport interface {
	// Connect acquires the microphone, negotiates the connection using the
	// short-lived token, and opens the control channel. The hello payload is
	// sent exactly once when the channel opens, before any other traffic.
	Connect(ctx context.Context, token string, hello any) error

	// Send marshals v and transmits it on the control channel.
	Send(v any) error

	// Events yields decoded inbound control-channel events in arrival order.
	// The channel is closed when the transport shuts down. Undecodable frames
	// are dropped and logged, never delivered.
	Events() <-chan types.ServerEvent

	// Close tears down the channel, the connection and all media resources.
	// Idempotent and safe to call mid-Connect.
	Close() error
}

// PCMWriter receives decoded remote audio (16-bit signed little-endian PCM)
// for playback. The volume meter taps the same stream.
type PCMWriter interface {
	Write(pcm []byte)
}

// PCMWriterFunc adapts a function to PCMWriter.
type PCMWriterFunc func(pcm []byte)

// Write implements PCMWriter.
func (f PCMWriterFunc) Write(pcm []byte) { f(pcm) }

// marshalEvent serializes one outbound control event.
func marshalEvent(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// multiPCM fans decoded audio out to several writers.
type multiPCM []PCMWriter

func (m multiPCM) Write(pcm []byte) {
	for _, w := range m {
		if w != nil {
			w.Write(pcm)
		}
	}
}
