package realtime

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	core "github.com/voxa-go/voxa/pkg/core"
	"github.com/voxa-go/voxa/pkg/core/types"
)

// DefaultSocketURL is the websocket endpoint base.
const DefaultSocketURL = "wss://api.openai.com/v1/realtime"

// socketFrameBytes is the uplink chunk size: 100ms of 24kHz mono PCM16.
const socketFrameBytes = 4800

// SocketTransport carries the same JSON control events as the peer transport
// over a websocket, with audio as base64 PCM16 inside the event stream
// instead of separate media legs.
type SocketTransport struct {
	cfg    Config
	pcm    PCMWriter
	mic    io.ReadCloser
	wsURL  string
	dialer *websocket.Dialer
	debug  func(category, message string)

	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan types.ServerEvent

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// SocketOption configures a SocketTransport.
type SocketOption func(*SocketTransport)

// WithSocketURL overrides the websocket endpoint.
func WithSocketURL(u string) SocketOption {
	return func(t *SocketTransport) { t.wsURL = u }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) SocketOption {
	return func(t *SocketTransport) { t.dialer = d }
}

// WithSocketDebug routes transport debug lines to fn.
func WithSocketDebug(fn func(category, message string)) SocketOption {
	return func(t *SocketTransport) { t.debug = fn }
}

// NewSocketTransport creates a transport. Decoded remote audio goes to pcm;
// mic supplies raw PCM16 for uplink and may be nil for a text-only session.
func NewSocketTransport(cfg Config, pcm PCMWriter, mic io.ReadCloser, opts ...SocketOption) *SocketTransport {
	t := &SocketTransport{
		cfg:    cfg,
		pcm:    pcm,
		mic:    mic,
		wsURL:  DefaultSocketURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		debug:  func(string, string) {},
		events: make(chan types.ServerEvent, 512),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the websocket, sends the hello payload first, and starts the
// read and uplink loops.
func (t *SocketTransport) Connect(ctx context.Context, token string, hello any) error {
	endpoint := t.wsURL
	if !strings.Contains(endpoint, "model=") {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "model=" + url.QueryEscape(t.cfg.Model)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return core.NewUpstreamRejectedError("websocket handshake rejected", resp.StatusCode, string(body))
		}
		return core.NewTransportError("dial websocket", err)
	}
	t.conn = conn

	if err := t.Send(hello); err != nil {
		conn.Close()
		return err
	}

	go t.readLoop()
	if t.mic != nil {
		go t.pumpUplink()
	}
	return nil
}

// readLoop decodes inbound frames until the socket dies. Audio deltas are
// consumed here, decoded straight to the PCM sink; they never reach the
// event channel.
func (t *SocketTransport) readLoop() {
	defer t.Close()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.debug("TRANSPORT", "read: "+err.Error())
			}
			return
		}
		ev, err := types.DecodeServerEvent(data)
		if err != nil {
			t.debug("EVENT", core.NewMalformedEventError(err).Message)
			continue
		}
		if ev.Type == types.EventAudioDelta {
			t.handleAudioDelta(ev.Audio)
			continue
		}
		t.deliver(ev)
	}
}

func (t *SocketTransport) handleAudioDelta(audio string) {
	if t.pcm == nil || audio == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(audio)
	if err != nil {
		t.debug("AUDIO", "decode audio delta: "+err.Error())
		return
	}
	t.pcm.Write(pcm)
}

// pumpUplink streams microphone PCM16 as append events.
func (t *SocketTransport) pumpUplink() {
	buf := make([]byte, socketFrameBytes)
	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := io.ReadFull(t.mic, buf)
		if n > 0 {
			frame := types.AudioAppend{
				Type:  types.EventAudioAppend,
				Audio: base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if sendErr := t.Send(frame); sendErr != nil {
				t.debug("AUDIO", "send audio frame: "+sendErr.Error())
				return
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				t.debug("AUDIO", "read mic: "+err.Error())
			}
			return
		}
	}
}

// Send marshals v and writes it as one text frame. Writes are serialized;
// the websocket allows only one concurrent writer.
func (t *SocketTransport) Send(v any) error {
	t.mu.Lock()
	closed := t.closed
	conn := t.conn
	t.mu.Unlock()
	if closed || conn == nil {
		return core.NewTransportError("socket is not open", nil)
	}

	data, err := marshalEvent(v)
	if err != nil {
		return core.NewTransportError("marshal control event", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return core.NewTransportError("write control event", err)
	}
	return nil
}

// Events yields decoded inbound control events in arrival order.
func (t *SocketTransport) Events() <-chan types.ServerEvent { return t.events }

func (t *SocketTransport) deliver(ev types.ServerEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		t.debug("EVENT", "event buffer full, dropping "+ev.Type)
	}
}

// Close shuts the socket and the capture device. Idempotent.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	close(t.events)
	t.mu.Unlock()

	if t.mic != nil {
		t.mic.Close()
	}
	if t.conn != nil {
		t.writeMu.Lock()
		t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		return t.conn.Close()
	}
	return nil
}
