package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	core "github.com/voxa-go/voxa/pkg/core"
	"github.com/voxa-go/voxa/pkg/core/types"
)

// DefaultRealtimeBaseURL is the negotiation endpoint base.
const DefaultRealtimeBaseURL = "https://api.openai.com"

// OpusReader yields encoded opus frames for the uplink media leg. Close
// releases the capture device.
type OpusReader interface {
	// ReadFrame returns one encoded frame and its duration. io.EOF ends the
	// uplink cleanly.
	ReadFrame() ([]byte, time.Duration, error)
	Close() error
}

// PeerTransport is the WebRTC transport: opus media both ways plus an
// ordered, reliable data channel for JSON control events.
type PeerTransport struct {
	cfg     Config
	pcm     PCMWriter
	mic     OpusReader
	baseURL string
	client  *http.Client
	debug   func(category, message string)

	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample
	events chan types.ServerEvent

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// PeerOption configures a PeerTransport.
type PeerOption func(*PeerTransport)

// WithBaseURL overrides the negotiation endpoint base.
func WithBaseURL(base string) PeerOption {
	return func(t *PeerTransport) { t.baseURL = strings.TrimRight(base, "/") }
}

// WithHTTPClient overrides the client used for SDP negotiation.
func WithHTTPClient(client *http.Client) PeerOption {
	return func(t *PeerTransport) { t.client = client }
}

// WithPeerDebug routes transport debug lines to fn.
func WithPeerDebug(fn func(category, message string)) PeerOption {
	return func(t *PeerTransport) { t.debug = fn }
}

// NewPeerTransport creates a transport. Decoded remote audio goes to pcm; mic
// supplies the uplink and may be nil for a receive-only session.
func NewPeerTransport(cfg Config, pcm PCMWriter, mic OpusReader, opts ...PeerOption) *PeerTransport {
	t := &PeerTransport{
		cfg:     cfg,
		pcm:     pcm,
		mic:     mic,
		baseURL: DefaultRealtimeBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		debug:   func(string, string) {},
		events:  make(chan types.ServerEvent, 512),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect negotiates the peer connection and blocks until the control channel
// is open and the hello payload has been sent.
func (t *PeerTransport) Connect(ctx context.Context, token string, hello any) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return core.NewTransportError("create peer connection", err)
	}
	t.pc = pc

	if t.mic != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "voxa",
		)
		if err != nil {
			return core.NewTransportError("create uplink track", err)
		}
		if _, err := pc.AddTrack(track); err != nil {
			return core.NewTransportError("add uplink track", err)
		}
		t.track = track
	} else {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		if err != nil {
			return core.NewTransportError("add recv-only transceiver", err)
		}
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go t.readRemoteAudio(remote)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.debug("TRANSPORT", "connection state: "+state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.Close()
		}
	})

	dc, err := pc.CreateDataChannel(t.cfg.DataChannelLabel, nil)
	if err != nil {
		return core.NewTransportError("create data channel", err)
	}
	t.dc = dc

	opened := make(chan struct{})
	dc.OnOpen(func() {
		// The session configuration must precede all other traffic.
		if err := t.Send(hello); err != nil {
			t.debug("TRANSPORT", "send hello: "+err.Error())
		}
		close(opened)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ev, err := types.DecodeServerEvent(msg.Data)
		if err != nil {
			t.debug("EVENT", core.NewMalformedEventError(err).Message)
			return
		}
		t.deliver(ev)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return core.NewTransportError("create offer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return core.NewTransportError("set local description", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return core.NewTransportError("ice gathering", ctx.Err())
	}

	answer, err := t.negotiate(ctx, token, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return core.NewTransportError("set remote description", err)
	}

	select {
	case <-opened:
	case <-t.done:
		return core.NewTransportError("transport closed during connect", nil)
	case <-ctx.Done():
		return core.NewTransportError("waiting for control channel", ctx.Err())
	}

	if t.mic != nil {
		go t.pumpUplink()
	}
	return nil
}

// negotiate posts the local SDP offer and returns the remote answer.
func (t *PeerTransport) negotiate(ctx context.Context, token, offerSDP string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/realtime?model=%s", t.baseURL, url.QueryEscape(t.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", core.NewTransportError("build negotiation request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", core.NewTransportError("post offer", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.NewTransportError("read answer", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", core.NewUpstreamRejectedError("negotiation rejected", resp.StatusCode, string(body))
	}
	return string(body), nil
}

// readRemoteAudio decodes the inbound opus track to PCM for playback and
// metering. Decode failures skip the frame; the stream continues.
func (t *PeerTransport) readRemoteAudio(remote *webrtc.TrackRemote) {
	decoder := opus.NewDecoder()
	out := make([]byte, 1920)

	for {
		select {
		case <-t.done:
			return
		default:
		}

		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if err != io.EOF {
				t.debug("AUDIO", "read remote track: "+err.Error())
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		bandwidth, _, err := decoder.Decode(pkt.Payload, out)
		if err != nil {
			t.debug("AUDIO", "decode frame: "+err.Error())
			continue
		}
		n := pcm20msBytes(bandwidth)
		if n > len(out) {
			n = len(out)
		}
		if t.pcm != nil {
			pcm := make([]byte, n)
			copy(pcm, out[:n])
			t.pcm.Write(pcm)
		}
	}
}

// pcm20msBytes returns the decoded size of one 20 ms s16le frame at the
// sample rate the bandwidth implies. The decoder reports bandwidth, not
// length, so writing the full reused buffer would pad narrower frames with
// stale samples.
func pcm20msBytes(b opus.Bandwidth) int {
	switch b {
	case opus.BandwidthNarrowband:
		return 8000 / 50 * 2
	case opus.BandwidthMediumband:
		return 12000 / 50 * 2
	case opus.BandwidthWideband:
		return 16000 / 50 * 2
	case opus.BandwidthSuperwideband:
		return 24000 / 50 * 2
	default:
		return 48000 / 50 * 2
	}
}

// pumpUplink feeds encoded microphone frames into the local track.
func (t *PeerTransport) pumpUplink() {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		frame, duration, err := t.mic.ReadFrame()
		if err != nil {
			if err != io.EOF {
				t.debug("AUDIO", "read mic frame: "+err.Error())
			}
			return
		}
		if err := t.track.WriteSample(media.Sample{Data: frame, Duration: duration}); err != nil {
			t.debug("AUDIO", "write uplink sample: "+err.Error())
			return
		}
	}
}

// Send marshals v and transmits it on the data channel.
func (t *PeerTransport) Send(v any) error {
	t.mu.Lock()
	closed := t.closed
	dc := t.dc
	t.mu.Unlock()
	if closed || dc == nil {
		return core.NewTransportError("control channel is not open", nil)
	}

	data, err := marshalEvent(v)
	if err != nil {
		return core.NewTransportError("marshal control event", err)
	}
	if err := dc.SendText(string(data)); err != nil {
		return core.NewTransportError("send control event", err)
	}
	return nil
}

// Events yields decoded inbound control events in arrival order.
func (t *PeerTransport) Events() <-chan types.ServerEvent { return t.events }

// deliver pushes an event without blocking the data channel callback. If the
// consumer is saturated the event is dropped and logged.
func (t *PeerTransport) deliver(ev types.ServerEvent) {
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

// Close tears down the channel, the connection and the capture device.
// Idempotent.
func (t *PeerTransport) Close() error {
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
	if t.dc != nil {
		t.dc.Close()
	}
	if t.pc != nil {
		return t.pc.Close()
	}
	return nil
}
