package realtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	core "github.com/voxa-go/voxa/pkg/core"
	"github.com/voxa-go/voxa/pkg/core/types"
)

// Session status strings, surfaced verbatim to the host application. Failure
// statuses are "Error: " followed by the reason.
const (
	StatusFetchingToken = "Fetching ephemeral token..."
	StatusConnecting    = "Establishing connection..."
	StatusEstablished   = "Session established successfully!"
	StatusStopped       = "Session stopped"
)

const errorStatusPrefix = "Error: "

// CredentialSource mints the short-lived token a transport authenticates
// with. One token is minted per session start and never reused.
type CredentialSource interface {
	MintToken(ctx context.Context) (string, error)
}

// TransportFactory builds the transport for one session. Decoded remote
// audio is delivered to pcm; the session taps the same stream for volume
// metering.
type TransportFactory func(cfg Config, pcm PCMWriter) (Transport, error)

// Session is the top-level controller. It owns one credential, one transport,
// the assembler and the dispatcher, and exposes snapshot accessors plus an
// event channel for change notifications.
//
// All methods are safe for concurrent use. Inbound events are consumed by a
// single pump goroutine, so conversation updates and tool dispatches happen
// strictly in arrival order.
type Session struct {
	cfg          Config
	creds        CredentialSource
	newTransport TransportFactory
	registry     *Registry
	asm          *Assembler
	meter        *VolumeMeter
	playback     PCMWriter

	events    chan Event
	debugMode bool

	mu         sync.Mutex
	status     string
	active     bool
	connecting bool
	volume     float64
	transport  Transport
	dispatcher *Dispatcher
	cancel     context.CancelFunc

	// epoch counts lifecycle generations. Stop bumps it, so a Start suspended
	// in minting or connecting can detect it lost the race and back out
	// instead of committing a session the caller already stopped.
	epoch uint64
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithPlayback routes decoded remote audio to w in addition to the volume
// meter.
func WithPlayback(w PCMWriter) Option {
	return func(s *Session) { s.playback = w }
}

// WithDebug enables debug logging to stderr and DebugEvent emission.
func WithDebug(enabled bool) Option {
	return func(s *Session) { s.debugMode = enabled }
}

// NewSession creates an idle session. Nothing connects until Start.
func NewSession(cfg Config, creds CredentialSource, factory TransportFactory, opts ...Option) (*Session, error) {
	if creds == nil {
		return nil, core.NewConfigurationError("credential source is required")
	}
	if factory == nil {
		return nil, core.NewConfigurationError("transport factory is required")
	}
	if cfg.Model == "" {
		return nil, core.NewConfigurationError("model is required")
	}

	s := &Session{
		cfg:          cfg,
		creds:        creds,
		newTransport: factory,
		registry:     NewRegistry(),
		asm:          NewAssembler(),
		events:       make(chan Event, 256),
	}
	s.meter = NewVolumeMeter(s.setVolume)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Events returns the channel session notifications are delivered on. Events
// are dropped, never blocked on, when the consumer falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// RegisterFunction binds name to fn for tool dispatch. May be called at any
// time, including mid-session; the last registration wins. The manifest
// advertised to the model comes from Config.Tools, not from this call.
func (s *Session) RegisterFunction(name string, fn types.ToolFunc) {
	s.registry.Register(name, fn)
}

// Start mints a credential, connects the transport and begins consuming
// events. Starting an already started session is an error; any failure along
// the way tears the session down with an error status.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active || s.connecting {
		s.mu.Unlock()
		return core.NewConfigurationError("session already started")
	}
	s.connecting = true
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	s.setStatus(StatusFetchingToken)
	token, err := s.creds.MintToken(ctx)
	if err != nil {
		return s.fail(epoch, fmt.Errorf("mint credential: %w", err))
	}
	if s.stale(epoch) {
		return core.NewTransportError("session stopped during start", nil)
	}

	s.setStatus(StatusConnecting)
	transport, err := s.newTransport(s.cfg, multiPCM{s.meter, s.playback})
	if err != nil {
		return s.fail(epoch, fmt.Errorf("create transport: %w", err))
	}
	if err := transport.Connect(ctx, token, s.cfg.sessionUpdate()); err != nil {
		transport.Close()
		return s.fail(epoch, fmt.Errorf("connect: %w", err))
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		cancel()
		transport.Close()
		return core.NewTransportError("session stopped during start", nil)
	}
	s.transport = transport
	s.dispatcher = NewDispatcher(s.registry, transport.Send, s.debug)
	s.cancel = cancel
	s.active = true
	s.connecting = false
	s.mu.Unlock()

	s.meter.Start(time.Duration(s.cfg.VolumeIntervalMs) * time.Millisecond)
	s.setStatus(StatusEstablished)
	s.debug("SESSION", "session established")

	go s.pump(sessionCtx, transport)
	return nil
}

// Stop tears the session down: transport closed, meter stopped, conversation
// and raw log cleared, volume zeroed, status set to idle. Idempotent; stopping
// a session that never started is a no-op apart from the idle status.
func (s *Session) Stop() {
	s.teardown("")
}

// Toggle stops an active session, or starts an idle one.
func (s *Session) Toggle(ctx context.Context) error {
	if s.IsActive() {
		s.Stop()
		return nil
	}
	return s.Start(ctx)
}

// SendText sends a typed user message and triggers a model response. The
// message is appended to the conversation immediately as a final turn; typed
// input has no streaming phase.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	transport := s.transport
	active := s.active
	s.mu.Unlock()
	if !active || transport == nil {
		return core.NewConfigurationError("session is not active")
	}

	item := types.ConversationItemCreate{
		Type: types.EventConversationItemCreate,
		Item: types.ConversationItem{
			ID:        uuid.NewString(),
			Type:      "message",
			Role:      string(types.RoleUser),
			Content:   []types.ItemContent{{Type: "input_text", Text: text}},
			Timestamp: time.Now().Format(time.RFC3339),
		},
	}
	if err := transport.Send(item); err != nil {
		return core.NewTransportError("send text message", err)
	}
	if err := transport.Send(types.ResponseCreate{Type: types.EventResponseCreate}); err != nil {
		return core.NewTransportError("send response trigger", err)
	}

	// The channel does not echo client-authored items, so fold the sent item
	// into the local projections directly.
	s.asm.Apply(types.ServerEvent{
		Type: types.EventConversationItemCreate,
		Item: &item.Item,
	})
	s.emit(&ConversationUpdatedEvent{})
	return nil
}

// Status returns the current human-readable status string.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsActive reports whether the session is established and consuming events.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CurrentVolume returns the most recent inbound RMS sample, 0.0 to 1.0.
func (s *Session) CurrentVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Conversation returns a snapshot of the assembled turn sequence.
func (s *Session) Conversation() []types.Turn { return s.asm.Conversation() }

// RawEvents returns a snapshot of the raw inbound event log.
func (s *Session) RawEvents() []types.RawEvent { return s.asm.RawEvents() }

// Usage returns the cumulative token accounting for this session.
func (s *Session) Usage() types.Usage { return s.asm.Usage() }

// pump consumes the transport's event stream until it closes. Runs as the
// session's single consumer goroutine; tool calls are dispatched inline so a
// call's result is sent before the next event is applied.
func (s *Session) pump(ctx context.Context, transport Transport) {
	for ev := range transport.Events() {
		s.debug("EVENT", ev.Type)
		call := s.asm.Apply(ev)
		s.emit(&ConversationUpdatedEvent{})
		if call == nil {
			continue
		}

		s.mu.Lock()
		dispatcher := s.dispatcher
		s.mu.Unlock()
		if dispatcher == nil {
			return
		}
		if err := dispatcher.Dispatch(ctx, *call); err != nil {
			s.endFromPump(transport, fmt.Sprintf("tool result delivery failed: %v", err))
			return
		}
	}
	s.endFromPump(transport, "control channel closed")
}

// endFromPump tears down when the transport dies underneath an active
// session. If the transport was already detached by Stop, the closure was
// deliberate and there is nothing to do.
func (s *Session) endFromPump(transport Transport, reason string) {
	s.mu.Lock()
	current := s.transport == transport
	s.mu.Unlock()
	if !current {
		return
	}
	s.teardown(reason)
}

// fail records the error status, tears down, and returns err unchanged. A
// stale epoch means Stop already tore the session down mid-start; its idle
// status must not be overwritten with an error.
func (s *Session) fail(epoch uint64, err error) error {
	s.debug("SESSION", err.Error())
	if !s.stale(epoch) {
		s.teardown(err.Error())
	}
	return err
}

// stale reports whether a Start holding epoch has been overtaken by Stop.
func (s *Session) stale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch != epoch
}

// teardown releases everything the session holds. A non-empty reason leaves
// an error status; otherwise the status goes idle. Safe to call repeatedly
// and from any goroutine.
func (s *Session) teardown(reason string) {
	s.mu.Lock()
	s.epoch++
	transport := s.transport
	cancel := s.cancel
	wasLive := s.active || s.connecting
	s.transport = nil
	s.dispatcher = nil
	s.cancel = nil
	s.active = false
	s.connecting = false
	s.volume = 0

	prev := s.status
	if reason != "" {
		s.status = errorStatusPrefix + reason
	} else {
		s.status = StatusStopped
	}
	status := s.status
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if transport != nil {
		transport.Close()
	}
	s.meter.Stop()
	s.asm.Reset()

	if status != prev {
		s.emit(&StatusChangedEvent{Status: status})
	}
	if wasLive {
		s.debug("SESSION", "session ended: "+status)
		s.emit(&SessionEndedEvent{Reason: reason})
	}
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()
	s.emit(&StatusChangedEvent{Status: status})
}

func (s *Session) setVolume(rms float64) {
	s.mu.Lock()
	s.volume = rms
	s.mu.Unlock()
	s.emit(&VolumeEvent{RMS: rms})
}

// emit delivers an event without blocking. If the consumer's buffer is full
// the event is dropped; snapshots remain the source of truth.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) debug(category, message string) {
	if !s.debugMode {
		return
	}
	fmt.Fprintf(os.Stderr, "[%s] %s\n", category, message)
	s.emit(&DebugEvent{Category: category, Message: message})
}
