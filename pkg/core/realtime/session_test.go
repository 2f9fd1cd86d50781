package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxa-go/voxa/pkg/core/types"
)

type fakeCreds struct {
	token string
	err   error
	mints int
}

func (f *fakeCreds) MintToken(ctx context.Context) (string, error) {
	f.mints++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeTransport struct {
	mu         sync.Mutex
	events     chan types.ServerEvent
	sent       []any
	hello      any
	token      string
	closed     bool
	connectErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan types.ServerEvent, 64)}
}

func (f *fakeTransport) Connect(ctx context.Context, token string, hello any) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.token = token
	f.hello = hello
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Events() <-chan types.ServerEvent { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) emit(ev types.ServerEvent) { f.events <- ev }

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestSession(t *testing.T, creds *fakeCreds, transport *fakeTransport) *Session {
	t.Helper()
	factory := func(cfg Config, pcm PCMWriter) (Transport, error) {
		return transport, nil
	}
	s, err := NewSession(DefaultConfig(), creds, factory)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionStartEstablishes(t *testing.T) {
	creds := &fakeCreds{token: "ek_test"}
	transport := newFakeTransport()
	s := newTestSession(t, creds, transport)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !s.IsActive() {
		t.Error("session must be active after start")
	}
	if got := s.Status(); got != StatusEstablished {
		t.Errorf("status = %q, want %q", got, StatusEstablished)
	}
	if creds.mints != 1 {
		t.Errorf("mints = %d, want 1", creds.mints)
	}
	if transport.token != "ek_test" {
		t.Errorf("transport token = %q", transport.token)
	}

	hello, ok := transport.hello.(types.SessionUpdate)
	if !ok {
		t.Fatalf("hello is %T, want SessionUpdate", transport.hello)
	}
	if hello.Type != types.EventSessionUpdate {
		t.Errorf("hello type = %q", hello.Type)
	}
	if hello.Session.Voice != DefaultConfig().Voice {
		t.Errorf("hello voice = %q", hello.Session.Voice)
	}
	if hello.Session.Tools == nil {
		t.Error("hello tools must be present even when empty")
	}
}

func TestSessionStartTwiceFails(t *testing.T) {
	s := newTestSession(t, &fakeCreds{token: "t"}, newFakeTransport())
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second start must fail")
	}
}

func TestSessionMintFailure(t *testing.T) {
	s := newTestSession(t, &fakeCreds{err: errors.New("upstream says no")}, newFakeTransport())

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if s.IsActive() {
		t.Error("session must not be active after a failed start")
	}
	if got := s.Status(); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("status = %q, want an error status", got)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = errors.New("no route")
	s := newTestSession(t, &fakeCreds{token: "t"}, transport)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if !transport.closed {
		t.Error("transport must be closed after a failed connect")
	}
	if got := s.Status(); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("status = %q, want an error status", got)
	}
}

func TestSessionEventsReachConversation(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, &fakeCreds{token: "t"}, transport)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transport.emit(types.ServerEvent{Type: types.EventAssistantTextDelta, Delta: "hey"})
	transport.emit(types.ServerEvent{Type: types.EventAssistantTextDone})

	waitFor(t, "assistant turn", func() bool {
		turns := s.Conversation()
		return len(turns) == 1 && turns[0].IsFinal && turns[0].Text == "hey"
	})
	if len(s.RawEvents()) != 2 {
		t.Errorf("raw log entries = %d, want 2", len(s.RawEvents()))
	}
}

func TestSessionDispatchesToolCalls(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, &fakeCreds{token: "t"}, transport)
	defer s.Stop()

	s.RegisterFunction("ping", func(ctx context.Context, args json.RawMessage) (any, error) {
		return types.ToolResult{Success: true, Message: "pong"}, nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transport.emit(types.ServerEvent{
		Type:   types.EventFunctionCallDone,
		Name:   "ping",
		CallID: "call_1",
	})

	waitFor(t, "tool result and trigger", func() bool {
		return transport.sentCount() == 2
	})

	transport.mu.Lock()
	defer transport.mu.Unlock()
	item, ok := transport.sent[0].(types.ConversationItemCreate)
	if !ok || item.Item.CallID != "call_1" {
		t.Errorf("first send = %+v", transport.sent[0])
	}
	if _, ok := transport.sent[1].(types.ResponseCreate); !ok {
		t.Errorf("second send = %+v", transport.sent[1])
	}
}

func TestSessionSendText(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, &fakeCreds{token: "t"}, transport)
	defer s.Stop()

	if err := s.SendText("too early"); err == nil {
		t.Fatal("SendText before start must fail")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.SendText("hello there"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if transport.sentCount() != 2 {
		t.Fatalf("sends = %d, want item and trigger", transport.sentCount())
	}

	turns := s.Conversation()
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want 1", len(turns))
	}
	if turns[0].Role != types.RoleUser || !turns[0].IsFinal || turns[0].Text != "hello there" {
		t.Errorf("turn = %+v", turns[0])
	}
}

func TestSessionStopTwiceLeavesIdle(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, &fakeCreds{token: "t"}, transport)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	transport.emit(types.ServerEvent{Type: types.EventAssistantTextDelta, Delta: "x"})
	waitFor(t, "event applied", func() bool { return len(s.RawEvents()) == 1 })

	s.Stop()
	s.Stop()

	if s.IsActive() {
		t.Error("stopped session must be inactive")
	}
	if got := s.Status(); got != StatusStopped {
		t.Errorf("status = %q, want %q", got, StatusStopped)
	}
	if len(s.Conversation()) != 0 || len(s.RawEvents()) != 0 {
		t.Error("stop must clear conversation and raw log")
	}
	if s.CurrentVolume() != 0 {
		t.Error("stop must zero the volume")
	}
	if !transport.closed {
		t.Error("stop must close the transport")
	}
}

func TestSessionTransportDeathTearsDown(t *testing.T) {
	transport := newFakeTransport()
	s := newTestSession(t, &fakeCreds{token: "t"}, transport)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Server-side drop: the event stream ends without Stop being called.
	transport.Close()

	waitFor(t, "teardown", func() bool { return !s.IsActive() })
	if got := s.Status(); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("status = %q, want an error status", got)
	}
}

func TestSessionToggle(t *testing.T) {
	s := newTestSession(t, &fakeCreds{token: "t"}, newFakeTransport())

	if err := s.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !s.IsActive() {
		t.Fatal("toggle from idle must start")
	}
	if err := s.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if s.IsActive() {
		t.Fatal("toggle from active must stop")
	}
}

// blockingCreds parks MintToken until released, so a test can interleave
// Stop with an in-flight Start.
type blockingCreds struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCreds) MintToken(ctx context.Context) (string, error) {
	b.entered <- struct{}{}
	<-b.release
	return "ek_late", nil
}

func TestSessionStopDuringStart(t *testing.T) {
	creds := &blockingCreds{entered: make(chan struct{}, 1), release: make(chan struct{})}
	transport := newFakeTransport()
	factory := func(cfg Config, pcm PCMWriter) (Transport, error) {
		return transport, nil
	}
	s, err := NewSession(DefaultConfig(), creds, factory)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(context.Background()) }()

	<-creds.entered
	s.Stop()
	close(creds.release)

	if err := <-startErr; err == nil {
		t.Fatal("start overtaken by stop must fail")
	}
	if s.IsActive() {
		t.Error("session must not be active after stop")
	}
	if got := s.Status(); got != StatusStopped {
		t.Errorf("status = %q, want %q", got, StatusStopped)
	}
	if transport.token != "" {
		t.Error("stale start must not connect the transport")
	}

	// The same session must still start cleanly afterwards.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s.Stop()
	if !s.IsActive() {
		t.Error("session must be active after restart")
	}
}

func TestSessionRestartMintsFreshToken(t *testing.T) {
	creds := &fakeCreds{token: "t"}
	first := newFakeTransport()
	second := newFakeTransport()
	transports := []*fakeTransport{first, second}
	i := 0
	factory := func(cfg Config, pcm PCMWriter) (Transport, error) {
		tr := transports[i]
		i++
		return tr, nil
	}
	s, err := NewSession(DefaultConfig(), creds, factory)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	s.Stop()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if creds.mints != 2 {
		t.Errorf("mints = %d, want one per start", creds.mints)
	}
}
