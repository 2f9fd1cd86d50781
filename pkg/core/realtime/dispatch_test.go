package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/voxa-go/voxa/pkg/core/types"
)

type sendRecorder struct {
	sent []any
	err  error
}

func (r *sendRecorder) send(v any) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, v)
	return nil
}

func TestDispatchSendsResultThenTrigger(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return map[string]string{"echo": in["msg"]}, nil
	})

	rec := &sendRecorder{}
	d := NewDispatcher(reg, rec.send, nil)

	err := d.Dispatch(context.Background(), ToolCall{
		Name:      "echo",
		CallID:    "call_9",
		Arguments: `{"msg":"hi"}`,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(rec.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(rec.sent))
	}

	item, ok := rec.sent[0].(types.ConversationItemCreate)
	if !ok {
		t.Fatalf("first send is %T, want ConversationItemCreate", rec.sent[0])
	}
	if item.Item.Type != "function_call_output" || item.Item.CallID != "call_9" {
		t.Errorf("item = %+v", item.Item)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(item.Item.Output), &out); err != nil {
		t.Fatalf("output not json: %v", err)
	}
	if out["echo"] != "hi" {
		t.Errorf("output = %v", out)
	}

	trigger, ok := rec.sent[1].(types.ResponseCreate)
	if !ok {
		t.Fatalf("second send is %T, want ResponseCreate", rec.sent[1])
	}
	if trigger.Type != types.EventResponseCreate {
		t.Errorf("trigger type = %q", trigger.Type)
	}
}

func TestDispatchUnknownToolSendsNothing(t *testing.T) {
	rec := &sendRecorder{}
	d := NewDispatcher(NewRegistry(), rec.send, nil)

	if err := d.Dispatch(context.Background(), ToolCall{Name: "missing"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(rec.sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(rec.sent))
	}
}

func TestDispatchFailingToolBecomesErrorResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})

	rec := &sendRecorder{}
	d := NewDispatcher(reg, rec.send, nil)

	if err := d.Dispatch(context.Background(), ToolCall{Name: "broken", CallID: "c"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(rec.sent) != 2 {
		t.Fatalf("expected result and trigger, got %d sends", len(rec.sent))
	}

	item := rec.sent[0].(types.ConversationItemCreate)
	var result types.ToolResult
	if err := json.Unmarshal([]byte(item.Item.Output), &result); err != nil {
		t.Fatalf("output not json: %v", err)
	}
	if result.Success {
		t.Error("failed tool must report success=false")
	}
	if result.Message == "" {
		t.Error("failed tool must carry a message")
	}
}

func TestDispatchPanickingToolBecomesErrorResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register("panicky", func(ctx context.Context, args json.RawMessage) (any, error) {
		panic("nope")
	})

	rec := &sendRecorder{}
	d := NewDispatcher(reg, rec.send, nil)

	if err := d.Dispatch(context.Background(), ToolCall{Name: "panicky"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	item := rec.sent[0].(types.ConversationItemCreate)
	var result types.ToolResult
	if err := json.Unmarshal([]byte(item.Item.Output), &result); err != nil {
		t.Fatalf("output not json: %v", err)
	}
	if result.Success {
		t.Error("panicking tool must report success=false")
	}
}

func TestDispatchEmptyArgumentsBecomeEmptyObject(t *testing.T) {
	reg := NewRegistry()
	var got json.RawMessage
	reg.Register("noargs", func(ctx context.Context, args json.RawMessage) (any, error) {
		got = args
		return types.ToolResult{Success: true}, nil
	})

	rec := &sendRecorder{}
	d := NewDispatcher(reg, rec.send, nil)
	if err := d.Dispatch(context.Background(), ToolCall{Name: "noargs"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("args = %q, want {}", got)
	}
}

func TestDispatchSendErrorPropagates(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ok", func(ctx context.Context, args json.RawMessage) (any, error) {
		return types.ToolResult{Success: true}, nil
	})

	rec := &sendRecorder{err: errors.New("channel gone")}
	d := NewDispatcher(reg, rec.send, nil)
	if err := d.Dispatch(context.Background(), ToolCall{Name: "ok"}); err == nil {
		t.Fatal("expected send failure to propagate")
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register("t", func(ctx context.Context, args json.RawMessage) (any, error) { return 1, nil })
	reg.Register("t", func(ctx context.Context, args json.RawMessage) (any, error) { return 2, nil })

	fn, ok := reg.Lookup("t")
	if !ok {
		t.Fatal("lookup failed")
	}
	out, _ := fn(context.Background(), nil)
	if out != 2 {
		t.Errorf("got %v, want the later registration", out)
	}

	reg.Register("t", nil)
	if _, ok := reg.Lookup("t"); ok {
		t.Error("nil registration must remove the name")
	}

	reg.Register("b", func(ctx context.Context, args json.RawMessage) (any, error) { return nil, nil })
	reg.Register("a", func(ctx context.Context, args json.RawMessage) (any, error) { return nil, nil })
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names = %v, want sorted [a b]", names)
	}
}
