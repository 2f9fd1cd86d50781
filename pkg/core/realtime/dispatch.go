package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	core "github.com/voxa-go/voxa/pkg/core"
	"github.com/voxa-go/voxa/pkg/core/types"
)

// Dispatcher runs completed function calls against the registry and sends
// the results back over the control channel.
type Dispatcher struct {
	registry *Registry
	send     func(v any) error
	debug    func(category, message string)
}

// NewDispatcher creates a dispatcher sending through send.
func NewDispatcher(registry *Registry, send func(v any) error, debug func(category, message string)) *Dispatcher {
	if debug == nil {
		debug = func(string, string) {}
	}
	return &Dispatcher{registry: registry, send: send, debug: debug}
}

// Dispatch invokes the named function and emits, in order, the function
// result item and the response trigger. An unregistered name is ignored.
// A failing function becomes a success:false result; tool failures never
// reach the transport as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) error {
	fn, ok := d.registry.Lookup(call.Name)
	if !ok {
		d.debug("TOOL", fmt.Sprintf("no function registered for %q, ignoring", call.Name))
		return nil
	}

	result := d.invoke(ctx, fn, call)

	output, err := json.Marshal(result)
	if err != nil {
		d.debug("TOOL", fmt.Sprintf("result for %q not serializable: %v", call.Name, err))
		output, _ = json.Marshal(types.ToolResult{
			Success: false,
			Message: fmt.Sprintf("tool result not serializable: %v", err),
		})
	}

	item := types.ConversationItemCreate{
		Type: types.EventConversationItemCreate,
		Item: types.ConversationItem{
			Type:   "function_call_output",
			CallID: call.CallID,
			Output: string(output),
		},
	}
	if err := d.send(item); err != nil {
		return fmt.Errorf("send function result: %w", err)
	}

	// The response trigger is what makes the model speak after a tool call;
	// it must follow the result on the same channel.
	if err := d.send(types.ResponseCreate{Type: types.EventResponseCreate}); err != nil {
		return fmt.Errorf("send response trigger: %w", err)
	}

	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, fn types.ToolFunc, call ToolCall) (result any) {
	// A panicking tool must not take down the control channel.
	defer func() {
		if r := recover(); r != nil {
			err := core.NewToolExecutionError(call.Name, fmt.Errorf("panic: %v", r))
			d.debug("TOOL", err.Message)
			result = types.ToolResult{Success: false, Message: err.Message}
		}
	}()

	args := call.Arguments
	if args == "" {
		args = "{}"
	}

	out, err := fn(ctx, json.RawMessage(args))
	if err != nil {
		toolErr := core.NewToolExecutionError(call.Name, err)
		d.debug("TOOL", toolErr.Message)
		return types.ToolResult{Success: false, Message: toolErr.Message}
	}
	return out
}
