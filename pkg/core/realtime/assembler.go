package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxa-go/voxa/pkg/core/types"
)

// processingPlaceholder is shown on the ephemeral user turn between audio
// commit and the first transcription result.
const processingPlaceholder = "Processing speech..."

// speakingPlaceholder is shown when a partial transcription arrives with no
// usable text yet.
const speakingPlaceholder = "User is speaking..."

// ToolCall identifies a completed function call the dispatcher must run.
type ToolCall struct {
	Name      string
	CallID    string
	Arguments string
}

// Assembler folds the ordered inbound event stream into two projections: the
// raw event log and the conversation. It never blocks and is safe for
// concurrent snapshot reads, but Apply must be driven by a single goroutine
// so transcript updates happen strictly in delivery order.
type Assembler struct {
	mu    sync.Mutex
	turns []types.Turn
	raw   []types.RawEvent
	usage types.Usage

	// ephemeralIdx locates the single in-progress user turn by position, not
	// by scanning. Turns are append-only so the index stays valid until the
	// turn finalizes or the session resets.
	ephemeralIdx int

	now   func() time.Time
	newID func() string
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		ephemeralIdx: -1,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Apply classifies one event, updates the projections, and reports whether a
// tool call must be dispatched. Unknown event types have no transcript
// effect but still reach the raw log.
func (a *Assembler) Apply(ev types.ServerEvent) *ToolCall {
	a.mu.Lock()
	defer a.mu.Unlock()

	var call *ToolCall

	switch ev.Type {
	case types.EventSpeechStarted:
		// Barge-in: a new utterance while the assistant turn is still open
		// forces that turn final before the user turn is created.
		a.finalizeTrailingAssistant()
		a.getOrCreateEphemeral()
		a.updateEphemeralStatus(types.TurnSpeaking)

	case types.EventSpeechStopped:
		// Stop does not imply transcript finality.
		a.updateEphemeralStatus(types.TurnSpeaking)

	case types.EventAudioCommitted:
		if idx := a.ephemeralIdx; idx >= 0 {
			a.turns[idx].Text = processingPlaceholder
			a.turns[idx].Status = types.TurnProcessing
		}

	case types.EventPartialTranscription:
		if idx := a.ephemeralIdx; idx >= 0 {
			text := ev.Transcript
			if text == "" {
				text = ev.Text
			}
			if text == "" {
				text = speakingPlaceholder
			}
			a.turns[idx].Text = text
			a.turns[idx].Status = types.TurnSpeaking
			a.turns[idx].IsFinal = false
		}

	case types.EventFinalTranscription:
		if idx := a.ephemeralIdx; idx >= 0 {
			a.turns[idx].Text = ev.Transcript
			a.turns[idx].IsFinal = true
			a.turns[idx].Status = types.TurnFinal
			a.ephemeralIdx = -1
		}

	case types.EventAssistantTextDelta:
		if n := len(a.turns); n > 0 && a.turns[n-1].Role == types.RoleAssistant && !a.turns[n-1].IsFinal {
			a.turns[n-1].Text += ev.Delta
		} else {
			a.turns = append(a.turns, types.Turn{
				ID:        a.newID(),
				Role:      types.RoleAssistant,
				Text:      ev.Delta,
				Timestamp: a.now(),
				IsFinal:   false,
			})
		}

	case types.EventAssistantTextDone:
		if n := len(a.turns); n > 0 {
			a.turns[n-1].IsFinal = true
		}

	case types.EventConversationItemCreate:
		// Typed input has no streaming phase: append already final,
		// bypassing the ephemeral mechanism.
		if text, ok := ev.Item.UserText(); ok {
			turn := types.Turn{
				ID:        ev.Item.ID,
				Role:      types.RoleUser,
				Text:      text,
				Timestamp: a.now(),
				IsFinal:   true,
				Status:    types.TurnFinal,
			}
			if turn.ID == "" {
				turn.ID = a.newID()
			}
			if ts, err := time.Parse(time.RFC3339, ev.Item.Timestamp); err == nil {
				turn.Timestamp = ts
			}
			a.turns = append(a.turns, turn)
		}

	case types.EventFunctionCallDone:
		call = &ToolCall{Name: ev.Name, CallID: ev.CallID, Arguments: ev.Arguments}

	case types.EventResponseDone:
		if ev.Response != nil && ev.Response.Usage != nil {
			a.usage.Add(*ev.Response.Usage)
		}
	}

	a.raw = append(a.raw, types.RawEvent{
		Type:     ev.Type,
		Role:     ev.DerivedRole(),
		Content:  ev.DerivedContent(),
		Received: a.now(),
		Payload:  ev.Raw,
	})

	return call
}

// getOrCreateEphemeral ensures the single in-progress user turn exists. A
// second speech-started before the first resolves is a continuation of the
// same turn, never a second one.
func (a *Assembler) getOrCreateEphemeral() {
	if a.ephemeralIdx >= 0 {
		return
	}
	a.turns = append(a.turns, types.Turn{
		ID:        a.newID(),
		Role:      types.RoleUser,
		Timestamp: a.now(),
		IsFinal:   false,
		Status:    types.TurnSpeaking,
	})
	a.ephemeralIdx = len(a.turns) - 1
}

func (a *Assembler) updateEphemeralStatus(status types.TurnStatus) {
	if idx := a.ephemeralIdx; idx >= 0 {
		a.turns[idx].Status = status
	}
}

func (a *Assembler) finalizeTrailingAssistant() {
	if n := len(a.turns); n > 0 && a.turns[n-1].Role == types.RoleAssistant && !a.turns[n-1].IsFinal {
		a.turns[n-1].IsFinal = true
	}
}

// Conversation returns a snapshot of the turn sequence.
func (a *Assembler) Conversation() []types.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// RawEvents returns a snapshot of the raw event log.
func (a *Assembler) RawEvents() []types.RawEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.RawEvent, len(a.raw))
	copy(out, a.raw)
	return out
}

// Usage returns the cumulative token accounting.
func (a *Assembler) Usage() types.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Reset clears both projections and the ephemeral reference. Called on
// session stop; nothing survives across sessions.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = nil
	a.raw = nil
	a.usage = types.Usage{}
	a.ephemeralIdx = -1
}
