package types

import (
	"encoding/json"
	"time"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem is reserved; the session core never emits it.
	RoleSystem Role = "system"
)

// TurnStatus is the finer-grained sub-state of a user turn, used for UI
// feedback independently of IsFinal.
type TurnStatus string

const (
	TurnSpeaking   TurnStatus = "speaking"
	TurnProcessing TurnStatus = "processing"
	TurnFinal      TurnStatus = "final"
)

// Turn is one contiguous unit of transcript attributable to a single speaker.
//
// Turns are append-only in position. Only the trailing turn of a role may be
// mutated while IsFinal is false; once IsFinal is true the text and status
// never change again.
type Turn struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	IsFinal   bool       `json:"isFinal"`
	Status    TurnStatus `json:"status,omitempty"`
}

// RawEvent is one entry of the unfiltered control-channel log, independent of
// transcript semantics. Role and Content are derived at classification time
// and exist only for diagnostics and usage display.
type RawEvent struct {
	Type     string          `json:"type"`
	Role     Role            `json:"role"`
	Content  string          `json:"content"`
	Received time.Time       `json:"received"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Usage is the cumulative token accounting reported by response.done events.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage report.
func (u *Usage) Add(other Usage) {
	u.TotalTokens += other.TotalTokens
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
