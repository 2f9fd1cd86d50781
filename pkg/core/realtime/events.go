package realtime

// Event is the interface for session notifications delivered to the host
// application. The conversation, raw log and volume are read through the
// session's accessors; these events only signal that something changed.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StatusChangedEvent is emitted when the session status string changes.
type StatusChangedEvent struct {
	Status string `json:"status"`
}

func (e *StatusChangedEvent) EventType() string { return "status.changed" }

// ConversationUpdatedEvent is emitted after an inbound control-channel event
// was folded into the conversation or raw log.
type ConversationUpdatedEvent struct{}

func (e *ConversationUpdatedEvent) EventType() string { return "conversation.updated" }

// VolumeEvent is emitted on each volume sampling tick.
type VolumeEvent struct {
	RMS float64 `json:"rms"`
}

func (e *VolumeEvent) EventType() string { return "volume.level" }

// SessionEndedEvent is emitted once per teardown.
type SessionEndedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionEndedEvent) EventType() string { return "session.ended" }

// DebugEvent is emitted for debugging information when debug mode is on.
type DebugEvent struct {
	Category string `json:"category"` // SESSION, TRANSPORT, EVENT, TOOL, AUDIO
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }
