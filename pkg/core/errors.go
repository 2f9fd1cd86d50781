package core

import (
	"fmt"
)

// Error represents a session-level error.
type Error struct {
	Type           ErrorType `json:"type"`
	Message        string    `json:"message"`
	UpstreamStatus int       `json:"upstream_status,omitempty"`
	UpstreamBody   string    `json:"upstream_body,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	underlying     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Type, e.Message, e.UpstreamStatus)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConfiguration means a required setting (typically the long-lived API
	// key) is absent. Fatal to session start; there is nothing to retry.
	ErrConfiguration ErrorType = "configuration_error"
	// ErrPermission means the platform refused microphone access.
	ErrPermission ErrorType = "permission_error"
	// ErrUpstreamRejected means the credential or negotiation endpoint
	// returned a non-success status.
	ErrUpstreamRejected ErrorType = "upstream_rejected"
	// ErrMalformedEvent means a control-channel frame failed to parse.
	// The frame is dropped; the session continues.
	ErrMalformedEvent ErrorType = "malformed_event"
	// ErrToolExecution means a registered tool function failed. Converted to
	// a success:false result and sent to the model; never fatal.
	ErrToolExecution ErrorType = "tool_execution_error"
	// ErrTransport covers connection-level failures during setup or teardown.
	ErrTransport ErrorType = "transport_error"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *Error {
	return &Error{Type: ErrConfiguration, Message: message}
}

// NewPermissionError creates a microphone permission error.
func NewPermissionError(message string, underlying error) *Error {
	return &Error{Type: ErrPermission, Message: message, underlying: underlying}
}

// NewUpstreamRejectedError creates an error for a non-2xx upstream response.
// The status and body are carried for diagnosis.
func NewUpstreamRejectedError(message string, status int, body string) *Error {
	return &Error{
		Type:           ErrUpstreamRejected,
		Message:        message,
		UpstreamStatus: status,
		UpstreamBody:   body,
	}
}

// NewMalformedEventError creates an error for an undecodable control frame.
func NewMalformedEventError(underlying error) *Error {
	return &Error{
		Type:       ErrMalformedEvent,
		Message:    fmt.Sprintf("drop undecodable control frame: %v", underlying),
		underlying: underlying,
	}
}

// NewToolExecutionError creates an error for a failed tool invocation.
func NewToolExecutionError(tool string, underlying error) *Error {
	return &Error{
		Type:       ErrToolExecution,
		Message:    fmt.Sprintf("tool %q failed: %v", tool, underlying),
		Tool:       tool,
		underlying: underlying,
	}
}

// NewTransportError creates a connection-level error.
func NewTransportError(message string, underlying error) *Error {
	if underlying != nil {
		message = fmt.Sprintf("%s: %v", message, underlying)
	}
	return &Error{Type: ErrTransport, Message: message, underlying: underlying}
}

// IsFatal reports whether the error terminates the current session.
// Malformed events and tool failures are absorbed; everything else routes
// through the single teardown path.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrMalformedEvent, ErrToolExecution:
		return false
	default:
		return true
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.underlying
}
