package core

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFatality(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		fatal bool
	}{
		{"configuration", NewConfigurationError("missing key"), true},
		{"permission", NewPermissionError("mic denied", nil), true},
		{"upstream", NewUpstreamRejectedError("rejected", 401, ""), true},
		{"transport", NewTransportError("dial failed", nil), true},
		{"malformed event", NewMalformedEventError(errors.New("bad json")), false},
		{"tool execution", NewToolExecutionError("clock", errors.New("boom")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsFatal(); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestErrorMessageIncludesStatus(t *testing.T) {
	err := NewUpstreamRejectedError("minting rejected", 403, `{"reason":"quota"}`)
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("Error() = %q, want the status included", err.Error())
	}
	if err.UpstreamBody != `{"reason":"quota"}` {
		t.Errorf("body = %q", err.UpstreamBody)
	}
}

func TestErrorUnwrap(t *testing.T) {
	underlying := errors.New("root cause")
	err := NewToolExecutionError("clock", underlying)
	if !errors.Is(err, underlying) {
		t.Error("errors.Is must reach the underlying error")
	}
	if err.Tool != "clock" {
		t.Errorf("tool = %q", err.Tool)
	}
}
