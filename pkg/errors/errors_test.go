package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorWrapping(t *testing.T) {
	wrapped := NewError(CodeTransport, "failed to publish", ErrLayerClosed)

	if wrapped.Error() == "" {
		t.Error("wrapped error should have a message")
	}
	if !errors.Is(wrapped, ErrLayerClosed) {
		t.Error("wrapped error should match its cause")
	}
	if wrapped.Unwrap() != ErrLayerClosed {
		t.Error("Unwrap should return the original error")
	}
}

func TestErrorWithoutCause(t *testing.T) {
	err := NewError(CodeProtocol, "invalid status", nil)

	if err.Unwrap() != nil {
		t.Error("Unwrap should return nil when no cause is set")
	}
	if err.Error() != "[PROTOCOL] invalid status" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestCodeExtraction(t *testing.T) {
	err := NewError(CodeMarshal, "bad payload", nil)

	if Code(err) != CodeMarshal {
		t.Errorf("expected %s, got %s", CodeMarshal, Code(err))
	}
	if Code(fmt.Errorf("outer: %w", err)) != CodeMarshal {
		t.Error("Code should see through wrapping")
	}
	if Code(errors.New("plain")) != "" {
		t.Error("plain errors carry no code")
	}
	if Code(nil) != "" {
		t.Error("nil errors carry no code")
	}
}

func TestPredicates(t *testing.T) {
	if !IsMarshal(NewError(CodeMarshal, "m", nil)) {
		t.Error("IsMarshal should match marshal errors")
	}
	if IsMarshal(NewError(CodeTransport, "t", nil)) {
		t.Error("IsMarshal should not match transport errors")
	}
	if !IsTransport(NewError(CodeTransport, "t", nil)) {
		t.Error("IsTransport should match transport errors")
	}
}
