package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrEventsChannelClosed indicates that the surrounding node stopped
	// consuming operator events
	ErrEventsChannelClosed = errors.New("operator events channel closed")

	// ErrAllocationFailed indicates that the transport could not loan an
	// output sample
	ErrAllocationFailed = errors.New("output sample allocation failed")

	// ErrUnsupportedSource indicates an operator source kind without a host
	ErrUnsupportedSource = errors.New("unsupported operator source")

	// ErrInvalidStatus indicates that on_event returned an out-of-range status
	ErrInvalidStatus = errors.New("on_event returned an invalid status")

	// ErrInvalidDataType indicates that send_output received a payload that is
	// neither bytes nor an arrow array
	ErrInvalidDataType = errors.New("invalid `data` type, must be bytes or an arrow array")

	// ErrMissingOperatorClass indicates that the resolved module does not
	// define an Operator class
	ErrMissingOperatorClass = errors.New("no `Operator` class found in module")

	// ErrLayerClosed indicates that the communication layer has been torn down
	ErrLayerClosed = errors.New("communication layer is closed")
)

// Error codes, one per error cause.
const (
	CodeResolution = "RESOLUTION"
	CodeBind       = "BIND"
	CodeProtocol   = "PROTOCOL"
	CodeMarshal    = "MARSHAL"
	CodeTransport  = "TRANSPORT"
	CodeReload     = "RELOAD"
)

// Error represents a structured runtime error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new runtime error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Code extracts the error code from err, or "" if err carries none
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsMarshal checks if an error is a marshalling error. Marshalling errors are
// returned to the caller of send_output and are not automatically fatal.
func IsMarshal(err error) bool {
	return Code(err) == CodeMarshal
}

// IsTransport checks if an error is a transport error
func IsTransport(err error) bool {
	return Code(err) == CodeTransport
}
