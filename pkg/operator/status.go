package operator

// Status is the return code of an operator's on_event handler. Any other
// value is a fatal protocol error.
type Status int64

const (
	StatusContinue Status = 0
	StatusStop     Status = 1
	StatusStopAll  Status = 2
)

// Valid reports whether s is one of the defined status codes.
func (s Status) Valid() bool {
	return s == StatusContinue || s == StatusStop || s == StatusStopAll
}

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "CONTINUE"
	case StatusStop:
		return "STOP"
	case StatusStopAll:
		return "STOP_ALL"
	default:
		return "INVALID"
	}
}

// StopReason records why an operator's event loop exited.
type StopReason int

const (
	// StopReasonInputsClosed means the incoming channel closed.
	StopReasonInputsClosed StopReason = iota
	// StopReasonExplicitStop means the operator returned Stop.
	StopReasonExplicitStop
	// StopReasonExplicitStopAll means the operator requested that the entire
	// dataflow stop.
	StopReasonExplicitStopAll
)

func (r StopReason) String() string {
	switch r {
	case StopReasonInputsClosed:
		return "inputs closed"
	case StopReasonExplicitStop:
		return "explicit stop"
	case StopReasonExplicitStopAll:
		return "explicit stop-all"
	default:
		return "unknown"
	}
}
