// Package operator defines the event contract between an operator host and
// the surrounding node, together with the allocation and encoding policy for
// output payloads.
package operator

import (
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/sample"
)

// IncomingEvent is a tagged variant delivered to an operator host by the
// surrounding node.
type IncomingEvent interface {
	incomingEvent()
}

// StopEvent requests a clean shutdown of the operator. The current event, if
// any, completes first.
type StopEvent struct{}

// InputEvent carries a datum on a named input port. A nil Data means a
// zero-length payload.
type InputEvent struct {
	InputID  message.DataID
	Metadata message.Metadata
	Data     []byte
}

// InputClosedEvent signals that the named port will never deliver again.
type InputClosedEvent struct {
	InputID message.DataID
}

// ReloadEvent requests the host to re-read the operator implementation while
// preserving its state.
type ReloadEvent struct{}

func (StopEvent) incomingEvent()        {}
func (InputEvent) incomingEvent()       {}
func (InputClosedEvent) incomingEvent() {}
func (ReloadEvent) incomingEvent()      {}

// Event is a tagged variant produced by an operator host toward the node.
// For every operator run the events channel observes exactly one terminal
// event (FinishedEvent, ErrorEvent or PanicEvent), and it is the last one.
type Event interface {
	operatorEvent()
}

// OutputEvent publishes a datum on a named output port. Data is either a
// private buffer or a transport loan; after the event is enqueued the sample
// is owned by the consumer.
type OutputEvent struct {
	OutputID   message.DataID
	TypeInfo   message.ArrowTypeInfo
	Parameters message.Parameters
	Data       *sample.Sample
}

// AllocationResult is the reply to an AllocateOutputSample request.
type AllocationResult struct {
	Sample *sample.Sample
	Err    error
}

// AllocateOutputSample asks the node to loan a Len-byte transport region.
// Reply is a one-shot channel: it receives exactly one result and is never
// reused.
type AllocateOutputSample struct {
	Len   int
	Reply chan AllocationResult
}

// ErrorEvent reports a recoverable host failure; the operator is terminated.
type ErrorEvent struct {
	Err error
}

// PanicEvent reports an unrecovered panic; the payload is carried opaquely.
type PanicEvent struct {
	Payload any
}

// FinishedEvent reports normal termination.
type FinishedEvent struct {
	Reason StopReason
}

func (OutputEvent) operatorEvent()          {}
func (AllocateOutputSample) operatorEvent() {}
func (ErrorEvent) operatorEvent()           {}
func (PanicEvent) operatorEvent()           {}
func (FinishedEvent) operatorEvent()        {}
