// Package library hosts shared-library operators. The contract mirrors the
// scripted one through a Go-native interface: identical status codes,
// identical event semantics, only the marshalling at the call boundary
// differs.
package library

import (
	"github.com/wehubfusion/daedalus/pkg/message"
	"github.com/wehubfusion/daedalus/pkg/operator"
)

// SendOutput publishes one output from the operator. data is either raw
// bytes or an arrow array; params travel with the output.
type SendOutput func(outputID message.DataID, data any, params message.Parameters) error

// Operator is the contract a shared-library operator exposes.
type Operator interface {
	// OnEvent handles one incoming event. The returned status drives the
	// host loop; an error terminates the operator unless a reload is in
	// progress.
	OnEvent(event operator.IncomingEvent, send SendOutput) (operator.Status, error)
}

// StateCarrier is implemented by operators that keep state across hot
// reloads. On reload the host hands the previous instance's state to the
// fresh one; saved values take precedence over whatever the new constructor
// initialized.
type StateCarrier interface {
	SaveState() map[string]any
	RestoreState(state map[string]any)
}

// Factory constructs a fresh operator instance.
type Factory func() (Operator, error)

// Loader resolves an operator source path to a factory. The default loader
// opens Go plugins; tests and embedders may provide their own.
type Loader interface {
	Load(path string) (Factory, error)
}
