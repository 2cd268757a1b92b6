// Package message defines the identifiers, metadata and payload layout types
// that travel with every input and output of an operator.
package message

import (
	"fmt"
)

// NodeID identifies the node process that owns one or more operators.
type NodeID string

// OperatorID identifies one operator within a node.
type OperatorID string

// DataID names an input or output port of an operator.
type DataID string

func (id NodeID) String() string     { return string(id) }
func (id OperatorID) String() string { return string(id) }
func (id DataID) String() string     { return string(id) }

// OpenTelemetryContextKey is the reserved metadata key carrying the serialized
// span context.
const OpenTelemetryContextKey = "open_telemetry_context"

// Parameters is the owned key-value bundle attached to an output. It carries
// one mandatory field, the serialized telemetry context, plus an open set of
// user parameters restricted to scalar values.
type Parameters struct {
	OpenTelemetryContext string         `json:"open_telemetry_context"`
	User                 map[string]any `json:"user,omitempty"`
}

// Metadata is the bundle delivered alongside an input.
type Metadata struct {
	Parameters Parameters `json:"parameters"`
}

// DefaultParameters returns an empty parameter set with the default telemetry
// context.
func DefaultParameters() Parameters {
	return Parameters{}
}

// Clone returns a deep copy of the parameters.
func (p Parameters) Clone() Parameters {
	out := Parameters{OpenTelemetryContext: p.OpenTelemetryContext}
	if p.User != nil {
		out.User = make(map[string]any, len(p.User))
		for k, v := range p.User {
			out.User[k] = v
		}
	}
	return out
}

// ToMap projects the parameters into a plain map, the form operators observe.
func (p Parameters) ToMap() map[string]any {
	out := make(map[string]any, len(p.User)+1)
	for k, v := range p.User {
		out[k] = v
	}
	out[OpenTelemetryContextKey] = p.OpenTelemetryContext
	return out
}

// ToMap projects the metadata into a plain map.
func (m Metadata) ToMap() map[string]any {
	return m.Parameters.ToMap()
}

// ParametersFromMap converts a user-supplied metadata map into owned
// parameters. Values must be scalars; the telemetry context key is lifted
// into its dedicated field.
func ParametersFromMap(m map[string]any) (Parameters, error) {
	p := Parameters{}
	if len(m) == 0 {
		return p, nil
	}
	p.User = make(map[string]any, len(m))
	for k, v := range m {
		if k == OpenTelemetryContextKey {
			s, ok := v.(string)
			if !ok {
				return Parameters{}, fmt.Errorf("metadata %q must be a string, got %T", k, v)
			}
			p.OpenTelemetryContext = s
			continue
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64, nil:
			p.User[k] = v
		default:
			return Parameters{}, fmt.Errorf("metadata value for %q must be a scalar, got %T", k, v)
		}
	}
	if len(p.User) == 0 {
		p.User = nil
	}
	return p, nil
}
