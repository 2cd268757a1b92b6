// Package descriptor carries the opaque dataflow description that is handed
// to every operator at initialization and exposed to it as a read-only
// attribute.
package descriptor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Descriptor is an opaque tree describing the dataflow an operator belongs to.
type Descriptor struct {
	tree map[string]any
}

// New wraps an already-parsed descriptor tree.
func New(tree map[string]any) *Descriptor {
	return &Descriptor{tree: tree}
}

// FromYAML parses a descriptor from its YAML form.
func FromYAML(data []byte) (*Descriptor, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse dataflow descriptor: %w", err)
	}
	return &Descriptor{tree: tree}, nil
}

// FromFile reads and parses a descriptor from a YAML file.
func FromFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataflow descriptor: %w", err)
	}
	return FromYAML(data)
}

// Tree returns a deep copy of the descriptor tree, so callers can project it
// into an interpreter without exposing the original to mutation.
func (d *Descriptor) Tree() map[string]any {
	if d == nil || d.tree == nil {
		return nil
	}
	copied, _ := deepCopy(d.tree).(map[string]any)
	return copied
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
