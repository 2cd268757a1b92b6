// Package telemetry serializes span contexts to and from the metadata field
// that propagates them across the dataflow.
package telemetry

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

var propagator = propagation.TraceContext{}

// Serialize encodes the span context carried by ctx into the
// open_telemetry_context string form: semicolon-separated key=value pairs.
func Serialize(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	keys := carrier.Keys()
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+carrier.Get(k))
	}
	return strings.Join(pairs, ";")
}

// Deserialize decodes a serialized span context into a new context derived
// from parent. Malformed input yields parent unchanged.
func Deserialize(parent context.Context, serialized string) context.Context {
	if serialized == "" {
		return parent
	}
	carrier := propagation.MapCarrier{}
	for _, pair := range strings.Split(serialized, ";") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		carrier.Set(key, value)
	}
	return propagator.Extract(parent, carrier)
}
