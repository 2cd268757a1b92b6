package operator

import "github.com/wehubfusion/daedalus/pkg/message"

// SourceKind selects the host implementation for an operator.
type SourceKind string

const (
	// SourceSharedLibrary loads the operator from a compiled plugin.
	SourceSharedLibrary SourceKind = "shared-library"
	// SourceScript loads the operator from an embedded-interpreter module.
	SourceScript SourceKind = "script"
	// SourceWasm is reserved and currently unsupported.
	SourceWasm SourceKind = "wasm"
)

// Source locates an operator implementation. URI is either a local filesystem
// path or a URL downloaded on first resolution.
type Source struct {
	Kind SourceKind
	URI  string
}

// Definition is everything the runtime needs to spawn one operator.
type Definition struct {
	ID     message.OperatorID
	Source Source
}
