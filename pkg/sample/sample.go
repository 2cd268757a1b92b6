// Package sample provides the uniquely owned byte regions used as output
// payloads. A sample is either a private aligned buffer or a loan from the
// transport; the discriminant is hidden behind the Sample type and release
// goes through the same interface regardless.
package sample

import "unsafe"

// Alignment is the byte alignment guaranteed for every sample.
const Alignment = 128

// Sample is a uniquely owned, writable, 128-byte-aligned byte region. There
// is exactly one writer until the sample is handed to the transport inside an
// output event; after that only the consumer touches it.
type Sample struct {
	data    []byte
	release func()
	closed  bool
}

// NewAligned allocates a private zero-initialized sample of exactly n bytes.
func NewAligned(n int) *Sample {
	buf := make([]byte, n+Alignment)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	pad := int((Alignment - addr%Alignment) % Alignment)
	return &Sample{data: buf[pad : pad+n : pad+n]}
}

// NewLoaned wraps a transport-loaned region. release is invoked exactly once
// when the sample is closed; it may be nil.
func NewLoaned(data []byte, release func()) *Sample {
	return &Sample{data: data, release: release}
}

// Bytes returns the writable region.
func (s *Sample) Bytes() []byte {
	return s.data
}

// Len returns the region length in bytes.
func (s *Sample) Len() int {
	return len(s.data)
}

// Close releases the sample. Closing twice is a no-op.
func (s *Sample) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.data = nil
}
