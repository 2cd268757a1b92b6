package sample

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAlignedAlignment(t *testing.T) {
	for _, n := range []int{1, 7, 128, 4096, 4097} {
		s := NewAligned(n)
		require.Equal(t, n, s.Len())

		addr := uintptr(unsafe.Pointer(&s.Bytes()[0]))
		assert.Zero(t, addr%Alignment, "sample of %d bytes not %d-byte aligned", n, Alignment)
		s.Close()
	}
}

func TestNewAlignedZeroInitialized(t *testing.T) {
	s := NewAligned(256)
	defer s.Close()

	for i, b := range s.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d not zero-initialized", i)
		}
	}
}

func TestNewAlignedZeroLength(t *testing.T) {
	s := NewAligned(0)
	defer s.Close()

	assert.Zero(t, s.Len())
}

func TestCloseReleasesLoanExactlyOnce(t *testing.T) {
	released := 0
	s := NewLoaned(make([]byte, 16), func() { released++ })

	s.Close()
	s.Close()

	assert.Equal(t, 1, released)
	assert.Nil(t, s.Bytes())
}

func TestLoanedWithoutRelease(t *testing.T) {
	s := NewLoaned(make([]byte, 8), nil)
	assert.Equal(t, 8, s.Len())
	s.Close()
	s.Close()
}
