package operator

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/sample"
)

func TestAllocateBelowThresholdIsPrivate(t *testing.T) {
	events := make(chan Event, 1)
	alloc := SampleAllocator{Events: events, Done: make(chan struct{})}

	smp, err := alloc.Allocate(ZeroCopyThreshold)
	require.NoError(t, err)
	defer smp.Close()

	assert.Equal(t, ZeroCopyThreshold, smp.Len())
	addr := uintptr(unsafe.Pointer(&smp.Bytes()[0]))
	assert.Zero(t, addr%sample.Alignment)

	select {
	case ev := <-events:
		t.Fatalf("small allocation must not reach the transport, got %T", ev)
	default:
	}
}

func TestAllocateAboveThresholdRequestsLoan(t *testing.T) {
	events := make(chan Event, 1)
	alloc := SampleAllocator{Events: events, Done: make(chan struct{})}

	loan := sample.NewAligned(ZeroCopyThreshold + 1)
	go func() {
		ev := <-events
		req, ok := ev.(AllocateOutputSample)
		if !ok {
			t.Errorf("expected AllocateOutputSample, got %T", ev)
			return
		}
		if req.Len != ZeroCopyThreshold+1 {
			t.Errorf("expected request for %d bytes, got %d", ZeroCopyThreshold+1, req.Len)
		}
		req.Reply <- AllocationResult{Sample: loan}
	}()

	smp, err := alloc.Allocate(ZeroCopyThreshold + 1)
	require.NoError(t, err)
	defer smp.Close()

	assert.Same(t, loan, smp)
}

func TestAllocateSurfacesAllocationFailure(t *testing.T) {
	events := make(chan Event, 1)
	alloc := SampleAllocator{Events: events, Done: make(chan struct{})}

	go func() {
		req := (<-events).(AllocateOutputSample)
		req.Reply <- AllocationResult{Err: errors.ErrAllocationFailed}
	}()

	_, err := alloc.Allocate(ZeroCopyThreshold + 1)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}

func TestAllocateFailsWhenNodeStopped(t *testing.T) {
	done := make(chan struct{})
	close(done)
	alloc := SampleAllocator{Events: make(chan Event), Done: done}

	_, err := alloc.Allocate(ZeroCopyThreshold + 1)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}
