package operator

import (
	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/sample"
)

// ZeroCopyThreshold is the payload size in bytes above which outputs are
// written into transport-loaned shared memory instead of a private buffer.
// It is sized so the cross-process round trip of a loan is amortized.
const ZeroCopyThreshold = 4096

// SampleAllocator implements the threshold policy for output samples: small
// payloads get a private aligned buffer, large ones a transport loan
// requested over the events channel.
type SampleAllocator struct {
	// Events is the operator-events channel the allocation request travels on.
	Events chan<- Event
	// Done is closed when the surrounding node stops consuming events.
	Done <-chan struct{}
}

// Allocate returns a writable sample of exactly n bytes. Allocation failures
// are transport errors surfaced to the current send_output call.
func (a SampleAllocator) Allocate(n int) (*sample.Sample, error) {
	if n <= ZeroCopyThreshold {
		return sample.NewAligned(n), nil
	}

	reply := make(chan AllocationResult, 1)
	select {
	case a.Events <- AllocateOutputSample{Len: n, Reply: reply}:
	case <-a.Done:
		return nil, errors.NewError(errors.CodeTransport,
			"failed to request output sample", errors.ErrEventsChannelClosed)
	}

	select {
	case res := <-reply:
		if res.Err != nil {
			return nil, errors.NewError(errors.CodeTransport,
				"failed to allocate output sample", res.Err)
		}
		if res.Sample == nil {
			return nil, errors.NewError(errors.CodeTransport,
				"failed to allocate output sample", errors.ErrAllocationFailed)
		}
		return res.Sample, nil
	case <-a.Done:
		return nil, errors.NewError(errors.CodeTransport,
			"output sample reply dropped", errors.ErrEventsChannelClosed)
	}
}
