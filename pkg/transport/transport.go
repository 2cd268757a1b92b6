// Package transport abstracts the publish/subscribe bus a node uses to
// exchange samples with the rest of the dataflow. Two backends are provided:
// an in-process memory bus and a NATS adapter.
package transport

import "github.com/wehubfusion/daedalus/pkg/sample"

// SubscriberQueueCapacity bounds each subscriber queue. On overflow the
// oldest queued sample is dropped so the newest is always retained.
const SubscriberQueueCapacity = 5

// CommunicationLayer is one node's handle on the bus. Publisher handles are
// memoized per topic and shared; subscribers are uniquely owned by the
// caller.
type CommunicationLayer interface {
	// Publisher returns the shared publisher for topic. Calls with the same
	// topic return the same underlying publisher.
	Publisher(topic string) (Publisher, error)
	// Subscribe creates a new, uniquely owned subscriber for topic.
	Subscribe(topic string) (Subscriber, error)
	// Close tears the layer down and unblocks every pending Recv.
	Close() error
}

// Publisher publishes byte payloads on one topic.
type Publisher interface {
	Publish(data []byte) error
}

// Subscriber receives payloads from one topic.
type Subscriber interface {
	// Recv blocks until a sample arrives or the transport is torn down, in
	// which case it returns nil, nil.
	Recv() ([]byte, error)
	Close() error
}

// SampleLoaner is implemented by layers that can hand out writable regions
// whose commit avoids a copy. Layers without native loans simply do not
// implement it.
type SampleLoaner interface {
	LoanSample(n int) (*sample.Sample, error)
}
