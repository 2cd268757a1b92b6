package transport

import (
	"sync"

	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/sample"
)

// MemoryBus is an in-process bus keyed by (group, instance, topic). It is the
// reference backend for tests and single-process dataflows: publishing
// delivers the backing slice directly to every subscriber queue, so loaned
// samples travel without a copy.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[topicKey]*memoryTopic
}

type topicKey struct {
	group    string
	instance string
	topic    string
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[topicKey]*memoryTopic)}
}

func (b *MemoryBus) topic(key topicKey) *memoryTopic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key]
	if !ok {
		t = &memoryTopic{}
		b.topics[key] = t
	}
	return t
}

// Layer returns a CommunicationLayer view of the bus for one (group,
// instance) pair. Layers on the same bus with the same pair see each other's
// traffic.
func (b *MemoryBus) Layer(group, instance string) *MemoryLayer {
	return &MemoryLayer{
		bus:        b,
		group:      group,
		instance:   instance,
		publishers: make(map[string]*memoryPublisher),
	}
}

// MemoryLayer implements CommunicationLayer and SampleLoaner over a
// MemoryBus.
type MemoryLayer struct {
	bus      *MemoryBus
	group    string
	instance string

	mu         sync.Mutex
	publishers map[string]*memoryPublisher
	subs       []*memorySubscriber
	closed     bool
}

var _ CommunicationLayer = (*MemoryLayer)(nil)
var _ SampleLoaner = (*MemoryLayer)(nil)

// Publisher returns the memoized shared publisher for topic.
func (l *MemoryLayer) Publisher(topic string) (Publisher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.NewError(errors.CodeTransport,
			"cannot create publisher on closed layer", errors.ErrLayerClosed)
	}
	if p, ok := l.publishers[topic]; ok {
		return p, nil
	}
	p := &memoryPublisher{
		topic: l.bus.topic(topicKey{l.group, l.instance, topic}),
	}
	l.publishers[topic] = p
	return p, nil
}

// Subscribe creates a subscriber with a bounded queue on topic.
func (l *MemoryLayer) Subscribe(topic string) (Subscriber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.NewError(errors.CodeTransport,
			"cannot subscribe on closed layer", errors.ErrLayerClosed)
	}
	s := &memorySubscriber{
		queue: make(chan []byte, SubscriberQueueCapacity),
		done:  make(chan struct{}),
	}
	t := l.bus.topic(topicKey{l.group, l.instance, topic})
	t.attach(s)
	s.topic = t
	l.subs = append(l.subs, s)
	return s, nil
}

// LoanSample hands out an aligned region whose publish avoids a copy on this
// backend.
func (l *MemoryLayer) LoanSample(n int) (*sample.Sample, error) {
	return sample.NewAligned(n), nil
}

// Close tears the layer down and unblocks every subscriber created through
// it.
func (l *MemoryLayer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, s := range l.subs {
		s.Close()
	}
	l.subs = nil
	return nil
}

type memoryTopic struct {
	mu   sync.Mutex
	subs []*memorySubscriber
}

func (t *memoryTopic) attach(s *memorySubscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, s)
}

func (t *memoryTopic) detach(s *memorySubscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.subs {
		if cur == s {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

func (t *memoryTopic) publish(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		s.enqueue(data)
	}
}

type memoryPublisher struct {
	topic *memoryTopic
}

func (p *memoryPublisher) Publish(data []byte) error {
	p.topic.publish(data)
	return nil
}

type memorySubscriber struct {
	topic *memoryTopic

	mu     sync.Mutex
	queue  chan []byte
	done   chan struct{}
	closed bool
}

// enqueue applies the newest-wins overflow policy: when the queue is full the
// oldest sample is dropped to make room.
func (s *memorySubscriber) enqueue(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.queue <- data:
			return
		default:
		}
		select {
		case <-s.queue:
		default:
		}
	}
}

func (s *memorySubscriber) Recv() ([]byte, error) {
	// Drain queued samples even after teardown started.
	select {
	case data := <-s.queue:
		return data, nil
	default:
	}
	select {
	case data := <-s.queue:
		return data, nil
	case <-s.done:
		return nil, nil
	}
}

func (s *memorySubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.topic.detach(s)
	return nil
}

var _ Subscriber = (*memorySubscriber)(nil)
