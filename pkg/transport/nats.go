package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/daedalus/pkg/errors"
)

// NATSConfig holds connection settings for the NATS backend.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// Name is the client name for identifying this connection
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for unlimited reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts
	ReconnectWait time.Duration

	// Timeout is the connection timeout
	Timeout time.Duration

	// Token is an optional authentication token
	Token string

	// Username is an optional username for authentication
	Username string

	// Password is an optional password for authentication
	Password string
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig(url string) *NATSConfig {
	return &NATSConfig{
		URL:           url,
		Name:          "daedalus-node",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSLayer implements CommunicationLayer over a NATS connection. Subjects
// are formed as group.instance.topic so multiple dataflows can share one
// server.
type NATSLayer struct {
	conn     *nats.Conn
	group    string
	instance string
	logger   *zap.Logger

	mu         sync.Mutex
	publishers map[string]*natsPublisher
	subs       []*natsSubscriber
	closed     bool
}

var _ CommunicationLayer = (*NATSLayer)(nil)

// ConnectNATS establishes a connection and returns a layer scoped to
// (group, instance).
func ConnectNATS(ctx context.Context, config *NATSConfig, group, instance string, logger *zap.Logger) (*NATSLayer, error) {
	if config == nil {
		return nil, fmt.Errorf("connection config cannot be nil")
	}
	if config.URL == "" {
		return nil, fmt.Errorf("NATS URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	if config.Token != "" {
		opts = append(opts, nats.Token(config.Token))
	} else if config.Username != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.Username, config.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := nats.Connect(config.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return &NATSLayer{
			conn:       res.conn,
			group:      group,
			instance:   instance,
			logger:     logger,
			publishers: make(map[string]*natsPublisher),
		}, nil
	}
}

// subject maps a topic into the layer's subject space. Dots in topics are
// folded so they cannot cross NATS token boundaries.
func (l *NATSLayer) subject(topic string) string {
	return fmt.Sprintf("%s.%s.%s", l.group, l.instance,
		strings.ReplaceAll(topic, ".", "_"))
}

// Publisher returns the memoized shared publisher for topic.
func (l *NATSLayer) Publisher(topic string) (Publisher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.NewError(errors.CodeTransport,
			"cannot create publisher on closed layer", errors.ErrLayerClosed)
	}
	if p, ok := l.publishers[topic]; ok {
		return p, nil
	}
	p := &natsPublisher{conn: l.conn, subject: l.subject(topic)}
	l.publishers[topic] = p
	return p, nil
}

// Subscribe creates a subscriber whose queue holds the newest
// SubscriberQueueCapacity samples.
func (l *NATSLayer) Subscribe(topic string) (Subscriber, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.NewError(errors.CodeTransport,
			"cannot subscribe on closed layer", errors.ErrLayerClosed)
	}

	s := &natsSubscriber{
		queue: make(chan []byte, SubscriberQueueCapacity),
		done:  make(chan struct{}),
	}
	sub, err := l.conn.Subscribe(l.subject(topic), func(msg *nats.Msg) {
		s.enqueue(msg.Data)
	})
	if err != nil {
		return nil, errors.NewError(errors.CodeTransport,
			fmt.Sprintf("failed to subscribe to topic %s", topic), err)
	}
	s.sub = sub
	l.subs = append(l.subs, s)
	return s, nil
}

// Close unblocks every subscriber and drains the connection so in-flight
// messages complete.
func (l *NATSLayer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	for _, s := range subs {
		if err := s.Close(); err != nil {
			l.logger.Warn("failed to close subscriber", zap.Error(err))
		}
	}
	if err := l.conn.Drain(); err != nil {
		l.conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

func (p *natsPublisher) Publish(data []byte) error {
	if err := p.conn.Publish(p.subject, data); err != nil {
		return errors.NewError(errors.CodeTransport,
			fmt.Sprintf("failed to publish on %s", p.subject), err)
	}
	return nil
}

type natsSubscriber struct {
	sub *nats.Subscription

	mu     sync.Mutex
	queue  chan []byte
	done   chan struct{}
	closed bool
}

func (s *natsSubscriber) enqueue(data []byte) {
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
		// Queue full, drop the oldest sample.
		select {
		case <-s.queue:
		default:
		}
	}
}

func (s *natsSubscriber) Recv() ([]byte, error) {
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

func (s *natsSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.sub.Unsubscribe()
}
