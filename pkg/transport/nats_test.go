package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig("nats://localhost:4222")

	assert.Equal(t, "nats://localhost:4222", cfg.URL)
	assert.Equal(t, "daedalus-node", cfg.Name)
	assert.Equal(t, 10, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestConnectNATSValidatesConfig(t *testing.T) {
	_, err := ConnectNATS(context.Background(), nil, "flow", "run-1", nil)
	assert.Error(t, err)

	_, err = ConnectNATS(context.Background(), &NATSConfig{}, "flow", "run-1", nil)
	assert.Error(t, err)
}

func TestNATSSubjectFolding(t *testing.T) {
	layer := &NATSLayer{group: "flow", instance: "run-1"}

	assert.Equal(t, "flow.run-1.node/out", layer.subject("node/out"))
	assert.Equal(t, "flow.run-1.node_v2/out", layer.subject("node.v2/out"))
}

func TestConnectNATSHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultNATSConfig("nats://127.0.0.1:1")
	cfg.Timeout = 10 * time.Second
	cfg.MaxReconnects = 0
	_, err := ConnectNATS(ctx, cfg, "flow", "run-1", nil)
	// Either the cancellation or the refused connection surfaces; the call
	// must not block for the full timeout.
	require.Error(t, err)
}
