package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvWithTimeout(t *testing.T, sub Subscriber) []byte {
	t.Helper()
	type recv struct {
		data []byte
		err  error
	}
	ch := make(chan recv, 1)
	go func() {
		data, err := sub.Recv()
		ch <- recv{data, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.data
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sample")
		return nil
	}
}

func TestMemoryLayerDelivers(t *testing.T) {
	layer := NewMemoryBus().Layer("flow", "run-1")
	defer layer.Close()

	sub, err := layer.Subscribe("node/out")
	require.NoError(t, err)
	pub, err := layer.Publisher("node/out")
	require.NoError(t, err)

	require.NoError(t, pub.Publish([]byte("sample")))
	assert.Equal(t, []byte("sample"), recvWithTimeout(t, sub))
}

func TestMemoryLayerMemoizesPublishers(t *testing.T) {
	layer := NewMemoryBus().Layer("flow", "run-1")
	defer layer.Close()

	first, err := layer.Publisher("node/out")
	require.NoError(t, err)
	second, err := layer.Publisher("node/out")
	require.NoError(t, err)
	other, err := layer.Publisher("node/other")
	require.NoError(t, err)

	assert.Same(t, first, second, "publishers for one topic must share identity")
	assert.NotSame(t, first, other)
}

func TestMemoryLayerIsolatesInstances(t *testing.T) {
	bus := NewMemoryBus()
	run1 := bus.Layer("flow", "run-1")
	defer run1.Close()
	run2 := bus.Layer("flow", "run-2")
	defer run2.Close()

	sub, err := run2.Subscribe("node/out")
	require.NoError(t, err)
	pub, err := run1.Publisher("node/out")
	require.NoError(t, err)

	require.NoError(t, pub.Publish([]byte("wrong instance")))

	done := make(chan []byte, 1)
	go func() {
		data, _ := sub.Recv()
		done <- data
	}()
	select {
	case data := <-done:
		t.Fatalf("sample crossed instances: %q", data)
	case <-time.After(100 * time.Millisecond):
	}
	run2.Close()
}

func TestMemorySubscriberNewestWins(t *testing.T) {
	layer := NewMemoryBus().Layer("flow", "run-1")
	defer layer.Close()

	sub, err := layer.Subscribe("node/out")
	require.NoError(t, err)
	pub, err := layer.Publisher("node/out")
	require.NoError(t, err)

	total := SubscriberQueueCapacity + 3
	for i := 0; i < total; i++ {
		require.NoError(t, pub.Publish([]byte(fmt.Sprintf("sample-%d", i))))
	}

	// The oldest samples were dropped; the newest survived.
	got := make([]string, 0, SubscriberQueueCapacity)
	for i := 0; i < SubscriberQueueCapacity; i++ {
		got = append(got, string(recvWithTimeout(t, sub)))
	}
	assert.Equal(t, fmt.Sprintf("sample-%d", total-1), got[len(got)-1])
	assert.NotContains(t, got, "sample-0")
	assert.NotContains(t, got, "sample-1")
}

func TestMemorySubscriberRecvAfterClose(t *testing.T) {
	layer := NewMemoryBus().Layer("flow", "run-1")

	sub, err := layer.Subscribe("node/out")
	require.NoError(t, err)
	pub, err := layer.Publisher("node/out")
	require.NoError(t, err)

	require.NoError(t, pub.Publish([]byte("queued")))
	require.NoError(t, layer.Close())

	// Queued samples drain first, then Recv reports teardown.
	data, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("queued"), data)

	data, err = sub.Recv()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestMemoryLayerRejectsUseAfterClose(t *testing.T) {
	layer := NewMemoryBus().Layer("flow", "run-1")
	require.NoError(t, layer.Close())

	_, err := layer.Publisher("node/out")
	assert.Error(t, err)
	_, err = layer.Subscribe("node/out")
	assert.Error(t, err)
}

func TestMemoryLayerLoansAlignedSamples(t *testing.T) {
	layer := NewMemoryBus().Layer("flow", "run-1")
	defer layer.Close()

	smp, err := layer.LoanSample(4097)
	require.NoError(t, err)
	defer smp.Close()

	assert.Equal(t, 4097, smp.Len())
}
