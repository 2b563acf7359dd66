package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusCallRoundTrip(t *testing.T) {
	reg := NewMemoryRegistry()
	a := NewMemoryBus("host-a", reg)
	b := NewMemoryBus("host-b", reg)

	b.Register("echo", func(ctx context.Context, payload string) (string, error) {
		return "got:" + payload, nil
	})

	reply, err := a.Call(context.Background(), "host-b", "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "got:hello", reply)
}

func TestMemoryBusCastToUnreachablePeerDropsSilently(t *testing.T) {
	reg := NewMemoryRegistry()
	a := NewMemoryBus("host-a", reg)

	err := a.Cast(context.Background(), "host-nonexistent", "whatever", "payload")
	assert.NoError(t, err)
}

func TestMemoryBusCastDeliversAsynchronously(t *testing.T) {
	reg := NewMemoryRegistry()
	a := NewMemoryBus("host-a", reg)
	b := NewMemoryBus("host-b", reg)

	received := make(chan string, 1)
	b.Register("notify", func(ctx context.Context, payload string) (string, error) {
		received <- payload
		return "", nil
	})

	require.NoError(t, a.Cast(context.Background(), "host-b", "notify", "tick"))

	select {
	case got := <-received:
		assert.Equal(t, "tick", got)
	case <-time.After(time.Second):
		t.Fatal("cast was not delivered")
	}
}
