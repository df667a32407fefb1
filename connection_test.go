package httpconnpool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionBytesAvailablePrefersExcess(t *testing.T) {
	c, _ := newTestConnection(t, 16, 0)
	c.mu.Lock()
	c.excess = []byte("abcde")
	got := c.bytesAvailableLocked()
	c.mu.Unlock()
	require.Equal(t, 5, got)
}

func TestConnectionInactiveSecondsAdvances(t *testing.T) {
	c, _ := newTestConnection(t, 16, 0)
	c.mu.Lock()
	c.timestamp = time.Now().Add(-10 * time.Second)
	c.mu.Unlock()
	require.GreaterOrEqual(t, c.InactiveSeconds(), 9.5)
}

func TestConnectionStatsReflectsState(t *testing.T) {
	c, server := newTestConnection(t, 4, 0)
	go func() {
		buf := make([]byte, 32)
		server.Read(buf)
	}()
	tx := newTestTransaction(c)
	_, err := tx.Write([]byte("x"))
	require.NoError(t, err)

	st := c.Stats()
	require.True(t, st.WriteBusy)
	require.Equal(t, 0, st.WriteCount)
	require.Equal(t, 4, st.PipelineLimit)
	require.True(t, st.Open)
}

func TestConnectionPurgeIsQuiescentAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	pool := NewPool(nil, nil, nil)
	c := newConnection(pool, StreamPlain, "h", "80", NewPlainStream(client), 16, 0)

	c.mu.Lock()
	c.excess = []byte("pending")
	c.stream.Close()
	c.purgeLocked()
	avail := c.bytesAvailableLocked()
	c.mu.Unlock()
	require.Equal(t, 0, avail)
}
