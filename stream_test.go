package httpconnpool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlainStreamWriteRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewPlainStream(client)
	require.Equal(t, StreamPlain, s.Kind())
	require.True(t, s.IsOpen())

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16)
		n, err := server.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "hello", string(buf[:n]))
	}()

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server goroutine never observed the write")
	}
}

func TestPlainStreamReadAvailable(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewPlainStream(client)

	go func() {
		server.Write([]byte("response-bytes"))
	}()

	b, err := s.ReadAvailable()
	require.NoError(t, err)
	require.Equal(t, "response-bytes", string(b))
}

func TestPlainStreamCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	s := NewPlainStream(client)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.False(t, s.IsOpen())
	require.True(t, s.EOF())
}

func TestStreamKindString(t *testing.T) {
	require.Equal(t, "plain", StreamPlain.String())
	require.Equal(t, "tls", StreamTLS.String())
}
