package httpconnpool

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipeDialer returns a dial func that hands out net.Pipe-backed streams, and a
// channel of the server-side ends created so a test can drive each one.
func pipeDialer() (DialFunc, <-chan net.Conn) {
	servers := make(chan net.Conn, 64)
	dial := func(kind StreamKind, host, port string, opts DialOptions) (ByteStream, error) {
		client, server := net.Pipe()
		servers <- server
		return NewPlainStream(client), nil
	}
	return dial, servers
}

// S1 + reuse: acquiring, completing a full cycle, then acquiring again for
// the same endpoint returns a Transaction on the same Connection.
func TestPoolAcquireReusesIdleConnection(t *testing.T) {
	dial, servers := pipeDialer()
	p := NewPool(dial, nil, nil)
	ctx := context.Background()

	t1, err := p.Acquire(ctx, StreamPlain, "h", "80", AcquireOptions{})
	require.NoError(t, err)
	server := <-servers

	go func() {
		buf := make([]byte, 32)
		server.Read(buf)
		server.Write([]byte("ok"))
	}()

	_, err = t1.Write([]byte("req"))
	require.NoError(t, err)
	require.NoError(t, t1.CloseWrite())
	require.NoError(t, t1.StartRead())
	_, err = t1.ReadAvailable()
	require.NoError(t, err)
	require.NoError(t, t1.CloseRead())

	t2, err := p.Acquire(ctx, StreamPlain, "h", "80", AcquireOptions{})
	require.NoError(t, err)
	require.Same(t, t1.conn, t2.conn)
	require.Equal(t, 1, t2.sequence)
}

// S3: with duplicate_limit=2 and pipeline_limit=1, a third acquire to a
// fully-busy endpoint blocks until a write side is freed.
func TestPoolAcquireBlocksAtDuplicateLimit(t *testing.T) {
	dial, _ := pipeDialer()
	p := NewPool(dial, nil, nil)
	ctx := context.Background()
	opts := AcquireOptions{DuplicateLimit: 2, PipelineLimit: 1}

	t1, err := p.Acquire(ctx, StreamPlain, "h", "80", opts)
	require.NoError(t, err)
	t2, err := p.Acquire(ctx, StreamPlain, "h", "80", opts)
	require.NoError(t, err)
	require.NotSame(t, t1.conn, t2.conn)

	third := make(chan *Transaction, 1)
	go func() {
		tx, err := p.Acquire(ctx, StreamPlain, "h", "80", opts)
		require.NoError(t, err)
		third <- tx
	}()

	select {
	case <-third:
		t.Fatal("third acquire returned before any writer was released")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, t1.CloseWrite())

	select {
	case tx := <-third:
		require.Same(t, t1.conn, tx.conn)
	case <-time.After(time.Second):
		t.Fatal("third acquire never woke after close_write")
	}
}

// S4: once a connection reaches its reuse limit, the next acquire for that
// endpoint does not reuse it.
func TestPoolAcquireEvictsOverReused(t *testing.T) {
	dial, servers := pipeDialer()
	p := NewPool(dial, nil, nil)
	ctx := context.Background()
	opts := AcquireOptions{ReuseLimit: 1}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		server := <-servers
		buf := make([]byte, 32)
		server.Read(buf)
		server.Write([]byte("r1"))
	}()

	t1, err := p.Acquire(ctx, StreamPlain, "h", "80", opts)
	require.NoError(t, err)
	_, err = t1.Write([]byte("req"))
	require.NoError(t, err)
	require.NoError(t, t1.CloseWrite())
	require.NoError(t, t1.StartRead())
	_, err = t1.ReadAvailable()
	require.NoError(t, err)
	require.NoError(t, t1.CloseRead())
	wg.Wait()

	t2, err := p.Acquire(ctx, StreamPlain, "h", "80", opts)
	require.NoError(t, err)
	require.NotSame(t, t1.conn, t2.conn)
	require.False(t, t1.conn.stream.IsOpen())
}

// S6: closing a transaction mid-read marks the connection not-open and the
// next allocator pass purges it from the pool.
func TestPoolForcedCloseMidReadIsPurged(t *testing.T) {
	dial, servers := pipeDialer()
	p := NewPool(dial, nil, nil)
	ctx := context.Background()

	t1, err := p.Acquire(ctx, StreamPlain, "h", "80", AcquireOptions{})
	require.NoError(t, err)
	server := <-servers
	go func() {
		buf := make([]byte, 32)
		server.Read(buf)
	}()

	_, err = t1.Write([]byte("req"))
	require.NoError(t, err)
	require.NoError(t, t1.CloseWrite())
	require.NoError(t, t1.StartRead())

	require.NoError(t, t1.Close())
	require.False(t, t1.conn.stream.IsOpen())

	p.mu.Lock()
	require.Len(t, p.conns, 1)
	p.mu.Unlock()

	_, err = p.Acquire(ctx, StreamPlain, "h", "80", AcquireOptions{DuplicateLimit: 1})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.conns, 1)
	require.NotSame(t, t1.conn, p.conns[0])
}

func TestPoolCloseAll(t *testing.T) {
	dial, _ := pipeDialer()
	p := NewPool(dial, nil, nil)
	ctx := context.Background()

	t1, err := p.Acquire(ctx, StreamPlain, "h1", "80", AcquireOptions{})
	require.NoError(t, err)
	_, err = p.Acquire(ctx, StreamPlain, "h2", "80", AcquireOptions{})
	require.NoError(t, err)

	require.NoError(t, p.CloseAll())

	p.mu.Lock()
	require.Empty(t, p.conns)
	p.mu.Unlock()
	require.False(t, t1.conn.stream.IsOpen())

	_, err = p.Acquire(ctx, StreamPlain, "h1", "80", AcquireOptions{})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolAcquireRespectsContextCancellation(t *testing.T) {
	dial, _ := pipeDialer()
	p := NewPool(dial, nil, nil)
	opts := AcquireOptions{DuplicateLimit: 1, PipelineLimit: 1}

	_, err := p.Acquire(context.Background(), StreamPlain, "h", "80", opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, StreamPlain, "h", "80", opts)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolStats(t *testing.T) {
	dial, servers := pipeDialer()
	p := NewPool(dial, nil, nil)
	ctx := context.Background()

	t1, err := p.Acquire(ctx, StreamPlain, "h", "80", AcquireOptions{})
	require.NoError(t, err)
	server := <-servers
	go func() {
		buf := make([]byte, 32)
		server.Read(buf)
	}()
	_, err = t1.Write([]byte("x"))
	require.NoError(t, err)

	stats := p.Stats()
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.WriteBusy)
}
