package httpconnpool

import (
	"sync"
	"time"
)

// Parser is an opaque, caller-managed, reusable parser instance. The pool
// never looks inside it; it only holds a slot so one Connection can reuse
// the same parser across the requests it serves instead of allocating a
// fresh one per Transaction.
type Parser interface {
	Reset()
}

// Connection is a long-lived record bound to one dialed stream. It is owned
// by the Pool; Transactions hold a non-owning reference to it. All fields
// below are guarded by mu, whether the mutation comes from the Pool's
// allocator (scanning under Pool.mu, then briefly taking Connection.mu) or
// from the Transaction that currently owns the write or read side.
type Connection struct {
	mu sync.Mutex

	kind          StreamKind
	host, port    string
	pipelineLimit int
	reuseLimit    int

	stream ByteStream
	parser Parser

	writeBusy  bool
	writeCount int
	readCount  int

	readOwner *Transaction
	readDepth int

	excess []byte

	timestamp time.Time

	pool *Pool
}

func newConnection(pool *Pool, kind StreamKind, host, port string, stream ByteStream, pipelineLimit, reuseLimit int) *Connection {
	return &Connection{
		kind:          kind,
		host:          host,
		port:          port,
		pipelineLimit: pipelineLimit,
		reuseLimit:    reuseLimit,
		stream:        stream,
		timestamp:     time.Now(),
		pool:          pool,
	}
}

// matches reports whether this Connection belongs to the given endpoint key.
// Must be called with mu held, or on a Connection not yet shared.
func (c *Connection) matches(kind StreamKind, host, port string, pipelineLimit int) bool {
	return c.kind == kind && c.host == host && c.port == port && c.pipelineLimit == pipelineLimit
}

// isWritableForLocked reports whether some transaction at the given sequence
// could validly write right now. Caller holds c.mu.
func (c *Connection) isWritableForLocked(sequence int) bool {
	return c.writeBusy && c.writeCount == sequence
}

// isReadableForLocked reports whether the given transaction currently holds
// the read lock and has reached the front of the response queue. Caller
// holds c.mu.
func (c *Connection) isReadableForLocked(t *Transaction, sequence int) bool {
	return c.readOwner == t && c.readCount == sequence
}

// idleLocked reports whether no reader currently holds the read lock. Caller
// holds c.mu.
func (c *Connection) idleLocked() bool {
	return c.readOwner == nil
}

// inFlightLocked is write_count - read_count, the number of requests written
// but not yet fully read. Caller holds c.mu.
func (c *Connection) inFlightLocked() int {
	return c.writeCount - c.readCount
}

// InactiveSeconds returns how long it has been since the last observable
// read-side activity on this Connection.
func (c *Connection) InactiveSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.timestamp).Seconds()
}

// bytesAvailableLocked prefers the excess buffer, falling back to whatever
// the stream itself reports. Caller holds c.mu.
func (c *Connection) bytesAvailableLocked() int {
	if len(c.excess) > 0 {
		return len(c.excess)
	}
	return c.stream.BytesAvailable()
}

// purgeLocked drains any residual bytes left on a stream that is being torn
// down mid-read, so a subsequent EOF check is not lied to by buffered data.
// Caller holds c.mu. Asserts quiescence on return: bytesAvailableLocked()
// must be 0 afterwards.
func (c *Connection) purgeLocked() {
	c.excess = nil
	for {
		if c.stream.IsOpen() {
			break
		}
		b, err := c.stream.ReadAvailable()
		if len(b) == 0 || err != nil {
			break
		}
	}
	if n := c.bytesAvailableLocked(); n != 0 {
		violate("purge", "stream still reports bytes available after draining")
	}
}

// ConnectionStats is a point-in-time snapshot of a Connection, factored out
// of String so callers can consume pool state programmatically.
type ConnectionStats struct {
	Kind          StreamKind
	Host, Port    string
	PipelineLimit int
	WriteBusy     bool
	WriteCount    int
	ReadCount     int
	ReaderActive  bool
	ExcessBytes   int
	IdleSeconds   float64
	Open          bool
}

// Stats returns a snapshot of this Connection's current state.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionStats{
		Kind:          c.kind,
		Host:          c.host,
		Port:          c.port,
		PipelineLimit: c.pipelineLimit,
		WriteBusy:     c.writeBusy,
		WriteCount:    c.writeCount,
		ReadCount:     c.readCount,
		ReaderActive:  c.readOwner != nil,
		ExcessBytes:   len(c.excess),
		IdleSeconds:   time.Since(c.timestamp).Seconds(),
		Open:          c.stream.IsOpen(),
	}
}
