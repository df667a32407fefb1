package httpconnpool

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/sagernet/sing/common/bufio"
	N "github.com/sagernet/sing/common/network"
)

// StreamKind tags the concrete variant of a ByteStream. The pool keys
// Connections by the concrete kind so a plaintext and a TLS Connection to the
// same host:port never alias one another.
type StreamKind int

const (
	StreamPlain StreamKind = iota
	StreamTLS
)

func (k StreamKind) String() string {
	switch k {
	case StreamPlain:
		return "plain"
	case StreamTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// StreamStatus is a coarse, display-oriented classification of a stream's
// current condition. It has no bearing on the state machine; it exists only
// to feed Connection.String / ShowPool.
type StreamStatus int

const (
	StatusConnecting StreamStatus = iota
	StatusOpen
	StatusActive
	StatusPaused
	StatusClosing
	StatusClosed
	StatusOther
)

func (s StreamStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "other"
	}
}

// ByteStream is the uniform view the pool core needs over a plaintext or
// TLS-wrapped connection. It is a byte pipe, not a framer: it knows nothing
// about HTTP messages.
type ByteStream interface {
	Kind() StreamKind

	// ReadAvailable blocks until at least one byte is available (or the
	// stream errors / reaches EOF) and returns whatever is currently
	// buffered, without trying to fill a caller-sized buffer.
	ReadAvailable() ([]byte, error)
	Write(b []byte) (int, error)
	Close() error

	IsOpen() bool
	BytesAvailable() int
	EOF() bool

	PeerPort() string
	LocalPort() string
	Status() StreamStatus
}

// DialOptions configures the default dialer. Mirrors the shape the pack uses
// for its own connection dialers (timeout + optional TLS config).
type DialOptions struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	TLSConfig *tls.Config
}

// DialFunc dials a new ByteStream of the given kind to host:port. The pool
// never implements dialing itself; it only calls this.
type DialFunc func(kind StreamKind, host, port string, opts DialOptions) (ByteStream, error)

// netStream is the shared core behind both plainStream and tlsStream: both
// wrap a net.Conn (crypto/tls.Conn satisfies net.Conn), differing only in
// their reported Kind.
type netStream struct {
	kind StreamKind
	conn net.Conn

	vecWriter  N.VectorisedWriter
	vectorised bool

	readBuf []byte
	closed  bool
}

func newNetStream(kind StreamKind, conn net.Conn) *netStream {
	ns := &netStream{kind: kind, conn: conn, readBuf: make([]byte, 32*1024)}
	if w, ok := bufio.CreateVectorisedWriter(conn); ok {
		ns.vecWriter = w
		ns.vectorised = true
	}
	return ns
}

func (s *netStream) Kind() StreamKind { return s.kind }

func (s *netStream) ReadAvailable() ([]byte, error) {
	n, err := s.conn.Read(s.readBuf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, s.readBuf[:n])
		return out, err
	}
	return nil, err
}

func (s *netStream) Write(b []byte) (int, error) {
	if s.vectorised {
		n, err := bufio.WriteVectorised(s.vecWriter, [][]byte{b})
		return int(n), err
	}
	return s.conn.Write(b)
}

func (s *netStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *netStream) IsOpen() bool { return !s.closed }

func (s *netStream) BytesAvailable() int {
	// net.Conn exposes no portable "bytes ready" probe; a syscall-level
	// peek would be platform-specific, which the adapter deliberately
	// avoids. Callers rely on ReadAvailable's blocking semantics instead;
	// this reports 0 unless known by construction (overridden by excess
	// buffering at the Connection layer).
	return 0
}

func (s *netStream) EOF() bool { return s.closed }

func (s *netStream) PeerPort() string {
	if a := s.conn.RemoteAddr(); a != nil {
		_, port, err := net.SplitHostPort(a.String())
		if err == nil {
			return port
		}
	}
	return ""
}

func (s *netStream) LocalPort() string {
	if a := s.conn.LocalAddr(); a != nil {
		_, port, err := net.SplitHostPort(a.String())
		if err == nil {
			return port
		}
	}
	return ""
}

func (s *netStream) Status() StreamStatus {
	if s.closed {
		return StatusClosed
	}
	return StatusOpen
}

type plainStream struct{ *netStream }

// NewPlainStream wraps an already-dialed plaintext net.Conn.
func NewPlainStream(conn net.Conn) ByteStream {
	return plainStream{newNetStream(StreamPlain, conn)}
}

type tlsStream struct{ *netStream }

// NewTLSStream wraps an already-dialed, already-handshaked *tls.Conn.
func NewTLSStream(conn *tls.Conn) ByteStream {
	return tlsStream{newNetStream(StreamTLS, conn)}
}

// defaultDial is the pool's built-in DialFunc, usable standalone without a
// caller-supplied dial layer. Real request-layer stacks are expected to
// supply their own (connection pooling's dial step is an external
// collaborator per scope), but a sensible default keeps the module usable on
// its own, the way hashicorp/nomad's ConnPool and JeelKantaria/db-bouncer's
// TenantPool both bundle one.
func defaultDial(kind StreamKind, host, port string, opts DialOptions) (ByteStream, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: opts.KeepAlive}

	addr := net.JoinHostPort(host, port)
	switch kind {
	case StreamTLS:
		tlsConf := opts.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{ServerName: host}
		}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConf)
		if err != nil {
			return nil, wrapDialErr(host, port, err)
		}
		return NewTLSStream(conn), nil
	default:
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, wrapDialErr(host, port, err)
		}
		return NewPlainStream(conn), nil
	}
}
