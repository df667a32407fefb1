package httpconnpool

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors of the package. Acquire returns ErrPoolClosed once CloseAll
// has run; ErrConnectionClosed and ErrDuplicateLimit are not returned by any
// function in this package. Stream failures are not sentinels: they are
// whatever the underlying net.Conn returned, wrapped with
// github.com/pkg/errors for operation context.
var (
	ErrPoolClosed       = errors.New("httpconnpool: pool is closed")
	ErrConnectionClosed = errors.New("httpconnpool: connection is closed")
	ErrDuplicateLimit   = errors.New("httpconnpool: duplicate limit reached and no writable connection available")
)

// PreconditionError reports a caller invoking a Transaction method while the
// state machine is in the wrong state (writing while not writable, reading
// while not readable, a second concurrent write, and so on). These are
// assertion failures: the caller's own bookkeeping is wrong, not the pool's.
// They are raised by panic, not returned, because they are not meant to be
// handled at the call site — only fixed there.
type PreconditionError struct {
	Op     string
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("httpconnpool: precondition violated in %s: %s", e.Op, e.Detail)
}

func violate(op, detail string) {
	panic(&PreconditionError{Op: op, Detail: detail})
}

func wrapStreamErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "httpconnpool: %s", op)
}

func wrapDialErr(host, port string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "httpconnpool: dial %s:%s", host, port)
}
