package httpconnpool

import (
	"context"
	"log"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// AcquireOptions parameterizes one Acquire call. Zero-valued fields fall
// back to the Pool's Config defaults.
type AcquireOptions struct {
	DuplicateLimit int
	PipelineLimit  int
	ReuseLimit     int
	DialOptions    DialOptions
}

// Pool is the process-wide collection of Connections to every endpoint this
// process has talked to. It offers the allocator (Acquire) and a condition
// variable broadcast on every Transaction state transition.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	conns []*Connection

	dial   DialFunc
	config *Config
	logger *log.Logger

	// dialLimiter optionally throttles new-connection establishment; one
	// limiter is shared by every endpoint in the pool. It is distinct from
	// request retry (which stays out of scope).
	dialLimiter *rate.Limiter

	closed bool
}

// NewPool constructs a Pool. A nil dial uses the built-in net/tls dialer; a
// nil config uses DefaultConfig(); a nil logger uses log.Default().
func NewPool(dial DialFunc, config *Config, logger *log.Logger) *Pool {
	if dial == nil {
		dial = defaultDial
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{dial: dial, config: config, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetDialRateLimiter installs an optional limiter on new-connection
// establishment (allocator step 4), leaving request pipelining itself
// unthrottled.
func (p *Pool) SetDialRateLimiter(l *rate.Limiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialLimiter = l
}

// notify wakes every Acquire call parked in step six. Acquire holds p.mu for
// its entire scan (steps 1-5), releasing it only inside cond.Wait, which
// registers the waiter before it unlocks. Taking p.mu here before
// Broadcasting means a close_write/close_read on another goroutine cannot
// fire the broadcast until the waiter has either returned or is already
// registered inside Wait — closing the gap where a broadcast sent between
// "waiter finished scanning" and "waiter reached cond.Wait" would otherwise
// be lost forever.
func (p *Pool) notify() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) resolveOptions(opts AcquireOptions) (duplicateLimit, pipelineLimit, reuseLimit int) {
	duplicateLimit = opts.DuplicateLimit
	if duplicateLimit <= 0 {
		duplicateLimit = p.config.DefaultDuplicateLimit
	}
	pipelineLimit = opts.PipelineLimit
	if pipelineLimit <= 0 {
		pipelineLimit = p.config.DefaultPipelineLimit
	}
	reuseLimit = opts.ReuseLimit
	if reuseLimit < 0 {
		reuseLimit = 0
	} else if reuseLimit == 0 {
		reuseLimit = p.config.DefaultReuseLimit
	}
	return
}

// Acquire is the pool allocator. It implements the six-step ordered
// procedure: evict over-used connections, purge dead ones, reuse an idle
// writable connection (random tie-break), dial a new one while holding the
// pool lock if under the duplicate limit, share a busy-reader writable
// connection (random tie-break), or release the lock and wait on the pool
// condition, restarting from step one on wake.
//
// ctx is checked at the start of every pass, bounds the wait on the optional
// dial rate limiter in step four, and wakes the wait in step six; the dial
// itself is not bounded by ctx. A context.Background() caller sees the spec's
// literal unbounded wait.
func (p *Pool) Acquire(ctx context.Context, kind StreamKind, host, port string, opts AcquireOptions) (*Transaction, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	duplicateLimit, pipelineLimit, reuseLimit := p.resolveOptions(opts)

	stopWatch := p.watchContext(ctx)
	defer stopWatch()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, ErrPoolClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Step 1: evict over-used connections for this endpoint.
		p.evictOverusedLocked(kind, host, port, pipelineLimit)

		// Step 2: purge dead connections pool-wide.
		p.purgeDeadLocked()

		// Step 3: find an idle writable connection, random tie-break.
		if t := p.findWritableLocked(kind, host, port, pipelineLimit, true); t != nil {
			return t, nil
		}

		// Step 4: dial a new connection if under the duplicate limit.
		if p.countMatchingLocked(kind, host, port, pipelineLimit) < duplicateLimit {
			if p.dialLimiter != nil {
				if err := p.dialLimiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			dialOpts := opts.DialOptions
			if dialOpts.Timeout <= 0 {
				dialOpts.Timeout = p.config.DialTimeout
			}
			if dialOpts.KeepAlive == 0 {
				dialOpts.KeepAlive = p.config.DialKeepAlive
			}
			stream, err := p.dial(kind, host, port, dialOpts)
			if err != nil {
				p.logger.Printf("httpconnpool: dial %s:%s failed: %v", host, port, err)
				return nil, err
			}
			c := newConnection(p, kind, host, port, stream, pipelineLimit, reuseLimit)
			p.conns = append(p.conns, c)
			c.mu.Lock()
			t := newTransactionLocked(c)
			c.mu.Unlock()
			return t, nil
		}

		// Step 5: share a busy-reader writable connection, random tie-break.
		if t := p.findWritableLocked(kind, host, port, pipelineLimit, false); t != nil {
			return t, nil
		}

		// Step 6: release the lock and wait; restart from step 1 on wake.
		p.cond.Wait()
	}
}

// findWritableLocked scans pooled Connections matching the endpoint key for
// ones with no active writer, room under pipeline_limit+1, and under the
// reuse limit. When idleOnly is true it restricts to Connections with no
// active reader (step 3); otherwise it considers busy-reader Connections
// too (step 5). Ties are broken uniformly at random. Caller holds p.mu.
func (p *Pool) findWritableLocked(kind StreamKind, host, port string, pipelineLimit int, idleOnly bool) *Transaction {
	var candidates []*Connection
	for _, c := range p.conns {
		c.mu.Lock()
		ok := c.matches(kind, host, port, pipelineLimit) &&
			!c.writeBusy &&
			c.stream.IsOpen() &&
			(c.reuseLimit <= 0 || c.writeCount < c.reuseLimit) &&
			c.inFlightLocked() < pipelineLimit+1
		idle := c.idleLocked()
		c.mu.Unlock()

		if !ok {
			continue
		}
		if idleOnly && !idle {
			continue
		}
		if !idleOnly && idle {
			// idle candidates are already covered by step 3; step 5
			// only needs to consider busy-reader connections.
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}
	chosen := candidates[rand.Intn(len(candidates))]
	chosen.mu.Lock()
	t := newTransactionLocked(chosen)
	chosen.mu.Unlock()
	return t
}

// countMatchingLocked counts pooled Connections for the endpoint key,
// regardless of their current writer/reader state. Caller holds p.mu.
func (p *Pool) countMatchingLocked(kind StreamKind, host, port string, pipelineLimit int) int {
	n := 0
	for _, c := range p.conns {
		c.mu.Lock()
		if c.matches(kind, host, port, pipelineLimit) {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// CloseAll closes every pooled Connection concurrently and empties the pool.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.closed = true
	p.mu.Unlock()

	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.mu.Lock()
			err := c.stream.Close()
			c.mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	p.notify()
	return err
}

// PoolStats aggregates ConnectionStats across every pooled Connection.
type PoolStats struct {
	Total         int
	Open          int
	WriteBusy     int
	ReadLocked    int
	TotalInFlight int
}

// Stats returns an aggregate snapshot over all pooled Connections.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	conns := append([]*Connection(nil), p.conns...)
	p.mu.Unlock()

	var s PoolStats
	s.Total = len(conns)
	for _, c := range conns {
		st := c.Stats()
		if st.Open {
			s.Open++
		}
		if st.WriteBusy {
			s.WriteBusy++
		}
		if st.ReaderActive {
			s.ReadLocked++
		}
		s.TotalInFlight += st.WriteCount - st.ReadCount
	}
	return s
}

// watchContext returns a stop function; while active, ctx.Done() broadcasts
// the pool condition so an Acquire call blocked in step 6 notices
// cancellation promptly instead of only on the next spurious wake. Grounded
// in the pack's own time.AfterFunc(..., cond.Broadcast) wakeup pattern for
// bounding an otherwise indefinite cond.Wait.
func (p *Pool) watchContext(ctx context.Context) (stop func()) {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.notify()
		case <-done:
		}
	}()
	return func() { close(done) }
}
