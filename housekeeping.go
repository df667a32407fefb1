package httpconnpool

// evictOverusedLocked closes every Connection matching the endpoint key that
// has reached its reuse limit and currently has no active reader. Closure
// does not remove the entry from the pool slice; purgeDeadLocked does that
// once the Connection owes no further response. Caller holds p.mu.
func (p *Pool) evictOverusedLocked(kind StreamKind, host, port string, pipelineLimit int) {
	for _, c := range p.conns {
		c.mu.Lock()
		if c.matches(kind, host, port, pipelineLimit) && c.reuseLimit > 0 && c.readOwner == nil && c.readCount >= c.reuseLimit {
			if c.stream.IsOpen() {
				p.logger.Printf("httpconnpool: evicting over-reused connection %s:%s (read_count=%d reuse_limit=%d)", c.host, c.port, c.readCount, c.reuseLimit)
				c.stream.Close()
			}
		}
		c.mu.Unlock()
	}
}

// purgeDeadLocked removes Connections that are closed and owe no further
// response (read_count >= write_count) from the pool. Caller holds p.mu.
func (p *Pool) purgeDeadLocked() {
	kept := p.conns[:0]
	for _, c := range p.conns {
		c.mu.Lock()
		dead := !c.stream.IsOpen() && c.readCount >= c.writeCount
		c.mu.Unlock()
		if dead {
			p.logger.Printf("httpconnpool: purging dead connection %s:%s", c.host, c.port)
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept
}
