// Package httpconnpool implements the core of an HTTP/1.1 client connection
// pool: choosing, dialing, sharing, and waiting for byte streams to a remote
// endpoint (Pool), and the per-request handle that enforces write
// mutual-exclusion and ordered, pipelined read hand-off on a shared stream
// (Transaction). It does not dial TCP/TLS itself beyond a convenience
// default, parse HTTP messages, or build requests; those are external
// collaborators.
package httpconnpool
