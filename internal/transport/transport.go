// Package transport carries encoded packets between peers. The in-memory
// switch is the production path for same-process simulation harnesses and
// tests; the chaos wrapper layers loss, duplication, reordering and latency
// on top of any endpoint.
package transport

import "context"

// Addr identifies a peer on a Switch.
type Addr string

// Endpoint is the minimal surface the session and client layers need.
type Endpoint interface {
	// RecvFrom blocks until a frame arrives or ctx/endpoint is closed.
	RecvFrom(ctx context.Context) (Addr, []byte, bool)
	// TryRecvFrom returns a queued frame without blocking; ok is false
	// when the inbox is empty or the endpoint is closed.
	TryRecvFrom() (Addr, []byte, bool)
	Send(to Addr, frame []byte) error
	Addr() Addr
	Close()
}
