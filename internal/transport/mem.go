package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const inboxDepth = 256

type envelope struct {
	from Addr
	data []byte
}

// Switch delivers frames between listened addresses in the same process.
type Switch struct {
	mu    sync.RWMutex
	inbox map[Addr]chan envelope
}

func NewSwitch() *Switch {
	return &Switch{inbox: make(map[Addr]chan envelope)}
}

// Listen claims an address on the switch and returns its endpoint.
func (s *Switch) Listen(addr Addr) (*MemEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inbox[addr]; exists {
		return nil, fmt.Errorf("address already in use: %s", addr)
	}
	ch := make(chan envelope, inboxDepth)
	s.inbox[addr] = ch
	return &MemEndpoint{sw: s, addr: addr, in: ch, closed: make(chan struct{})}, nil
}

// MemEndpoint is the handle a peer uses to send and receive frames.
type MemEndpoint struct {
	sw     *Switch
	addr   Addr
	in     chan envelope
	closed chan struct{}

	closeOnce sync.Once
}

func (e *MemEndpoint) Addr() Addr { return e.addr }

func (e *MemEndpoint) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.sw.mu.Lock()
		delete(e.sw.inbox, e.addr)
		e.sw.mu.Unlock()
	})
}

func (e *MemEndpoint) RecvFrom(ctx context.Context) (Addr, []byte, bool) {
	select {
	case <-e.closed:
		return "", nil, false
	case <-ctx.Done():
		return "", nil, false
	case env := <-e.in:
		return env.from, env.data, true
	}
}

func (e *MemEndpoint) TryRecvFrom() (Addr, []byte, bool) {
	select {
	case <-e.closed:
		return "", nil, false
	default:
	}
	select {
	case env := <-e.in:
		return env.from, env.data, true
	default:
		return "", nil, false
	}
}

// Send delivers a frame to the destination address. Delivery never blocks:
// a full destination inbox is an error, not backpressure.
func (e *MemEndpoint) Send(to Addr, frame []byte) error {
	select {
	case <-e.closed:
		return errors.New("endpoint closed")
	default:
	}
	e.sw.mu.RLock()
	dst, ok := e.sw.inbox[to]
	e.sw.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown destination %s", to)
	}
	select {
	case dst <- envelope{from: e.addr, data: frame}:
		return nil
	default:
		return fmt.Errorf("destination %s inbox full", to)
	}
}
