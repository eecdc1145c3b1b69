// Package authority runs the server-side canonical simulation. One engine per
// server instance (or shard): it receives, orders and validates inputs per
// connected client, advances exactly one canonical tick per Tick call, and
// produces per-client snapshots.
//
// The engine never starts its own timer. The host owns the tick pump and
// calls Tick once per tick boundary; SubmitInput may be called from the
// network receive path and is serialized against Tick internally.
package authority

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"netarena/internal/protocol"
	"netarena/internal/sim"
)

// Config tunes the authoritative engine.
type Config struct {
	TickRate     int
	HistoryDepth int     // per-entity lag compensation ring, in ticks
	IntentSlack  float64 // tolerance above unit intent before an input is implausible
	MaxQueued    int     // per-client inbound queue cap
}

// DefaultConfig returns production defaults. The 256-tick history covers
// roughly 4 seconds at 60Hz, far beyond any supported RTT/2.
func DefaultConfig(tickRate int) Config {
	return Config{
		TickRate:     tickRate,
		HistoryDepth: 256,
		IntentSlack:  0.001,
		MaxQueued:    128,
	}
}

type queuedInput struct {
	tick  int64
	input sim.Input
}

type clientState struct {
	id       string
	name     string
	queue    []queuedInput // ordered by tick, deduplicated
	lastAck  int64         // highest validated input tick consumed
	state    sim.EntityState
	history  *History
	rejected uint64
}

// Engine is the authoritative simulation core.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	world sim.Config

	tick    int64
	clients map[string]*clientState

	rejectedTotal uint64
}

// NewEngine creates an engine at tick 0 with no clients.
func NewEngine(cfg Config, world sim.Config) *Engine {
	if cfg.HistoryDepth <= 0 {
		cfg = DefaultConfig(cfg.TickRate)
	}
	return &Engine{
		cfg:     cfg,
		world:   world,
		clients: make(map[string]*clientState),
	}
}

// AddClient registers a client and returns its spawn state. Re-adding an
// existing id returns the current state unchanged.
func (e *Engine) AddClient(id, name string) sim.EntityState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[id]; ok {
		return c.state
	}
	c := &clientState{
		id:      id,
		name:    name,
		lastAck: -1,
		state: sim.EntityState{
			X:    e.world.WorldWidth / 2,
			Y:    e.world.WorldHeight / 2,
			Tick: e.tick,
		},
		history: NewHistory(e.cfg.HistoryDepth),
	}
	e.clients[id] = c
	log.Printf("👤 client joined: %s (%d connected)", id, len(e.clients))
	return c.state
}

// RemoveClient tears down a client's queue, state and history atomically.
// Nothing of a removed client can resurface on a later tick.
func (e *Engine) RemoveClient(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.clients[id]; !ok {
		return
	}
	delete(e.clients, id)
	log.Printf("👤 client left: %s (%d connected)", id, len(e.clients))
}

// SubmitInput queues one input for a client. Safe to call from the I/O path;
// the input is applied only at the next tick boundary, never directly.
//
// Validation failures and ordering anomalies are rejected with an error for
// logging/anti-cheat counting, but they never drop the connection.
func (e *Engine) SubmitInput(id string, tick int64, in sim.Input) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clients[id]
	if !ok {
		return fmt.Errorf("unknown client %s", id)
	}

	// Implausible intent: anything a legal client cannot produce.
	if in.Magnitude() > 1+e.cfg.IntentSlack {
		c.rejected++
		e.rejectedTotal++
		return fmt.Errorf("client %s: implausible intent magnitude %.3f at tick %d", id, in.Magnitude(), tick)
	}

	// Already consumed: the authoritative step for this tick has passed and
	// was acked; a retransmitted duplicate lands here.
	if tick <= c.lastAck {
		return nil
	}

	// Insert in tick order, rejecting duplicates; packets may arrive out of
	// order but the queue never is.
	pos := sort.Search(len(c.queue), func(i int) bool { return c.queue[i].tick >= tick })
	if pos < len(c.queue) && c.queue[pos].tick == tick {
		return nil // duplicate tick, first one wins
	}
	if len(c.queue) >= e.cfg.MaxQueued {
		c.rejected++
		e.rejectedTotal++
		return fmt.Errorf("client %s: input queue full", id)
	}
	c.queue = append(c.queue, queuedInput{})
	copy(c.queue[pos+1:], c.queue[pos:])
	c.queue[pos] = queuedInput{tick: tick, input: in}
	return nil
}

// Tick advances the canonical simulation by exactly one tick and returns one
// snapshot per client, keyed by client id. Clients are stepped in sorted id
// order so a given set of inputs always produces the same world.
func (e *Engine) Tick() map[string]protocol.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick++
	target := e.tick

	ids := make([]string, 0, len(e.clients))
	for id := range e.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]protocol.Snapshot, len(ids))
	for _, id := range ids {
		c := e.clients[id]

		// Consume everything due through this tick in strict tick order; the
		// most recent input wins the step, stragglers just move the ack.
		var in sim.Input
		consumed := 0
		for consumed < len(c.queue) && c.queue[consumed].tick <= target {
			in = c.queue[consumed].input
			c.lastAck = c.queue[consumed].tick
			consumed++
		}
		if consumed > 0 {
			c.queue = append(c.queue[:0], c.queue[consumed:]...)
		}

		c.state = sim.Step(e.world, c.state, in)
		c.state.Tick = target // canonical tick is authoritative, never skipped
		c.history.Push(c.state)

		out[id] = protocol.Snapshot{
			Tick:               target,
			State:              c.state,
			AckOfLastInputTick: c.lastAck,
		}
	}
	return out
}

// CurrentTick returns the last completed authoritative tick.
func (e *Engine) CurrentTick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// ClientCount returns the number of connected clients.
func (e *Engine) ClientCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clients)
}

// ClientInfo is the operational view of one connected client.
type ClientInfo struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	State    sim.EntityState `json:"state"`
	LastAck  int64           `json:"lastAck"`
	Queued   int             `json:"queued"`
	Rejected uint64          `json:"rejected"`
}

// Clients returns operational info for every connected client, sorted by id.
func (e *Engine) Clients() []ClientInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ClientInfo, 0, len(e.clients))
	for _, c := range e.clients {
		out = append(out, ClientInfo{
			ID:       c.id,
			Name:     c.name,
			State:    c.state,
			LastAck:  c.lastAck,
			Queued:   len(c.queue),
			Rejected: c.rejected,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RewindView reconstructs a client's authoritative state as it existed at a
// past tick, for judging lag-compensated interactions from the acting
// client's perceived timeline. Returns false if the tick fell out of the
// history ring or the client is unknown.
func (e *Engine) RewindView(id string, tick int64) (sim.EntityState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clients[id]
	if !ok {
		return sim.EntityState{}, false
	}
	return c.history.At(tick)
}

// RejectedInputs returns the total count of rejected inputs across clients,
// an anti-cheat heuristic surfaced to metrics.
func (e *Engine) RejectedInputs() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rejectedTotal
}
