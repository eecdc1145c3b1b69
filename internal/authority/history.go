package authority

import "netarena/internal/sim"

// History is a bounded ring of authoritative states for one entity, retained
// for lag compensation. Depth should cover maxSupportedRTT/2 worth of ticks.
type History struct {
	states []sim.EntityState
	valid  []bool
	depth  int
}

// NewHistory creates a ring holding the last depth ticks.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = 1
	}
	return &History{
		states: make([]sim.EntityState, depth),
		valid:  make([]bool, depth),
		depth:  depth,
	}
}

// Push records the state for its tick, overwriting the slot depth ticks back.
func (h *History) Push(s sim.EntityState) {
	idx := int(s.Tick % int64(h.depth))
	h.states[idx] = s
	h.valid[idx] = true
}

// At returns the state recorded for a tick, if it is still within the ring.
func (h *History) At(tick int64) (sim.EntityState, bool) {
	if tick < 0 {
		return sim.EntityState{}, false
	}
	idx := int(tick % int64(h.depth))
	if !h.valid[idx] || h.states[idx].Tick != tick {
		return sim.EntityState{}, false
	}
	return h.states[idx], true
}

// Depth returns the ring capacity in ticks.
func (h *History) Depth() int { return h.depth }
