// Package predict implements client-side prediction with rollback/replay
// reconciliation. The engine applies local inputs immediately, compares its
// predicted state against authoritative snapshots, and either blends away
// small divergence or rolls back to the snapshot and replays buffered inputs.
package predict

import (
	"log"

	"netarena/internal/input"
	"netarena/internal/protocol"
	"netarena/internal/sim"
)

// Mode is the engine's reconciliation state. There is no terminal mode while
// the connection lives: Correcting always returns to Predicting.
type Mode uint8

const (
	ModePredicting Mode = iota
	ModeCorrecting
)

// String returns the mode name for logs.
func (m Mode) String() string {
	switch m {
	case ModePredicting:
		return "predicting"
	case ModeCorrecting:
		return "correcting"
	default:
		return "unknown"
	}
}

// Config tunes reconciliation per-domain. Thresholds are in units of the
// sim.Distance metric.
type Config struct {
	ReconcileThreshold float64 // divergence above this triggers rollback+replay
	MaxBlendFactor     float64 // blend cap when divergence is at the threshold

	// Degradation applied while clock sync is unreliable: a wider threshold
	// and gentler blending instead of failing outright.
	UnreliableThresholdScale float64
	UnreliableBlendScale     float64
}

// DefaultConfig returns reconciliation tuning that suits the bundled sim.
func DefaultConfig() Config {
	return Config{
		ReconcileThreshold:       5,
		MaxBlendFactor:           0.5,
		UnreliableThresholdScale: 2,
		UnreliableBlendScale:     0.5,
	}
}

// Result describes what one snapshot did to the predicted state.
type Result struct {
	Applied    bool    // false when the snapshot was stale
	RolledBack bool    // rollback+replay taken instead of blending
	Replayed   int     // inputs replayed after a rollback
	Divergence float64 // metric distance before reconciliation
	Blend      float64 // blend factor used (0 when rolled back)
}

// Engine owns the predicted state for one connection. Single logical thread:
// input application, rollback and blending never interleave - the owning
// session serializes snapshot processing against local input appends.
type Engine struct {
	cfg   Config
	world sim.Config

	mode              Mode
	predicted         sim.EntityState
	lastAuthoritative sim.EntityState
	lastSnapshotTick  int64

	buf *input.Buffer

	rollbacks uint64
	blends    uint64
	stale     uint64
}

// NewEngine creates a prediction engine starting from the given state.
func NewEngine(cfg Config, world sim.Config, start sim.EntityState) *Engine {
	return &Engine{
		cfg:              cfg,
		world:            world,
		predicted:        start,
		lastSnapshotTick: -1,
		buf:              input.NewBuffer(),
	}
}

// ApplyLocalInput records the input for its target tick and applies the
// deterministic step to the predicted state immediately - without waiting for
// any server round trip. Returns false if the buffer rejected the tick as
// out of order, in which case the predicted state is left untouched.
func (e *Engine) ApplyLocalInput(tick int64, in sim.Input, now int64) bool {
	if !e.buf.Record(tick, in, now) {
		return false
	}
	e.predicted = sim.Step(e.world, e.predicted, in)
	return true
}

// OnSnapshot reconciles the predicted state against one authoritative
// snapshot. syncReliable widens the threshold and softens blending when the
// clock sync quality is too poor to trust tick comparisons.
func (e *Engine) OnSnapshot(snap protocol.Snapshot, syncReliable bool) Result {
	// Stale-packet guard: never roll back past state already superseded by a
	// newer confirmed authority.
	if snap.Tick < e.lastSnapshotTick {
		e.stale++
		return Result{}
	}

	e.lastAuthoritative = snap.State
	e.lastSnapshotTick = snap.Tick

	threshold := e.cfg.ReconcileThreshold
	maxBlend := e.cfg.MaxBlendFactor
	if !syncReliable {
		threshold *= e.cfg.UnreliableThresholdScale
		maxBlend *= e.cfg.UnreliableBlendScale
	}

	res := Result{Applied: true}
	res.Divergence = sim.Distance(e.predicted, snap.State)

	if res.Divergence <= threshold {
		// Small divergence: smooth blend toward authority, proportional to
		// divergence, never a hard snap.
		if res.Divergence > 0 && threshold > 0 {
			f := maxBlend * (res.Divergence / threshold)
			e.predicted.X += f * (snap.State.X - e.predicted.X)
			e.predicted.Y += f * (snap.State.Y - e.predicted.Y)
			e.predicted.VX += f * (snap.State.VX - e.predicted.VX)
			e.predicted.VY += f * (snap.State.VY - e.predicted.VY)
			res.Blend = f
			e.blends++
		}
	} else {
		// Large divergence: rollback to authority, then replay every
		// buffered input past the snapshot tick in order.
		e.mode = ModeCorrecting
		e.predicted = snap.State
		replay := e.buf.EntriesAfter(snap.Tick)
		for _, r := range replay {
			e.predicted = sim.Step(e.world, e.predicted, r.Input)
		}
		e.mode = ModePredicting
		e.rollbacks++
		res.RolledBack = true
		res.Replayed = len(replay)
		log.Printf("rollback at tick %d: divergence %.2f, replayed %d inputs", snap.Tick, res.Divergence, len(replay))
	}

	ackTick := snap.Tick
	if snap.AckOfLastInputTick > ackTick {
		ackTick = snap.AckOfLastInputTick
	}
	e.buf.PruneUpTo(ackTick)
	return res
}

// Predicted returns a copy of the current predicted state.
func (e *Engine) Predicted() sim.EntityState { return e.predicted }

// LastAuthoritative returns a copy of the most recent accepted snapshot state.
func (e *Engine) LastAuthoritative() sim.EntityState { return e.lastAuthoritative }

// LastSnapshotTick returns the tick of the most recent accepted snapshot,
// or -1 before the first one.
func (e *Engine) LastSnapshotTick() int64 { return e.lastSnapshotTick }

// Mode returns the current reconciliation mode.
func (e *Engine) Mode() Mode { return e.mode }

// Buffer exposes the input log, mainly for the owning session and tests.
func (e *Engine) Buffer() *input.Buffer { return e.buf }

// Stats is a point-in-time snapshot of reconciliation counters.
type Stats struct {
	Rollbacks uint64 `json:"rollbacks"`
	Blends    uint64 `json:"blends"`
	Stale     uint64 `json:"stale"`
	Buffered  int    `json:"buffered"`
}

// GetStats returns current counters.
func (e *Engine) GetStats() Stats {
	return Stats{
		Rollbacks: e.rollbacks,
		Blends:    e.blends,
		Stale:     e.stale,
		Buffered:  e.buf.Len(),
	}
}
