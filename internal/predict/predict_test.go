package predict

import (
	"math"
	"testing"

	"netarena/internal/protocol"
	"netarena/internal/sim"
)

func testWorld() sim.Config {
	return sim.Config{Speed: 5, WorldWidth: 1280, WorldHeight: 720}
}

func newTestEngine(threshold float64) *Engine {
	cfg := DefaultConfig()
	cfg.ReconcileThreshold = threshold
	return NewEngine(cfg, testWorld(), sim.EntityState{})
}

// TestPurePredictionFold: before any snapshot arrives, predicted state equals
// the deterministic fold of Step over the applied inputs.
func TestPurePredictionFold(t *testing.T) {
	e := newTestEngine(5)

	inputs := []sim.Input{
		{MoveX: 1},
		{MoveX: 1, MoveY: 1},
		{MoveY: -1},
		{},
		{MoveX: -0.5},
	}

	want := sim.EntityState{}
	for i, in := range inputs {
		tick := int64(i + 1)
		if !e.ApplyLocalInput(tick, in, 0) {
			t.Fatalf("input for tick %d rejected", tick)
		}
		want = sim.Step(testWorld(), want, in)
	}

	if e.Predicted() != want {
		t.Errorf("predicted %+v, want fold result %+v", e.Predicted(), want)
	}
	if e.Mode() != ModePredicting {
		t.Errorf("mode = %s, want predicting", e.Mode())
	}
}

// TestSmallDivergenceBlends reproduces the blend scenario: speed 5, two
// inputs take x to 10, authority says 9.5. Divergence 0.5 against threshold 5
// yields a 5% blend: corrected x = 9.975, never a hard snap.
func TestSmallDivergenceBlends(t *testing.T) {
	e := newTestEngine(5)
	e.ApplyLocalInput(1, sim.Input{MoveX: 1}, 0)
	e.ApplyLocalInput(2, sim.Input{MoveX: 1}, 0)

	if got := e.Predicted().X; got != 10 {
		t.Fatalf("predicted x = %v before snapshot, want 10", got)
	}

	snap := protocol.Snapshot{
		Tick:               1,
		State:              sim.EntityState{X: 9.5, VX: 5, Tick: 1},
		AckOfLastInputTick: 1,
	}
	res := e.OnSnapshot(snap, true)

	if !res.Applied || res.RolledBack {
		t.Fatalf("expected blended application, got %+v", res)
	}
	if math.Abs(res.Divergence-0.5) > 1e-9 {
		t.Errorf("divergence = %v, want 0.5", res.Divergence)
	}
	if math.Abs(res.Blend-0.05) > 1e-9 {
		t.Errorf("blend factor = %v, want 0.05", res.Blend)
	}
	if got := e.Predicted().X; math.Abs(got-9.975) > 1e-9 {
		t.Errorf("corrected x = %v, want 9.975", got)
	}
}

// TestLargeDivergenceRollsBack: authority at x=5 against predicted x=10 with
// a tight threshold resets predicted to the snapshot and replays the
// remaining buffered inputs.
func TestLargeDivergenceRollsBack(t *testing.T) {
	tests := []struct {
		name        string
		extraInputs int64 // inputs buffered beyond the snapshot tick
		wantX       float64
	}{
		{"nothing left to replay", 0, 5},
		{"two inputs replayed", 2, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(0.1)
			e.ApplyLocalInput(1, sim.Input{MoveX: 1}, 0)
			e.ApplyLocalInput(2, sim.Input{MoveX: 1}, 0)
			for i := int64(0); i < tt.extraInputs; i++ {
				e.ApplyLocalInput(3+i, sim.Input{MoveX: 1}, 0)
			}

			auth := sim.EntityState{X: 5, VX: 5, Tick: 2}
			res := e.OnSnapshot(protocol.Snapshot{Tick: 2, State: auth, AckOfLastInputTick: 2}, true)

			if !res.RolledBack {
				t.Fatalf("expected rollback, got %+v", res)
			}
			if res.Replayed != int(tt.extraInputs) {
				t.Errorf("replayed %d inputs, want %d", res.Replayed, tt.extraInputs)
			}
			if got := e.Predicted().X; math.Abs(got-tt.wantX) > 1e-9 {
				t.Errorf("post-rollback x = %v, want %v", got, tt.wantX)
			}
			if e.Mode() != ModePredicting {
				t.Errorf("mode = %s after replay, want predicting", e.Mode())
			}
		})
	}
}

// TestRollbackCorrectness: post-reconciliation state equals Step folded over
// the buffered inputs from the snapshot state, independent of whatever the
// intermediate predicted state was.
func TestRollbackCorrectness(t *testing.T) {
	e := newTestEngine(0.01)

	// Build an arbitrary predicted history.
	inputs := []sim.Input{{MoveX: 1}, {MoveY: 1}, {MoveX: -1, MoveY: 0.5}, {MoveX: 0.25}}
	for i, in := range inputs {
		e.ApplyLocalInput(int64(i+1), in, 0)
	}

	// Authority disagrees at tick 1; inputs 2..4 must be replayed from it.
	auth := sim.EntityState{X: 42, Y: 17, VX: 1, VY: -1, Tick: 1}
	e.OnSnapshot(protocol.Snapshot{Tick: 1, State: auth, AckOfLastInputTick: 1}, true)

	want := auth
	for _, in := range inputs[1:] {
		want = sim.Step(testWorld(), want, in)
	}
	if e.Predicted() != want {
		t.Errorf("replayed state %+v, want fold from snapshot %+v", e.Predicted(), want)
	}
}

// TestMonotonicPruning: after a snapshot at tick T the buffer holds nothing
// at or below T.
func TestMonotonicPruning(t *testing.T) {
	e := newTestEngine(100) // generous threshold: blending branch
	for tick := int64(1); tick <= 6; tick++ {
		e.ApplyLocalInput(tick, sim.Input{MoveX: 1}, 0)
	}

	e.OnSnapshot(protocol.Snapshot{Tick: 4, State: sim.EntityState{Tick: 4}, AckOfLastInputTick: 4}, true)

	for _, r := range e.Buffer().EntriesAfter(-1) {
		if r.Tick <= 4 {
			t.Errorf("entry tick %d survived snapshot at tick 4", r.Tick)
		}
	}
	if e.Buffer().Len() != 2 {
		t.Errorf("buffer len = %d, want 2", e.Buffer().Len())
	}
}

// TestStaleSnapshotIgnored: a snapshot older than the last applied one must
// not alter predicted or authoritative state.
func TestStaleSnapshotIgnored(t *testing.T) {
	e := newTestEngine(5)
	e.ApplyLocalInput(1, sim.Input{MoveX: 1}, 0)

	fresh := protocol.Snapshot{Tick: 5, State: sim.EntityState{X: 5, VX: 5, Tick: 5}, AckOfLastInputTick: 5}
	e.OnSnapshot(fresh, true)

	predictedBefore := e.Predicted()
	authBefore := e.LastAuthoritative()

	stale := protocol.Snapshot{Tick: 3, State: sim.EntityState{X: 999, Tick: 3}}
	res := e.OnSnapshot(stale, true)

	if res.Applied {
		t.Error("stale snapshot reported as applied")
	}
	if e.Predicted() != predictedBefore {
		t.Error("stale snapshot mutated predicted state")
	}
	if e.LastAuthoritative() != authBefore {
		t.Error("stale snapshot mutated authoritative state")
	}
	if e.GetStats().Stale != 1 {
		t.Errorf("stale counter = %d, want 1", e.GetStats().Stale)
	}
}

// TestUnreliableSyncWidensThreshold: divergence between the base and the
// degraded threshold blends under unreliable sync instead of rolling back.
func TestUnreliableSyncWidensThreshold(t *testing.T) {
	e := newTestEngine(4) // degraded threshold = 8
	e.ApplyLocalInput(1, sim.Input{MoveX: 1}, 0)

	// Divergence 6: above the base threshold, below the degraded one.
	auth := sim.EntityState{X: e.Predicted().X - 6, VX: 5, Tick: 1}

	res := e.OnSnapshot(protocol.Snapshot{Tick: 1, State: auth, AckOfLastInputTick: 1}, false)
	if res.RolledBack {
		t.Fatal("rolled back despite widened threshold under unreliable sync")
	}
	// Blend also softened: 0.5 * 0.5 * (6/8) = 0.1875.
	if math.Abs(res.Blend-0.1875) > 1e-9 {
		t.Errorf("degraded blend = %v, want 0.1875", res.Blend)
	}

	// Same divergence with reliable sync rolls back.
	e2 := newTestEngine(4)
	e2.ApplyLocalInput(1, sim.Input{MoveX: 1}, 0)
	auth2 := sim.EntityState{X: e2.Predicted().X - 6, VX: 5, Tick: 1}
	if res := e2.OnSnapshot(protocol.Snapshot{Tick: 1, State: auth2, AckOfLastInputTick: 1}, true); !res.RolledBack {
		t.Error("expected rollback under reliable sync")
	}
}
