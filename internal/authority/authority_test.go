package authority

import (
	"testing"

	"netarena/internal/sim"
)

func testEngine() *Engine {
	return NewEngine(DefaultConfig(60), sim.Config{Speed: 5, WorldWidth: 1280, WorldHeight: 720})
}

// TestTickAdvancesExactlyOnce verifies ticks strictly increase by one and
// every connected client is stepped once per boundary.
func TestTickAdvancesExactlyOnce(t *testing.T) {
	e := testEngine()
	e.AddClient("a", "alice")
	e.AddClient("b", "bob")

	for want := int64(1); want <= 5; want++ {
		snaps := e.Tick()
		if e.CurrentTick() != want {
			t.Fatalf("tick = %d, want %d", e.CurrentTick(), want)
		}
		if len(snaps) != 2 {
			t.Fatalf("got %d snapshots, want 2", len(snaps))
		}
		for id, s := range snaps {
			if s.Tick != want {
				t.Errorf("client %s snapshot tick = %d, want %d", id, s.Tick, want)
			}
			if s.State.Tick != want {
				t.Errorf("client %s state tick = %d, want %d", id, s.State.Tick, want)
			}
		}
	}
}

// TestInputsAppliedInTickOrder: inputs submitted out of order are consumed in
// strict tick order, never in arrival order.
func TestInputsAppliedInTickOrder(t *testing.T) {
	e := testEngine()
	start := e.AddClient("a", "alice")

	// Arrival order 2, 1: tick 1 must still be applied first.
	if err := e.SubmitInput("a", 2, sim.Input{MoveY: 1}); err != nil {
		t.Fatalf("SubmitInput tick 2: %v", err)
	}
	if err := e.SubmitInput("a", 1, sim.Input{MoveX: 1}); err != nil {
		t.Fatalf("SubmitInput tick 1: %v", err)
	}

	snap1 := e.Tick()["a"]
	if snap1.State.X != start.X+5 || snap1.State.Y != start.Y {
		t.Errorf("tick 1 applied wrong input: %+v", snap1.State)
	}
	if snap1.AckOfLastInputTick != 1 {
		t.Errorf("tick 1 ack = %d, want 1", snap1.AckOfLastInputTick)
	}

	snap2 := e.Tick()["a"]
	if snap2.State.Y != start.Y+5 {
		t.Errorf("tick 2 applied wrong input: %+v", snap2.State)
	}
	if snap2.AckOfLastInputTick != 2 {
		t.Errorf("tick 2 ack = %d, want 2", snap2.AckOfLastInputTick)
	}
}

// TestLateInputsMoveAckOnly: multiple ticks' worth arriving at once are
// consumed in order with the most recent winning the single step.
func TestLateInputsMoveAckOnly(t *testing.T) {
	e := testEngine()
	start := e.AddClient("a", "alice")

	e.SubmitInput("a", 1, sim.Input{MoveX: 1})
	e.SubmitInput("a", 2, sim.Input{MoveY: 1})
	e.SubmitInput("a", 3, sim.Input{MoveX: -1})

	// All three are due at tick 3 if the first two boundaries already passed.
	e.Tick() // tick 1 consumes input 1
	e.Tick() // tick 2 consumes input 2
	snap := e.Tick()

	if got := snap["a"].AckOfLastInputTick; got != 3 {
		t.Errorf("ack = %d, want 3", got)
	}
	if snap["a"].State.X != start.X {
		t.Errorf("x = %v, want back at %v", snap["a"].State.X, start.X)
	}
}

// TestImplausibleInputRejected: oversized intent is rejected and countable,
// but the connection stays up and later valid input is accepted.
func TestImplausibleInputRejected(t *testing.T) {
	e := testEngine()
	e.AddClient("a", "alice")

	if err := e.SubmitInput("a", 1, sim.Input{MoveX: 40, MoveY: 40}); err == nil {
		t.Fatal("implausible input accepted")
	}
	if e.RejectedInputs() != 1 {
		t.Errorf("rejected count = %d, want 1", e.RejectedInputs())
	}

	if err := e.SubmitInput("a", 1, sim.Input{MoveX: 1}); err != nil {
		t.Errorf("valid input rejected after earlier violation: %v", err)
	}
	snap := e.Tick()["a"]
	if snap.AckOfLastInputTick != 1 {
		t.Errorf("ack = %d, want 1", snap.AckOfLastInputTick)
	}
}

// TestDuplicateTickIgnored: (clientId, tick) dedup keeps the first input.
func TestDuplicateTickIgnored(t *testing.T) {
	e := testEngine()
	start := e.AddClient("a", "alice")

	e.SubmitInput("a", 1, sim.Input{MoveX: 1})
	e.SubmitInput("a", 1, sim.Input{MoveX: -1}) // duplicate: ignored

	snap := e.Tick()["a"]
	if snap.State.X != start.X+5 {
		t.Errorf("duplicate tick overwrote input: x = %v", snap.State.X)
	}
}

// TestConsumedTickResubmission: a retransmitted input for an already-acked
// tick is silently dropped, not re-applied.
func TestConsumedTickResubmission(t *testing.T) {
	e := testEngine()
	e.AddClient("a", "alice")

	e.SubmitInput("a", 1, sim.Input{MoveX: 1})
	e.Tick()

	if err := e.SubmitInput("a", 1, sim.Input{MoveX: 1}); err != nil {
		t.Errorf("resubmission of acked tick errored: %v", err)
	}
	snap := e.Tick()["a"]
	if snap.AckOfLastInputTick != 1 {
		t.Errorf("ack moved by stale resubmission: %d", snap.AckOfLastInputTick)
	}
}

// TestRemoveClientAtomicTeardown: nothing of a removed client survives.
func TestRemoveClientAtomicTeardown(t *testing.T) {
	e := testEngine()
	e.AddClient("a", "alice")
	e.SubmitInput("a", 1, sim.Input{MoveX: 1})

	e.RemoveClient("a")

	if e.ClientCount() != 0 {
		t.Errorf("client count = %d after removal", e.ClientCount())
	}
	if snaps := e.Tick(); len(snaps) != 0 {
		t.Errorf("removed client produced snapshots: %v", snaps)
	}
	if err := e.SubmitInput("a", 2, sim.Input{}); err == nil {
		t.Error("input accepted for removed client")
	}
	e.RemoveClient("a") // second removal: no-op
}

// TestRewindView reconstructs past states from the history ring.
func TestRewindView(t *testing.T) {
	cfg := DefaultConfig(60)
	cfg.HistoryDepth = 4
	e := NewEngine(cfg, sim.Config{Speed: 5, WorldWidth: 1280, WorldHeight: 720})
	start := e.AddClient("a", "alice")

	for tick := int64(1); tick <= 6; tick++ {
		e.SubmitInput("a", tick, sim.Input{MoveX: 1})
		e.Tick()
	}

	// Tick 5 is within the 4-deep ring.
	s, ok := e.RewindView("a", 5)
	if !ok {
		t.Fatal("tick 5 missing from history")
	}
	if want := start.X + 25; s.X != want {
		t.Errorf("rewound x = %v, want %v", s.X, want)
	}

	// Tick 1 has been overwritten.
	if _, ok := e.RewindView("a", 1); ok {
		t.Error("tick 1 should have fallen out of a 4-deep ring")
	}

	// Unknown client.
	if _, ok := e.RewindView("ghost", 5); ok {
		t.Error("rewind for unknown client succeeded")
	}
}

// TestQueueCap: the per-client queue is bounded and overflow is rejected.
func TestQueueCap(t *testing.T) {
	cfg := DefaultConfig(60)
	cfg.MaxQueued = 3
	e := NewEngine(cfg, sim.Config{Speed: 5, WorldWidth: 1280, WorldHeight: 720})
	e.AddClient("a", "alice")

	for tick := int64(1); tick <= 3; tick++ {
		if err := e.SubmitInput("a", tick, sim.Input{}); err != nil {
			t.Fatalf("SubmitInput tick %d: %v", tick, err)
		}
	}
	if err := e.SubmitInput("a", 4, sim.Input{}); err == nil {
		t.Error("queue overflow accepted")
	}
}
