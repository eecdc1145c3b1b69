// Package sim supplies the deterministic simulation the netcode drives.
// The reconciliation engine never looks inside these types beyond Step and
// Distance; any game with a deterministic per-tick step function can replace
// this package.
package sim

import "math"

// Input is one tick's worth of player intent.
// MoveX/MoveY form an intent vector that is clamped to unit length before
// being applied, so a client cannot move faster by sending larger values.
type Input struct {
	MoveX float64 `json:"moveX"`
	MoveY float64 `json:"moveY"`
}

// Magnitude returns the length of the intent vector before clamping.
func (in Input) Magnitude() float64 {
	return math.Hypot(in.MoveX, in.MoveY)
}

// EntityState is the full per-entity simulation state at a given tick.
// Value semantics everywhere: snapshots and history entries are plain copies,
// never aliased with live engine state.
type EntityState struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	VX   float64 `json:"vx"`
	VY   float64 `json:"vy"`
	Tick int64   `json:"tick"`
}

// Config holds the world parameters shared by server and client.
// Both sides MUST use identical values or prediction diverges immediately.
type Config struct {
	Speed       float64 // units moved per tick at full intent
	WorldWidth  float64
	WorldHeight float64
}

// DefaultConfig returns the world parameters used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Speed:       5,
		WorldWidth:  1280,
		WorldHeight: 720,
	}
}

// Step advances one entity by exactly one tick. It is a pure function:
// identical (state, input) always produces the identical result, which is
// what makes client-side replay after a rollback land on the server's answer.
func Step(cfg Config, s EntityState, in Input) EntityState {
	dx, dy := in.MoveX, in.MoveY
	if mag := math.Hypot(dx, dy); mag > 1 {
		dx /= mag
		dy /= mag
	}

	s.VX = dx * cfg.Speed
	s.VY = dy * cfg.Speed
	s.X += s.VX
	s.Y += s.VY

	if s.X < 0 {
		s.X = 0
	} else if s.X > cfg.WorldWidth {
		s.X = cfg.WorldWidth
	}
	if s.Y < 0 {
		s.Y = 0
	} else if s.Y > cfg.WorldHeight {
		s.Y = cfg.WorldHeight
	}

	s.Tick++
	return s
}

// Distance is the divergence metric between a predicted and an authoritative
// state: Euclidean distance over position and velocity components. Tick is
// deliberately excluded; the caller compares ticks separately.
func Distance(a, b EntityState) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dvx := a.VX - b.VX
	dvy := a.VY - b.VY
	return math.Sqrt(dx*dx + dy*dy + dvx*dvx + dvy*dvy)
}
