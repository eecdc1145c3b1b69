// Package input keeps the ordered, tick-indexed log of locally generated
// inputs a client retains until the server acknowledges them in a snapshot.
package input

import (
	"log"

	"netarena/internal/sim"
)

// Record is one buffered input, owned exclusively by the producing client
// until its tick is superseded by an acknowledged authoritative tick.
type Record struct {
	Tick      int64
	Input     sim.Input
	CreatedAt int64 // local ms when the input was produced
}

// Buffer holds records in strictly increasing tick order with no duplicates.
type Buffer struct {
	entries   []Record
	anomalies uint64
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Record appends an input for a tick. Out-of-order or duplicate ticks are a
// non-fatal anomaly: logged, counted, rejected, never panicked over.
func (b *Buffer) Record(tick int64, in sim.Input, now int64) bool {
	if n := len(b.entries); n > 0 && tick <= b.entries[n-1].Tick {
		b.anomalies++
		log.Printf("input buffer: rejecting out-of-order tick %d (last %d)", tick, b.entries[n-1].Tick)
		return false
	}
	b.entries = append(b.entries, Record{Tick: tick, Input: in, CreatedAt: now})
	return true
}

// PruneUpTo removes every entry with tick <= ackedTick.
func (b *Buffer) PruneUpTo(ackedTick int64) {
	i := 0
	for i < len(b.entries) && b.entries[i].Tick <= ackedTick {
		i++
	}
	if i > 0 {
		b.entries = append(b.entries[:0], b.entries[i:]...)
	}
}

// EntriesAfter returns the ordered inputs with tick > the given tick, used
// for replay after a rollback. The returned slice is a copy; replay must not
// race a concurrent append through aliased memory.
func (b *Buffer) EntriesAfter(tick int64) []Record {
	i := 0
	for i < len(b.entries) && b.entries[i].Tick <= tick {
		i++
	}
	out := make([]Record, len(b.entries)-i)
	copy(out, b.entries[i:])
	return out
}

// Len returns the number of buffered inputs.
func (b *Buffer) Len() int { return len(b.entries) }

// LastTick returns the highest buffered tick, or -1 when empty.
func (b *Buffer) LastTick() int64 {
	if len(b.entries) == 0 {
		return -1
	}
	return b.entries[len(b.entries)-1].Tick
}

// Anomalies returns how many out-of-order records were rejected.
func (b *Buffer) Anomalies() uint64 { return b.anomalies }
