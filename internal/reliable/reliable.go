// Package reliable adds sequencing, acknowledgment tracking, retransmission
// and deduplication on top of an unreliable datagram channel. One Layer per
// connection direction; the owning session serializes all access, so the
// layer itself carries no locks.
//
// Loss, duplication and reordering are expected conditions here, not errors:
// nothing in this package returns an error for them.
package reliable

import (
	"log"

	"netarena/internal/protocol"
)

// Config tunes timeouts and bounds. Zero values are filled by DefaultConfig.
type Config struct {
	AckTimeoutMillis int64         // age before a pending packet is retransmitted
	MaxRetries       int           // retransmissions before a packet is reported lost
	SeenCap          int           // dedup set size before trimming
	AckType          protocol.Type // ack packet type this side emits
}

// DefaultConfig returns production-safe defaults for one side.
func DefaultConfig(ackType protocol.Type) Config {
	return Config{
		AckTimeoutMillis: 250,
		MaxRetries:       5,
		SeenCap:          1000,
		AckType:          ackType,
	}
}

type pendingEntry struct {
	packet  protocol.Packet
	sentAt  int64
	retries int
}

// Layer tracks outbound reliability state and inbound deduplication for one
// connection direction.
type Layer struct {
	cfg     Config
	nextSeq uint64
	pending map[uint64]*pendingEntry

	seen      map[uint64]struct{}
	seenOrder []uint64

	// Counters surfaced to metrics/status endpoints.
	sent          uint64
	received      uint64
	duplicates    uint64
	retransmitted uint64
	lost          uint64
}

// NewLayer creates an empty layer.
func NewLayer(cfg Config) *Layer {
	if cfg.SeenCap <= 0 {
		cfg = DefaultConfig(cfg.AckType)
	}
	return &Layer{
		cfg:     cfg,
		pending: make(map[uint64]*pendingEntry),
		seen:    make(map[uint64]struct{}),
	}
}

// Send assigns the next sequence id, tracks the packet for acknowledgment if
// requested, and returns it ready for transmission.
func (l *Layer) Send(now int64, t protocol.Type, payload any, requiresAck bool) (protocol.Packet, error) {
	l.nextSeq++
	p, err := protocol.Encode(l.nextSeq, t, now, requiresAck, payload)
	if err != nil {
		return protocol.Packet{}, err
	}
	if requiresAck {
		l.pending[p.Seq] = &pendingEntry{packet: p, sentAt: now}
	}
	l.sent++
	return p, nil
}

// Receive runs inbound dedup and ack generation for one packet.
// A duplicate is reported with duplicate=true and MUST have no further side
// effects at the caller beyond transmitting the returned ack (re-acking a
// duplicate is how the sender learns its retransmission landed).
// Bare ack packets bypass the seen set; route them to OnAckReceived instead.
func (l *Layer) Receive(now int64, p protocol.Packet) (ack *protocol.Packet, duplicate bool) {
	l.received++
	if p.Type.IsAck() {
		return nil, false
	}

	if _, ok := l.seen[p.Seq]; ok {
		l.duplicates++
		if p.RequiresAck {
			a := l.buildAck(now, p.Seq)
			return &a, true
		}
		return nil, true
	}

	l.seen[p.Seq] = struct{}{}
	l.seenOrder = append(l.seenOrder, p.Seq)
	l.trimSeen()

	if p.RequiresAck {
		a := l.buildAck(now, p.Seq)
		return &a, false
	}
	return nil, false
}

// buildAck creates a bare ack: no sequence id of its own, never acked itself.
func (l *Layer) buildAck(now int64, seq uint64) protocol.Packet {
	raw, _ := protocol.Encode(0, l.cfg.AckType, now, false, protocol.Ack{Seq: seq})
	return raw
}

// trimSeen bounds the dedup set by evicting the oldest half once the cap is
// exceeded. This can theoretically reopen a duplicate-acceptance window for
// extremely delayed packets; bounded memory is worth that documented gap.
func (l *Layer) trimSeen() {
	if len(l.seenOrder) <= l.cfg.SeenCap {
		return
	}
	half := len(l.seenOrder) / 2
	for _, seq := range l.seenOrder[:half] {
		delete(l.seen, seq)
	}
	l.seenOrder = append(l.seenOrder[:0], l.seenOrder[half:]...)
}

// OnAckReceived clears a pending packet. Idempotent: acks for packets already
// cleared or expired are ignored.
func (l *Layer) OnAckReceived(seq uint64) {
	delete(l.pending, seq)
}

// CollectRetransmissions sweeps the pending table once. Entries older than
// the ack timeout are either returned for resending (retry budget remaining)
// or evicted and returned as permanently lost. The caller invokes this once
// per local tick; there is no internal timer.
func (l *Layer) CollectRetransmissions(now int64) (resend, lost []protocol.Packet) {
	for seq, e := range l.pending {
		if now-e.sentAt < l.cfg.AckTimeoutMillis {
			continue
		}
		if e.retries < l.cfg.MaxRetries {
			e.retries++
			e.sentAt = now
			l.retransmitted++
			resend = append(resend, e.packet)
			continue
		}
		delete(l.pending, seq)
		l.lost++
		lost = append(lost, e.packet)
		log.Printf("📉 packet seq=%d type=%s lost after %d retries", seq, e.packet.Type, e.retries)
	}
	return resend, lost
}

// PendingCount returns the number of packets awaiting acknowledgment.
func (l *Layer) PendingCount() int { return len(l.pending) }

// Stats is a point-in-time snapshot of the layer's counters.
type Stats struct {
	Sent          uint64 `json:"sent"`
	Received      uint64 `json:"received"`
	Duplicates    uint64 `json:"duplicates"`
	Retransmitted uint64 `json:"retransmitted"`
	Lost          uint64 `json:"lost"`
	Pending       int    `json:"pending"`
}

// GetStats returns current counters.
func (l *Layer) GetStats() Stats {
	return Stats{
		Sent:          l.sent,
		Received:      l.received,
		Duplicates:    l.duplicates,
		Retransmitted: l.retransmitted,
		Lost:          l.lost,
		Pending:       len(l.pending),
	}
}
