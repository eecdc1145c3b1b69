// Package session ties one connected client to the authoritative engine:
// it decodes inbound packets, runs them through the reliability layer,
// answers time sync, and fans out per-tick snapshots with retransmissions.
// The websocket gateway and the loopback harness both drive it the same
// way: feed frames in, hand it a Sender for frames out.
package session

import (
	"fmt"
	"log"
	"sync"

	"netarena/internal/authority"
	"netarena/internal/clock"
	"netarena/internal/journal"
	"netarena/internal/protocol"
	"netarena/internal/reliable"
	"netarena/internal/sim"
)

// Sender delivers one encoded packet to the session's peer.
type Sender func(frame []byte) error

// Config holds host-level session settings.
type Config struct {
	TickRate int
	Reliable reliable.Config
}

// DefaultConfig returns production defaults for a host.
func DefaultConfig(tickRate int) Config {
	return Config{
		TickRate: tickRate,
		Reliable: reliable.DefaultConfig(protocol.TypeServerAck),
	}
}

// Host owns the authoritative engine and every live session.
type Host struct {
	mu       sync.Mutex
	cfg      Config
	engine   *authority.Engine
	source   clock.TimeSource
	jrnl     *journal.Journal
	sessions map[string]*Session // keyed by client id, only after hello

	// Observability hooks, nil-safe.
	OnPacket func(typ protocol.Type)
	OnLost   func(n int)
	OnResend func(n int)
	OnReject func()
}

// NewHost wires the engine, clock source and journal together.
func NewHost(cfg Config, world sim.Config, source clock.TimeSource, jrnl *journal.Journal) *Host {
	return &Host{
		cfg:      cfg,
		engine:   authority.NewEngine(authority.DefaultConfig(cfg.TickRate), world),
		source:   source,
		jrnl:     jrnl,
		sessions: make(map[string]*Session),
	}
}

// Engine exposes the authoritative engine for status endpoints.
func (h *Host) Engine() *authority.Engine { return h.engine }

// OpenSession creates a pre-handshake session. The client id is unknown
// until its hello arrives.
func (h *Host) OpenSession(send Sender) *Session {
	return &Session{host: h, send: send, rel: reliable.NewLayer(h.cfg.Reliable)}
}

// CloseSession tears the session down on both sides.
func (h *Host) CloseSession(s *Session) {
	s.mu.Lock()
	id := s.id
	s.closed = true
	s.mu.Unlock()
	if id == "" {
		return
	}

	h.mu.Lock()
	if h.sessions[id] == s {
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	h.engine.RemoveClient(id)
	if h.jrnl != nil {
		h.jrnl.Record(journal.EventTypeClientLeave, h.engine.CurrentTick(), id, nil)
	}
	log.Printf("👋 session closed id=%s", id)
}

// SessionCount reports live post-handshake sessions.
func (h *Host) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Sessions returns the live sessions, for status endpoints.
func (h *Host) Sessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// register binds a hello'd session to its client id. A second connection
// claiming the same id bumps the old one.
func (h *Host) register(s *Session, id string) {
	h.mu.Lock()
	prev := h.sessions[id]
	h.sessions[id] = s
	h.mu.Unlock()
	// The caller must not hold its own session lock here: the bumped
	// session takes its lock inside kick.
	if prev != nil && prev != s {
		prev.kick("session replaced by a newer connection")
	}
}

// Tick advances the simulation one step and ships each client its snapshot
// plus any reliable retransmissions that are due.
func (h *Host) Tick(now int64) {
	snaps := h.engine.Tick()
	tick := h.engine.CurrentTick()

	live := h.Sessions()
	for _, s := range live {
		if snap, ok := snaps[s.ID()]; ok {
			s.sendSnapshot(snap, now)
		}
		s.sweep(now)
	}

	if h.jrnl != nil {
		h.jrnl.Record(journal.EventTypeTick, tick, "", journal.TickPayload{ClientCount: len(live)})
	}
}

// Session is the per-connection state machine.
type Session struct {
	mu     sync.Mutex
	host   *Host
	send   Sender
	rel    *reliable.Layer
	id     string
	name   string
	closed bool
}

// ID returns the bound client id, empty before the hello.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// HandleFrame processes one inbound frame. A returned error means the
// connection should be dropped; invalid inputs inside an established
// session are reported but keep the connection up.
func (s *Session) HandleFrame(frame []byte, now int64) error {
	pkt, err := protocol.Unmarshal(frame)
	if err != nil {
		return err
	}
	body, err := protocol.Decode(pkt)
	if err != nil {
		return err
	}
	if h := s.host.OnPacket; h != nil {
		h(pkt.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}

	ack, dup := s.rel.Receive(now, pkt)
	if ack != nil {
		if err := s.sendPacket(*ack); err != nil {
			return fmt.Errorf("send ack: %w", err)
		}
	}
	if dup {
		return nil
	}

	switch v := body.(type) {
	case protocol.ClientHello:
		return s.handleHello(v, now)
	case protocol.ClientInput:
		s.handleInput(v)
		return nil
	case protocol.TimeSyncRequest:
		resp := clock.Respond(v, now, s.host.source.NowMillis(), s.host.engine.CurrentTick())
		return s.sendReliableLocked(now, protocol.TypeTimeSyncResponse, resp, false)
	case protocol.Ack:
		s.rel.OnAckReceived(v.Seq)
		return nil
	case protocol.Disconnect:
		return fmt.Errorf("client requested disconnect")
	default:
		return fmt.Errorf("unexpected packet type %s from client", pkt.Type)
	}
}

func (s *Session) handleHello(hello protocol.ClientHello, now int64) error {
	if hello.ProtocolVersion != protocol.Version {
		s.kickLocked(fmt.Sprintf("protocol version %d unsupported", hello.ProtocolVersion))
		return fmt.Errorf("protocol version mismatch: got %d want %d", hello.ProtocolVersion, protocol.Version)
	}
	if s.id != "" {
		// Repeated hello on an established session is a no-op; the
		// reliable layer already re-acked it if it was a retransmit.
		return nil
	}

	s.id = hello.PlayerID
	s.name = hello.PlayerName
	spawn := s.host.engine.AddClient(hello.PlayerID, hello.PlayerName)

	// register may kick a previous session holding this id, which takes
	// that session's lock. Drop ours so the two hellos can never deadlock.
	s.mu.Unlock()
	s.host.register(s, hello.PlayerID)
	s.mu.Lock()

	if j := s.host.jrnl; j != nil {
		j.Record(journal.EventTypeClientJoin, s.host.engine.CurrentTick(), hello.PlayerID, journal.JoinPayload{
			ClientName: hello.PlayerName,
			SpawnX:     spawn.X,
			SpawnY:     spawn.Y,
		})
	}
	log.Printf("🤝 hello from %s (%s), spawned at (%.0f, %.0f)", hello.PlayerID, hello.PlayerName, spawn.X, spawn.Y)

	return s.sendReliableLocked(now, protocol.TypeServerHello, protocol.ServerHello{
		PlayerID: hello.PlayerID,
		TickRate: s.host.cfg.TickRate,
		Tick:     s.host.engine.CurrentTick(),
	}, true)
}

func (s *Session) handleInput(in protocol.ClientInput) {
	if s.id == "" {
		log.Printf("⚠️ input before hello, dropped")
		return
	}
	err := s.host.engine.SubmitInput(s.id, in.Tick, in.Input)
	if j := s.host.jrnl; j != nil {
		if err != nil {
			j.Record(journal.EventTypeInputRejected, s.host.engine.CurrentTick(), s.id, journal.RejectPayload{
				InputTick: in.Tick,
				Reason:    err.Error(),
			})
		} else {
			j.Record(journal.EventTypeInputAccepted, s.host.engine.CurrentTick(), s.id, journal.InputPayload{
				InputTick: in.Tick,
				MoveX:     in.Input.MoveX,
				MoveY:     in.Input.MoveY,
			})
		}
	}
	if err != nil {
		if h := s.host.OnReject; h != nil {
			h()
		}
		log.Printf("🚫 input rejected for %s: %v", s.id, err)
	}
}

// sendSnapshot ships the per-tick state. Snapshots are unreliable: the next
// tick supersedes a lost one, so retransmitting stale state is pointless.
func (s *Session) sendSnapshot(snap protocol.Snapshot, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.sendReliableLocked(now, protocol.TypeServerSnapshot, snap, false); err != nil {
		log.Printf("⚠️ snapshot send to %s: %v", s.id, err)
	}
}

// sweep retransmits overdue reliable packets and journals the given-up ones.
func (s *Session) sweep(now int64) {
	s.mu.Lock()
	resend, lost := s.rel.CollectRetransmissions(now)
	id := s.id
	if !s.closed {
		for _, pkt := range resend {
			if err := s.sendPacket(pkt); err != nil {
				log.Printf("⚠️ retransmit send to %s: %v", id, err)
			}
		}
	}
	s.mu.Unlock()

	if h := s.host.OnResend; h != nil && len(resend) > 0 {
		h(len(resend))
	}
	if h := s.host.OnLost; h != nil && len(lost) > 0 {
		h(len(lost))
	}
	if j := s.host.jrnl; j != nil {
		tick := s.host.engine.CurrentTick()
		for _, pkt := range resend {
			j.Record(journal.EventTypeRetransmit, tick, id, journal.LossPayload{
				Seq:  pkt.Seq,
				Type: pkt.Type.String(),
			})
		}
		for _, pkt := range lost {
			j.Record(journal.EventTypePacketLost, tick, id, journal.LossPayload{
				Seq:     pkt.Seq,
				Type:    pkt.Type.String(),
				Retries: s.host.cfg.Reliable.MaxRetries,
			})
		}
	}
}

// Stats exposes the reliability counters for status endpoints.
func (s *Session) Stats() reliable.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rel.GetStats()
}

func (s *Session) sendReliableLocked(now int64, t protocol.Type, payload any, requiresAck bool) error {
	pkt, err := s.rel.Send(now, t, payload, requiresAck)
	if err != nil {
		return err
	}
	return s.sendPacket(pkt)
}

func (s *Session) sendPacket(pkt protocol.Packet) error {
	frame, err := protocol.Marshal(pkt)
	if err != nil {
		return err
	}
	return s.send(frame)
}

func (s *Session) kick(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kickLocked(reason)
}

func (s *Session) kickLocked(reason string) {
	if s.closed {
		return
	}
	if pkt, err := s.rel.Send(0, protocol.TypeServerKick, protocol.Kick{Reason: reason}, false); err == nil {
		_ = s.sendPacket(pkt)
	}
	s.closed = true
	if j := s.host.jrnl; j != nil {
		j.Record(journal.EventTypeKick, s.host.engine.CurrentTick(), s.id, nil)
	}
	log.Printf("🥾 kicked %s: %s", s.id, reason)
}
