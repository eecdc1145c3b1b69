// Package client is the full client-side stack: reliability, clock sync and
// prediction wired over a transport endpoint. One goroutine drives it; the
// methods are not safe for concurrent use.
package client

import (
	"fmt"
	"log"

	"netarena/internal/clock"
	"netarena/internal/predict"
	"netarena/internal/protocol"
	"netarena/internal/reliable"
	"netarena/internal/sim"
	"netarena/internal/transport"
)

// Config bundles the per-layer settings.
type Config struct {
	PlayerID   string
	PlayerName string
	TickRate   int
	Reliable   reliable.Config
	Sync       clock.Config
	Predict    predict.Config
	World      sim.Config
}

// DefaultConfig returns client defaults for the given identity.
func DefaultConfig(id, name string, tickRate int) Config {
	return Config{
		PlayerID:   id,
		PlayerName: name,
		TickRate:   tickRate,
		Reliable:   reliable.DefaultConfig(protocol.TypeClientAck),
		Sync:       clock.DefaultConfig(tickRate),
		Predict:    predict.DefaultConfig(),
		World:      sim.DefaultConfig(),
	}
}

// Client runs prediction locally and reconciles against server snapshots.
type Client struct {
	cfg    Config
	ep     transport.Endpoint
	server transport.Addr
	source clock.TimeSource

	rel  *reliable.Layer
	sync *clock.Synchronizer
	pred *predict.Engine

	joined   bool
	tickRate int
	nextTick int64

	kicked       string
	disconnected bool
}

// New wires the stack over an endpoint. The server is not contacted until
// Hello.
func New(cfg Config, ep transport.Endpoint, server transport.Addr, source clock.TimeSource) *Client {
	return &Client{
		cfg:    cfg,
		ep:     ep,
		server: server,
		source: source,
		rel:    reliable.NewLayer(cfg.Reliable),
		sync:   clock.NewSynchronizer(cfg.Sync, source),
	}
}

// Hello starts the handshake. Join completes when the server hello arrives
// in Pump.
func (c *Client) Hello() error {
	return c.transmit(protocol.TypeClientHello, protocol.ClientHello{
		PlayerID:        c.cfg.PlayerID,
		PlayerName:      c.cfg.PlayerName,
		ProtocolVersion: protocol.Version,
	}, true)
}

// ID returns the client's player id.
func (c *Client) ID() string { return c.cfg.PlayerID }

// Joined reports whether the handshake completed.
func (c *Client) Joined() bool { return c.joined }

// Kicked returns the server's kick reason, empty if still welcome.
func (c *Client) Kicked() string { return c.kicked }

// SendSyncRequest emits one clock sync round-trip request.
func (c *Client) SendSyncRequest() error {
	return c.transmit(protocol.TypeTimeSyncRequest, c.sync.CreateSyncRequest(), false)
}

// ApplyInput predicts the input locally and ships it to the server. The tick
// tag targets the server step the input should land on: the clock sync
// mapping once it is reliable, the local counter until then. Either way the
// tags stay strictly increasing, which the input buffer requires.
func (c *Client) ApplyInput(in sim.Input) error {
	if !c.joined {
		return fmt.Errorf("not joined")
	}
	now := c.source.NowMillis()
	tick := c.nextTick + 1
	if c.sync.Reliable() {
		// The mapped tick is the step the server executes right now; the
		// input is for the one after it.
		if mapped := c.sync.TickForLocalTime(now) + 1; mapped > tick {
			tick = mapped
		}
	}
	c.nextTick = tick
	if !c.pred.ApplyLocalInput(tick, in, now) {
		return fmt.Errorf("input buffer rejected tick %d", tick)
	}
	return c.transmit(protocol.TypeClientInput, protocol.ClientInput{Tick: tick, Input: in}, true)
}

// Pump drains every frame currently queued on the endpoint and processes it.
// It returns the number of frames handled.
func (c *Client) Pump() (int, error) {
	n := 0
	for {
		_, frame, ok := c.ep.TryRecvFrom()
		if !ok {
			return n, nil
		}
		if err := c.handleFrame(frame); err != nil {
			return n, err
		}
		n++
		if c.disconnected {
			return n, fmt.Errorf("kicked: %s", c.kicked)
		}
	}
}

// Sweep retransmits overdue reliable packets. Call once per local tick.
func (c *Client) Sweep() {
	now := c.source.NowMillis()
	resend, lost := c.rel.CollectRetransmissions(now)
	for _, pkt := range resend {
		if err := c.sendPacket(pkt); err != nil {
			log.Printf("⚠️ retransmit: %v", err)
		}
	}
	for _, pkt := range lost {
		// Lost inputs are recovered by later snapshots; just visible in stats.
		log.Printf("📉 gave up on %s seq=%d", pkt.Type, pkt.Seq)
	}
}

// Predicted returns the current locally-predicted state.
func (c *Client) Predicted() sim.EntityState {
	if c.pred == nil {
		return sim.EntityState{}
	}
	return c.pred.Predicted()
}

// Sync exposes the clock synchronizer for estimates and quality checks.
func (c *Client) Sync() *clock.Synchronizer { return c.sync }

// Prediction exposes the prediction engine, nil before the handshake.
func (c *Client) Prediction() *predict.Engine { return c.pred }

// Stats returns the reliability counters.
func (c *Client) Stats() reliable.Stats { return c.rel.GetStats() }

// Close tells the server we are leaving and closes the endpoint.
func (c *Client) Close() {
	_ = c.transmit(protocol.TypeClientDisconnect, protocol.Disconnect{}, false)
	c.ep.Close()
}

func (c *Client) handleFrame(frame []byte) error {
	pkt, err := protocol.Unmarshal(frame)
	if err != nil {
		return err
	}
	body, err := protocol.Decode(pkt)
	if err != nil {
		return err
	}
	now := c.source.NowMillis()

	ack, dup := c.rel.Receive(now, pkt)
	if ack != nil {
		if err := c.sendPacket(*ack); err != nil {
			return err
		}
	}
	if dup {
		return nil
	}

	switch v := body.(type) {
	case protocol.ServerHello:
		if c.joined {
			return nil
		}
		c.joined = true
		c.tickRate = v.TickRate
		spawn := sim.EntityState{
			X:    c.cfg.World.WorldWidth / 2,
			Y:    c.cfg.World.WorldHeight / 2,
			Tick: v.Tick,
		}
		c.nextTick = v.Tick
		c.pred = predict.NewEngine(c.cfg.Predict, c.cfg.World, spawn)
		log.Printf("🎮 joined as %s at tick %d (%d Hz)", v.PlayerID, v.Tick, v.TickRate)
		return nil

	case protocol.Snapshot:
		if c.pred == nil {
			return nil
		}
		c.pred.OnSnapshot(v, c.sync.Reliable())
		return nil

	case protocol.TimeSyncResponse:
		c.sync.ProcessSyncResponse(v)
		return nil

	case protocol.Ack:
		c.rel.OnAckReceived(v.Seq)
		return nil

	case protocol.Kick:
		c.kicked = v.Reason
		c.disconnected = true
		log.Printf("🥾 kicked by server: %s", v.Reason)
		return nil

	default:
		return fmt.Errorf("unexpected packet type %s from server", pkt.Type)
	}
}

func (c *Client) transmit(t protocol.Type, payload any, requiresAck bool) error {
	pkt, err := c.rel.Send(c.source.NowMillis(), t, payload, requiresAck)
	if err != nil {
		return err
	}
	return c.sendPacket(pkt)
}

func (c *Client) sendPacket(pkt protocol.Packet) error {
	frame, err := protocol.Marshal(pkt)
	if err != nil {
		return err
	}
	return c.ep.Send(c.server, frame)
}
