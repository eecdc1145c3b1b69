// Package protocol defines the packet vocabulary exchanged between client and
// server. Payloads form a closed tagged variant: every packet type has exactly
// one payload schema, and Decode rejects anything outside that set at the
// boundary, so the rest of the engine only ever sees well-formed values.
package protocol

import (
	"encoding/json"
	"fmt"

	"netarena/internal/sim"
)

// Version is bumped whenever a payload schema changes incompatibly.
// ClientHello carries it and the server kicks mismatched clients.
const Version = 1

// Type enumerates every packet kind on the wire.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeClientHello
	TypeClientInput
	TypeTimeSyncRequest
	TypeClientAck
	TypeClientDisconnect
	TypeServerHello
	TypeServerSnapshot
	TypeTimeSyncResponse
	TypeServerAck
	TypeServerKick
)

// String returns the wire-log name of the packet type.
func (t Type) String() string {
	switch t {
	case TypeClientHello:
		return "client_hello"
	case TypeClientInput:
		return "client_input"
	case TypeTimeSyncRequest:
		return "time_sync_req"
	case TypeClientAck:
		return "client_ack"
	case TypeClientDisconnect:
		return "client_disconnect"
	case TypeServerHello:
		return "server_hello"
	case TypeServerSnapshot:
		return "server_snapshot"
	case TypeTimeSyncResponse:
		return "time_sync_res"
	case TypeServerAck:
		return "server_ack"
	case TypeServerKick:
		return "server_kick"
	default:
		return "unknown"
	}
}

// IsAck reports whether this is a bare acknowledgment. Bare acks carry no
// sequence id of their own and bypass deduplication entirely.
func (t Type) IsAck() bool {
	return t == TypeClientAck || t == TypeServerAck
}

// Packet is the envelope for every message. Seq is a per-sender monotonic
// counter, unique for the connection's lifetime; bare acks leave it zero.
type Packet struct {
	Seq         uint64          `json:"seq,omitempty"`
	Type        Type            `json:"type"`
	SentAt      int64           `json:"sentAt,omitempty"` // sender-local ms
	RequiresAck bool            `json:"requiresAck,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Typed payloads - one fixed schema per packet type.

// ClientHello opens a connection.
type ClientHello struct {
	PlayerID        string `json:"playerId"`
	PlayerName      string `json:"playerName"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// ClientInput carries one tick's intent. Always sent reliable: a lost input
// is retransmitted until acked or superseded.
type ClientInput struct {
	Tick  int64     `json:"tick"`
	Input sim.Input `json:"input"`
}

// TimeSyncRequest starts a clock sync exchange.
type TimeSyncRequest struct {
	LocalSendTime int64 `json:"localSendTime"`
}

// TimeSyncResponse echoes the request timestamp plus the responder's receive
// and send timestamps and its current simulation tick.
type TimeSyncResponse struct {
	EchoedSendTime  int64 `json:"echoedSendTime"`
	PeerReceiveTime int64 `json:"peerReceiveTime"`
	PeerSendTime    int64 `json:"peerSendTime"`
	PeerTick        int64 `json:"peerTick"`
}

// Ack acknowledges one reliable packet by sequence id.
type Ack struct {
	Seq uint64 `json:"seq"`
}

// ServerHello confirms a ClientHello.
type ServerHello struct {
	PlayerID string `json:"playerId"`
	TickRate int    `json:"tickRate"`
	Tick     int64  `json:"tick"`
}

// Snapshot is the authoritative state for one client at one tick.
// AckOfLastInputTick tells the client which buffered inputs it may discard.
type Snapshot struct {
	Tick               int64           `json:"tick"`
	State              sim.EntityState `json:"state"`
	IsDelta            bool            `json:"isDelta"`
	AckOfLastInputTick int64           `json:"ackOfLastInputTick"`
}

// Kick closes a connection from the server side with a reason.
type Kick struct {
	Reason string `json:"reason"`
}

// Disconnect closes a connection from the client side.
type Disconnect struct{}

// Encode wraps a typed payload into a Packet envelope.
func Encode(seq uint64, t Type, sentAt int64, requiresAck bool, payload any) (Packet, error) {
	p := Packet{Seq: seq, Type: t, SentAt: sentAt, RequiresAck: requiresAck}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Packet{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		p.Payload = raw
	}
	return p, nil
}

// Marshal serializes a packet for the datagram channel.
func Marshal(p Packet) ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal parses a raw datagram into a packet envelope. The payload stays
// raw until Decode validates it against the type's schema.
func Unmarshal(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("unmarshal packet: %w", err)
	}
	return p, nil
}

// Decode validates and extracts the typed payload for a packet. Unknown types
// and malformed payloads are rejected here so downstream code never branches
// on garbage.
func Decode(p Packet) (any, error) {
	switch p.Type {
	case TypeClientHello:
		var v ClientHello
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		if v.PlayerID == "" {
			return nil, fmt.Errorf("client_hello: empty playerId")
		}
		return v, nil
	case TypeClientInput:
		var v ClientInput
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		if v.Tick < 0 {
			return nil, fmt.Errorf("client_input: negative tick %d", v.Tick)
		}
		return v, nil
	case TypeTimeSyncRequest:
		var v TimeSyncRequest
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeTimeSyncResponse:
		var v TimeSyncResponse
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeClientAck, TypeServerAck:
		var v Ack
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		if v.Seq == 0 {
			return nil, fmt.Errorf("%s: zero sequence", p.Type)
		}
		return v, nil
	case TypeServerHello:
		var v ServerHello
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeServerSnapshot:
		var v Snapshot
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		if v.Tick < 0 {
			return nil, fmt.Errorf("server_snapshot: negative tick %d", v.Tick)
		}
		return v, nil
	case TypeServerKick:
		var v Kick
		if err := decodeInto(p, &v); err != nil {
			return nil, err
		}
		return v, nil
	case TypeClientDisconnect:
		return Disconnect{}, nil
	default:
		return nil, fmt.Errorf("unknown packet type %d", p.Type)
	}
}

func decodeInto(p Packet, v any) error {
	if len(p.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", p.Type)
	}
	if err := json.Unmarshal(p.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", p.Type, err)
	}
	return nil
}
