package journal

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Authoritative tick boundary
	EventTypeClientJoin
	EventTypeClientLeave
	EventTypeInputAccepted
	EventTypeInputRejected
	EventTypePacketLost
	EventTypeRetransmit
	EventTypeKick
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the journal
type Event struct {
	Version   uint8     `json:"version"`   // Schema version
	Type      EventType `json:"type"`      // Event type
	Timestamp int64     `json:"timestamp"` // Unix nano
	Sequence  uint64    `json:"sequence"`  // Monotonic sequence
	Tick      int64     `json:"tick"`      // Simulation tick this occurred in
	ClientID  string    `json:"clientId"`  // Source client (for rate limiting)
	Payload   []byte    `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeClientJoin:
		return "client_join"
	case EventTypeClientLeave:
		return "client_leave"
	case EventTypeInputAccepted:
		return "input_accepted"
	case EventTypeInputRejected:
		return "input_rejected"
	case EventTypePacketLost:
		return "packet_lost"
	case EventTypeRetransmit:
		return "retransmit"
	case EventTypeKick:
		return "kick"
	default:
		return "unknown"
	}
}

// Typed payloads for different event types

// TickPayload contains tick boundary information for replay
type TickPayload struct {
	ClientCount   int   `json:"clientCount"`
	StepDurationN int64 `json:"stepDurationNs"`
}

// JoinPayload contains client join details
type JoinPayload struct {
	ClientName string  `json:"clientName"`
	SpawnX     float64 `json:"spawnX"`
	SpawnY     float64 `json:"spawnY"`
}

// InputPayload records an accepted input for deterministic replay
type InputPayload struct {
	InputTick int64   `json:"inputTick"`
	MoveX     float64 `json:"moveX"`
	MoveY     float64 `json:"moveY"`
}

// RejectPayload records why an input was refused
type RejectPayload struct {
	InputTick int64  `json:"inputTick"`
	Reason    string `json:"reason"`
}

// LossPayload records a reliable packet retransmitted or given up on
type LossPayload struct {
	Seq     uint64 `json:"seq"`
	Type    string `json:"packetType"`
	Retries int    `json:"retries,omitempty"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tick int64, clientID string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Tick:      tick,
		ClientID:  clientID,
		Payload:   EncodePayload(payload),
	}
}
