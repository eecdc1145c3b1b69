// Package clock estimates latency, jitter, clock offset and drift between a
// client and the server, and maps local time onto authoritative simulation
// ticks.
//
// One-way latency is assumed to be RTT/2. That symmetry assumption is a known
// approximation - asymmetric routes skew the offset estimate - and is kept
// deliberately rather than silently replaced with a fancier estimator.
package clock

import (
	"math"

	"netarena/internal/protocol"
)

// Config tunes the estimators. Zero values are filled in by Default().
type Config struct {
	TickRate            int     // authoritative ticks per second
	RTTWindow           int     // samples kept for the jitter estimate
	RTTSmoothing        float64 // EWMA weight for smoothed RTT
	OffsetJumpMillis    float64 // raw-offset delta that triggers fast blending
	FastBlend           float64 // blend factor on large offset shifts
	SlowBlend           float64 // blend factor on small corrections
	DriftIntervalMillis int64   // minimum elapsed time between drift updates
	MinSamples          int     // samples required before sync counts as reliable
}

// DefaultConfig returns the standard tuning. The RTT smoothing weight of
// 0.125 matches common RTT estimator practice.
func DefaultConfig(tickRate int) Config {
	return Config{
		TickRate:            tickRate,
		RTTWindow:           10,
		RTTSmoothing:        0.125,
		OffsetJumpMillis:    50,
		FastBlend:           0.5,
		SlowBlend:           0.1,
		DriftIntervalMillis: 10_000,
		MinSamples:          4,
	}
}

// Synchronizer is the requester-side estimator. One instance per connection;
// it is not safe for concurrent use - the owning session serializes access.
type Synchronizer struct {
	cfg Config
	src TimeSource

	smoothedRTT float64
	jitter      float64
	rttSamples  []float64

	offset float64 // ms; localTime - estimatedPeerTime
	drift  float64 // ms of offset change per second

	driftAnchorAt     int64
	driftAnchorOffset float64

	lastSyncAt     int64
	lastPeerTick   int64
	peerTimeAnchor float64 // peer clock at the moment lastPeerTick was sampled
	samples        int
}

// NewSynchronizer creates an estimator with no samples yet.
func NewSynchronizer(cfg Config, src TimeSource) *Synchronizer {
	if cfg.RTTWindow <= 0 {
		cfg = DefaultConfig(cfg.TickRate)
	}
	return &Synchronizer{cfg: cfg, src: src, lastPeerTick: -1}
}

// CreateSyncRequest builds the request payload. The envelope sequence id is
// assigned by the reliability layer on send.
func (s *Synchronizer) CreateSyncRequest() protocol.TimeSyncRequest {
	return protocol.TimeSyncRequest{LocalSendTime: s.src.NowMillis()}
}

// Respond builds the responder side of a sync exchange. It is a pure
// function: the responder echoes timestamps and its tick but never estimates
// an offset to the requester from this exchange - the estimating role sits
// entirely with the requester.
func Respond(req protocol.TimeSyncRequest, receivedAt, sendAt, currentTick int64) protocol.TimeSyncResponse {
	return protocol.TimeSyncResponse{
		EchoedSendTime:  req.LocalSendTime,
		PeerReceiveTime: receivedAt,
		PeerSendTime:    sendAt,
		PeerTick:        currentTick,
	}
}

// ProcessSyncResponse consumes one sync response and updates every estimator.
// Responses that imply a negative RTT (clock weirdness, stale echo) are
// dropped without touching state.
func (s *Synchronizer) ProcessSyncResponse(res protocol.TimeSyncResponse) bool {
	now := s.src.NowMillis()

	rtt := float64(now - res.EchoedSendTime)
	if rtt < 0 {
		return false
	}

	oneWay := rtt / 2
	estPeerTime := float64(res.PeerSendTime) + oneWay
	rawOffset := float64(now) - estPeerTime

	if s.samples == 0 {
		// First sample: accept outright, no blending against nothing.
		s.smoothedRTT = rtt
		s.offset = rawOffset
		s.driftAnchorAt = now
		s.driftAnchorOffset = rawOffset
	} else {
		w := s.cfg.RTTSmoothing
		s.smoothedRTT = (1-w)*s.smoothedRTT + w*rtt

		blend := s.cfg.SlowBlend
		if math.Abs(rawOffset-s.offset) > s.cfg.OffsetJumpMillis {
			blend = s.cfg.FastBlend
		}
		s.offset = (1-blend)*s.offset + blend*rawOffset
	}

	s.rttSamples = append(s.rttSamples, rtt)
	if len(s.rttSamples) > s.cfg.RTTWindow {
		s.rttSamples = s.rttSamples[len(s.rttSamples)-s.cfg.RTTWindow:]
	}
	s.jitter = meanAbsDeviation(s.rttSamples)

	// Drift only over a long window; short windows just measure noise.
	if elapsed := now - s.driftAnchorAt; elapsed >= s.cfg.DriftIntervalMillis {
		s.drift = (s.offset - s.driftAnchorOffset) / (float64(elapsed) / 1000)
		s.driftAnchorAt = now
		s.driftAnchorOffset = s.offset
	}

	s.lastSyncAt = now
	s.lastPeerTick = res.PeerTick
	// The tick was sampled when the peer stamped PeerSendTime, not when the
	// response landed here. Anchoring at the receive estimate would lag the
	// tick mapping by a one-way latency worth of ticks.
	s.peerTimeAnchor = float64(res.PeerSendTime)
	s.samples++
	return true
}

// EstimatedPeerTime returns the current best estimate of the peer's clock,
// compensating for offset and accumulated drift since the last sync.
func (s *Synchronizer) EstimatedPeerTime() float64 {
	return s.estimatedPeerTimeAt(s.src.NowMillis())
}

func (s *Synchronizer) estimatedPeerTimeAt(localMs int64) float64 {
	elapsedSec := float64(localMs-s.lastSyncAt) / 1000
	return float64(localMs) - s.offset - s.drift*elapsedSec
}

// TickForLocalTime maps a local timestamp to the authoritative tick the peer
// is estimated to be executing at that moment. Used to tag outgoing inputs.
func (s *Synchronizer) TickForLocalTime(localMs int64) int64 {
	if s.samples == 0 {
		return 0
	}
	peerTime := s.estimatedPeerTimeAt(localMs)
	elapsed := peerTime - s.peerTimeAnchor
	return s.lastPeerTick + int64(math.Floor(elapsed/s.tickDuration()))
}

// TimeForTick maps an authoritative tick back to estimated local time. Used
// when comparing a snapshot's tick against locally predicted ticks.
func (s *Synchronizer) TimeForTick(tick int64) float64 {
	peerTime := s.peerTimeAnchor + float64(tick-s.lastPeerTick)*s.tickDuration()
	return peerTime + s.offset
}

func (s *Synchronizer) tickDuration() float64 {
	return 1000 / float64(s.cfg.TickRate)
}

// Quality scores the current sync between 0 and 1, degraded multiplicatively
// by RTT and jitter bands.
func (s *Synchronizer) Quality() float64 {
	if s.samples == 0 {
		return 0
	}
	q := 1.0
	switch {
	case s.smoothedRTT > 200:
		q *= 0.3
	case s.smoothedRTT > 100:
		q *= 0.6
	case s.smoothedRTT > 50:
		q *= 0.8
	}
	switch {
	case s.jitter > 50:
		q *= 0.3
	case s.jitter > 20:
		q *= 0.6
	case s.jitter > 10:
		q *= 0.8
	}
	return q
}

// Reliable reports whether the sync is good enough to act on. A single clean
// measurement is not: quality must exceed 0.5 with at least MinSamples
// collected.
func (s *Synchronizer) Reliable() bool {
	return s.samples >= s.cfg.MinSamples && s.Quality() > 0.5
}

// SmoothedRTT returns the EWMA round-trip time in ms.
func (s *Synchronizer) SmoothedRTT() float64 { return s.smoothedRTT }

// Jitter returns the mean absolute deviation of recent RTT samples in ms.
func (s *Synchronizer) Jitter() float64 { return s.jitter }

// Offset returns the current clock offset estimate in ms.
func (s *Synchronizer) Offset() float64 { return s.offset }

// Drift returns the offset drift estimate in ms per second.
func (s *Synchronizer) Drift() float64 { return s.drift }

// SampleCount returns how many sync responses have been consumed.
func (s *Synchronizer) SampleCount() int { return s.samples }

// LastPeerTick returns the peer tick reported by the most recent response,
// or -1 before the first one.
func (s *Synchronizer) LastPeerTick() int64 { return s.lastPeerTick }

func meanAbsDeviation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	mad := 0.0
	for _, x := range xs {
		mad += math.Abs(x - mean)
	}
	return mad / float64(len(xs))
}
