package clock

import (
	"math"
	"testing"

	"netarena/internal/protocol"
)

// exchange simulates one full sync round trip against a peer whose clock is
// trueOffset ms behind local time, with the given RTT and a noise term on the
// peer's send timestamp (models route asymmetry).
func exchange(s *Synchronizer, src *ManualSource, trueOffset float64, rtt int64, noise float64, peerTick int64) bool {
	req := s.CreateSyncRequest()
	src.Advance(rtt)
	peerSend := float64(req.LocalSendTime) + float64(rtt)/2 - trueOffset + noise
	res := protocol.TimeSyncResponse{
		EchoedSendTime:  req.LocalSendTime,
		PeerReceiveTime: int64(peerSend),
		PeerSendTime:    int64(peerSend),
		PeerTick:        peerTick,
	}
	return s.ProcessSyncResponse(res)
}

// TestFirstSampleAcceptedOutright verifies no blending happens against an
// empty estimator.
func TestFirstSampleAcceptedOutright(t *testing.T) {
	src := NewManualSource(1000)
	s := NewSynchronizer(DefaultConfig(60), src)

	exchange(s, src, 500, 40, 0, 10)

	if math.Abs(s.Offset()-500) > 1 {
		t.Errorf("first offset = %v, want ~500", s.Offset())
	}
	if math.Abs(s.SmoothedRTT()-40) > 1e-9 {
		t.Errorf("first smoothed RTT = %v, want 40", s.SmoothedRTT())
	}
	if s.LastPeerTick() != 10 {
		t.Errorf("lastPeerTick = %d, want 10", s.LastPeerTick())
	}
}

// TestOffsetConvergence: constant true offset with bounded RTT noise must
// converge to within a small epsilon within a bounded number of samples.
func TestOffsetConvergence(t *testing.T) {
	src := NewManualSource(0)
	s := NewSynchronizer(DefaultConfig(60), src)

	const trueOffset = 250.0
	noises := []float64{4, -3, 2, -5, 1, -2, 3, -1, 2, -4, 1, 0, -1, 2, -2}

	tick := int64(0)
	for _, n := range noises {
		exchange(s, src, trueOffset, 30, n, tick)
		src.Advance(100)
		tick++
	}

	if math.Abs(s.Offset()-trueOffset) > 5 {
		t.Errorf("offset did not converge: %v, want %v +/- 5", s.Offset(), trueOffset)
	}
}

// TestOffsetBlendFactors verifies the two-speed blend: large raw shifts move
// the estimate by 0.5, small corrections by 0.1.
func TestOffsetBlendFactors(t *testing.T) {
	src := NewManualSource(0)
	s := NewSynchronizer(DefaultConfig(60), src)

	exchange(s, src, 100, 20, 0, 0) // offset = 100
	src.Advance(50)

	// Raw offset jumps to 300 (delta 200 > 50ms threshold): expect fast blend.
	exchange(s, src, 300, 20, 0, 1)
	if math.Abs(s.Offset()-200) > 2 {
		t.Errorf("after large shift offset = %v, want ~200 (0.5 blend)", s.Offset())
	}
	src.Advance(50)

	// Raw offset 220 (delta 20 < 50ms): expect slow blend, 200 + 0.1*20 = 202.
	exchange(s, src, 220, 20, 0, 2)
	if math.Abs(s.Offset()-202) > 2 {
		t.Errorf("after small shift offset = %v, want ~202 (0.1 blend)", s.Offset())
	}
}

// TestNegativeRTTDiscarded verifies a response implying negative RTT leaves
// all state untouched.
func TestNegativeRTTDiscarded(t *testing.T) {
	src := NewManualSource(5000)
	s := NewSynchronizer(DefaultConfig(60), src)

	res := protocol.TimeSyncResponse{EchoedSendTime: 9999, PeerSendTime: 9999}
	if s.ProcessSyncResponse(res) {
		t.Error("negative RTT response was accepted")
	}
	if s.SampleCount() != 0 {
		t.Errorf("sample count = %d after rejected response", s.SampleCount())
	}
}

// TestDriftRequiresElapsedWindow verifies drift is not recomputed from short
// noisy windows: it stays zero until at least 10s elapsed.
func TestDriftRequiresElapsedWindow(t *testing.T) {
	src := NewManualSource(0)
	s := NewSynchronizer(DefaultConfig(60), src)

	// Offset creeping upward 1ms per exchange, exchanges 1s apart.
	offset := 100.0
	for i := 0; i < 10; i++ {
		exchange(s, src, offset, 20, 0, int64(i))
		if s.Drift() != 0 {
			t.Fatalf("drift computed after only %ds", i+1)
		}
		src.Advance(980) // exchange already advanced 20ms of RTT
		offset += 1
	}

	// Crossing the 10s window: drift becomes measurable.
	exchange(s, src, offset, 20, 0, 10)
	if s.Drift() == 0 {
		t.Error("drift still zero after 10s window elapsed")
	}
	// ~1ms/s of true drift, blended estimates track it loosely.
	if s.Drift() < 0 || s.Drift() > 2 {
		t.Errorf("drift = %v ms/s, want within (0, 2]", s.Drift())
	}
}

// TestQualityBands spot-checks the multiplicative degradation.
func TestQualityBands(t *testing.T) {
	tests := []struct {
		name   string
		rtt    int64
		want   float64
		within float64
	}{
		{"fast link", 20, 1.0, 0.01},
		{"moderate link", 80, 0.8, 0.01},
		{"slow link", 150, 0.6, 0.01},
		{"bad link", 300, 0.3, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewManualSource(0)
			s := NewSynchronizer(DefaultConfig(60), src)
			// Constant RTT: zero jitter, quality is purely the RTT band.
			for i := 0; i < 5; i++ {
				exchange(s, src, 100, tt.rtt, 0, int64(i))
				src.Advance(100)
			}
			if math.Abs(s.Quality()-tt.want) > tt.within {
				t.Errorf("quality = %v, want %v", s.Quality(), tt.want)
			}
		})
	}
}

// TestReliableNeedsSamples guards against acting on a single clean
// measurement.
func TestReliableNeedsSamples(t *testing.T) {
	src := NewManualSource(0)
	s := NewSynchronizer(DefaultConfig(60), src)

	for i := 0; i < 3; i++ {
		exchange(s, src, 100, 20, 0, int64(i))
		if s.Reliable() {
			t.Fatalf("reliable after only %d samples", i+1)
		}
		src.Advance(100)
	}
	exchange(s, src, 100, 20, 0, 3)
	if !s.Reliable() {
		t.Error("not reliable after 4 clean samples")
	}
}

// TestTickMapping verifies local time maps onto peer ticks through the
// offset estimate and back.
func TestTickMapping(t *testing.T) {
	src := NewManualSource(0)
	s := NewSynchronizer(DefaultConfig(50), src) // 20ms ticks

	// Single clean exchange: peer at tick 100, zero offset, 20ms RTT.
	exchange(s, src, 0, 20, 0, 100)

	// Immediately after the exchange the peer should still be near tick 100.
	got := s.TickForLocalTime(src.NowMillis())
	if got != 100 {
		t.Errorf("tick at sync time = %d, want 100", got)
	}

	// 200ms later = 10 ticks at 50Hz.
	got = s.TickForLocalTime(src.NowMillis() + 200)
	if got != 110 {
		t.Errorf("tick 200ms later = %d, want 110", got)
	}

	// TimeForTick returns the moment the peer enters the tick. The peer hit
	// tick 100 half an RTT before the response landed, so tick 110 starts
	// 190ms from now, not 200.
	back := s.TimeForTick(110)
	if math.Abs(back-float64(src.NowMillis()+190)) > 1 {
		t.Errorf("TimeForTick(110) = %v, want ~%d", back, src.NowMillis()+190)
	}
}

// TestTickMappingCreditsTransitDelay: with an RTT several ticks wide, the
// mapping must account for the ticks the peer executed while the response
// was in flight.
func TestTickMappingCreditsTransitDelay(t *testing.T) {
	src := NewManualSource(0)
	s := NewSynchronizer(DefaultConfig(50), src) // 20ms ticks

	// Peer stamped tick 100 at its send time; one-way latency is 50ms, so by
	// the time the response lands the peer is 2.5 ticks further along.
	exchange(s, src, 0, 100, 0, 100)

	if got := s.TickForLocalTime(src.NowMillis()); got != 102 {
		t.Errorf("tick at receive time = %d, want 102", got)
	}
}

// TestRespondIsStateless verifies the responder role only echoes timestamps.
func TestRespondIsStateless(t *testing.T) {
	req := protocol.TimeSyncRequest{LocalSendTime: 777}
	res := Respond(req, 1000, 1001, 42)

	if res.EchoedSendTime != 777 {
		t.Errorf("echoed send time = %d, want 777", res.EchoedSendTime)
	}
	if res.PeerReceiveTime != 1000 || res.PeerSendTime != 1001 {
		t.Errorf("responder timestamps = %d/%d, want 1000/1001", res.PeerReceiveTime, res.PeerSendTime)
	}
	if res.PeerTick != 42 {
		t.Errorf("peer tick = %d, want 42", res.PeerTick)
	}
}
