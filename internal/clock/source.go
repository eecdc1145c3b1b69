package clock

import "time"

// TimeSource abstracts the local monotonic clock in milliseconds. Everything
// in the engine reads time through one of these so tests can drive it by hand.
type TimeSource interface {
	NowMillis() int64
}

type monotonicSource struct {
	start time.Time
}

// NewMonotonicSource returns the production time source. Values are relative
// to process start, which keeps them small and strictly monotonic regardless
// of wall-clock adjustments.
func NewMonotonicSource() TimeSource {
	return &monotonicSource{start: time.Now()}
}

func (s *monotonicSource) NowMillis() int64 {
	return time.Since(s.start).Milliseconds()
}

// ManualSource is a hand-cranked time source for tests.
type ManualSource struct {
	now int64
}

// NewManualSource creates a manual source starting at the given millisecond.
func NewManualSource(start int64) *ManualSource {
	return &ManualSource{now: start}
}

// NowMillis returns the current manual time.
func (s *ManualSource) NowMillis() int64 { return s.now }

// Advance moves the manual clock forward.
func (s *ManualSource) Advance(ms int64) { s.now += ms }

// Set jumps the manual clock to an absolute value.
func (s *ManualSource) Set(ms int64) { s.now = ms }
