package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// ChaosConfig shapes an adversarial link. Probabilities are in [0, 1].
type ChaosConfig struct {
	Loss    float64 // drop frame on send
	Dup     float64 // duplicate frame once
	Reorder float64 // add extra delay so a later frame can overtake

	BaseDelay time.Duration // fixed one-way latency
	Jitter    time.Duration // uniform +/- around BaseDelay

	// Seed makes runs reproducible. Zero seeds from the wall clock.
	Seed int64
}

// ChaosEndpoint wraps an Endpoint so every outbound frame passes through a
// loss/dup/reorder/latency model. With zero delay the delivery path is fully
// synchronous, which keeps seeded runs deterministic.
type ChaosEndpoint struct {
	under Endpoint

	cfgMu sync.RWMutex
	cfg   ChaosConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	statMu  sync.Mutex
	dropped uint64
	duped   uint64
}

func WrapChaos(under Endpoint, cfg ChaosConfig) *ChaosEndpoint {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &ChaosEndpoint{
		under: under,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (c *ChaosEndpoint) Addr() Addr { return c.under.Addr() }
func (c *ChaosEndpoint) Close()     { c.under.Close() }

func (c *ChaosEndpoint) RecvFrom(ctx context.Context) (Addr, []byte, bool) {
	return c.under.RecvFrom(ctx)
}

func (c *ChaosEndpoint) TryRecvFrom() (Addr, []byte, bool) {
	return c.under.TryRecvFrom()
}

func (c *ChaosEndpoint) Send(to Addr, frame []byte) error {
	cfg := c.snapshot()

	if c.roll() < cfg.Loss {
		c.statMu.Lock()
		c.dropped++
		c.statMu.Unlock()
		return nil
	}

	c.deliver(to, frame, c.delay(cfg))

	if c.roll() < cfg.Dup {
		c.statMu.Lock()
		c.duped++
		c.statMu.Unlock()
		extra := c.delay(cfg)
		if c.roll() < cfg.Reorder {
			extra += c.delay(cfg)
		}
		c.deliver(to, frame, c.delay(cfg)+extra)
	}
	return nil
}

func (c *ChaosEndpoint) deliver(to Addr, frame []byte, delay time.Duration) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	if delay <= 0 {
		_ = c.under.Send(to, buf)
		return
	}
	time.AfterFunc(delay, func() { _ = c.under.Send(to, buf) })
}

// Dropped and Duplicated report frames affected so far.
func (c *ChaosEndpoint) Dropped() uint64 {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	return c.dropped
}

func (c *ChaosEndpoint) Duplicated() uint64 {
	c.statMu.Lock()
	defer c.statMu.Unlock()
	return c.duped
}

func (c *ChaosEndpoint) SetLoss(p float64) {
	c.cfgMu.Lock()
	c.cfg.Loss = clamp01(p)
	c.cfgMu.Unlock()
}

func (c *ChaosEndpoint) SetDup(p float64) {
	c.cfgMu.Lock()
	c.cfg.Dup = clamp01(p)
	c.cfgMu.Unlock()
}

func (c *ChaosEndpoint) SetDelay(base, jitter time.Duration) {
	c.cfgMu.Lock()
	c.cfg.BaseDelay = base
	c.cfg.Jitter = jitter
	c.cfgMu.Unlock()
}

func (c *ChaosEndpoint) snapshot() ChaosConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *ChaosEndpoint) delay(cfg ChaosConfig) time.Duration {
	if cfg.Jitter <= 0 {
		return cfg.BaseDelay
	}
	c.rngMu.Lock()
	j := time.Duration(c.rng.Int63n(int64(cfg.Jitter)*2)) - cfg.Jitter
	c.rngMu.Unlock()
	return cfg.BaseDelay + j
}

func (c *ChaosEndpoint) roll() float64 {
	c.rngMu.Lock()
	x := c.rng.Float64()
	c.rngMu.Unlock()
	return x
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
