// Command simulate runs a full server + N clients in one process over the
// in-memory switch, with a chaos link shaping each client's traffic. It is
// the quickest way to watch reconciliation behave under loss and jitter
// without real networking.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"netarena/internal/client"
	"netarena/internal/clock"
	"netarena/internal/config"
	"netarena/internal/session"
	"netarena/internal/sim"
	"netarena/internal/transport"
)

func main() {
	var (
		clients  = flag.Int("clients", 4, "number of simulated clients")
		ticks    = flag.Int("ticks", 600, "authoritative ticks to run")
		tickRate = flag.Int("rate", 60, "ticks per second")
		loss     = flag.Float64("loss", 0.1, "packet loss probability per client link")
		dup      = flag.Float64("dup", 0.02, "packet duplication probability")
		seed     = flag.Int64("seed", 1, "chaos rng seed")
	)
	flag.Parse()

	log.Printf("🧪 simulating %d clients for %d ticks at %d Hz (loss=%.0f%%, dup=%.0f%%)",
		*clients, *ticks, *tickRate, *loss*100, *dup*100)

	sw := transport.NewSwitch()
	src := &clock.ManualSource{}
	host := session.NewHost(session.DefaultConfig(*tickRate), sim.DefaultConfig(), src, nil)

	serverEP, err := sw.Listen("server")
	if err != nil {
		log.Fatalf("listen server: %v", err)
	}
	sessions := make(map[transport.Addr]*session.Session)

	drain := func() {
		for {
			from, frame, ok := serverEP.TryRecvFrom()
			if !ok {
				return
			}
			s, exists := sessions[from]
			if !exists {
				peer := from
				s = host.OpenSession(func(f []byte) error {
					return serverEP.Send(peer, f)
				})
				sessions[from] = s
			}
			if err := s.HandleFrame(frame, src.NowMillis()); err != nil {
				log.Printf("⚠️ dropping %s: %v", from, err)
				host.CloseSession(s)
				delete(sessions, from)
			}
		}
	}

	peers := make([]*client.Client, 0, *clients)
	rng := rand.New(rand.NewSource(*seed))
	for i := 0; i < *clients; i++ {
		id := fmt.Sprintf("bot-%02d", i)
		ep, err := sw.Listen(transport.Addr(id))
		if err != nil {
			log.Fatalf("listen %s: %v", id, err)
		}
		lossy := transport.WrapChaos(ep, transport.ChaosConfig{
			Loss: *loss,
			Dup:  *dup,
			Seed: *seed + int64(i),
		})
		ccfg := client.DefaultConfig(id, id, *tickRate)
		ccfg.Sync = config.DefaultSync().Clock(*tickRate)
		ccfg.Predict = config.DefaultPredict().Engine()
		c := client.New(ccfg, lossy, "server", src)
		if err := c.Hello(); err != nil {
			log.Fatalf("hello %s: %v", id, err)
		}
		peers = append(peers, c)
	}

	stepMillis := int64(1000 / *tickRate)
	for tick := 0; tick < *ticks; tick++ {
		src.Advance(stepMillis)

		for _, c := range peers {
			if _, err := c.Pump(); err != nil {
				log.Printf("⚠️ %v", err)
				continue
			}
			if c.Joined() {
				// Random walk: a new heading every ~2 seconds.
				if tick%(*tickRate*2) == 0 {
					_ = c.ApplyInput(sim.Input{
						MoveX: rng.Float64()*2 - 1,
						MoveY: rng.Float64()*2 - 1,
					})
				}
				if tick%6 == 0 {
					_ = c.SendSyncRequest()
				}
			}
			c.Sweep()
		}

		drain()
		host.Tick(src.NowMillis())
	}

	// Final drain so the last snapshots land before reporting.
	for _, c := range peers {
		_, _ = c.Pump()
	}

	log.Printf("🏁 done at tick %d", host.Engine().CurrentTick())
	for _, c := range peers {
		if c.Prediction() == nil {
			log.Printf("   %s: never joined", c.ID())
			continue
		}
		stats := c.Stats()
		pstats := c.Prediction().GetStats()
		div := sim.Distance(c.Predicted(), c.Prediction().LastAuthoritative())
		log.Printf("   %s: rtt=%.1fms offset=%.1fms quality=%.2f | sent=%d retx=%d lost=%d | rollbacks=%d blends=%d div=%.3f",
			c.ID(), c.Sync().SmoothedRTT(), c.Sync().Offset(), c.Sync().Quality(),
			stats.Sent, stats.Retransmitted, stats.Lost,
			pstats.Rollbacks, pstats.Blends, div)
	}
}
