package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"netarena/internal/clock"
	"netarena/internal/journal"
	"netarena/internal/protocol"
	"netarena/internal/session"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP server that owns the tick loop, the WebSocket gateway
// and the status API.
type Server struct {
	host        *session.Host
	source      clock.TimeSource
	jrnl        *journal.Journal
	router      *chi.Mux
	gateway     *Gateway
	rateLimiter *IPRateLimiter

	tickRate int
	httpSrv  *http.Server
	stop     chan struct{}
	done     chan struct{}

	journalDropSeen uint64 // last drop total already counted into the metric
}

// NewServer creates the API server with default production configuration.
//
// Background workers do NOT start until Start() is called. This enables
// testing: the server can be constructed, and Router() used with httptest,
// without the tick loop running.
func NewServer(host *session.Host, source clock.TimeSource, jrnl *journal.Journal, tickRate int) *Server {
	s := &Server{
		host:     host,
		source:   source,
		jrnl:     jrnl,
		tickRate: tickRate,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.gateway = NewGateway(host, source, DefaultGatewayConfig())
	s.rateLimiter = NewIPRateLimiter(DefaultRateLimitConfig)

	// Metrics hooks ride the host's nil-safe callbacks.
	host.OnPacket = func(t protocol.Type) { RecordPacket(t.String()) }
	host.OnResend = RecordRetransmissions
	host.OnLost = RecordPacketsLost
	host.OnReject = RecordRejectedInput

	s.router = NewRouter(RouterConfig{
		Host:           host,
		Journal:        jrnl,
		GatewayHandler: s.gateway,
		RateLimiter:    s.rateLimiter,
	})

	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the tick loop and serves HTTP. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.tickLoop()

	log.Printf("🌐 server starting on %s at %d Hz", addr, s.tickRate)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the tick loop and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	<-s.done
	s.rateLimiter.Stop()
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// flushJournalDrops moves the journal's cumulative drop count into the
// counter as a delta, so the metric tracks the journal without double
// counting across ticks.
func (s *Server) flushJournalDrops() {
	if s.jrnl == nil {
		return
	}
	total := s.jrnl.GetDroppedCount()
	if total > s.journalDropSeen {
		RecordJournalDropped(total - s.journalDropSeen)
		s.journalDropSeen = total
	}
}

// tickLoop advances the simulation at the configured rate. The ticker owns
// the cadence; a slow tick delays the next one rather than bunching.
func (s *Server) tickLoop() {
	defer close(s.done)

	interval := time.Second / time.Duration(s.tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("⏱️ tick loop running every %v", interval)

	for {
		select {
		case <-s.stop:
			log.Printf("⏱️ tick loop stopped at tick %d", s.host.Engine().CurrentTick())
			return
		case <-ticker.C:
			start := time.Now()
			s.host.Tick(s.source.NowMillis())
			RecordTick(time.Since(start))
			UpdateConnectedClients(s.host.Engine().ClientCount())
			s.flushJournalDrops()
		}
	}
}
