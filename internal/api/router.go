package api

import (
	"net/http"

	"netarena/internal/authority"
	"netarena/internal/journal"
	"netarena/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// HostInterface defines the session host methods used by the API.
// This interface enables mocking for tests without running the tick loop.
// Keep this minimal - only include methods the API layer actually calls.
type HostInterface interface {
	// SessionCount returns the number of live post-handshake sessions
	SessionCount() int
	// Sessions returns the live sessions for per-connection stats
	Sessions() []*session.Session
	// Engine returns the authoritative engine for tick and client queries
	Engine() *authority.Engine
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Host: host,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Host is the session host (required)
	Host HostInterface

	// Journal is the operational event log (optional)
	Journal *journal.Journal

	// GatewayHandler serves the websocket packet stream at /ws (optional;
	// tests of the plain HTTP surface can leave it nil)
	GatewayHandler http.Handler

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses the default local-development origins.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler dependencies for the route functions.
type routerHandlers struct {
	host HostInterface
	jrnl *journal.Journal
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// This function is PURE - it has no side effects beyond the rate limiter's
// cleanup goroutine: no network listeners, no background tick workers. That
// makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - order matters
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{
		host: cfg.Host,
		jrnl: cfg.Journal,
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/clients", h.handleClients)
		r.Get("/sessions", h.handleSessions)
		r.Get("/journal/stats", h.handleJournalStats)
	})

	if cfg.GatewayHandler != nil {
		r.Get("/ws", cfg.GatewayHandler.ServeHTTP)
	}

	return r
}
