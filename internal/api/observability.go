package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-client labels to prevent DoS)
var (
	// Tick engine metrics
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "netarena_tick_duration_seconds",
		Help:    "Time spent advancing one authoritative tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netarena_connected_clients",
		Help: "Current number of connected clients",
	})

	rejectedInputs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netarena_rejected_inputs_total",
		Help: "Inputs refused by server-side validation",
	})

	// Packet metrics - label is the bounded packet type name
	packetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netarena_packets_total",
		Help: "Packets received by type",
	}, []string{"type"})

	retransmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netarena_retransmissions_total",
		Help: "Reliable packets retransmitted",
	})

	packetsLostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netarena_packets_lost_total",
		Help: "Reliable packets given up on after exhausting retries",
	})

	// Journal metrics
	journalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netarena_journal_dropped_total",
		Help: "Journal events dropped by rate limiting or buffer pressure",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netarena_connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netarena_websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // MUST be "127.0.0.1:6060" in production
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060", // Localhost only - NEVER expose externally
	}
}

// StartDebugServer starts the internal observability server.
// This MUST bind to localhost only to prevent pprof-based DoS.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost for security")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}

// RecordTick records tick timing
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// UpdateConnectedClients updates the client gauge
func UpdateConnectedClients(count int) {
	connectedClients.Set(float64(count))
}

// RecordRejectedInput counts one refused input
func RecordRejectedInput() {
	rejectedInputs.Inc()
}

// RecordPacket counts one received packet by type name
func RecordPacket(typeName string) {
	packetsTotal.WithLabelValues(typeName).Inc()
}

// RecordRetransmissions counts reliable packets resent
func RecordRetransmissions(n int) {
	retransmissionsTotal.Add(float64(n))
}

// RecordPacketsLost counts reliable packets given up on
func RecordPacketsLost(n int) {
	packetsLostTotal.Add(float64(n))
}

// RecordJournalDropped counts journal events shed under pressure
func RecordJournalDropped(n uint64) {
	journalDropped.Add(float64(n))
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates the WebSocket connection gauge
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}
