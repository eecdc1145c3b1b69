package api

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"netarena/internal/clock"
	"netarena/internal/session"

	"github.com/gorilla/websocket"
)

// GatewayConfig bounds the websocket surface.
type GatewayConfig struct {
	MaxConnections      int // across all clients
	MaxConnectionsPerIP int
}

// DefaultGatewayConfig returns production limits.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxConnections:      500,
		MaxConnectionsPerIP: 10,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// Gateway carries the packet protocol over WebSocket connections. Each
// connection gets one session on the host; frames are opaque to the gateway,
// the session layer does all decoding.
type Gateway struct {
	host   *session.Host
	source clock.TimeSource
	cfg    GatewayConfig

	perIP  sync.Map // ip string -> *int32 open-connection counter
	active int32    // atomic
}

// NewGateway creates a gateway over the given host.
func NewGateway(host *session.Host, source clock.TimeSource, cfg GatewayConfig) *Gateway {
	return &Gateway{host: host, source: source, cfg: cfg}
}

// ActiveConnections returns the number of open WebSocket connections.
func (g *Gateway) ActiveConnections() int {
	return int(atomic.LoadInt32(&g.active))
}

// acquireIP claims a connection slot for the IP, refusing past the cap.
func (g *Gateway) acquireIP(ip string) bool {
	entry, _ := g.perIP.LoadOrStore(ip, new(int32))
	counter := entry.(*int32)
	for {
		n := atomic.LoadInt32(counter)
		if int(n) >= g.cfg.MaxConnectionsPerIP {
			return false
		}
		if atomic.CompareAndSwapInt32(counter, n, n+1) {
			return true
		}
	}
}

func (g *Gateway) releaseIP(ip string) {
	if entry, ok := g.perIP.Load(ip); ok {
		atomic.AddInt32(entry.(*int32), -1)
	}
}

// ServeHTTP upgrades the connection and pumps frames into a session.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if int(atomic.LoadInt32(&g.active)) >= g.cfg.MaxConnections {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached")
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !g.acquireIP(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		g.releaseIP(ip)
		return
	}

	count := atomic.AddInt32(&g.active, 1)
	UpdateWSConnections(int(count))
	log.Printf("📱 connection from %s (%d total)", ip, count)

	// gorilla allows one concurrent writer per connection; the session's
	// sender and the tick broadcast share this mutex.
	var writeMu sync.Mutex
	s := g.host.OpenSession(func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, frame)
	})

	go g.readLoop(conn, s, ip)
}

func (g *Gateway) readLoop(conn *websocket.Conn, s *session.Session, ip string) {
	defer func() {
		g.host.CloseSession(s)
		conn.Close()
		g.releaseIP(ip)
		count := atomic.AddInt32(&g.active, -1)
		UpdateWSConnections(int(count))
		log.Printf("📱 connection from %s closed (%d remaining)", ip, count)
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := s.HandleFrame(frame, g.source.NowMillis()); err != nil {
			log.Printf("⚠️ dropping connection from %s: %v", ip, err)
			return
		}
	}
}

// IsAllowedOrigin is the browser-origin policy for the websocket upgrade.
// Native game clients send no Origin header and are accepted; browsers must
// come from a local development origin.
func IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1")
}
