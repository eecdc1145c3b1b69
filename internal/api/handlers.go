package api

import (
	"encoding/json"
	"net/http"
)

// Handler methods for routerHandlers.
// These are used by both the standalone router (for testing) and the full Server.

func (h *routerHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	engine := h.host.Engine()
	writeJSON(w, map[string]interface{}{
		"tick":           engine.CurrentTick(),
		"clients":        engine.ClientCount(),
		"sessions":       h.host.SessionCount(),
		"rejectedInputs": engine.RejectedInputs(),
	})
}

func (h *routerHandlers) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.host.Engine().Clients())
}

func (h *routerHandlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	type sessionStats struct {
		ID       string      `json:"id"`
		Reliable interface{} `json:"reliable"`
	}
	out := make([]sessionStats, 0)
	for _, s := range h.host.Sessions() {
		out = append(out, sessionStats{ID: s.ID(), Reliable: s.Stats()})
	}
	writeJSON(w, out)
}

func (h *routerHandlers) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	if h.jrnl == nil {
		writeJSON(w, map[string]interface{}{"running": false})
		return
	}
	writeJSON(w, h.jrnl.GetStats())
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
