package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// HealthStatus is the body of GET /health
type HealthStatus struct {
	Status          string  `json:"status"`
	ConnectedPeers  int     `json:"connectedPeers"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`
	Bridge          string  `json:"bridge,omitempty"`
	BridgeConnected *bool   `json:"bridgeConnected,omitempty"`
}

// HealthChecker reports relay liveness
type HealthChecker struct {
	hub       *Hub
	bridge    Bridge
	clock     clockwork.Clock
	startedAt time.Time
}

func NewHealthChecker(hub *Hub, bridge Bridge, clock clockwork.Clock) *HealthChecker {
	return &HealthChecker{
		hub:       hub,
		bridge:    bridge,
		clock:     clock,
		startedAt: clock.Now(),
	}
}

func (h *HealthChecker) Check() HealthStatus {
	uptime := h.clock.Since(h.startedAt)
	status := HealthStatus{
		Status:         "ok",
		ConnectedPeers: h.hub.Count(),
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
	}
	if h.bridge != nil {
		connected := h.bridge.Connected()
		status.Bridge = h.bridge.Name()
		status.BridgeConnected = &connected
		if !connected {
			status.Status = "degraded"
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
