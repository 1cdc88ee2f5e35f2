package server

import (
	"context"
	"net/http"
	"time"

	"github.com/HMasataka/partyline/internal/logging"
	"github.com/HMasataka/partyline/internal/party"
	"github.com/HMasataka/partyline/pkg/domain"
)

// StatsProvider reports relay statistics
type StatsProvider interface {
	Stats() domain.RelayStats
}

// HealthHandler serves GET /healthz
type HealthHandler struct {
	relay StatsProvider
	store party.Store
}

// NewHealthHandler creates a health handler
func NewHealthHandler(relay StatsProvider, store party.Store) *HealthHandler {
	return &HealthHandler{relay: relay, store: store}
}

type healthResponse struct {
	Status string            `json:"status"`
	Store  string            `json:"store"`
	Relay  domain.RelayStats `json:"relay"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	if h.relay != nil {
		resp.Relay = h.relay.Stats()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("store ping failed", "error", err)
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
