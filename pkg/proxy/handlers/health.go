package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"ember-gateway/ember/pkg/registry"
)

// healthResponse is the summary body for GET /health: 200 with a summary
// when the gateway is up.
type healthResponse struct {
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
	ModelsTotal  int    `json:"models_total"`
	ModelsReady  int    `json:"models_ready"`
	ModelsFailed int    `json:"models_failed"`
}

// HealthHandler serves GET /health. It always reports 200 while the
// gateway's HTTP server is up; per-model health is reported in detail by
// GET /metrics and the admin status views.
type HealthHandler struct {
	registry *registry.Registry
}

// NewHealthHandler creates a HealthHandler bound to reg.
func NewHealthHandler(reg *registry.Registry) *HealthHandler {
	return &HealthHandler{registry: reg}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := h.registry.Snapshot()
	resp := healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().Unix(),
		ModelsTotal: len(snapshots),
	}
	for _, snap := range snapshots {
		switch snap.State {
		case registry.StateReady:
			resp.ModelsReady++
		case registry.StateFailed:
			resp.ModelsFailed++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
