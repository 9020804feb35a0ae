package handlers

import (
	"encoding/json"
	"net/http"

	"ember-gateway/ember/pkg/procstats"
	"ember-gateway/ember/pkg/registry"
)

// modelMetrics is one entry of the GET /metrics response: JSON with
// per-model status, request count, memory/CPU usage, uptime, and last
// access time.
type modelMetrics struct {
	Status          registry.State `json:"status"`
	RequestCount    int64          `json:"request_count"`
	MemoryUsageMB   float64        `json:"memory_usage_mb"`
	CPUUsagePercent float64        `json:"cpu_usage_percent"`
	UptimeSeconds   float64        `json:"uptime"`
	LastAccessed    int64          `json:"last_accessed"`
}

// MetricsHandler serves the required JSON GET /metrics. It is distinct
// from the Prometheus exposition registered at /internal/metrics
// (pkg/telemetry/metrics), whose shape is an internal operational detail.
type MetricsHandler struct {
	registry *registry.Registry
	procs    *procstats.Reader
}

// NewMetricsHandler creates a MetricsHandler bound to reg.
func NewMetricsHandler(reg *registry.Registry) *MetricsHandler {
	return &MetricsHandler{registry: reg, procs: procstats.NewReader()}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := h.registry.Snapshot()
	out := make(map[string]modelMetrics, len(snapshots))
	for name, snap := range snapshots {
		var sample procstats.Sample
		if snap.PID != 0 {
			sample = h.procs.Sample(snap.PID)
		}

		var lastAccessed int64
		if !snap.LastActivityTs.IsZero() {
			lastAccessed = snap.LastActivityTs.Unix()
		}

		out[name] = modelMetrics{
			Status:          snap.State,
			RequestCount:    snap.RequestCount,
			MemoryUsageMB:   sample.MemoryMB,
			CPUUsagePercent: sample.CPUPercent,
			UptimeSeconds:   snap.Uptime().Seconds(),
			LastAccessed:    lastAccessed,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}
