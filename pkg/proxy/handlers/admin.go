package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"ember-gateway/ember/pkg/eventlog"
	"ember-gateway/ember/pkg/lifecycle"
	"ember-gateway/ember/pkg/proxy/apierror"
	"ember-gateway/ember/pkg/registry"
)

// AdminHandler implements the idempotent control verbs and read views:
// per-model start/stop/reload, bulk and group-scoped variants, queue
// status/clear, and aggregate status. Bulk verbs fan out in parallel and
// report per-model success/failure; they never abort on a partial
// failure.
type AdminHandler struct {
	registry   *registry.Registry
	controller *lifecycle.Controller
	events     *eventlog.EventLog
}

// NewAdminHandler creates an AdminHandler bound to reg and ctrl. events
// may be nil, in which case GET /models/{name}/events reports 404.
func NewAdminHandler(reg *registry.Registry, ctrl *lifecycle.Controller, events *eventlog.EventLog) *AdminHandler {
	return &AdminHandler{registry: reg, controller: ctrl, events: events}
}

// Register mounts every admin route on mux. The caller mounts mux itself
// under the /admin prefix (see pkg/server).
func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /models/{name}/start", h.handleOneModel(h.controller.StartModel))
	mux.HandleFunc("POST /models/{name}/stop", h.handleOneModel(h.stopReasonAdmin))
	mux.HandleFunc("POST /models/{name}/reload", h.handleOneModel(h.controller.ReloadModel))
	mux.HandleFunc("GET /models/{name}/status", h.handleModelStatus)
	mux.HandleFunc("GET /models/{name}/events", h.handleModelEvents)

	mux.HandleFunc("POST /models/start-all", h.handleStartAll)
	mux.HandleFunc("POST /models/stop-all", h.handleStopAll)
	mux.HandleFunc("POST /models/restart-all", h.handleRestartAll)

	mux.HandleFunc("POST /groups/{group}/start", h.handleGroup(h.controller.StartModel))
	mux.HandleFunc("POST /groups/{group}/stop", h.handleGroup(h.stopReasonAdmin))
	mux.HandleFunc("GET /groups/status", h.handleGroupsStatus)

	mux.HandleFunc("GET /queue/status", h.handleQueueStatusAll)
	mux.HandleFunc("GET /queue/{name}/status", h.handleQueueStatus)
	mux.HandleFunc("POST /queue/{name}/clear", h.handleQueueClear)

	mux.HandleFunc("GET /config", h.handleConfig)
}

// errStoppedByAdmin is the reason recorded against a model stopped via
// the admin surface, distinct from an idle-reaper or transport-failure
// stop.
var errStoppedByAdmin = errors.New("stopped via admin request")

func (h *AdminHandler) stopReasonAdmin(ctx context.Context, name string) error {
	return h.controller.StopModel(ctx, name, errStoppedByAdmin)
}

// actionResult is one model's outcome within a bulk/group fan-out
// response.
type actionResult struct {
	Model   string `json:"model"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAdminError(w http.ResponseWriter, status int, body apierror.Body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// noOpOK reports whether err is one of the idempotent no-op signals, in
// which case the verb is still a success from the caller's point of view.
func noOpOK(err error) bool {
	return errors.Is(err, lifecycle.ErrAlreadyReady) || errors.Is(err, lifecycle.ErrAlreadyStopped)
}

// handleOneModel wraps a single-model verb (start/stop/reload) as an
// HTTP handler over POST /models/{name}/<verb>.
func (h *AdminHandler) handleOneModel(verb func(ctx context.Context, name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if h.registry.Get(name) == nil {
			writeAdminError(w, http.StatusNotFound, apierror.NotFound("model is not configured"))
			return
		}

		err := verb(r.Context(), name)
		if err != nil && !noOpOK(err) {
			writeAdminError(w, http.StatusConflict, apierror.New("verb_failed", err.Error(), "conflict"))
			return
		}

		writeJSON(w, http.StatusOK, actionResult{Model: name, Success: true})
	}
}

func (h *AdminHandler) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	e := h.registry.Get(name)
	if e == nil {
		writeAdminError(w, http.StatusNotFound, apierror.NotFound("model is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(name, e.Snapshot()))
}

// handleModelEvents serves the recent lifecycle transition history for one
// model from the event journal, when enabled.
func (h *AdminHandler) handleModelEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if h.registry.Get(name) == nil {
		writeAdminError(w, http.StatusNotFound, apierror.NotFound("model is not configured"))
		return
	}
	if h.events == nil {
		writeAdminError(w, http.StatusNotFound, apierror.NotFound("event journal is not enabled"))
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.events.Recent(r.Context(), name, limit)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, apierror.Internal(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// snapshotJSON is the wire shape of a single model's status, used by both
// the per-model and aggregate status views.
type snapshotJSON struct {
	Name          string         `json:"name"`
	State         registry.State `json:"state"`
	PID           int            `json:"pid,omitempty"`
	Priority      int            `json:"priority"`
	ResourceGroup string         `json:"resource_group,omitempty"`
	Preload       bool           `json:"preload"`
	RequestCount  int64          `json:"request_count"`
	FailureStreak int            `json:"failure_streak"`
	QueueDepth    int            `json:"queue_depth"`
	UptimeSeconds float64        `json:"uptime_seconds"`
}

func snapshotView(name string, snap registry.Snapshot) snapshotJSON {
	return snapshotJSON{
		Name:          name,
		State:         snap.State,
		PID:           snap.PID,
		Priority:      snap.Config.Priority,
		ResourceGroup: snap.Config.ResourceGroup,
		Preload:       snap.Config.Preload,
		RequestCount:  snap.RequestCount,
		FailureStreak: snap.FailureStreak,
		QueueDepth:    snap.QueueDepth,
		UptimeSeconds: snap.Uptime().Seconds(),
	}
}

// fanOut runs verb against every name in parallel and collects one
// actionResult per model.
func (h *AdminHandler) fanOut(ctx context.Context, names []string, verb func(ctx context.Context, name string) error) []actionResult {
	results := make([]actionResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			err := verb(ctx, name)
			res := actionResult{Model: name, Success: err == nil || noOpOK(err)}
			if err != nil && !noOpOK(err) {
				res.Error = err.Error()
			}
			results[i] = res
		}(i, name)
	}
	wg.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Model < results[j].Model })
	return results
}

func (h *AdminHandler) handleStartAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.fanOut(r.Context(), h.registry.List(), h.controller.StartModel))
}

// handleStopAll stops every running model except preloaded ones.
func (h *AdminHandler) handleStopAll(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, name := range h.registry.List() {
		e := h.registry.Get(name)
		if e != nil && !e.Config().Preload {
			names = append(names, name)
		}
	}
	writeJSON(w, http.StatusOK, h.fanOut(r.Context(), names, h.stopReasonAdmin))
}

// handleRestartAll restarts every currently-running model.
func (h *AdminHandler) handleRestartAll(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, name := range h.registry.List() {
		e := h.registry.Get(name)
		if e != nil && e.State() == registry.StateReady {
			names = append(names, name)
		}
	}
	restart := func(ctx context.Context, name string) error {
		if err := h.stopReasonAdmin(ctx, name); err != nil && !noOpOK(err) {
			return err
		}
		return h.controller.StartModel(ctx, name)
	}
	writeJSON(w, http.StatusOK, h.fanOut(r.Context(), names, restart))
}

func (h *AdminHandler) namesInGroup(group string) []string {
	var names []string
	for _, name := range h.registry.List() {
		e := h.registry.Get(name)
		if e != nil && e.Config().ResourceGroup == group {
			names = append(names, name)
		}
	}
	return names
}

func (h *AdminHandler) handleGroup(verb func(ctx context.Context, name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := r.PathValue("group")
		names := h.namesInGroup(group)
		if len(names) == 0 {
			writeAdminError(w, http.StatusNotFound, apierror.NotFound("resource_group has no members"))
			return
		}
		writeJSON(w, http.StatusOK, h.fanOut(r.Context(), names, verb))
	}
}

// groupRollup summarizes one resource_group's member states.
type groupRollup struct {
	Group  string         `json:"group"`
	Models []snapshotJSON `json:"models"`
	Counts map[string]int `json:"counts"`
}

func (h *AdminHandler) handleGroupsStatus(w http.ResponseWriter, r *http.Request) {
	groups := make(map[string][]snapshotJSON)
	for name, snap := range h.registry.Snapshot() {
		group := snap.Config.ResourceGroup
		if group == "" {
			continue
		}
		groups[group] = append(groups[group], snapshotView(name, snap))
	}

	rollups := make([]groupRollup, 0, len(groups))
	for group, models := range groups {
		sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
		counts := make(map[string]int)
		for _, m := range models {
			counts[string(m.State)]++
		}
		rollups = append(rollups, groupRollup{Group: group, Models: models, Counts: counts})
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].Group < rollups[j].Group })

	writeJSON(w, http.StatusOK, rollups)
}

// queueStatusJSON is the wire shape for one model's queue depth view.
type queueStatusJSON struct {
	Model string `json:"model"`
	Depth int    `json:"depth"`
}

func (h *AdminHandler) handleQueueStatusAll(w http.ResponseWriter, r *http.Request) {
	names := h.registry.List()
	out := make([]queueStatusJSON, 0, len(names))
	for _, name := range names {
		e := h.registry.Get(name)
		if e == nil {
			continue
		}
		out = append(out, queueStatusJSON{Model: name, Depth: e.Queue().Len()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	e := h.registry.Get(name)
	if e == nil {
		writeAdminError(w, http.StatusNotFound, apierror.NotFound("model is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, queueStatusJSON{Model: name, Depth: e.Queue().Len()})
}

func (h *AdminHandler) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	e := h.registry.Get(name)
	if e == nil {
		writeAdminError(w, http.StatusNotFound, apierror.NotFound("model is not configured"))
		return
	}
	cleared := e.Queue().Clear()
	writeJSON(w, http.StatusOK, map[string]interface{}{"model": name, "cleared": cleared})
}

// handleConfig returns the active immutable configuration snapshot, useful
// for operators to confirm what a reload actually applied.
func (h *AdminHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Config())
}
