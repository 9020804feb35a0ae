package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"ember-gateway/ember/pkg/registry"
)

// modelObject mirrors OpenAI's GET /v1/models list item shape.
type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// modelsListResponse mirrors OpenAI's GET /v1/models envelope.
type modelsListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// ModelsHandler serves GET /v1/models: every configured model appears
// regardless of current lifecycle state.
type ModelsHandler struct {
	registry  *registry.Registry
	startedAt time.Time
}

// NewModelsHandler creates a ModelsHandler bound to reg. startedAt is used
// as the "created" timestamp for every model, since the gateway has no
// per-model creation time of its own.
func NewModelsHandler(reg *registry.Registry, startedAt time.Time) *ModelsHandler {
	return &ModelsHandler{registry: reg, startedAt: startedAt}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := h.registry.List()
	data := make([]modelObject, 0, len(names))
	for _, name := range names {
		data = append(data, modelObject{
			ID:      name,
			Object:  "model",
			Created: h.startedAt.Unix(),
			OwnedBy: "ember",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(modelsListResponse{Object: "list", Data: data})
}
