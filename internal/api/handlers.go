package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kitfc/litehook/internal/model"
	"github.com/kitfc/litehook/internal/supervisor"
)

// Handlers is a thin HTTP adapter over the Supervisor's public API. It
// holds no state of its own and does no validation beyond JSON
// decoding — the supervisor is the authority on listener lifecycle.
type Handlers struct {
	sup *supervisor.Supervisor
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sup *supervisor.Supervisor) *Handlers {
	return &Handlers{sup: sup}
}

// ListListeners handles GET /listeners.
func (h *Handlers) ListListeners(w http.ResponseWriter, r *http.Request) {
	rows, err := h.sup.GetAllListeners()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// CreateListener handles POST /listeners.
func (h *Handlers) CreateListener(w http.ResponseWriter, r *http.Request) {
	var cfg model.ListenerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	if err := h.sup.AddListener(cfg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": cfg.ID})
}

// GetListener handles GET /listeners/{id}. Per the control-plane
// contract this always answers 200, with a null body when the
// listener does not exist — the control plane is a thin, unauthenticated
// read of the durable store, not a RESTful not-found surface.
func (h *Handlers) GetListener(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	row, err := h.sup.GetListener(id)
	if err != nil {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, row)
}

// UpdateListener handles PUT /listeners/{id}.
func (h *Handlers) UpdateListener(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg model.ListenerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.ID = id

	if err := h.sup.UpdateListener(cfg); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// DeleteListener handles DELETE /listeners/{id}.
func (h *Handlers) DeleteListener(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.sup.RemoveListener(id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Response helpers.

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
