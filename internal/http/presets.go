package http

import (
	"net/http"

	"github.com/amiantos/ursceal/internal/store"
)

// PresetsHandler serves generation preset CRUD and default selection.
type PresetsHandler struct {
	stores *store.Stores
}

func NewPresetsHandler(stores *store.Stores) *PresetsHandler {
	return &PresetsHandler{stores: stores}
}

func (h *PresetsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/presets", h.handleList)
	mux.HandleFunc("POST /api/presets", h.handleCreate)
	mux.HandleFunc("GET /api/presets/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/presets/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/presets/{id}", h.handleDelete)
	mux.HandleFunc("POST /api/presets/{id}/default", h.handleSetDefault)
}

func (h *PresetsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	presets, err := h.stores.Presets.List(r.Context())
	if err != nil {
		writeStoreError(w, "presets.list", err)
		return
	}
	if presets == nil {
		presets = []store.Preset{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"presets": presets})
}

func (h *PresetsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var p store.Preset
	if !readJSON(w, r, &p) {
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !store.KnownProvider(p.Provider) {
		writeError(w, http.StatusBadRequest, "unknown provider type")
		return
	}
	p.ID = ""

	if err := h.stores.Presets.Create(r.Context(), &p); err != nil {
		writeStoreError(w, "presets.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PresetsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.stores.Presets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "presets.get", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PresetsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var p store.Preset
	if !readJSON(w, r, &p) {
		return
	}
	if !store.KnownProvider(p.Provider) {
		writeError(w, http.StatusBadRequest, "unknown provider type")
		return
	}
	p.ID = r.PathValue("id")

	if err := h.stores.Presets.Update(r.Context(), &p); err != nil {
		writeStoreError(w, "presets.update", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PresetsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Presets.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, "presets.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PresetsHandler) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Presets.SetDefault(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, "presets.set_default", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
