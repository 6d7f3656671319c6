package http

import (
	"net/http"

	"github.com/amiantos/ursceal/internal/store"
)

// SettingsHandler serves the singleton application settings.
type SettingsHandler struct {
	stores *store.Stores
}

func NewSettingsHandler(stores *store.Stores) *SettingsHandler {
	return &SettingsHandler{stores: stores}
}

func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/settings", h.handleGet)
	mux.HandleFunc("PUT /api/settings", h.handleUpdate)
}

func (h *SettingsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	settings, err := h.stores.Settings.Get(r.Context())
	if err != nil {
		writeStoreError(w, "settings.get", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	// Start from the stored values so partial updates keep defaults.
	settings, err := h.stores.Settings.Get(r.Context())
	if err != nil {
		writeStoreError(w, "settings.update", err)
		return
	}
	if !readJSON(w, r, settings) {
		return
	}

	if err := h.stores.Settings.Update(r.Context(), settings); err != nil {
		writeStoreError(w, "settings.update", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
