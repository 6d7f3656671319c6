package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/amiantos/ursceal/internal/lorebook"
	"github.com/amiantos/ursceal/internal/store"
)

// LorebooksHandler serves lorebook CRUD, entry saves, and JSON import.
type LorebooksHandler struct {
	stores *store.Stores
}

func NewLorebooksHandler(stores *store.Stores) *LorebooksHandler {
	return &LorebooksHandler{stores: stores}
}

func (h *LorebooksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/lorebooks", h.handleList)
	mux.HandleFunc("POST /api/lorebooks", h.handleCreate)
	mux.HandleFunc("POST /api/lorebooks/import", h.handleImport)
	mux.HandleFunc("GET /api/lorebooks/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/lorebooks/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/lorebooks/{id}", h.handleDelete)
	mux.HandleFunc("PUT /api/lorebooks/{id}/entries", h.handleSaveEntries)
}

func (h *LorebooksHandler) handleList(w http.ResponseWriter, r *http.Request) {
	books, err := h.stores.Lorebooks.List(r.Context())
	if err != nil {
		writeStoreError(w, "lorebooks.list", err)
		return
	}
	if books == nil {
		books = []store.Lorebook{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lorebooks": books})
}

func (h *LorebooksHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var lb store.Lorebook
	if !readJSON(w, r, &lb) {
		return
	}
	if lb.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	lb.ID = ""

	if err := h.stores.Lorebooks.Create(r.Context(), &lb); err != nil {
		writeStoreError(w, "lorebooks.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, lb)
}

// handleImport accepts either the world-info dict format or the internal
// export format, tolerating JSON5 input.
func (h *LorebooksHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	lb, err := lorebook.ParseImport(data)
	if err != nil {
		if errors.Is(err, lorebook.ErrInvalidLorebook) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeStoreError(w, "lorebooks.import", err)
		return
	}
	if lb.Name == "" {
		lb.Name = "Imported Lorebook"
	}

	if err := h.stores.Lorebooks.Create(r.Context(), lb); err != nil {
		writeStoreError(w, "lorebooks.import", err)
		return
	}
	writeJSON(w, http.StatusCreated, lb)
}

func (h *LorebooksHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	lb, err := h.stores.Lorebooks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "lorebooks.get", err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *LorebooksHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	lb, err := h.stores.Lorebooks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "lorebooks.update", err)
		return
	}

	var in struct {
		Name              *string        `json:"name"`
		Description       *string        `json:"description"`
		ScanDepth         *int           `json:"scanDepth"`
		TokenBudget       *int           `json:"tokenBudget"`
		RecursiveScanning *bool          `json:"recursiveScanning"`
		Extensions        map[string]any `json:"extensions"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.Name != nil {
		lb.Name = *in.Name
	}
	if in.Description != nil {
		lb.Description = *in.Description
	}
	if in.ScanDepth != nil {
		lb.ScanDepth = in.ScanDepth
	}
	if in.TokenBudget != nil {
		lb.TokenBudget = in.TokenBudget
	}
	if in.RecursiveScanning != nil {
		lb.RecursiveScanning = *in.RecursiveScanning
	}
	if in.Extensions != nil {
		lb.Extensions = in.Extensions
	}

	if err := h.stores.Lorebooks.Update(r.Context(), lb); err != nil {
		writeStoreError(w, "lorebooks.update", err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *LorebooksHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Lorebooks.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, "lorebooks.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveEntries replaces all entries; ids are reassigned, so the fresh
// lorebook is returned for the client to resync.
func (h *LorebooksHandler) handleSaveEntries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var in struct {
		Entries []store.LorebookEntry `json:"entries"`
	}
	if !readJSON(w, r, &in) {
		return
	}

	if err := h.stores.Lorebooks.SaveEntries(r.Context(), id, in.Entries); err != nil {
		writeStoreError(w, "lorebooks.save_entries", err)
		return
	}
	lb, err := h.stores.Lorebooks.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, "lorebooks.save_entries", err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}
