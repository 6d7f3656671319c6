package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/amiantos/ursceal/internal/store"
)

// StoriesHandler serves story CRUD, content writes with undo/redo, and the
// character and lorebook associations.
type StoriesHandler struct {
	stores *store.Stores
}

func NewStoriesHandler(stores *store.Stores) *StoriesHandler {
	return &StoriesHandler{stores: stores}
}

func (h *StoriesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stories", h.handleList)
	mux.HandleFunc("POST /api/stories", h.handleCreate)
	mux.HandleFunc("GET /api/stories/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/stories/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/stories/{id}", h.handleDelete)

	mux.HandleFunc("PUT /api/stories/{id}/content", h.handleUpdateContent)
	mux.HandleFunc("GET /api/stories/{id}/history", h.handleHistoryStatus)
	mux.HandleFunc("POST /api/stories/{id}/undo", h.handleUndo)
	mux.HandleFunc("POST /api/stories/{id}/redo", h.handleRedo)

	mux.HandleFunc("GET /api/stories/{id}/characters", h.handleCharacters)
	mux.HandleFunc("POST /api/stories/{id}/characters/{characterId}", h.handleAddCharacter)
	mux.HandleFunc("DELETE /api/stories/{id}/characters/{characterId}", h.handleRemoveCharacter)

	mux.HandleFunc("GET /api/stories/{id}/lorebooks", h.handleLorebooks)
	mux.HandleFunc("POST /api/stories/{id}/lorebooks/{lorebookId}", h.handleAttachLorebook)
	mux.HandleFunc("DELETE /api/stories/{id}/lorebooks/{lorebookId}", h.handleDetachLorebook)
}

func (h *StoriesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	stories, err := h.stores.Stories.List(r.Context())
	if err != nil {
		writeStoreError(w, "stories.list", err)
		return
	}
	if stories == nil {
		stories = []store.Story{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stories": stories})
}

func (h *StoriesHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !readJSON(w, r, &in) {
		return
	}

	story := &store.Story{Title: in.Title, Description: in.Description}
	if err := h.stores.Stories.Create(r.Context(), story); err != nil {
		writeStoreError(w, "stories.create", err)
		return
	}
	slog.Info("stories.created", "id", story.ID, "title", story.Title)
	writeJSON(w, http.StatusCreated, story)
}

func (h *StoriesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	story, err := h.stores.Stories.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "stories.get", err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

func (h *StoriesHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	story, err := h.stores.Stories.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "stories.update", err)
		return
	}

	// Only metadata fields are writable here; content goes through the
	// content endpoint so history stays consistent.
	var in struct {
		Title              *string `json:"title"`
		Description        *string `json:"description"`
		PersonaCharacterID *string `json:"personaCharacterId"`
		ConfigPresetID     *string `json:"configPresetId"`
		NeedsRewritePrompt *bool   `json:"needsRewritePrompt"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.Title != nil {
		story.Title = *in.Title
	}
	if in.Description != nil {
		story.Description = *in.Description
	}
	if in.PersonaCharacterID != nil {
		if *in.PersonaCharacterID == "" {
			story.PersonaCharacterID = nil
		} else {
			story.PersonaCharacterID = in.PersonaCharacterID
		}
	}
	if in.ConfigPresetID != nil {
		if *in.ConfigPresetID == "" {
			story.ConfigPresetID = nil
		} else {
			story.ConfigPresetID = in.ConfigPresetID
		}
	}
	if in.NeedsRewritePrompt != nil {
		story.NeedsRewritePrompt = *in.NeedsRewritePrompt
	}

	if err := h.stores.Stories.Update(r.Context(), story); err != nil {
		writeStoreError(w, "stories.update", err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

func (h *StoriesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Stories.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, "stories.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StoriesHandler) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var in struct {
		Content string `json:"content"`
	}
	if !readJSON(w, r, &in) {
		return
	}

	if err := h.stores.History.SaveToHistory(r.Context(), id, in.Content); err != nil {
		writeStoreError(w, "stories.content", err)
		return
	}
	status, err := h.stores.History.Status(r.Context(), id)
	if err != nil {
		writeStoreError(w, "stories.content", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *StoriesHandler) handleHistoryStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.stores.History.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "stories.history", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *StoriesHandler) handleUndo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.stores.History.Undo)
}

func (h *StoriesHandler) handleRedo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.stores.History.Redo)
}

// step applies an undo or redo move and returns the resulting content
// (null when there was nothing to move to) plus the fresh history status.
func (h *StoriesHandler) step(w http.ResponseWriter, r *http.Request, move func(ctx context.Context, storyID string) (*string, error)) {
	id := r.PathValue("id")
	content, err := move(r.Context(), id)
	if err != nil {
		writeStoreError(w, "stories.history_step", err)
		return
	}
	status, err := h.stores.History.Status(r.Context(), id)
	if err != nil {
		writeStoreError(w, "stories.history_step", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"content": content,
		"canUndo": status.CanUndo,
		"canRedo": status.CanRedo,
	})
}

func (h *StoriesHandler) handleCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := h.stores.Stories.Characters(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "stories.characters", err)
		return
	}
	if chars == nil {
		chars = []store.Character{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"characters": chars})
}

func (h *StoriesHandler) handleAddCharacter(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Stories.AddCharacter(r.Context(), r.PathValue("id"), r.PathValue("characterId")); err != nil {
		writeStoreError(w, "stories.add_character", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StoriesHandler) handleRemoveCharacter(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Stories.RemoveCharacter(r.Context(), r.PathValue("id"), r.PathValue("characterId")); err != nil {
		writeStoreError(w, "stories.remove_character", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StoriesHandler) handleLorebooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.stores.Stories.Lorebooks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "stories.lorebooks", err)
		return
	}
	if books == nil {
		books = []store.Lorebook{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lorebooks": books})
}

func (h *StoriesHandler) handleAttachLorebook(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Stories.AttachLorebook(r.Context(), r.PathValue("id"), r.PathValue("lorebookId")); err != nil {
		writeStoreError(w, "stories.attach_lorebook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StoriesHandler) handleDetachLorebook(w http.ResponseWriter, r *http.Request) {
	if err := h.stores.Stories.DetachLorebook(r.Context(), r.PathValue("id"), r.PathValue("lorebookId")); err != nil {
		writeStoreError(w, "stories.detach_lorebook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
