package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/amiantos/ursceal/internal/cards"
	"github.com/amiantos/ursceal/internal/lorebook"
	"github.com/amiantos/ursceal/internal/store"
)

// maxUploadBytes bounds character PNG uploads.
const maxUploadBytes = 20 << 20

// CharactersHandler serves character CRUD, PNG card import/export, and the
// image blobs.
type CharactersHandler struct {
	stores *store.Stores
}

func NewCharactersHandler(stores *store.Stores) *CharactersHandler {
	return &CharactersHandler{stores: stores}
}

func (h *CharactersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/characters", h.handleList)
	mux.HandleFunc("POST /api/characters", h.handleCreate)
	mux.HandleFunc("POST /api/characters/upload", h.handleUpload)
	mux.HandleFunc("GET /api/characters/{id}", h.handleGet)
	mux.HandleFunc("PUT /api/characters/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/characters/{id}", h.handleDelete)

	mux.HandleFunc("GET /api/characters/{id}/image", h.handleImage)
	mux.HandleFunc("GET /api/characters/{id}/thumbnail", h.handleThumbnail)
	mux.HandleFunc("GET /api/characters/{id}/export", h.handleExport)
}

func (h *CharactersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	chars, err := h.stores.Characters.List(r.Context())
	if err != nil {
		writeStoreError(w, "characters.list", err)
		return
	}
	if chars == nil {
		chars = []store.Character{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"characters": chars})
}

func (h *CharactersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string         `json:"name"`
		Data cards.CardData `json:"data"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.Name == "" {
		in.Name = in.Data.Name
	}
	if in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if in.Data.Name == "" {
		in.Data.Name = in.Name
	}
	if in.Data.Extensions == nil {
		in.Data.Extensions = map[string]any{}
	}

	char := &store.Character{Name: in.Name, Data: in.Data}
	if err := h.stores.Characters.Create(r.Context(), char); err != nil {
		writeStoreError(w, "characters.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, char)
}

// handleUpload accepts a character-card PNG, creates the character, stores
// the image with a thumbnail, and extracts an embedded character_book into
// a linked lorebook.
func (h *CharactersHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	png, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, err := cards.ParseCard(png)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid character card: "+err.Error())
		return
	}

	char := &store.Character{Name: card.Data.Name, Data: card.Data}
	if char.Data.Extensions == nil {
		char.Data.Extensions = map[string]any{}
	}

	if err := h.stores.Characters.Create(r.Context(), char); err != nil {
		writeStoreError(w, "characters.upload", err)
		return
	}

	thumb, err := cards.Thumbnail(png)
	if err != nil {
		slog.Warn("characters.thumbnail_failed", "id", char.ID, "error", err)
		thumb = nil
	}
	if err := h.stores.Characters.SetImage(r.Context(), char.ID, png, thumb); err != nil {
		writeStoreError(w, "characters.upload", err)
		return
	}

	if card.Data.HasCharacterBook() {
		if err := h.extractBook(r, char); err != nil {
			slog.Warn("characters.book_extract_failed", "id", char.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, char)
}

// extractBook saves the card's embedded lorebook and links it back through
// the character's extensions.
func (h *CharactersHandler) extractBook(r *http.Request, char *store.Character) error {
	lb, err := lorebook.FromCharacterBook(char.Data.CharacterBook, char.Name)
	if err != nil {
		return err
	}
	if err := h.stores.Lorebooks.Create(r.Context(), lb); err != nil {
		return err
	}
	char.Data.Extensions["ursceal_lorebook_id"] = lb.ID
	return h.stores.Characters.Update(r.Context(), char)
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	// Multipart with a "file" field, or the PNG as the raw body.
	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("multipart upload missing file field")
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil || len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return data, nil
}

func (h *CharactersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	char, err := h.stores.Characters.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "characters.get", err)
		return
	}
	writeJSON(w, http.StatusOK, char)
}

func (h *CharactersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	char, err := h.stores.Characters.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "characters.update", err)
		return
	}

	var in struct {
		Name *string         `json:"name"`
		Data *cards.CardData `json:"data"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.Name != nil {
		char.Name = *in.Name
	}
	if in.Data != nil {
		char.Data = *in.Data
		if char.Data.Extensions == nil {
			char.Data.Extensions = map[string]any{}
		}
	}

	if err := h.stores.Characters.Update(r.Context(), char); err != nil {
		writeStoreError(w, "characters.update", err)
		return
	}
	writeJSON(w, http.StatusOK, char)
}

func (h *CharactersHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := h.stores.Characters.Delete(r.Context(), r.PathValue("id"), force); err != nil {
		writeStoreError(w, "characters.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CharactersHandler) handleImage(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, h.stores.Characters.Image)
}

func (h *CharactersHandler) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveBlob(w, r, h.stores.Characters.Thumbnail)
}

func (h *CharactersHandler) serveBlob(w http.ResponseWriter, r *http.Request, load func(ctx context.Context, id string) ([]byte, error)) {
	data, err := load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "characters.blob", err)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusNotFound, "no image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleExport rebuilds a card PNG with the character's current data
// embedded, so edits made here travel with the file.
func (h *CharactersHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	char, err := h.stores.Characters.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, "characters.export", err)
		return
	}
	png, err := h.stores.Characters.Image(r.Context(), id)
	if err != nil {
		writeStoreError(w, "characters.export", err)
		return
	}

	card := cards.Card{Spec: cards.SpecV2, SpecVersion: "2.0", Data: char.Data}
	payload, err := json.Marshal(card)
	if err != nil {
		writeStoreError(w, "characters.export", err)
		return
	}
	out, err := cards.EmbedCardJSON(png, payload)
	if err != nil {
		writeStoreError(w, "characters.export", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="`+char.Name+`.png"`)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}
