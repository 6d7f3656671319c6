package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/amiantos/ursceal/internal/cards"
	"github.com/amiantos/ursceal/internal/chub"
	"github.com/amiantos/ursceal/internal/store"
)

// CardImporter fetches a remote character card by URL.
type CardImporter interface {
	Import(ctx context.Context, url string) (*cards.Card, []byte, error)
}

// ChubHandler imports characters from chub.ai links.
type ChubHandler struct {
	stores   *store.Stores
	importer CardImporter
}

func NewChubHandler(stores *store.Stores, importer CardImporter) *ChubHandler {
	return &ChubHandler{stores: stores, importer: importer}
}

func (h *ChubHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/characters/import-chub", h.handleImport)
}

// handleImport downloads the card and then follows the same path as a
// direct PNG upload: create, store image, extract any embedded lorebook.
func (h *ChubHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	var in struct {
		URL string `json:"url"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	if in.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	card, png, err := h.importer.Import(r.Context(), in.URL)
	if err != nil {
		if errors.Is(err, chub.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	char := &store.Character{Name: card.Data.Name, Data: card.Data}
	if char.Data.Extensions == nil {
		char.Data.Extensions = map[string]any{}
	}
	if err := h.stores.Characters.Create(r.Context(), char); err != nil {
		writeStoreError(w, "chub.import", err)
		return
	}

	thumb, err := cards.Thumbnail(png)
	if err != nil {
		slog.Warn("chub.thumbnail_failed", "id", char.ID, "error", err)
		thumb = nil
	}
	if err := h.stores.Characters.SetImage(r.Context(), char.ID, png, thumb); err != nil {
		writeStoreError(w, "chub.import", err)
		return
	}

	if card.Data.HasCharacterBook() {
		ch := CharactersHandler{stores: h.stores}
		if err := ch.extractBook(r, char); err != nil {
			slog.Warn("chub.book_extract_failed", "id", char.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, char)
}
