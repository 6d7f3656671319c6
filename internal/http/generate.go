package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/amiantos/ursceal/internal/engine"
	"github.com/amiantos/ursceal/internal/providers"
	"github.com/amiantos/ursceal/internal/store"
)

// Generator is the engine surface the generate endpoint needs.
type Generator interface {
	Prepare(ctx context.Context, req engine.GenerateRequest) (*engine.Generation, error)
	Stream(ctx context.Context, gen *engine.Generation, onChunk func(providers.Chunk)) error
}

// GenerateHandler bridges the generation engine to SSE responses.
type GenerateHandler struct {
	engine Generator
}

func NewGenerateHandler(e Generator) *GenerateHandler {
	return &GenerateHandler{engine: e}
}

func (h *GenerateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/generate", h.handleGenerate)

	// Named endpoints kept for older clients; all delegate to the same flow.
	mux.HandleFunc("POST /api/stories/{id}/continue", h.handleContinue)
	mux.HandleFunc("POST /api/stories/{id}/continue-with-instruction", h.handleContinueWithInstruction)
	mux.HandleFunc("POST /api/stories/{id}/rewrite-third-person", h.handleRewrite)
}

func (h *GenerateHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req engine.GenerateRequest
	if !readJSON(w, r, &req) {
		return
	}
	h.serve(w, r, req)
}

func (h *GenerateHandler) handleContinue(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CharacterID string `json:"characterId"`
	}
	// An empty body is fine for plain continues.
	json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in)

	req := engine.GenerateRequest{StoryID: r.PathValue("id"), Type: "continue"}
	if in.CharacterID != "" {
		req.Type = "character"
		req.CharacterID = in.CharacterID
	}
	h.serve(w, r, req)
}

func (h *GenerateHandler) handleContinueWithInstruction(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Instruction string `json:"instruction"`
	}
	if !readJSON(w, r, &in) {
		return
	}
	h.serve(w, r, engine.GenerateRequest{
		StoryID:      r.PathValue("id"),
		Type:         "custom",
		CustomPrompt: in.Instruction,
	})
}

func (h *GenerateHandler) handleRewrite(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, engine.GenerateRequest{
		StoryID: r.PathValue("id"),
		Type:    "rewrite-third-person",
	})
}

// streamRecord is the wire shape of one SSE data payload. Field order
// matters to clients that diff raw frames, so it is fixed here.
type streamRecord struct {
	Reasoning *string `json:"reasoning"`
	Content   *string `json:"content"`
	Finished  bool    `json:"finished"`
}

// serve prepares the generation (failures here are plain HTTP errors) and
// then streams; once the SSE headers are out, errors become in-stream
// records because the status line is already committed.
func (h *GenerateHandler) serve(w http.ResponseWriter, r *http.Request, req engine.GenerateRequest) {
	gen, err := h.engine.Prepare(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, store.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, engine.ErrInvalidType),
			errors.Is(err, engine.ErrEmptyInstruction),
			errors.Is(err, engine.ErrNoPreset):
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Headers must all be set before the first body write. no-transform
	// and X-Accel-Buffering keep proxies from buffering the stream.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeRecord := func(rec streamRecord) {
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	err = h.engine.Stream(r.Context(), gen, func(c providers.Chunk) {
		rec := streamRecord{Finished: c.Finished}
		if c.Reasoning != "" {
			rec.Reasoning = &c.Reasoning
		}
		if c.Content != "" {
			rec.Content = &c.Content
		}
		writeRecord(rec)
	})
	if err != nil {
		slog.Error("generate.stream", "story_id", req.StoryID, "error", err)
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		flusher.Flush()
		return
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
