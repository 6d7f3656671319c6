package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amiantos/ursceal/internal/engine"
	"github.com/amiantos/ursceal/internal/providers"
	"github.com/amiantos/ursceal/internal/store"
)

type fakeEngine struct {
	prepareErr error
	chunks     []providers.Chunk
	streamErr  error
	gotReq     engine.GenerateRequest
}

func (f *fakeEngine) Prepare(ctx context.Context, req engine.GenerateRequest) (*engine.Generation, error) {
	f.gotReq = req
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &engine.Generation{StoryID: req.StoryID}, nil
}

func (f *fakeEngine) Stream(ctx context.Context, gen *engine.Generation, onChunk func(providers.Chunk)) error {
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.streamErr
}

func generateMux(e Generator) *http.ServeMux {
	mux := http.NewServeMux()
	NewGenerateHandler(e).RegisterRoutes(mux)
	return mux
}

func TestGenerate_StreamBody(t *testing.T) {
	eng := &fakeEngine{chunks: []providers.Chunk{
		{Content: "Once "},
		{Content: "upon a time.", Finished: true},
	}}
	mux := generateMux(eng)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/generate", strings.NewReader(`{"storyId":"s1","type":"continue"}`))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache, no-transform" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if ab := rec.Header().Get("X-Accel-Buffering"); ab != "no" {
		t.Errorf("X-Accel-Buffering = %q", ab)
	}

	want := "data: {\"reasoning\":null,\"content\":\"Once \",\"finished\":false}\n\n" +
		"data: {\"reasoning\":null,\"content\":\"upon a time.\",\"finished\":true}\n\n" +
		"data: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body =\n%q\nwant\n%q", got, want)
	}
}

func TestGenerate_ReasoningChunk(t *testing.T) {
	eng := &fakeEngine{chunks: []providers.Chunk{
		{Reasoning: "thinking"},
		{Content: "done", Finished: true},
	}}
	mux := generateMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/generate", strings.NewReader(`{"storyId":"s1","type":"continue"}`)))

	first := strings.SplitN(rec.Body.String(), "\n\n", 2)[0]
	if first != `data: {"reasoning":"thinking","content":null,"finished":false}` {
		t.Errorf("first record = %q", first)
	}
}

func TestGenerate_StreamErrorRecord(t *testing.T) {
	eng := &fakeEngine{
		chunks:    []providers.Chunk{{Content: "partial "}},
		streamErr: &providers.Error{Kind: providers.KindRateLimit, Provider: "openai", Message: "slow down"},
	}
	mux := generateMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/generate", strings.NewReader(`{"storyId":"s1","type":"continue"}`)))

	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(body, `"content":"partial "`) {
		t.Errorf("partial chunk missing: %q", body)
	}
	records := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	last := records[len(records)-1]
	if !strings.HasPrefix(last, `data: {"error":`) {
		t.Errorf("last record = %q, want error record", last)
	}
	if strings.Contains(body, "[DONE]") {
		t.Error("[DONE] must not follow a stream error")
	}
}

func TestGenerate_PrepareErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid type", engine.ErrInvalidType, http.StatusBadRequest},
		{"empty instruction", engine.ErrEmptyInstruction, http.StatusBadRequest},
		{"no preset", engine.ErrNoPreset, http.StatusBadRequest},
		{"missing story", store.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := generateMux(&fakeEngine{prepareErr: tt.err})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/generate", strings.NewReader(`{"storyId":"s1","type":"continue"}`)))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want plain JSON error", ct)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestGenerate_ContinueAlias(t *testing.T) {
	eng := &fakeEngine{chunks: []providers.Chunk{{Content: "x", Finished: true}}}
	mux := generateMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/stories/s7/continue", nil))
	if eng.gotReq.StoryID != "s7" || eng.gotReq.Type != "continue" {
		t.Errorf("req = %+v", eng.gotReq)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/stories/s7/continue", strings.NewReader(`{"characterId":"c3"}`)))
	if eng.gotReq.Type != "character" || eng.gotReq.CharacterID != "c3" {
		t.Errorf("req = %+v", eng.gotReq)
	}
}

func TestGenerate_InstructionAndRewriteAliases(t *testing.T) {
	eng := &fakeEngine{chunks: []providers.Chunk{{Content: "x", Finished: true}}}
	mux := generateMux(eng)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/stories/s7/continue-with-instruction", strings.NewReader(`{"instruction":"Add rain."}`)))
	if eng.gotReq.Type != "custom" || eng.gotReq.CustomPrompt != "Add rain." {
		t.Errorf("req = %+v", eng.gotReq)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/stories/s7/rewrite-third-person", nil))
	if eng.gotReq.Type != "rewrite-third-person" {
		t.Errorf("req = %+v", eng.gotReq)
	}
}
