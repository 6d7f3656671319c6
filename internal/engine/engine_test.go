package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amiantos/ursceal/internal/cards"
	"github.com/amiantos/ursceal/internal/providers"
	"github.com/amiantos/ursceal/internal/store"
	"github.com/amiantos/ursceal/internal/store/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, *store.Stores) {
	t.Helper()
	db, err := sqlite.Open("file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlite.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	stores := sqlite.NewStoresFromDB(db)
	return New(stores, slog.New(slog.NewTextHandler(io.Discard, nil))), stores
}

func seedStoryWithPreset(t *testing.T, stores *store.Stores, baseURL string) *store.Story {
	t.Helper()
	ctx := context.Background()

	preset := &store.Preset{
		Name:     "test",
		Provider: store.ProviderOpenAI,
		APIConfig: store.APIConfig{
			APIKey:  "key",
			BaseURL: baseURL,
			Model:   "gpt-4o",
		},
		GenerationSettings: store.GenerationSettings{
			MaxTokens:        200,
			MaxContextTokens: 8000,
			Temperature:      0.9,
		},
		IsDefault: true,
	}
	if err := stores.Presets.Create(ctx, preset); err != nil {
		t.Fatalf("create preset: %v", err)
	}

	settings, err := stores.Settings.Get(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	settings.DefaultPresetID = &preset.ID
	if err := stores.Settings.Update(ctx, settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	story := &store.Story{Title: "T", Content: "The road wound north."}
	if err := stores.Stories.Create(ctx, story); err != nil {
		t.Fatalf("create story: %v", err)
	}
	if err := stores.History.SaveToHistory(ctx, story.ID, story.Content); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	return story
}

func TestPrepare_Validation(t *testing.T) {
	e, stores := newTestEngine(t)
	ctx := context.Background()

	story := seedStoryWithPreset(t, stores, "http://unused")

	if _, err := e.Prepare(ctx, GenerateRequest{StoryID: story.ID, Type: "poetry"}); !errors.Is(err, ErrInvalidType) {
		t.Errorf("unknown type err = %v, want ErrInvalidType", err)
	}
	if _, err := e.Prepare(ctx, GenerateRequest{StoryID: story.ID, Type: "custom"}); !errors.Is(err, ErrEmptyInstruction) {
		t.Errorf("empty custom err = %v, want ErrEmptyInstruction", err)
	}
	if _, err := e.Prepare(ctx, GenerateRequest{StoryID: "missing", Type: "continue"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing story err = %v, want ErrNotFound", err)
	}
}

func TestPrepare_NoPreset(t *testing.T) {
	e, stores := newTestEngine(t)
	ctx := context.Background()

	story := &store.Story{Title: "T"}
	if err := stores.Stories.Create(ctx, story); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Prepare(ctx, GenerateRequest{StoryID: story.ID, Type: "continue"}); !errors.Is(err, ErrNoPreset) {
		t.Errorf("err = %v, want ErrNoPreset", err)
	}
}

func TestPrepare_BuildsPromptsAndSnapshot(t *testing.T) {
	e, stores := newTestEngine(t)
	ctx := context.Background()

	story := seedStoryWithPreset(t, stores, "http://unused")

	char := &store.Character{
		Name: "Rhea",
		Data: cards.CardData{
			Name:        "Rhea",
			Description: "A wandering knight",
			Personality: "Stoic",
			FirstMes:    "hello",
			Extensions:  map[string]any{},
		},
	}
	if err := stores.Characters.Create(ctx, char); err != nil {
		t.Fatalf("create character: %v", err)
	}
	if err := stores.Stories.AddCharacter(ctx, story.ID, char.ID); err != nil {
		t.Fatalf("add character: %v", err)
	}

	lb := &store.Lorebook{
		Name: "World",
		Entries: []store.LorebookEntry{{
			Keys:           []string{"road"},
			Content:        "The north road is haunted",
			Enabled:        true,
			Probability:    100,
			InsertionOrder: 100,
		}},
	}
	if err := stores.Lorebooks.Create(ctx, lb); err != nil {
		t.Fatalf("create lorebook: %v", err)
	}
	if err := stores.Stories.AttachLorebook(ctx, story.ID, lb.ID); err != nil {
		t.Fatalf("attach lorebook: %v", err)
	}

	gen, err := e.Prepare(ctx, GenerateRequest{StoryID: story.ID, Type: "continue"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if gen.Provider.Name() != "openai" {
		t.Errorf("provider = %s", gen.Provider.Name())
	}
	if !strings.Contains(gen.Request.SystemPrompt, "Rhea") {
		t.Error("system prompt missing character")
	}
	if !strings.Contains(gen.Request.SystemPrompt, "The north road is haunted") {
		t.Error("system prompt missing activated lorebook entry")
	}
	if !strings.Contains(gen.Request.UserPrompt, "The road wound north.") {
		t.Error("user prompt missing story content")
	}
	if gen.Request.MaxTokens != 200 || gen.Request.Temperature != 0.9 {
		t.Errorf("sampling settings not forwarded: %+v", gen.Request)
	}

	status, err := stores.History.Status(ctx, story.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status.CanRedo {
		t.Error("snapshot should leave cursor at the latest entry")
	}
}

func TestStream_ForwardsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			`data: {"choices":[{"delta":{"content":"Once "}}]}` + "\n\n" +
				`data: {"choices":[{"delta":{"content":"more."},"finish_reason":"stop"}]}` + "\n\n" +
				"data: [DONE]\n\n"))
	}))
	defer srv.Close()

	e, stores := newTestEngine(t)
	ctx := context.Background()
	story := seedStoryWithPreset(t, stores, srv.URL)

	gen, err := e.Prepare(ctx, GenerateRequest{StoryID: story.ID, Type: "continue"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	var got []providers.Chunk
	if err := e.Stream(ctx, gen, func(c providers.Chunk) { got = append(got, c) }); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text strings.Builder
	for _, c := range got {
		text.WriteString(c.Content)
	}
	if text.String() != "Once more." {
		t.Errorf("streamed content = %q", text.String())
	}
	if !got[len(got)-1].Finished {
		t.Error("last chunk not marked finished")
	}
}
