package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropic_TemperatureClamp(t *testing.T) {
	p := NewAnthropic("key", "", "claude-sonnet-4-20250514")

	body := p.buildRequestBody(Request{Temperature: 1.7, MaxTokens: 100}, false)
	if got := body["temperature"].(float64); got != 1.0 {
		t.Errorf("temperature = %v, want 1.0", got)
	}

	body = p.buildRequestBody(Request{Temperature: 0.8, MaxTokens: 100}, false)
	if got := body["temperature"].(float64); got != 0.8 {
		t.Errorf("temperature = %v, want 0.8", got)
	}
}

func TestAnthropic_Generate(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewDecoder(r.Body).Decode(&gotBody)
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-sonnet-4-20250514",
			"content": []map[string]any{
				{"type": "text", "text": "It was "},
				{"type": "thinking", "thinking": "hmm"},
				{"type": "text", "text": "a dark night."},
			},
		})
	}))
	defer srv.Close()

	p := NewAnthropic("secret", srv.URL, "claude-sonnet-4-20250514")
	resp, err := p.Generate(context.Background(), Request{
		SystemPrompt: "sys", UserPrompt: "user", MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Only text blocks are concatenated.
	if resp.Content != "It was a dark night." {
		t.Errorf("content = %q", resp.Content)
	}
	if gotKey != "secret" || gotVersion == "" {
		t.Errorf("headers: x-api-key=%q anthropic-version=%q", gotKey, gotVersion)
	}
	if gotBody["system"] != "sys" {
		t.Errorf("system = %v", gotBody["system"])
	}
}

func TestAnthropic_GenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"event: content_block_delta\n" +
				`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Once "}}` + "\n\n" +
				"event: content_block_delta\n" +
				`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{}"}}` + "\n\n" +
				"event: content_block_delta\n" +
				`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"upon."}}` + "\n\n" +
				"event: message_stop\n" +
				`data: {"type":"message_stop"}` + "\n\n"))
	}))
	defer srv.Close()

	p := NewAnthropic("key", srv.URL, "claude-sonnet-4-20250514")
	var chunks []Chunk
	err := p.GenerateStream(context.Background(), Request{}, func(c Chunk) {
		chunks = append(chunks, c)
	})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	want := []Chunk{{Content: "Once "}, {Content: "upon."}, {Finished: true}}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks: %+v", len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, chunks[i], want[i])
		}
	}
}

func TestAnthropic_OverloadedClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	p := NewAnthropic("key", srv.URL, "claude-sonnet-4-20250514")
	_, err := p.Generate(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindOverloaded {
		t.Errorf("kind = %s, want %s", KindOf(err), KindOverloaded)
	}
}
