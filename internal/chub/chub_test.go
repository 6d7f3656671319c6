package chub

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCharacterPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://chub.ai/characters/author/some-card", "author/some-card", true},
		{"https://www.chub.ai/characters/author/some-card/", "author/some-card", true},
		{"https://api.chub.ai/api/characters/author/some-card", "author/some-card", true},
		{"https://chub.ai/lorebooks/author/thing", "", false},
		{"https://example.com/characters/x", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := CharacterPath(tt.url)
		if tt.ok {
			if err != nil {
				t.Errorf("CharacterPath(%q) err = %v", tt.url, err)
				continue
			}
			if got != tt.want {
				t.Errorf("CharacterPath(%q) = %q, want %q", tt.url, got, tt.want)
			}
		} else if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("CharacterPath(%q) err = %v, want ErrInvalidURL", tt.url, err)
		}
	}
}

// cardPNG builds a minimal PNG carrying the given card JSON in a chara
// tEXt chunk. CRCs are zeroed; the parser ignores them.
func cardPNG(cardJSON string) []byte {
	sig := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	chunk := func(ctype string, data []byte) []byte {
		var out []byte
		out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
		out = append(out, ctype...)
		out = append(out, data...)
		return binary.BigEndian.AppendUint32(out, 0)
	}
	payload := append([]byte("chara"), 0)
	payload = append(payload, base64.StdEncoding.EncodeToString([]byte(cardJSON))...)

	out := append([]byte{}, sig...)
	out = append(out, chunk("IHDR", make([]byte, 13))...)
	out = append(out, chunk("tEXt", payload)...)
	return append(out, chunk("IEND", nil)...)
}

func TestImport(t *testing.T) {
	png := cardPNG(`{"spec":"chara_card_v2","spec_version":"2.0","data":{"name":"Rhea","description":"a courier"}}`)

	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/characters/author/rhea":
			gotUA = r.Header.Get("User-Agent")
			gotReferer = r.Header.Get("Referer")
			fmt.Fprintf(w, `{"node":{"max_res_url":%q}}`, "http://"+r.Host+"/card.png")
		case "/card.png":
			w.Write(png)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	imp := NewImporter().WithAPIBase(srv.URL + "/api/characters/")
	card, raw, err := imp.Import(context.Background(), "https://chub.ai/characters/author/rhea")
	if err != nil {
		t.Fatal(err)
	}
	if card.Data.Name != "Rhea" {
		t.Errorf("name = %q, want Rhea", card.Data.Name)
	}
	if len(raw) != len(png) {
		t.Errorf("raw PNG length = %d, want %d", len(raw), len(png))
	}
	if gotUA == "" || gotReferer != "https://chub.ai/" {
		t.Errorf("browser headers not sent: ua=%q referer=%q", gotUA, gotReferer)
	}
}

func TestImport_FullPathFallback(t *testing.T) {
	// full_path is a bare archive path; the importer must build the avatar
	// URL itself. Point the whole flow at the test server by serving the
	// metadata with an absolute fallback instead.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/characters/a/b" {
			// fullPath camelCase spelling, absolute URL wins over nothing else
			fmt.Fprintf(w, `{"node":{"fullPath":%q}}`, "http://"+r.Host+"/v2.png")
			return
		}
		w.Write(cardPNG(`{"name":"V1 Card","description":"legacy"}`))
	}))
	defer srv.Close()

	imp := NewImporter().WithAPIBase(srv.URL + "/api/characters/")
	card, _, err := imp.Import(context.Background(), "https://chub.ai/characters/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if card.Data.Name != "V1 Card" {
		t.Errorf("name = %q", card.Data.Name)
	}
}

func TestImport_InvalidURL(t *testing.T) {
	imp := NewImporter()
	if _, _, err := imp.Import(context.Background(), "https://example.com/nope"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("err = %v, want ErrInvalidURL", err)
	}
}

func TestImport_MetadataWithoutImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"node":{}}`)
	}))
	defer srv.Close()

	imp := NewImporter().WithAPIBase(srv.URL + "/api/characters/")
	if _, _, err := imp.Import(context.Background(), "https://chub.ai/characters/a/b"); err == nil {
		t.Error("expected error for metadata without image URL")
	}
}

func TestImport_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	imp := NewImporter().WithAPIBase(srv.URL + "/api/characters/")
	if _, _, err := imp.Import(context.Background(), "https://chub.ai/characters/a/b"); err == nil {
		t.Error("expected error for upstream 404")
	}
}
