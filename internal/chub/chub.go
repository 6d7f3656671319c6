// Package chub fetches character cards from the CHUB archive and parses
// them into the V2 card shape.
package chub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/amiantos/ursceal/internal/cards"
)

// ErrInvalidURL reports a URL that is not a CHUB character link.
var ErrInvalidURL = errors.New("chub: not a chub.ai character URL")

const (
	defaultAPIBase = "https://api.chub.ai/api/characters/"

	// The archive rejects non-browser clients.
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	referer   = "https://chub.ai/"
)

var pathRes = []*regexp.Regexp{
	regexp.MustCompile(`api\.chub\.ai/api/characters/(.+)`),
	regexp.MustCompile(`chub\.ai/characters/(.+)`),
}

// Importer downloads cards from the CHUB API.
type Importer struct {
	apiBase string
	client  *http.Client
}

func NewImporter() *Importer {
	return &Importer{
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// WithAPIBase points the importer at a different API root, mainly for tests.
func (i *Importer) WithAPIBase(base string) *Importer {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	i.apiBase = base
	return i
}

// CharacterPath extracts the character path from a chub.ai URL.
func CharacterPath(url string) (string, error) {
	for _, re := range pathRes {
		if m := re.FindStringSubmatch(url); m != nil {
			return strings.TrimSuffix(m[1], "/"), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidURL, url)
}

type chubNode struct {
	Node struct {
		FullPathSnake string `json:"full_path"`
		FullPathCamel string `json:"fullPath"`
		MaxResURL     string `json:"max_res_url"`
		AvatarURL     string `json:"avatar_url"`
	} `json:"node"`
}

// Import resolves url to a card PNG, downloads it, and parses the card.
// The raw PNG is returned alongside so callers can keep it as the
// character image.
func (i *Importer) Import(ctx context.Context, url string) (*cards.Card, []byte, error) {
	path, err := CharacterPath(url)
	if err != nil {
		return nil, nil, err
	}

	meta, err := i.get(ctx, i.apiBase+path)
	if err != nil {
		return nil, nil, fmt.Errorf("chub: fetch metadata: %w", err)
	}

	var node chubNode
	if err := json.Unmarshal(meta, &node); err != nil {
		return nil, nil, fmt.Errorf("chub: parse metadata: %w", err)
	}

	imageURL := firstNonEmpty(
		node.Node.FullPathSnake,
		node.Node.FullPathCamel,
		node.Node.MaxResURL,
		node.Node.AvatarURL,
	)
	if imageURL == "" {
		return nil, nil, errors.New("chub: metadata carries no card image")
	}
	// full_path is a bare archive path, not a URL.
	if !strings.Contains(imageURL, "://") {
		imageURL = "https://avatars.charhub.io/avatars/" + imageURL + "/chara_card_v2.png"
	}

	png, err := i.get(ctx, imageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chub: download card: %w", err)
	}

	card, err := cards.ParseCard(png)
	if err != nil {
		return nil, nil, fmt.Errorf("chub: %w", err)
	}
	return card, png, nil
}

func (i *Importer) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
