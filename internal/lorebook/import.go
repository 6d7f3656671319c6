package lorebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/titanous/json5"

	"github.com/amiantos/ursceal/internal/store"
)

// ErrInvalidLorebook reports an import payload that is neither a world-info
// dict nor an internal-shape entry list.
var ErrInvalidLorebook = errors.New("invalid lorebook format")

// ParseImport decodes an uploaded lorebook document. Two shapes are accepted:
// the world-info format where entries is a dict keyed by index, and the
// internal export format where entries is a list. Input is parsed as JSON5
// so hand-edited files with comments or trailing commas still load.
func ParseImport(data []byte) (*store.Lorebook, error) {
	var doc map[string]any
	if err := json5.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLorebook, err)
	}

	switch entries := doc["entries"].(type) {
	case map[string]any:
		return fromWorldInfo(doc, entries)
	case []any:
		return fromInternal(doc)
	default:
		return nil, ErrInvalidLorebook
	}
}

// fromInternal round-trips the json5 document through encoding/json into the
// store shape, so field handling stays in one place.
func fromInternal(doc map[string]any) (*store.Lorebook, error) {
	buf, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLorebook, err)
	}
	var lb store.Lorebook
	if err := json.Unmarshal(buf, &lb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLorebook, err)
	}
	lb.ID = ""
	if lb.Extensions == nil {
		lb.Extensions = map[string]any{}
	}
	return &lb, nil
}

func fromWorldInfo(doc, entries map[string]any) (*store.Lorebook, error) {
	lb := &store.Lorebook{
		Name:        str(doc, "name"),
		Description: str(doc, "description"),
		Extensions:  map[string]any{},
	}
	if v, ok := intField(doc, "scan_depth"); ok {
		lb.ScanDepth = &v
	}
	if v, ok := intField(doc, "token_budget"); ok {
		lb.TokenBudget = &v
	}
	if b, ok := doc["recursive_scanning"].(bool); ok {
		lb.RecursiveScanning = b
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		raw, ok := entries[k].(map[string]any)
		if !ok {
			continue
		}
		lb.Entries = append(lb.Entries, mapWorldInfoEntry(raw))
	}
	return lb, nil
}

// mapWorldInfoEntry converts one world-info dict entry. Both the exported
// spelling (keys, enabled) and the native one (key, disable) are honored.
func mapWorldInfoEntry(raw map[string]any) store.LorebookEntry {
	e := store.LorebookEntry{
		Keys:           firstStrList(raw, "keys", "key"),
		SecondaryKeys:  firstStrList(raw, "secondaryKeys", "secondary_keys", "keysecondary"),
		Content:        str(raw, "content"),
		Comment:        str(raw, "comment"),
		Enabled:        true,
		Probability:    100,
		InsertionOrder: 100,
		Extensions:     map[string]any{},
	}
	if b, ok := raw["enabled"].(bool); ok {
		e.Enabled = b
	} else if b, ok := raw["disable"].(bool); ok {
		e.Enabled = !b
	}
	if v, ok := intField(raw, "order"); ok {
		e.InsertionOrder = v
	} else if v, ok := intField(raw, "insertionOrder"); ok {
		e.InsertionOrder = v
	}
	if v, ok := intField(raw, "position"); ok {
		e.Position = store.Position(v)
	}
	if v, ok := intField(raw, "selectiveLogic"); ok {
		e.SelectiveLogic = store.SelectiveLogic(v)
	}
	if v, ok := intField(raw, "probability"); ok {
		e.Probability = v
	}
	if v, ok := intField(raw, "depth"); ok {
		e.Depth = v
	}
	if v, ok := intField(raw, "scanDepth"); ok {
		e.ScanDepth = &v
	}
	if v, ok := intField(raw, "displayIndex"); ok {
		e.DisplayIndex = v
	} else if v, ok := intField(raw, "uid"); ok {
		e.DisplayIndex = v
	}
	e.Constant, _ = raw["constant"].(bool)
	e.Selective, _ = raw["selective"].(bool)
	e.UseProbability, _ = raw["useProbability"].(bool)
	e.CaseSensitive, _ = raw["caseSensitive"].(bool)
	e.MatchWholeWords, _ = raw["matchWholeWords"].(bool)
	e.UseRegex, _ = raw["useRegex"].(bool)
	e.Group = str(raw, "group")
	e.PreventRecursion, _ = raw["preventRecursion"].(bool)
	e.DelayUntilRecursion, _ = raw["delayUntilRecursion"].(bool)
	return e
}

// FromCharacterBook converts an embedded V2 character_book into a lorebook
// named after its character. Entries use the card-spec field names
// (secondary_keys, insertion_order, case_sensitive) with position given as
// a string, plus optional overrides tucked into extensions.
func FromCharacterBook(raw json.RawMessage, characterName string) (*store.Lorebook, error) {
	var book struct {
		Name              string `json:"name"`
		Description       string `json:"description"`
		ScanDepth         *int   `json:"scan_depth"`
		TokenBudget       *int   `json:"token_budget"`
		RecursiveScanning bool   `json:"recursive_scanning"`
		Entries           []struct {
			Keys           []string       `json:"keys"`
			SecondaryKeys  []string       `json:"secondary_keys"`
			Content        string         `json:"content"`
			Name           string         `json:"name"`
			Comment        string         `json:"comment"`
			Enabled        *bool          `json:"enabled"`
			Constant       bool           `json:"constant"`
			Selective      bool           `json:"selective"`
			InsertionOrder int            `json:"insertion_order"`
			CaseSensitive  bool           `json:"case_sensitive"`
			Position       string         `json:"position"`
			ID             int            `json:"id"`
			Extensions     map[string]any `json:"extensions"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLorebook, err)
	}

	lb := &store.Lorebook{
		Name:              book.Name,
		Description:       book.Description,
		ScanDepth:         book.ScanDepth,
		TokenBudget:       book.TokenBudget,
		RecursiveScanning: book.RecursiveScanning,
		Extensions:        map[string]any{},
	}
	if lb.Name == "" {
		lb.Name = characterName + "'s Lorebook"
	}

	for _, be := range book.Entries {
		e := store.LorebookEntry{
			Keys:           be.Keys,
			SecondaryKeys:  be.SecondaryKeys,
			Content:        be.Content,
			Comment:        be.Comment,
			Enabled:        true,
			Constant:       be.Constant,
			Selective:      be.Selective,
			InsertionOrder: be.InsertionOrder,
			CaseSensitive:  be.CaseSensitive,
			Probability:    100,
			DisplayIndex:   be.ID,
			Extensions:     be.Extensions,
		}
		if e.Comment == "" {
			e.Comment = be.Name
		}
		if be.Enabled != nil {
			e.Enabled = *be.Enabled
		}
		if be.Position == "after_char" {
			e.Position = store.PosAfterChar
		}
		if e.Extensions == nil {
			e.Extensions = map[string]any{}
		}
		if v, ok := intField(e.Extensions, "position"); ok {
			e.Position = store.Position(v)
		}
		if v, ok := intField(e.Extensions, "probability"); ok {
			e.Probability = v
		}
		if b, ok := e.Extensions["useProbability"].(bool); ok {
			e.UseProbability = b
		}
		if v, ok := intField(e.Extensions, "depth"); ok {
			e.Depth = v
		}
		lb.Entries = append(lb.Entries, e)
	}
	return lb, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func firstStrList(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		list, ok := m[key].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
