package lorebook

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/amiantos/ursceal/internal/store"
)

func TestParseImport_WorldInfoDict(t *testing.T) {
	data := []byte(`{
		"name": "Fantasy World",
		"entries": {
			"0": {"uid": 0, "key": ["dragon"], "keysecondary": [], "content": "Dragons breathe fire",
			      "comment": "dragons", "disable": false, "order": 100, "position": 1,
			      "selective": true, "selectiveLogic": 2, "probability": 80, "useProbability": true},
			"1": {"uid": 1, "key": ["elf"], "content": "Elves live long", "disable": true}
		}
	}`)

	lb, err := ParseImport(data)
	if err != nil {
		t.Fatalf("ParseImport: %v", err)
	}
	if lb.Name != "Fantasy World" {
		t.Errorf("name = %q", lb.Name)
	}
	if len(lb.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(lb.Entries))
	}

	first := lb.Entries[0]
	if first.Keys[0] != "dragon" || first.Content != "Dragons breathe fire" {
		t.Errorf("first entry mapped wrong: %+v", first)
	}
	if !first.Enabled || first.InsertionOrder != 100 || first.Position != store.PosAfterChar {
		t.Errorf("first entry flags wrong: %+v", first)
	}
	if first.SelectiveLogic != store.LogicNotAny || first.Probability != 80 || !first.UseProbability {
		t.Errorf("first entry logic wrong: %+v", first)
	}
	if lb.Entries[1].Enabled {
		t.Error("disable:true entry imported as enabled")
	}
}

func TestParseImport_InternalList(t *testing.T) {
	data := []byte(`{
		"name": "Exported",
		"description": "round trip",
		"entries": [
			{"keys": ["wyrm"], "secondaryKeys": ["dragon"], "content": "Wyrms",
			 "enabled": true, "selective": true, "selectiveLogic": 0, "insertionOrder": 50}
		]
	}`)

	lb, err := ParseImport(data)
	if err != nil {
		t.Fatalf("ParseImport: %v", err)
	}
	if len(lb.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(lb.Entries))
	}
	e := lb.Entries[0]
	if e.Keys[0] != "wyrm" || e.SecondaryKeys[0] != "dragon" || !e.Selective || e.InsertionOrder != 50 {
		t.Errorf("entry mapped wrong: %+v", e)
	}
}

func TestParseImport_JSON5Tolerance(t *testing.T) {
	data := []byte(`{
		// hand-edited file
		name: "Commented",
		entries: [
			{keys: ["dragon"], content: "ok", enabled: true,},
		],
	}`)
	lb, err := ParseImport(data)
	if err != nil {
		t.Fatalf("ParseImport: %v", err)
	}
	if lb.Name != "Commented" || len(lb.Entries) != 1 {
		t.Errorf("json5 input mapped wrong: %+v", lb)
	}
}

func TestParseImport_Invalid(t *testing.T) {
	for _, data := range []string{
		`{"name": "no entries"}`,
		`{"entries": "nope"}`,
		`[1, 2, 3]`,
		`not json at all`,
	} {
		if _, err := ParseImport([]byte(data)); !errors.Is(err, ErrInvalidLorebook) {
			t.Errorf("ParseImport(%q) err = %v, want ErrInvalidLorebook", data, err)
		}
	}
}

func TestFromCharacterBook(t *testing.T) {
	raw := json.RawMessage(`{
		"entries": [
			{"keys": ["home"], "content": "The manor", "insertion_order": 10,
			 "position": "after_char", "enabled": true, "name": "manor",
			 "extensions": {"probability": 60, "useProbability": true, "depth": 3}},
			{"keys": ["off"], "content": "disabled", "enabled": false}
		]
	}`)

	lb, err := FromCharacterBook(raw, "Rhea")
	if err != nil {
		t.Fatalf("FromCharacterBook: %v", err)
	}
	if lb.Name != "Rhea's Lorebook" {
		t.Errorf("name = %q", lb.Name)
	}
	if len(lb.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(lb.Entries))
	}

	e := lb.Entries[0]
	if e.Position != store.PosAfterChar || e.InsertionOrder != 10 || e.Comment != "manor" {
		t.Errorf("entry mapped wrong: %+v", e)
	}
	if e.Probability != 60 || !e.UseProbability || e.Depth != 3 {
		t.Errorf("extensions overrides not applied: %+v", e)
	}
	if lb.Entries[1].Enabled {
		t.Error("enabled:false entry imported as enabled")
	}
}

func TestFromCharacterBook_NamedBookKeepsName(t *testing.T) {
	raw := json.RawMessage(`{"name": "The Compendium", "entries": []}`)
	lb, err := FromCharacterBook(raw, "Rhea")
	if err != nil {
		t.Fatalf("FromCharacterBook: %v", err)
	}
	if lb.Name != "The Compendium" {
		t.Errorf("name = %q, want the book's own name", lb.Name)
	}
}
