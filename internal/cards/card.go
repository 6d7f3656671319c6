package cards

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SpecV2 is the spec tag carried by V2 character cards.
const SpecV2 = "chara_card_v2"

// ErrInvalidCard is returned when embedded card JSON is neither a
// recognizable V1 nor V2 shape.
var ErrInvalidCard = errors.New("cards: invalid character card")

// Card is a normalized V2 character card.
type Card struct {
	Spec        string   `json:"spec"`
	SpecVersion string   `json:"spec_version"`
	Data        CardData `json:"data"`
}

// CardData is the V2 payload. Extensions round-trip untouched; the engine
// reads at most extensions["ursceal_lorebook_id"]. CharacterBook is kept
// raw so the lorebook importer can accept any of the book shapes.
type CardData struct {
	Name                    string          `json:"name"`
	Description             string          `json:"description"`
	Personality             string          `json:"personality"`
	Scenario                string          `json:"scenario"`
	FirstMes                string          `json:"first_mes"`
	MesExample              string          `json:"mes_example"`
	CreatorNotes            string          `json:"creator_notes,omitempty"`
	SystemPrompt            string          `json:"system_prompt,omitempty"`
	PostHistoryInstructions string          `json:"post_history_instructions,omitempty"`
	AlternateGreetings      []string        `json:"alternate_greetings"`
	Tags                    []string        `json:"tags,omitempty"`
	Creator                 string          `json:"creator,omitempty"`
	CharacterVersion        string          `json:"character_version,omitempty"`
	Extensions              map[string]any  `json:"extensions"`
	CharacterBook           json.RawMessage `json:"character_book"`
}

// HasCharacterBook reports whether the card embeds a non-empty lorebook.
func (d *CardData) HasCharacterBook() bool {
	s := string(d.CharacterBook)
	return s != "" && s != "null" && s != "{}"
}

// ParseCard extracts and normalizes a character card from PNG bytes.
func ParseCard(png []byte) (*Card, error) {
	raw, err := ExtractCardJSON(png)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode normalizes raw card JSON. A V2 card (spec == "chara_card_v2" with a
// nested data object) passes through; anything else with a recognizable name
// field is treated as V1 and wrapped.
func Decode(raw []byte) (*Card, error) {
	var probe struct {
		Spec string          `json:"spec"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}

	if probe.Spec == SpecV2 && len(probe.Data) > 0 && string(probe.Data) != "null" {
		var card Card
		if err := json.Unmarshal(raw, &card); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
		}
		if card.Data.Extensions == nil {
			card.Data.Extensions = map[string]any{}
		}
		if card.Data.AlternateGreetings == nil {
			card.Data.AlternateGreetings = []string{}
		}
		return &card, nil
	}

	// V1: flat object with the classic fields at top level.
	var v1 CardData
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	if v1.Name == "" && v1.Description == "" && v1.FirstMes == "" {
		return nil, ErrInvalidCard
	}
	return &Card{
		Spec:        SpecV2,
		SpecVersion: "2.0",
		Data: CardData{
			Name:               v1.Name,
			Description:        v1.Description,
			Personality:        v1.Personality,
			Scenario:           v1.Scenario,
			FirstMes:           v1.FirstMes,
			MesExample:         v1.MesExample,
			AlternateGreetings: []string{},
			Extensions:         map[string]any{},
		},
	}, nil
}
