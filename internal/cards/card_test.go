package cards

import (
	"errors"
	"testing"
)

func TestDecode_V2Passthrough(t *testing.T) {
	raw := `{"spec":"chara_card_v2","spec_version":"2.0","data":{"name":"Alice","description":"a detective","personality":"sharp","first_mes":"Hello.","alternate_greetings":["Hi"],"extensions":{"custom":42}}}`
	card, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if card.Spec != SpecV2 {
		t.Errorf("spec = %q", card.Spec)
	}
	if card.Data.Name != "Alice" || card.Data.Personality != "sharp" {
		t.Errorf("data = %+v", card.Data)
	}
	if len(card.Data.AlternateGreetings) != 1 || card.Data.AlternateGreetings[0] != "Hi" {
		t.Errorf("alternate_greetings = %v", card.Data.AlternateGreetings)
	}
	if v, ok := card.Data.Extensions["custom"]; !ok || v != float64(42) {
		t.Errorf("extensions not preserved: %v", card.Data.Extensions)
	}
}

func TestDecode_V1Wrap(t *testing.T) {
	raw := `{"name":"Bob","description":"a wizard","personality":"grumpy","scenario":"a tower","first_mes":"Go away.","mes_example":"<START>..."}`
	card, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if card.Spec != SpecV2 || card.SpecVersion != "2.0" {
		t.Errorf("spec = %q/%q", card.Spec, card.SpecVersion)
	}
	if card.Data.Name != "Bob" || card.Data.Scenario != "a tower" || card.Data.MesExample != "<START>..." {
		t.Errorf("V1 fields not mapped: %+v", card.Data)
	}
	if card.Data.Extensions == nil || len(card.Data.Extensions) != 0 {
		t.Errorf("extensions should be empty map, got %v", card.Data.Extensions)
	}
	if card.Data.AlternateGreetings == nil || len(card.Data.AlternateGreetings) != 0 {
		t.Errorf("alternate_greetings should be empty list")
	}
	if card.Data.HasCharacterBook() {
		t.Error("V1 wrap should carry no character book")
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, raw := range []string{`not json`, `{"unrelated":true}`, `[1,2,3]`} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidCard) {
			t.Errorf("Decode(%q) err = %v, want ErrInvalidCard", raw, err)
		}
	}
}

func TestHasCharacterBook(t *testing.T) {
	d := CardData{}
	if d.HasCharacterBook() {
		t.Error("empty book reported present")
	}
	d.CharacterBook = []byte(`null`)
	if d.HasCharacterBook() {
		t.Error("null book reported present")
	}
	d.CharacterBook = []byte(`{"entries":[{"keys":["a"],"content":"b"}]}`)
	if !d.HasCharacterBook() {
		t.Error("book not detected")
	}
}
