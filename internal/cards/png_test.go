package cards

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"
)

// buildPNG assembles a minimal PNG: signature, a dummy IHDR, the given
// chunks, then IEND. CRCs are zeroed except where noted; the reader
// ignores them.
func buildPNG(chunks ...[]byte) []byte {
	out := append([]byte{}, pngSignature...)
	out = append(out, rawChunk("IHDR", make([]byte, 13))...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	out = append(out, rawChunk("IEND", nil)...)
	return out
}

func rawChunk(ctype string, data []byte) []byte {
	var out []byte
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, ctype...)
	out = append(out, data...)
	out = binary.BigEndian.AppendUint32(out, 0) // crc ignored on read
	return out
}

func textChunk(keyword, text string) []byte {
	payload := append([]byte(keyword), 0)
	payload = append(payload, text...)
	return rawChunk("tEXt", payload)
}

func TestExtractCardJSON(t *testing.T) {
	card := `{"name":"Alice","description":"a detective"}`
	png := buildPNG(textChunk("chara", base64.StdEncoding.EncodeToString([]byte(card))))

	got, err := ExtractCardJSON(png)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != card {
		t.Errorf("got %s, want %s", got, card)
	}
}

func TestExtractCardJSON_IgnoresOtherKeywords(t *testing.T) {
	png := buildPNG(
		textChunk("comment", "not a card"),
		textChunk("chara", base64.StdEncoding.EncodeToString([]byte(`{"name":"X"}`))),
	)
	got, err := ExtractCardJSON(png)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"name":"X"}` {
		t.Errorf("got %s", got)
	}
}

func TestExtractCardJSON_NoChara(t *testing.T) {
	png := buildPNG(textChunk("comment", "hello"))
	if _, err := ExtractCardJSON(png); err != ErrNoCard {
		t.Errorf("err = %v, want ErrNoCard", err)
	}
}

func TestExtractCardJSON_BadBase64(t *testing.T) {
	png := buildPNG(textChunk("chara", "not base64 !!!"))
	if _, err := ExtractCardJSON(png); err == nil {
		t.Error("expected base64 error")
	}
}

func TestExtractCardJSON_BadSignature(t *testing.T) {
	if _, err := ExtractCardJSON([]byte("JFIF not a png at all")); err == nil {
		t.Error("expected signature error")
	}
}

func TestEmbedCardJSON_RoundTrip(t *testing.T) {
	orig := `{"spec":"chara_card_v2","spec_version":"2.0","data":{"name":"Bob"}}`
	// Start from a PNG that already has a stale chara chunk; embed must replace it.
	png := buildPNG(textChunk("chara", base64.StdEncoding.EncodeToString([]byte(`{"name":"old"}`))))

	out, err := EmbedCardJSON(png, []byte(orig))
	if err != nil {
		t.Fatal(err)
	}
	got, err := ExtractCardJSON(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != orig {
		t.Errorf("round trip: got %s, want %s", got, orig)
	}
	if n := bytes.Count(out, []byte("chara")); n != 1 {
		t.Errorf("expected exactly one chara chunk, found %d", n)
	}
}
