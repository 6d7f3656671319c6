package cards

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// pngSignature is the fixed 8-byte header every PNG starts with.
var pngSignature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// ErrNoCard is returned when a PNG carries no "chara" tEXt chunk.
var ErrNoCard = errors.New("cards: no chara tEXt chunk found")

// ExtractCardJSON scans a PNG byte stream for a tEXt chunk whose keyword is
// "chara" and returns the base64-decoded JSON payload. The chunk CRC is not
// verified on read. Reading stops at IEND.
func ExtractCardJSON(png []byte) ([]byte, error) {
	if len(png) < len(pngSignature) || !bytes.Equal(png[:len(pngSignature)], pngSignature) {
		return nil, fmt.Errorf("cards: not a PNG: bad signature")
	}

	off := len(pngSignature)
	for {
		// [length:be32][type:4][data:length][crc:be32]
		if off+8 > len(png) {
			return nil, ErrNoCard
		}
		length := int(binary.BigEndian.Uint32(png[off : off+4]))
		ctype := string(png[off+4 : off+8])
		dataStart := off + 8
		if dataStart+length+4 > len(png) {
			return nil, fmt.Errorf("cards: truncated %s chunk", ctype)
		}
		data := png[dataStart : dataStart+length]
		off = dataStart + length + 4

		switch ctype {
		case "IEND":
			return nil, ErrNoCard
		case "tEXt":
			keyword, text, ok := splitTEXt(data)
			if !ok || keyword != "chara" {
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(string(text))
			if err != nil {
				return nil, fmt.Errorf("cards: chara chunk is not valid base64: %w", err)
			}
			return decoded, nil
		}
	}
}

// splitTEXt splits a tEXt payload at the first NUL into keyword and text.
func splitTEXt(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(data[:i]), data[i+1:], true
}

// EmbedCardJSON returns a copy of png with any existing "chara" tEXt chunks
// removed and a fresh one (base64-encoded cardJSON, valid CRC) inserted
// directly before IEND. Used by the card export endpoint.
func EmbedCardJSON(png []byte, cardJSON []byte) ([]byte, error) {
	if len(png) < len(pngSignature) || !bytes.Equal(png[:len(pngSignature)], pngSignature) {
		return nil, fmt.Errorf("cards: not a PNG: bad signature")
	}

	out := make([]byte, 0, len(png)+len(cardJSON)*2)
	out = append(out, pngSignature...)

	off := len(pngSignature)
	for off+8 <= len(png) {
		length := int(binary.BigEndian.Uint32(png[off : off+4]))
		ctype := string(png[off+4 : off+8])
		end := off + 8 + length + 4
		if end > len(png) {
			return nil, fmt.Errorf("cards: truncated %s chunk", ctype)
		}

		if ctype == "tEXt" {
			if kw, _, ok := splitTEXt(png[off+8 : off+8+length]); ok && kw == "chara" {
				off = end
				continue
			}
		}
		if ctype == "IEND" {
			out = append(out, buildTEXtChunk("chara", base64.StdEncoding.EncodeToString(cardJSON))...)
		}
		out = append(out, png[off:end]...)
		if ctype == "IEND" {
			return out, nil
		}
		off = end
	}
	return nil, fmt.Errorf("cards: no IEND chunk")
}

func buildTEXtChunk(keyword, text string) []byte {
	payload := make([]byte, 0, len(keyword)+1+len(text))
	payload = append(payload, keyword...)
	payload = append(payload, 0)
	payload = append(payload, text...)

	chunk := make([]byte, 0, 12+len(payload))
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(payload)))
	chunk = append(chunk, "tEXt"...)
	chunk = append(chunk, payload...)

	crc := crc32.NewIEEE()
	crc.Write([]byte("tEXt"))
	crc.Write(payload)
	chunk = binary.BigEndian.AppendUint32(chunk, crc.Sum32())
	return chunk
}
