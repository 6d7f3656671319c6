package cards

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// thumbnailSize is the bounding box for generated character thumbnails.
const thumbnailSize = 256

// Thumbnail decodes image bytes and returns a PNG thumbnail fitting a
// 256x256 bounding box, preserving aspect ratio.
func Thumbnail(image []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("cards: decode image: %w", err)
	}
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("cards: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
