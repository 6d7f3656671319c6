package store

import (
	"context"

	"github.com/amiantos/ursceal/internal/cards"
)

// Character is a reusable persona definition, V2 character-card compatible.
// Image and Thumbnail are loaded only via their dedicated accessors.
type Character struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data cards.CardData `json:"data"`
}

// CharacterStore persists characters and their image blobs.
type CharacterStore interface {
	Create(ctx context.Context, c *Character) error
	Get(ctx context.Context, id string) (*Character, error)
	List(ctx context.Context) ([]Character, error)
	Update(ctx context.Context, c *Character) error

	// Delete fails with ErrInUse while any story references the character,
	// unless force is set; force clears join rows and matching
	// personaCharacterId values first.
	Delete(ctx context.Context, id string, force bool) error

	SetImage(ctx context.Context, id string, image, thumbnail []byte) error
	Image(ctx context.Context, id string) ([]byte, error)
	Thumbnail(ctx context.Context, id string) ([]byte, error)
}
