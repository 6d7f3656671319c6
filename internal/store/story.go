package store

import (
	"context"
	"encoding/json"
	"time"
)

// Story is a single novel-style writing project.
type Story struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Content            string          `json:"content"`
	Created            time.Time       `json:"created"`
	Modified           time.Time       `json:"modified"`
	PersonaCharacterID *string         `json:"personaCharacterId"`
	ConfigPresetID     *string         `json:"configPresetId"`
	NeedsRewritePrompt bool            `json:"needsRewritePrompt"`
	WordCount          int             `json:"wordCount"`
	AvatarWindows      json.RawMessage `json:"avatarWindows,omitempty"`
}

// StoryStore persists stories and their character/lorebook associations.
//
// Content writes flow through HistoryStore.SaveToHistory, which updates the
// story row and the undo log atomically; StoryStore.Update covers metadata only.
type StoryStore interface {
	Create(ctx context.Context, s *Story) error
	Get(ctx context.Context, id string) (*Story, error)
	List(ctx context.Context) ([]Story, error)

	// Update persists title, description, persona, preset, and flags.
	// Word count and content are untouched. Fails with ErrNotFound if the
	// story is gone and a foreign-key error if personaCharacterId or
	// configPresetId dangles.
	Update(ctx context.Context, s *Story) error

	// Delete removes the story, cascading to history and join rows.
	Delete(ctx context.Context, id string) error

	// AddCharacter links a character to the story and applies auto-titling
	// ("Untitled Story" becomes "A Story with <names>").
	AddCharacter(ctx context.Context, storyID, characterID string) error

	// RemoveCharacter unlinks a character, clears personaCharacterId when it
	// pointed at that character, and re-applies auto-titling.
	RemoveCharacter(ctx context.Context, storyID, characterID string) error

	// Characters returns the story's characters in the order they were added,
	// without image blobs.
	Characters(ctx context.Context, storyID string) ([]Character, error)

	AttachLorebook(ctx context.Context, storyID, lorebookID string) error
	DetachLorebook(ctx context.Context, storyID, lorebookID string) error

	// Lorebooks returns the story's lorebooks with entries loaded.
	Lorebooks(ctx context.Context, storyID string) ([]Lorebook, error)
}
