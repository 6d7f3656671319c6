// Package store defines the entity types and storage interfaces for
// stories, characters, lorebooks, presets, settings, and story history.
// The sqlite subpackage provides the backing implementation.
package store

import "errors"

// Stores is the top-level container for all storage backends.
type Stores struct {
	Stories    StoryStore
	Characters CharacterStore
	Lorebooks  LorebookStore
	Presets    PresetStore
	Settings   SettingsStore
	History    HistoryStore

	// Closer releases the underlying database handle.
	Closer func() error
}

// Close releases underlying resources.
func (s *Stores) Close() error {
	if s.Closer != nil {
		return s.Closer()
	}
	return nil
}

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInUse is returned when deleting an entity still referenced elsewhere
// (e.g. a character attached to a story) without force.
var ErrInUse = errors.New("store: entity in use")
