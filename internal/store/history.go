package store

import (
	"context"
	"time"
)

// MaxHistory caps the per-story undo log length; oldest entries are pruned.
const MaxHistory = 50

// HistoryEntry is one snapshot in a story's linear undo log.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	StoryID   string    `json:"storyId"`
	Content   string    `json:"content"`
	WordCount int       `json:"wordCount"`
	Created   time.Time `json:"created"`
}

// HistoryStatus reports undo/redo availability relative to the cursor.
type HistoryStatus struct {
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
}

// HistoryStore maintains the per-story undo/redo log. All operations are
// atomic against concurrent content writes; the story row's content and
// word count are updated inside the same transaction.
type HistoryStore interface {
	// SaveToHistory records content as the story's newest snapshot. If the
	// content equals the snapshot at the cursor, it is a no-op. Otherwise,
	// in one transaction: entries after the cursor are deleted (branch
	// truncation), the new entry is appended, the cursor moves to it, the
	// story row is updated, and the log is pruned to MaxHistory.
	SaveToHistory(ctx context.Context, storyID, content string) error

	// Undo moves the cursor one entry back and applies that content to the
	// story without re-recording history. Returns nil when nothing to undo.
	Undo(ctx context.Context, storyID string) (*string, error)

	// Redo is the inverse of Undo. Returns nil when nothing to redo.
	Redo(ctx context.Context, storyID string) (*string, error)

	// Status reports undo/redo availability. A story with content but no
	// history rows is auto-seeded with one entry for its current content.
	Status(ctx context.Context, storyID string) (*HistoryStatus, error)
}
