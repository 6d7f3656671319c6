package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/amiantos/ursceal/internal/store"
)

// HistoryStore implements store.HistoryStore. Every operation runs in a
// single transaction so undo/redo never races a concurrent content write.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) SaveToHistory(ctx context.Context, storyID, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	storyContent, err := storyContent(ctx, tx, storyID)
	if err != nil {
		return err
	}

	cursor, cursorContent, hasCursor, err := cursorState(ctx, tx, storyID)
	if err != nil {
		return err
	}

	// First write: seed the pre-write content so it stays reachable by undo.
	if !hasCursor {
		seedID, err := appendEntry(ctx, tx, storyID, storyContent)
		if err != nil {
			return err
		}
		if err := setCursor(ctx, tx, storyID, seedID); err != nil {
			return err
		}
		cursor, cursorContent, hasCursor = seedID, storyContent, true
	}

	if content == cursorContent {
		// Nothing changed relative to the cursor; still persist the story row.
		if err := updateStoryContent(ctx, tx, storyID, content); err != nil {
			return err
		}
		return tx.Commit()
	}

	// Branch truncation: a write after undo discards the redo tail.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history_entries WHERE story_id = ? AND id > ?`, storyID, cursor); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}

	newID, err := appendEntry(ctx, tx, storyID, content)
	if err != nil {
		return err
	}
	if err := setCursor(ctx, tx, storyID, newID); err != nil {
		return err
	}
	if err := updateStoryContent(ctx, tx, storyID, content); err != nil {
		return err
	}

	// Prune to MaxHistory, dropping the oldest entries.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history_entries WHERE story_id = ? AND id NOT IN
		 (SELECT id FROM history_entries WHERE story_id = ? ORDER BY id DESC LIMIT ?)`,
		storyID, storyID, store.MaxHistory); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}

	return tx.Commit()
}

func (s *HistoryStore) Undo(ctx context.Context, storyID string) (*string, error) {
	return s.step(ctx, storyID,
		`SELECT id, content FROM history_entries
		 WHERE story_id = ? AND id < ? ORDER BY id DESC LIMIT 1`)
}

func (s *HistoryStore) Redo(ctx context.Context, storyID string) (*string, error) {
	return s.step(ctx, storyID,
		`SELECT id, content FROM history_entries
		 WHERE story_id = ? AND id > ? ORDER BY id ASC LIMIT 1`)
}

// step moves the cursor to the adjacent entry selected by query and applies
// its content to the story without recording new history.
func (s *HistoryStore) step(ctx context.Context, storyID, query string) (*string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := storyContent(ctx, tx, storyID); err != nil {
		return nil, err
	}

	cursor, _, hasCursor, err := cursorState(ctx, tx, storyID)
	if err != nil {
		return nil, err
	}
	if !hasCursor {
		return nil, tx.Commit()
	}

	var targetID int64
	var content string
	err = tx.QueryRowContext(ctx, query, storyID, cursor).Scan(&targetID, &content)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("find history entry: %w", err)
	}

	if err := setCursor(ctx, tx, storyID, targetID); err != nil {
		return nil, err
	}
	if err := updateStoryContent(ctx, tx, storyID, content); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &content, nil
}

func (s *HistoryStore) Status(ctx context.Context, storyID string) (*store.HistoryStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	content, err := storyContent(ctx, tx, storyID)
	if err != nil {
		return nil, err
	}

	cursor, _, hasCursor, err := cursorState(ctx, tx, storyID)
	if err != nil {
		return nil, err
	}

	// A story with content but no history yet gets one seed entry so undo
	// state is well-defined from the first interaction.
	if !hasCursor && content != "" {
		seedID, err := appendEntry(ctx, tx, storyID, content)
		if err != nil {
			return nil, err
		}
		if err := setCursor(ctx, tx, storyID, seedID); err != nil {
			return nil, err
		}
		cursor, hasCursor = seedID, true
	}

	status := &store.HistoryStatus{}
	if hasCursor {
		var before, after int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM history_entries WHERE story_id = ? AND id < ?`,
			storyID, cursor).Scan(&before); err != nil {
			return nil, err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM history_entries WHERE story_id = ? AND id > ?`,
			storyID, cursor).Scan(&after); err != nil {
			return nil, err
		}
		status.CanUndo = before > 0
		status.CanRedo = after > 0
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return status, nil
}

func storyContent(ctx context.Context, tx *sql.Tx, storyID string) (string, error) {
	var content string
	err := tx.QueryRowContext(ctx,
		`SELECT content FROM stories WHERE id = ?`, storyID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load story: %w", err)
	}
	return content, nil
}

// cursorState returns the cursor entry id and its content.
func cursorState(ctx context.Context, tx *sql.Tx, storyID string) (int64, string, bool, error) {
	var id int64
	var content string
	err := tx.QueryRowContext(ctx,
		`SELECT p.history_entry_id, e.content
		 FROM history_positions p
		 JOIN history_entries e ON e.id = p.history_entry_id
		 WHERE p.story_id = ?`, storyID).Scan(&id, &content)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("load history cursor: %w", err)
	}
	return id, content, true, nil
}

func appendEntry(ctx context.Context, tx *sql.Tx, storyID, content string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO history_entries (story_id, content, word_count, created) VALUES (?, ?, ?, ?)`,
		storyID, content, countWords(content), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("append history entry: %w", err)
	}
	return res.LastInsertId()
}

func setCursor(ctx context.Context, tx *sql.Tx, storyID string, entryID int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO history_positions (story_id, history_entry_id) VALUES (?, ?)
		 ON CONFLICT (story_id) DO UPDATE SET history_entry_id = excluded.history_entry_id`,
		storyID, entryID)
	if err != nil {
		return fmt.Errorf("set history cursor: %w", err)
	}
	return nil
}

func updateStoryContent(ctx context.Context, tx *sql.Tx, storyID, content string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE stories SET content = ?, word_count = ?, modified = ? WHERE id = ?`,
		content, countWords(content), time.Now().UTC(), storyID)
	if err != nil {
		return fmt.Errorf("update story content: %w", err)
	}
	return nil
}
