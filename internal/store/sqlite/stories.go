package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amiantos/ursceal/internal/store"
)

// StoryStore implements store.StoryStore.
type StoryStore struct {
	db *sql.DB
}

func NewStoryStore(db *sql.DB) *StoryStore {
	return &StoryStore{db: db}
}

const storyCols = `id, title, description, content, created, modified,
	persona_character_id, config_preset_id, needs_rewrite_prompt, word_count, avatar_windows`

func (s *StoryStore) Create(ctx context.Context, st *store.Story) error {
	if st.ID == "" {
		st.ID = uuid.Must(uuid.NewV7()).String()
	}
	if st.Title == "" {
		st.Title = "Untitled Story"
	}
	now := time.Now().UTC()
	st.Created, st.Modified = now, now
	st.WordCount = countWords(st.Content)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stories (`+storyCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		st.ID, st.Title, st.Description, st.Content, st.Created, st.Modified,
		nullStr(st.PersonaCharacterID), nullStr(st.ConfigPresetID),
		st.NeedsRewritePrompt, st.WordCount, string(st.AvatarWindows))
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

func (s *StoryStore) Get(ctx context.Context, id string) (*store.Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyCols+` FROM stories WHERE id = ?`, id)
	return scanStory(row)
}

func (s *StoryStore) List(ctx context.Context) ([]store.Story, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+storyCols+` FROM stories ORDER BY modified DESC`)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var out []store.Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *StoryStore) Update(ctx context.Context, st *store.Story) error {
	st.Modified = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET title = ?, description = ?, persona_character_id = ?,
		 config_preset_id = ?, needs_rewrite_prompt = ?, avatar_windows = ?, modified = ?
		 WHERE id = ?`,
		st.Title, st.Description, nullStr(st.PersonaCharacterID), nullStr(st.ConfigPresetID),
		st.NeedsRewritePrompt, string(st.AvatarWindows), st.Modified, st.ID)
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *StoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *StoryStore) AddCharacter(ctx context.Context, storyID, characterID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO story_characters (story_id, character_id) VALUES (?, ?)`,
		storyID, characterID); err != nil {
		return fmt.Errorf("add character to story: %w", err)
	}
	if err := retitle(ctx, tx, storyID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *StoryStore) RemoveCharacter(ctx context.Context, storyID, characterID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM story_characters WHERE story_id = ? AND character_id = ?`,
		storyID, characterID); err != nil {
		return fmt.Errorf("remove character from story: %w", err)
	}
	// Invariant: a removed character cannot remain the story's persona.
	if _, err := tx.ExecContext(ctx,
		`UPDATE stories SET persona_character_id = NULL
		 WHERE id = ? AND persona_character_id = ?`,
		storyID, characterID); err != nil {
		return fmt.Errorf("clear persona: %w", err)
	}
	if err := retitle(ctx, tx, storyID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *StoryStore) Characters(ctx context.Context, storyID string) ([]store.Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.data FROM characters c
		 JOIN story_characters sc ON sc.character_id = c.id
		 WHERE sc.story_id = ? ORDER BY sc.rowid`, storyID)
	if err != nil {
		return nil, fmt.Errorf("story characters: %w", err)
	}
	defer rows.Close()

	var out []store.Character
	for rows.Next() {
		var c store.Character
		var data string
		if err := rows.Scan(&c.ID, &c.Name, &data); err != nil {
			return nil, err
		}
		fromJSON(data, &c.Data)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *StoryStore) AttachLorebook(ctx context.Context, storyID, lorebookID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO story_lorebooks (story_id, lorebook_id) VALUES (?, ?)`,
		storyID, lorebookID)
	if err != nil {
		return fmt.Errorf("attach lorebook: %w", err)
	}
	return nil
}

func (s *StoryStore) DetachLorebook(ctx context.Context, storyID, lorebookID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM story_lorebooks WHERE story_id = ? AND lorebook_id = ?`,
		storyID, lorebookID)
	if err != nil {
		return fmt.Errorf("detach lorebook: %w", err)
	}
	return nil
}

func (s *StoryStore) Lorebooks(ctx context.Context, storyID string) ([]store.Lorebook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id FROM lorebooks l
		 JOIN story_lorebooks sl ON sl.lorebook_id = l.id
		 WHERE sl.story_id = ? ORDER BY sl.rowid`, storyID)
	if err != nil {
		return nil, fmt.Errorf("story lorebooks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lbStore := NewLorebookStore(s.db)
	out := make([]store.Lorebook, 0, len(ids))
	for _, id := range ids {
		lb, err := lbStore.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *lb)
	}
	return out, nil
}

func scanStory(row interface{ Scan(...any) error }) (*store.Story, error) {
	var st store.Story
	var persona, preset, avatars sql.NullString
	err := row.Scan(&st.ID, &st.Title, &st.Description, &st.Content, &st.Created, &st.Modified,
		&persona, &preset, &st.NeedsRewritePrompt, &st.WordCount, &avatars)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan story: %w", err)
	}
	st.PersonaCharacterID = strPtr(persona)
	st.ConfigPresetID = strPtr(preset)
	if avatars.Valid && avatars.String != "" {
		st.AvatarWindows = []byte(avatars.String)
	}
	return &st, nil
}

func countWords(content string) int {
	return len(strings.Fields(content))
}

const untitledStory = "Untitled Story"

// retitle applies the auto-title convention: stories still carrying the
// default title (or a previous auto-title) are renamed after the current
// character roster. Custom titles are never touched.
func retitle(ctx context.Context, tx *sql.Tx, storyID string) error {
	var title string
	err := tx.QueryRowContext(ctx, `SELECT title FROM stories WHERE id = ?`, storyID).Scan(&title)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if title != untitledStory && !strings.HasPrefix(title, "A Story with ") {
		return nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT c.name FROM characters c
		 JOIN story_characters sc ON sc.character_id = c.id
		 WHERE sc.story_id = ? ORDER BY sc.rowid`, storyID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE stories SET title = ?, modified = ? WHERE id = ?`,
		autoTitle(names), time.Now().UTC(), storyID)
	return err
}

func autoTitle(names []string) string {
	switch len(names) {
	case 0:
		return untitledStory
	case 1:
		return "A Story with " + names[0]
	default:
		return "A Story with " + strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
