package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amiantos/ursceal/internal/store"
)

// CharacterStore implements store.CharacterStore.
type CharacterStore struct {
	db *sql.DB
}

func NewCharacterStore(db *sql.DB) *CharacterStore {
	return &CharacterStore{db: db}
}

func (s *CharacterStore) Create(ctx context.Context, c *store.Character) error {
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.Name == "" {
		c.Name = c.Data.Name
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO characters (id, name, data) VALUES (?, ?, ?)`,
		c.ID, c.Name, jsonText(c.Data, "{}"))
	if err != nil {
		return fmt.Errorf("create character: %w", err)
	}
	return nil
}

func (s *CharacterStore) Get(ctx context.Context, id string) (*store.Character, error) {
	var c store.Character
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, data FROM characters WHERE id = ?`, id).Scan(&c.ID, &c.Name, &data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	fromJSON(data, &c.Data)
	return &c, nil
}

func (s *CharacterStore) List(ctx context.Context) ([]store.Character, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, data FROM characters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
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

func (s *CharacterStore) Update(ctx context.Context, c *store.Character) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET name = ?, data = ? WHERE id = ?`,
		c.Name, jsonText(c.Data, "{}"), c.ID)
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CharacterStore) Delete(ctx context.Context, id string, force bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var refs int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM story_characters WHERE character_id = ?`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 && !force {
		return store.ErrInUse
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM story_characters WHERE character_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stories SET persona_character_id = NULL WHERE persona_character_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM characters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *CharacterStore) SetImage(ctx context.Context, id string, image, thumbnail []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET image = ?, thumbnail = ? WHERE id = ?`, image, thumbnail, id)
	if err != nil {
		return fmt.Errorf("set character image: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CharacterStore) Image(ctx context.Context, id string) ([]byte, error) {
	return s.blob(ctx, id, "image")
}

func (s *CharacterStore) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	return s.blob(ctx, id, "thumbnail")
}

func (s *CharacterStore) blob(ctx context.Context, id, col string) ([]byte, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT `+col+` FROM characters WHERE id = ?`, id).Scan(&b)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get character %s: %w", col, err)
	}
	return b, nil
}
