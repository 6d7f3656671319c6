package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amiantos/ursceal/internal/store"
)

// LorebookStore implements store.LorebookStore.
type LorebookStore struct {
	db *sql.DB
}

func NewLorebookStore(db *sql.DB) *LorebookStore {
	return &LorebookStore{db: db}
}

func (s *LorebookStore) Create(ctx context.Context, lb *store.Lorebook) error {
	if lb.ID == "" {
		lb.ID = uuid.Must(uuid.NewV7()).String()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO lorebooks (id, name, description, scan_depth, token_budget, recursive_scanning, extensions)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lb.ID, lb.Name, lb.Description, nullInt(lb.ScanDepth), nullInt(lb.TokenBudget),
		lb.RecursiveScanning, jsonText(lb.Extensions, "{}"))
	if err != nil {
		return fmt.Errorf("create lorebook: %w", err)
	}
	if len(lb.Entries) > 0 {
		if err := insertEntries(ctx, tx, lb.ID, lb.Entries); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LorebookStore) Get(ctx context.Context, id string) (*store.Lorebook, error) {
	var lb store.Lorebook
	var scanDepth, tokenBudget sql.NullInt64
	var ext string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, scan_depth, token_budget, recursive_scanning, extensions
		 FROM lorebooks WHERE id = ?`, id).
		Scan(&lb.ID, &lb.Name, &lb.Description, &scanDepth, &tokenBudget, &lb.RecursiveScanning, &ext)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lorebook: %w", err)
	}
	lb.ScanDepth = intPtr(scanDepth)
	lb.TokenBudget = intPtr(tokenBudget)
	lb.Extensions = map[string]any{}
	fromJSON(ext, &lb.Extensions)

	entries, err := s.entries(ctx, id)
	if err != nil {
		return nil, err
	}
	lb.Entries = entries
	return &lb, nil
}

func (s *LorebookStore) List(ctx context.Context) ([]store.Lorebook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, scan_depth, token_budget, recursive_scanning, extensions
		 FROM lorebooks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list lorebooks: %w", err)
	}
	defer rows.Close()

	var out []store.Lorebook
	for rows.Next() {
		var lb store.Lorebook
		var scanDepth, tokenBudget sql.NullInt64
		var ext string
		if err := rows.Scan(&lb.ID, &lb.Name, &lb.Description, &scanDepth, &tokenBudget,
			&lb.RecursiveScanning, &ext); err != nil {
			return nil, err
		}
		lb.ScanDepth = intPtr(scanDepth)
		lb.TokenBudget = intPtr(tokenBudget)
		lb.Extensions = map[string]any{}
		fromJSON(ext, &lb.Extensions)
		out = append(out, lb)
	}
	return out, rows.Err()
}

func (s *LorebookStore) Update(ctx context.Context, lb *store.Lorebook) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lorebooks SET name = ?, description = ?, scan_depth = ?, token_budget = ?,
		 recursive_scanning = ?, extensions = ? WHERE id = ?`,
		lb.Name, lb.Description, nullInt(lb.ScanDepth), nullInt(lb.TokenBudget),
		lb.RecursiveScanning, jsonText(lb.Extensions, "{}"), lb.ID)
	if err != nil {
		return fmt.Errorf("update lorebook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *LorebookStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lorebooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lorebook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveEntries replaces the lorebook's entries wholesale. Entry ids are
// reassigned by the insert; callers refetch after saving.
func (s *LorebookStore) SaveEntries(ctx context.Context, lorebookID string, entries []store.LorebookEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lorebooks WHERE id = ?`, lorebookID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM lorebook_entries WHERE lorebook_id = ?`, lorebookID); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	if err := insertEntries(ctx, tx, lorebookID, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntries(ctx context.Context, tx *sql.Tx, lorebookID string, entries []store.LorebookEntry) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lorebook_entries (lorebook_id, keys, secondary_keys, content, comment,
		 enabled, constant, selective, selective_logic, insertion_order, position,
		 case_sensitive, match_whole_words, use_regex, probability, use_probability,
		 depth, scan_depth, entry_group, prevent_recursion, delay_until_recursion,
		 display_index, extensions)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		if _, err := stmt.ExecContext(ctx,
			lorebookID, jsonText(e.Keys, "[]"), jsonText(e.SecondaryKeys, "[]"),
			e.Content, e.Comment, e.Enabled, e.Constant, e.Selective, int(e.SelectiveLogic),
			e.InsertionOrder, int(e.Position), e.CaseSensitive, e.MatchWholeWords, e.UseRegex,
			e.Probability, e.UseProbability, e.Depth, nullInt(e.ScanDepth), e.Group,
			e.PreventRecursion, e.DelayUntilRecursion, e.DisplayIndex,
			jsonText(e.Extensions, "{}")); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}
	return nil
}

func (s *LorebookStore) entries(ctx context.Context, lorebookID string) ([]store.LorebookEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, keys, secondary_keys, content, comment, enabled, constant, selective,
		 selective_logic, insertion_order, position, case_sensitive, match_whole_words,
		 use_regex, probability, use_probability, depth, scan_depth, entry_group,
		 prevent_recursion, delay_until_recursion, display_index, extensions
		 FROM lorebook_entries WHERE lorebook_id = ? ORDER BY id`, lorebookID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var out []store.LorebookEntry
	for rows.Next() {
		var e store.LorebookEntry
		var keys, secondary, ext string
		var logic, position int
		var scanDepth sql.NullInt64
		if err := rows.Scan(&e.ID, &keys, &secondary, &e.Content, &e.Comment, &e.Enabled,
			&e.Constant, &e.Selective, &logic, &e.InsertionOrder, &position,
			&e.CaseSensitive, &e.MatchWholeWords, &e.UseRegex, &e.Probability,
			&e.UseProbability, &e.Depth, &scanDepth, &e.Group,
			&e.PreventRecursion, &e.DelayUntilRecursion, &e.DisplayIndex, &ext); err != nil {
			return nil, err
		}
		e.SelectiveLogic = store.SelectiveLogic(logic)
		e.Position = store.Position(position)
		e.ScanDepth = intPtr(scanDepth)
		fromJSON(keys, &e.Keys)
		fromJSON(secondary, &e.SecondaryKeys)
		e.Extensions = map[string]any{}
		fromJSON(ext, &e.Extensions)
		out = append(out, e)
	}
	return out, rows.Err()
}
