package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amiantos/ursceal/internal/store"
)

// PresetStore implements store.PresetStore.
type PresetStore struct {
	db *sql.DB
}

func NewPresetStore(db *sql.DB) *PresetStore {
	return &PresetStore{db: db}
}

const presetCols = `id, name, provider, api_config, generation_settings,
	lorebook_settings, prompt_templates, is_default`

func (s *PresetStore) Create(ctx context.Context, p *store.Preset) error {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE presets SET is_default = 0`); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO presets (`+presetCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, string(p.Provider), jsonText(p.APIConfig, "{}"),
		jsonText(p.GenerationSettings, "{}"), jsonText(p.LorebookSettings, "{}"),
		jsonText(p.PromptTemplates, "{}"), p.IsDefault)
	if err != nil {
		return fmt.Errorf("create preset: %w", err)
	}
	return tx.Commit()
}

func (s *PresetStore) Get(ctx context.Context, id string) (*store.Preset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+presetCols+` FROM presets WHERE id = ?`, id)
	return scanPreset(row)
}

func (s *PresetStore) List(ctx context.Context) ([]store.Preset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+presetCols+` FROM presets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	var out []store.Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PresetStore) Update(ctx context.Context, p *store.Preset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE presets SET is_default = 0 WHERE id != ?`, p.ID); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE presets SET name = ?, provider = ?, api_config = ?, generation_settings = ?,
		 lorebook_settings = ?, prompt_templates = ?, is_default = ? WHERE id = ?`,
		p.Name, string(p.Provider), jsonText(p.APIConfig, "{}"),
		jsonText(p.GenerationSettings, "{}"), jsonText(p.LorebookSettings, "{}"),
		jsonText(p.PromptTemplates, "{}"), p.IsDefault, p.ID)
	if err != nil {
		return fmt.Errorf("update preset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *PresetStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE stories SET config_preset_id = NULL WHERE config_preset_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM presets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func (s *PresetStore) SetDefault(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE presets SET is_default = 0`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE presets SET is_default = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

func scanPreset(row interface{ Scan(...any) error }) (*store.Preset, error) {
	var p store.Preset
	var provider, apiCfg, genCfg, lbCfg, tmpl string
	err := row.Scan(&p.ID, &p.Name, &provider, &apiCfg, &genCfg, &lbCfg, &tmpl, &p.IsDefault)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan preset: %w", err)
	}
	p.Provider = store.ProviderType(provider)
	fromJSON(apiCfg, &p.APIConfig)
	fromJSON(genCfg, &p.GenerationSettings)
	fromJSON(lbCfg, &p.LorebookSettings)
	fromJSON(tmpl, &p.PromptTemplates)
	return &p, nil
}
