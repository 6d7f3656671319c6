// Package sqlite implements the store interfaces on a single sqlite
// database file (modernc.org/sqlite, no cgo).
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/amiantos/ursceal/internal/store"
	"github.com/amiantos/ursceal/migrations"
)

// Open opens (or creates) the sqlite database at path with foreign keys
// enforced and WAL journaling. The connection pool is capped at one writer;
// sqlite serializes writes anyway and this avoids SQLITE_BUSY churn.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate applies all embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewStores opens the database at path, applies migrations, and wires up
// all stores over the shared handle.
func NewStores(path string) (*store.Stores, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return newStores(db), nil
}

// NewStoresFromDB wires stores over an existing handle. The caller keeps
// ownership of db; Stores.Close will close it.
func NewStoresFromDB(db *sql.DB) *store.Stores {
	return newStores(db)
}

func newStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Stories:    NewStoryStore(db),
		Characters: NewCharacterStore(db),
		Lorebooks:  NewLorebookStore(db),
		Presets:    NewPresetStore(db),
		Settings:   NewSettingsStore(db),
		History:    NewHistoryStore(db),
		Closer:     db.Close,
	}
}
