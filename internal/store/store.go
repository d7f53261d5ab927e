// Package store is the sqlite persistence layer: map metadata and
// sparse cell data, per-user permission overrides, accounts, the asset
// inventory, and mail. All calls are synchronous and are expected to be
// made from the world goroutine only.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS maps (
			mid INTEGER PRIMARY KEY,
			regtime TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT 'Map',
			"desc" TEXT NOT NULL DEFAULT '',
			owner INTEGER NOT NULL DEFAULT 0,
			flags INTEGER NOT NULL DEFAULT 0,
			start_x INTEGER NOT NULL DEFAULT 5,
			start_y INTEGER NOT NULL DEFAULT 5,
			width INTEGER NOT NULL DEFAULT 100,
			height INTEGER NOT NULL DEFAULT 100,
			default_turf TEXT NOT NULL DEFAULT 'grass',
			allow INTEGER NOT NULL DEFAULT 0,
			deny INTEGER NOT NULL DEFAULT 0,
			guest_deny INTEGER NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '{}',
			data TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS map_permissions (
			mid INTEGER NOT NULL,
			uid INTEGER NOT NULL,
			allow INTEGER NOT NULL,
			deny INTEGER NOT NULL,
			PRIMARY KEY (mid, uid)
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			uid INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			passhash TEXT NOT NULL,
			regtime TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			pic TEXT NOT NULL DEFAULT '[0,2,25]',
			mid INTEGER NOT NULL DEFAULT 0,
			x INTEGER NOT NULL DEFAULT 5,
			y INTEGER NOT NULL DEFAULT 5,
			home TEXT NOT NULL DEFAULT '',
			watch TEXT NOT NULL DEFAULT '[]',
			ignore TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE TABLE IF NOT EXISTS assets (
			aid INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			"desc" TEXT NOT NULL DEFAULT '',
			type INTEGER NOT NULL DEFAULT 0,
			flags INTEGER NOT NULL DEFAULT 0,
			creator INTEGER NOT NULL DEFAULT 0,
			owner INTEGER NOT NULL DEFAULT 0,
			folder INTEGER,
			data TEXT NOT NULL DEFAULT '',
			regtime TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner);`,
		`CREATE TABLE IF NOT EXISTS mail (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid INTEGER NOT NULL,
			sender INTEGER NOT NULL,
			recipients TEXT NOT NULL,
			subject TEXT NOT NULL,
			contents TEXT NOT NULL,
			time TEXT NOT NULL,
			flags INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mail_uid ON mail(uid);`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
