// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const definitionTable = "schema_definitions"

// Store persists knowledge base definitions in a SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the SQLite database at path and ensures the
// schema exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle and ensures the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			definition_json BLOB NOT NULL
		);`, definitionTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s(source_type);`, definitionTable, definitionTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at);`, definitionTable, definitionTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Save upserts one definition keyed by name.
func (s *Store) Save(ctx context.Context, def Definition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (name, source_type, updated_at, definition_json)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			source_type = excluded.source_type,
			updated_at = excluded.updated_at,
			definition_json = excluded.definition_json`, definitionTable),
		def.Name, def.SourceType, def.UpdatedAt.UnixMilli(), payload)
	return err
}

// Load reads one definition by name.
func (s *Store) Load(ctx context.Context, name string) (Definition, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT definition_json FROM %s WHERE name = ?`, definitionTable), name).Scan(&payload)
	if err == sql.ErrNoRows {
		return Definition{}, false, nil
	}
	if err != nil {
		return Definition{}, false, err
	}
	var def Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		return Definition{}, false, err
	}
	return def, true, nil
}

// All returns every persisted definition ordered by update time, oldest first.
func (s *Store) All(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT definition_json FROM %s ORDER BY updated_at ASC`, definitionTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var def Definition
		if err := json.Unmarshal(payload, &def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Prune deletes rows older than the cutoff. Returns the number removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE updated_at < ?`, definitionTable), olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
