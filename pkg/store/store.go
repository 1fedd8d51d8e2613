// Package store is OakScript's SQLite-backed catalogue of scripts,
// compiled containers, and run history.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/oakscript/oak/pkg/logger"
)

// Store wraps the SQLite connection backing the script catalogue.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS scripts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS containers (
			id TEXT PRIMARY KEY,
			script_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			bytecode BLOB NOT NULL,
			content_hash TEXT NOT NULL,
			signature TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (script_id) REFERENCES scripts(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_containers_script ON containers(script_id)`,
		`CREATE TABLE IF NOT EXISTS run_history (
			id TEXT PRIMARY KEY,
			container_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			ok INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT,
			error_message TEXT,
			FOREIGN KEY (container_id) REFERENCES containers(id)
		)`,
		`CREATE TABLE IF NOT EXISTS vfs_files (
			namespace TEXT NOT NULL,
			path TEXT NOT NULL,
			content BLOB,
			mod_time INTEGER NOT NULL,
			PRIMARY KEY (namespace, path)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Script is a named, versionable unit of OakScript source.
type Script struct {
	ID        string
	Name      string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveScript inserts a new script or updates an existing one by name.
func (s *Store) SaveScript(name, source string) (*Script, error) {
	now := time.Now()
	existing, err := s.ScriptByName(name)
	if err == nil {
		_, err := s.db.Exec(`UPDATE scripts SET source = ?, updated_at = ? WHERE id = ?`,
			source, now.Unix(), existing.ID)
		if err != nil {
			return nil, err
		}
		existing.Source = source
		existing.UpdatedAt = now
		logger.Debug(logger.AreaStorage, "updated script %q (%s)", name, existing.ID)
		return existing, nil
	}

	id := uuid.New().String()
	_, err = s.db.Exec(
		`INSERT INTO scripts (id, name, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, source, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert script: %w", err)
	}
	logger.Debug(logger.AreaStorage, "created script %q (%s)", name, id)
	return &Script{ID: id, Name: name, Source: source, CreatedAt: now, UpdatedAt: now}, nil
}

// ScriptByName looks up a script by its unique name.
func (s *Store) ScriptByName(name string) (*Script, error) {
	row := s.db.QueryRow(`SELECT id, name, source, created_at, updated_at FROM scripts WHERE name = ?`, name)
	return scanScript(row)
}

// ScriptByID looks up a script by id.
func (s *Store) ScriptByID(id string) (*Script, error) {
	row := s.db.QueryRow(`SELECT id, name, source, created_at, updated_at FROM scripts WHERE id = ?`, id)
	return scanScript(row)
}

func scanScript(row *sql.Row) (*Script, error) {
	var sc Script
	var created, updated int64
	if err := row.Scan(&sc.ID, &sc.Name, &sc.Source, &created, &updated); err != nil {
		return nil, err
	}
	sc.CreatedAt = time.Unix(created, 0)
	sc.UpdatedAt = time.Unix(updated, 0)
	return &sc, nil
}

// Container is one compiled, content-addressed build of a script.
type Container struct {
	ID          string
	ScriptID    string
	Version     int
	Bytecode    []byte
	ContentHash string
	Signature   string
	CreatedAt   time.Time
}

// SaveContainer records a compiled container for a script, auto-numbering
// its version within that script's history.
func (s *Store) SaveContainer(scriptID string, bytecode []byte, contentHash, signature string) (*Container, error) {
	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM containers WHERE script_id = ?`, scriptID).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("compute next version: %w", err)
	}

	id := uuid.New().String()
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO containers (id, script_id, version, bytecode, content_hash, signature, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, scriptID, version, bytecode, contentHash, signature, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert container: %w", err)
	}
	logger.Info(logger.AreaStorage, "stored container %s for script %s, version %d", id, scriptID, version)
	return &Container{
		ID: id, ScriptID: scriptID, Version: version, Bytecode: bytecode,
		ContentHash: contentHash, Signature: signature, CreatedAt: now,
	}, nil
}

// LatestContainer returns the highest-versioned container for a script.
func (s *Store) LatestContainer(scriptID string) (*Container, error) {
	row := s.db.QueryRow(
		`SELECT id, script_id, version, bytecode, content_hash, signature, created_at
		 FROM containers WHERE script_id = ? ORDER BY version DESC LIMIT 1`, scriptID)
	return scanContainer(row)
}

func scanContainer(row *sql.Row) (*Container, error) {
	var c Container
	var created int64
	var signature sql.NullString
	if err := row.Scan(&c.ID, &c.ScriptID, &c.Version, &c.Bytecode, &c.ContentHash, &signature, &created); err != nil {
		return nil, err
	}
	c.Signature = signature.String
	c.CreatedAt = time.Unix(created, 0)
	return &c, nil
}

// RecordRunStart inserts a run_history row and returns its id.
func (s *Store) RecordRunStart(containerID string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO run_history (id, container_id, started_at, ok) VALUES (?, ?, ?, 0)`,
		id, containerID, time.Now().Unix(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordRunFinish updates a run_history row with its outcome.
func (s *Store) RecordRunFinish(runID string, ok bool, errKind, errMessage string) error {
	_, err := s.db.Exec(
		`UPDATE run_history SET finished_at = ?, ok = ?, error_kind = ?, error_message = ? WHERE id = ?`,
		time.Now().Unix(), boolToInt(ok), nullableString(errKind), nullableString(errMessage), runID,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
