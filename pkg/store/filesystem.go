package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oakscript/oak/pkg/logger"
)

// Filesystem adapts a Store's vfs_files table to the lang.Host
// interface, so OakScript's readfile/writefile/appendfile/exists
// builtins are backed by SQLite rather than the real filesystem.
// Every call is scoped to a namespace (one per run, or one per
// script identity, depending on isolation the caller wants).
type Filesystem struct {
	store     *Store
	namespace string
}

// NewFilesystem returns a Host scoped to namespace.
func NewFilesystem(s *Store, namespace string) *Filesystem {
	return &Filesystem{store: s, namespace: namespace}
}

func (fs *Filesystem) ReadFile(name string) (string, error) {
	var content []byte
	err := fs.store.db.QueryRow(
		`SELECT content FROM vfs_files WHERE namespace = ? AND path = ?`,
		fs.namespace, name,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("file not found: %s", name)
	}
	if err != nil {
		return "", err
	}
	logger.Debug(logger.AreaStorage, "readfile %s/%s (%d bytes)", fs.namespace, name, len(content))
	return string(content), nil
}

func (fs *Filesystem) WriteFile(name, content string) error {
	_, err := fs.store.db.Exec(
		`INSERT INTO vfs_files (namespace, path, content, mod_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, path) DO UPDATE SET content = excluded.content, mod_time = excluded.mod_time`,
		fs.namespace, name, []byte(content), time.Now().Unix(),
	)
	if err != nil {
		return err
	}
	logger.Debug(logger.AreaStorage, "writefile %s/%s (%d bytes)", fs.namespace, name, len(content))
	return nil
}

func (fs *Filesystem) AppendFile(name, content string) error {
	existing, err := fs.ReadFile(name)
	if err != nil {
		existing = ""
	}
	return fs.WriteFile(name, existing+content)
}

func (fs *Filesystem) Exists(name string) bool {
	var count int
	err := fs.store.db.QueryRow(
		`SELECT COUNT(*) FROM vfs_files WHERE namespace = ? AND path = ?`,
		fs.namespace, name,
	).Scan(&count)
	return err == nil && count > 0
}

func (fs *Filesystem) Now() time.Time { return time.Now() }
