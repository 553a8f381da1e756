// Package index maintains a sqlite side-index of session metadata (cwd,
// provider, model, leaf, timestamps) so the store can list sessions without
// scanning every JSONL file, mirroring a dual append-log/sqlite-index
// pattern used for the same reason.
package index

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/segmentationf4u1t/codeforge/pkg/sessiontree"
)

// SQLiteIndex implements sessionstore.Indexer.
type SQLiteIndex struct {
	db *sql.DB
}

// Open creates/opens a sqlite index database at path and ensures its schema.
func Open(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	cwd        TEXT NOT NULL,
	provider   TEXT NOT NULL,
	model_id   TEXT NOT NULL,
	leaf_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_cwd ON sessions(cwd);
`

// Upsert inserts or updates a session's metadata row.
func (x *SQLiteIndex) Upsert(info sessiontree.Info) error {
	_, err := x.db.Exec(`
		INSERT INTO sessions (id, path, cwd, provider, model_id, leaf_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			leaf_id = excluded.leaf_id,
			updated_at = excluded.updated_at
	`, info.ID, info.Path, info.Cwd, info.Provider, info.ModelID, info.LeafID, info.CreatedAt, info.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert %s: %w", info.ID, err)
	}
	return nil
}

// List returns every indexed session for a workspace, most recently updated first.
func (x *SQLiteIndex) List(cwd string) ([]sessiontree.Info, error) {
	rows, err := x.db.Query(`
		SELECT id, path, cwd, provider, model_id, leaf_id, created_at, updated_at
		FROM sessions WHERE cwd = ? ORDER BY updated_at DESC
	`, cwd)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []sessiontree.Info
	for rows.Next() {
		var info sessiontree.Info
		if err := rows.Scan(&info.ID, &info.Path, &info.Cwd, &info.Provider, &info.ModelID,
			&info.LeafID, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("index: scan: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}
