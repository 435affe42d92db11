// Package journal is the local persistence layer: a snapshot of the
// file cache, the history of applied operations shown by the snapshot
// browser, and the saved auth token. Adapted from carya's
// internal/store.SQLiteStore — same database/sql + mattn/go-sqlite3
// shape, generalized from a single "chunks" table to the files/
// operations/auth tables this domain needs.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"carya/internal/wire"
)

// Store is the local SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the journal database at
// dataSourceName, a filesystem path to the .carya/journal.db file.
func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			workspace_path TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			hash TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			content BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_files_workspace_path ON files(workspace_path);

		CREATE TABLE IF NOT EXISTS operations (
			file_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			chunks TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (file_id, version)
		);
		CREATE INDEX IF NOT EXISTS idx_operations_file_id ON operations(file_id);

		CREATE TABLE IF NOT EXISTS auth (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			token TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(query)
	return err
}

// SaveFile upserts a file snapshot (cache entry), keyed by ID.
func (s *Store) SaveFile(f wire.File) error {
	content := []byte(f.Text)
	if !f.IsText() {
		content = f.Binary
	}
	query := `
		INSERT INTO files (id, workspace_path, mime_type, hash, version, created_at, updated_at, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workspace_path=excluded.workspace_path, mime_type=excluded.mime_type,
			hash=excluded.hash, version=excluded.version,
			updated_at=excluded.updated_at, content=excluded.content
	`
	_, err := s.db.Exec(query, fmt.Sprint(f.ID), f.WorkspacePath, f.MimeType, f.Hash, f.Version,
		f.CreatedAt, f.UpdatedAt, content)
	return err
}

// LoadFiles returns every persisted file snapshot, for warming the
// cache on daemon restart.
func (s *Store) LoadFiles() ([]wire.File, error) {
	rows, err := s.db.Query(`SELECT id, workspace_path, mime_type, hash, version, created_at, updated_at, content FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wire.File
	for rows.Next() {
		var f wire.File
		var idStr string
		var content []byte
		if err := rows.Scan(&idStr, &f.WorkspacePath, &f.MimeType, &f.Hash, &f.Version,
			&f.CreatedAt, &f.UpdatedAt, &content); err != nil {
			return nil, err
		}
		fmt.Sscan(idStr, &f.ID)
		if f.IsText() {
			f.Text = string(content)
		} else {
			f.Binary = content
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFileSummaries returns every known file's path and version,
// ordered by workspace path, for the snapshot browser's file list.
func (s *Store) ListFileSummaries() ([]wire.FileMetadata, error) {
	rows, err := s.db.Query(`SELECT id, workspace_path, mime_type, hash, version, created_at, updated_at FROM files ORDER BY workspace_path ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wire.FileMetadata
	for rows.Next() {
		var m wire.FileMetadata
		var idStr string
		if err := rows.Scan(&idStr, &m.WorkspacePath, &m.MimeType, &m.Hash, &m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		fmt.Sscan(idStr, &m.ID)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteFile removes a file's snapshot and operation history.
func (s *Store) DeleteFile(id int64) error {
	idStr := fmt.Sprint(id)
	if _, err := s.db.Exec(`DELETE FROM files WHERE id = ?`, idStr); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM operations WHERE file_id = ?`, idStr)
	return err
}

// AppendOperation records one applied operation for later browsing.
func (s *Store) AppendOperation(op wire.Operation) error {
	chunksJSON, err := json.Marshal(op.Chunks)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO operations (file_id, version, chunks, created_at) VALUES (?, ?, ?, ?)`,
		fmt.Sprint(op.FileID), op.Version, string(chunksJSON), op.CreatedAt,
	)
	return err
}

// History returns a file's recorded operations in ascending version
// order, for the snapshot browser.
func (s *Store) History(fileID int64) ([]wire.Operation, error) {
	rows, err := s.db.Query(
		`SELECT file_id, version, chunks, created_at FROM operations WHERE file_id = ? ORDER BY version ASC`,
		fmt.Sprint(fileID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanOperations(rows)
}

// RecentOperations returns the most recently recorded operations across
// all files, newest first, for a top-level activity view.
func (s *Store) RecentOperations(limit int) ([]wire.Operation, error) {
	rows, err := s.db.Query(
		`SELECT file_id, version, chunks, created_at FROM operations ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanOperations(rows)
}

func (s *Store) scanOperations(rows *sql.Rows) ([]wire.Operation, error) {
	var out []wire.Operation
	for rows.Next() {
		var op wire.Operation
		var idStr, chunksJSON string
		if err := rows.Scan(&idStr, &op.Version, &chunksJSON, &op.CreatedAt); err != nil {
			return nil, err
		}
		fmt.Sscan(idStr, &op.FileID)
		if err := json.Unmarshal([]byte(chunksJSON), &op.Chunks); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// SaveToken persists the auth token obtained from apiclient.Login.
func (s *Store) SaveToken(token string) error {
	_, err := s.db.Exec(`INSERT INTO auth (id, token) VALUES (0, ?) ON CONFLICT(id) DO UPDATE SET token=excluded.token`, token)
	return err
}

// LoadToken returns the persisted auth token, or "" if none is saved.
func (s *Store) LoadToken() (string, error) {
	var token string
	err := s.db.QueryRow(`SELECT token FROM auth WHERE id = 0`).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return token, err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
