package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/notebook-gateway/backend/internal/model"
	"github.com/notebook-gateway/backend/internal/notebook"
)

// SQLiteStore persists notebook snapshots as JSON rows in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dbPath and runs schema
// migrations. Use ":memory:" for an ephemeral store.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notebooks (
		path TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Read loads the notebook at path, optionally creating a blank one.
func (s *SQLiteStore) Read(ctx context.Context, path string, createIfMissing bool) (*notebook.Document, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM notebooks WHERE path = ?`, path).Scan(&content)
	if err == sql.ErrNoRows {
		if createIfMissing {
			return notebook.NewDocument(), nil
		}
		return nil, model.ErrNotebookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}

	var doc notebook.Document
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode notebook %s: %w", path, err)
	}
	return &doc, nil
}

// Write upserts the snapshot for path.
func (s *SQLiteStore) Write(ctx context.Context, path string, doc *notebook.Document) error {
	content, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode notebook: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notebooks (path, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, path, string(content), time.Now())
	if err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	return nil
}

// Rename re-keys a stored snapshot. A missing source row is a no-op.
func (s *SQLiteStore) Rename(ctx context.Context, oldPath, newPath string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE OR REPLACE notebooks SET path = ?, updated_at = ? WHERE path = ?`,
		newPath, time.Now(), oldPath)
	if err != nil {
		return fmt.Errorf("failed to rename notebook: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
