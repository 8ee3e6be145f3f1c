package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parchment-ai/deckhand/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
	session_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	ref        TEXT NOT NULL,
	sha256     TEXT NOT NULL,
	content    TEXT NOT NULL,
	size       INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, key)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
`

// SQLiteStore persists artifacts in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the artifact database at dbPath.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		// Artifact bodies can contain sensitive analysis text.
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStoreWrite, "create artifact directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "open artifact database")
	}

	// SQLite supports one writer at a time; WAL keeps readers unblocked.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, errors.ErrCodeStoreWrite, "configure artifact database")
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeStoreWrite, "initialize artifact schema")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) StoreText(ctx context.Context, sessionID, key, content string) (string, error) {
	if sessionID == "" || key == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "artifact session and key are required")
	}

	ref := Ref(content)
	sum := digest(content)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (session_id, key, ref, sha256, content, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, key, ref, sum, content, len(content), time.Now().UTC())
	if err == nil {
		return ref, nil
	}

	// Key exists: idempotent when the content matches, otherwise a
	// write-once violation.
	var existingSum, existingRef string
	row := s.db.QueryRowContext(ctx,
		`SELECT sha256, ref FROM artifacts WHERE session_id = ? AND key = ?`, sessionID, key)
	if scanErr := row.Scan(&existingSum, &existingRef); scanErr != nil {
		return "", errors.Wrap(err, errors.ErrCodeStoreWrite, fmt.Sprintf("store artifact %q", key))
	}
	if existingSum == sum {
		return existingRef, nil
	}
	return "", errors.New(errors.ErrCodeStoreWrite,
		fmt.Sprintf("artifact %q already stored with different content", key))
}

func (s *SQLiteStore) GetText(ctx context.Context, sessionID, key string) (string, error) {
	var content string
	row := s.db.QueryRowContext(ctx,
		`SELECT content FROM artifacts WHERE session_id = ? AND key = ?`, sessionID, key)
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return "", errors.New(errors.ErrCodeArtifactMissing, fmt.Sprintf("artifact %q not found", key))
		}
		return "", errors.Wrap(err, errors.ErrCodeStoreRead, fmt.Sprintf("read artifact %q", key))
	}
	return content, nil
}

func (s *SQLiteStore) Meta(ctx context.Context, sessionID, key string) (*Meta, error) {
	var m Meta
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, key, ref, sha256, size, created_at
		 FROM artifacts WHERE session_id = ? AND key = ?`, sessionID, key)
	if err := row.Scan(&m.SessionID, &m.Key, &m.Ref, &m.SHA256, &m.Size, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.ErrCodeArtifactMissing, fmt.Sprintf("artifact %q not found", key))
		}
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, fmt.Sprintf("read artifact metadata %q", key))
	}
	return &m, nil
}

func (s *SQLiteStore) Keys(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM artifacts WHERE session_id = ? ORDER BY key`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStoreRead, "list artifact keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStoreCorrupt, "scan artifact key")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) PurgeSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, errors.ErrCodeStoreWrite, "purge session artifacts")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
