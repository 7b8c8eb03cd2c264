package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore backs Store, Index and CaptionCache with one database.
type SQLiteStore struct {
	db       *sql.DB
	embedDim int
}

// NewSQLiteStore creates/opens the persona database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create persona db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process bot. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS personas (
			scope TEXT NOT NULL,
			subject TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			doc_json TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY(scope, subject)
		);`,
		`CREATE TABLE IF NOT EXISTS persona_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope TEXT NOT NULL,
			subject TEXT NOT NULL,
			version INTEGER NOT NULL,
			doc_json TEXT NOT NULL,
			archived_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS persona_history_subject_idx ON persona_history(scope, subject, version DESC);`,
		`CREATE TABLE IF NOT EXISTS persona_chunks (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			subject TEXT NOT NULL,
			content TEXT NOT NULL,
			vector_json TEXT NOT NULL,
			norm REAL NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS persona_chunks_subject_idx ON persona_chunks(scope, subject, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS active_bindings (
			scope TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS caption_cache (
			url TEXT PRIMARY KEY,
			caption TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS caption_cache_exp_idx ON caption_cache(expires_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeDoc(doc *Document) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode persona doc: %w", err)
	}
	return string(b), nil
}

func decodeDoc(key SubjectKey, raw string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode persona doc: %w", err)
	}
	doc.Key = key
	return &doc, nil
}

// PutDocument archives the current version (if any) to persona_history
// and writes doc as the new current version in one transaction. The
// assigned version is previous+1, starting at 1.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *Document) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin put persona: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMS()
	version := 1

	var prevVersion int
	var prevJSON string
	var prevCreated int64
	row := tx.QueryRowContext(ctx, `
SELECT version, doc_json, created_at_ms FROM personas WHERE scope = ? AND subject = ?`,
		doc.Key.Scope, doc.Key.Subject)
	switch err := row.Scan(&prevVersion, &prevJSON, &prevCreated); {
	case err == nil:
		version = prevVersion + 1
		if _, err := tx.ExecContext(ctx, `
INSERT INTO persona_history(scope, subject, version, doc_json, archived_at_ms)
VALUES(?, ?, ?, ?, ?)`,
			doc.Key.Scope, doc.Key.Subject, prevVersion, prevJSON, now); err != nil {
			return 0, fmt.Errorf("archive persona version: %w", err)
		}
		doc.CreatedAt = time.UnixMilli(prevCreated)
	case errors.Is(err, sql.ErrNoRows):
		doc.CreatedAt = time.UnixMilli(now)
	default:
		return 0, fmt.Errorf("read current persona: %w", err)
	}

	doc.Version = version
	doc.UpdatedAt = time.UnixMilli(now)

	raw, err := encodeDoc(doc)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO personas(scope, subject, display_name, version, doc_json, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(scope, subject) DO UPDATE SET
	display_name = excluded.display_name,
	version = excluded.version,
	doc_json = excluded.doc_json,
	updated_at_ms = excluded.updated_at_ms`,
		doc.Key.Scope, doc.Key.Subject, doc.DisplayName, version, raw, doc.CreatedAt.UnixMilli(), now); err != nil {
		return 0, fmt.Errorf("write persona: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit put persona: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, key SubjectKey) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT doc_json FROM personas WHERE scope = ? AND subject = ?`, key.Scope, key.Subject)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get persona: %w", err)
	}
	return decodeDoc(key, raw)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, scope string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT subject, doc_json FROM personas WHERE scope = ? ORDER BY updated_at_ms DESC`, scope)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	out := []*Document{}
	for rows.Next() {
		var subject, raw string
		if err := rows.Scan(&subject, &raw); err != nil {
			return nil, fmt.Errorf("scan persona row: %w", err)
		}
		doc, err := decodeDoc(SubjectKey{Scope: scope, Subject: subject}, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) History(ctx context.Context, key SubjectKey) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT doc_json FROM persona_history WHERE scope = ? AND subject = ? ORDER BY version ASC`,
		key.Scope, key.Subject)
	if err != nil {
		return nil, fmt.Errorf("persona history: %w", err)
	}
	defer rows.Close()

	out := []*Document{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		doc, err := decodeDoc(key, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// EraseDocuments removes the current document and full history for a
// subject in one transaction.
func (s *SQLiteStore) EraseDocuments(ctx context.Context, key SubjectKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin erase persona: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE scope = ? AND subject = ?`,
		key.Scope, key.Subject); err != nil {
		return fmt.Errorf("erase persona: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM persona_history WHERE scope = ? AND subject = ?`,
		key.Scope, key.Subject); err != nil {
		return fmt.Errorf("erase persona history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit erase persona: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetActive(ctx context.Context, scope, subject string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO active_bindings(scope, subject, updated_at_ms)
VALUES(?, ?, ?)
ON CONFLICT(scope) DO UPDATE SET subject = excluded.subject, updated_at_ms = excluded.updated_at_ms`,
		scope, subject, nowMS())
	if err != nil {
		return fmt.Errorf("set active persona: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetActive(ctx context.Context, scope string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT subject FROM active_bindings WHERE scope = ?`, scope)
	var subject string
	if err := row.Scan(&subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoActivePersona
		}
		return "", fmt.Errorf("get active persona: %w", err)
	}
	return subject, nil
}

func (s *SQLiteStore) ClearActive(ctx context.Context, scope string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_bindings WHERE scope = ?`, scope)
	if err != nil {
		return fmt.Errorf("clear active persona: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCaption(ctx context.Context, url string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT caption FROM caption_cache WHERE url = ? AND expires_at_ms > ?`, url, nowMS())
	var caption string
	if err := row.Scan(&caption); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get caption: %w", err)
	}
	return caption, true, nil
}

func (s *SQLiteStore) PutCaption(ctx context.Context, url, caption string, ttl time.Duration) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO caption_cache(url, caption, created_at_ms, expires_at_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET caption = excluded.caption, created_at_ms = excluded.created_at_ms, expires_at_ms = excluded.expires_at_ms`,
		url, caption, now, now+ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("put caption: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeExpiredCaptions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM caption_cache WHERE expires_at_ms <= ?`, nowMS())
	if err != nil {
		return 0, fmt.Errorf("purge captions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
