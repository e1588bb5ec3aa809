package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	filePath, onDisk := sqliteFilePathFromDSN(dsn)
	if onDisk {
		// Cached prompts may be sensitive; keep the file private.
		if dir := filepath.Dir(filePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create cache directory: %w", err)
			}
		}
		if err := ensurePrivateSQLiteFile(filePath); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if onDisk {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	} else {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(0)

	if onDisk {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e         Entry
		system    sql.NullString
		params    sql.NullString
		comment   sql.NullString
		raw       []byte
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, model, system, prompt, params, iteration, answer, comment, raw, created_at
		FROM cache_entries WHERE key = ?
	`, key).Scan(&e.Key, &e.Model, &system, &e.Prompt, &params, &e.Iteration, &e.Answer, &comment, &raw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query cache entry: %w", err)
	}

	e.System = system.String
	e.Comment = comment.String
	if len(raw) > 0 {
		e.Raw = json.RawMessage(raw)
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &e.Params); err != nil {
			return Entry{}, false, fmt.Errorf("decode cache params: %w", err)
		}
	}
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	return e, true, nil
}

// PutIfAbsent implements Store.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, e Entry) (bool, error) {
	params, err := marshalParams(e.Params)
	if err != nil {
		return false, fmt.Errorf("encode cache params: %w", err)
	}

	var res sql.Result
	for attempt := 0; attempt < 3; attempt++ {
		res, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO cache_entries (
				key, model, system, prompt, params, iteration, answer, comment, raw, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			e.Key,
			e.Model,
			nullIfEmpty(e.System),
			e.Prompt,
			nullIfEmpty(params),
			e.Iteration,
			e.Answer,
			nullIfEmpty(e.Comment),
			[]byte(e.Raw),
			e.CreatedAt.UnixMilli(),
		)
		if !isBusyError(err) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("insert cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Len counts stored entries.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries").Scan(&n)
	return n, err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

var migrations = []migration{
	{1, "cache_entries", func(db *sql.DB) error {
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS cache_entries (
				key TEXT PRIMARY KEY,
				model TEXT NOT NULL,
				system TEXT,
				prompt TEXT NOT NULL,
				params TEXT,
				iteration INTEGER NOT NULL,
				answer TEXT NOT NULL,
				comment TEXT,
				raw BLOB,
				created_at INTEGER NOT NULL
			)
		`)
		return err
	}},
	{2, "cache_entries_model_index", func(db *sql.DB) error {
		_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_cache_entries_model ON cache_entries(model)`)
		return err
	}},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := m.Apply(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func sqliteFilePathFromDSN(dsn string) (string, bool) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || dsn == ":memory:" {
		return "", false
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil || !strings.EqualFold(strings.TrimSpace(u.Scheme), "file") {
			return "", false
		}
		path := strings.TrimSpace(u.Path)
		if path == "" {
			path = strings.TrimSpace(u.Opaque)
		}
		if path == "" || path == ":memory:" || u.Query().Get("mode") == "memory" {
			return "", false
		}
		return path, true
	}
	if strings.Contains(dsn, "://") {
		return "", false
	}
	return dsn, true
}

func ensurePrivateSQLiteFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat cache path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create cache file: %w", err)
	}
	return f.Close()
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func marshalParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
