package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/sshbastion/internal/errs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using modernc.org/sqlite, a pure-Go
// driver so the bastion binary needs no cgo toolchain at build time.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if absent) a WAL-mode SQLite database at
// dbPath and ensures the schema of spec §3 exists.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %v", errs.ErrStorage, err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", errs.ErrStorage, err)
	}

	db.SetMaxOpenConns(1) // modernc.org/sqlite + WAL: one writer connection avoids SQLITE_BUSY storms
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: ping database: %v", errs.ErrStorage, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: initialize schema: %v", errs.ErrStorage, err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	const schema = `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT,
		password_hash TEXT,
		authorized_keys TEXT,
		force_init_pass BOOLEAN NOT NULL CHECK (force_init_pass IN (0,1)),
		is_active BOOLEAN NOT NULL CHECK (is_active IN (0,1)),
		updated_by TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users (username);

	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		hostname TEXT NOT NULL,
		port INTEGER NOT NULL,
		server_public_key BLOB NOT NULL,
		description TEXT,
		is_active BOOLEAN NOT NULL CHECK (is_active IN (0,1)),
		updated_by TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_targets_hostname ON targets (hostname);

	CREATE TABLE IF NOT EXISTS secrets (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		remote_user TEXT NOT NULL,
		password TEXT,
		private_key TEXT,
		public_key TEXT,
		is_active BOOLEAN NOT NULL CHECK (is_active IN (0,1)),
		updated_by TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS target_secrets (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL REFERENCES targets(id),
		secret_id TEXT NOT NULL REFERENCES secrets(id),
		is_active BOOLEAN NOT NULL CHECK (is_active IN (0,1)),
		updated_by TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(target_id, secret_id)
	);

	CREATE TABLE IF NOT EXISTS casbin_rule (
		id TEXT PRIMARY KEY,
		ptype VARCHAR(12) NOT NULL,
		v0 VARCHAR(256) NOT NULL,
		v1 VARCHAR(256) NOT NULL,
		v2 VARCHAR(256) NOT NULL,
		v3 VARCHAR(256) NOT NULL,
		v4 VARCHAR(256) NOT NULL DEFAULT '',
		v5 VARCHAR(256) NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(ptype, v0, v1, v2, v3, v4, v5)
	);

	CREATE TABLE IF NOT EXISTS internal_objects (
		name TEXT PRIMARY KEY,
		is_active BOOLEAN NOT NULL CHECK (is_active IN (0,1)),
		updated_by TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS logs (
		connection_id TEXT NOT NULL,
		log_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (created_at, connection_id, detail)
	);
	CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs (created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// wrapStorageErr classifies a SQLite error, surfacing unique-constraint
// violations distinctly (spec §7 Storage: "so admin edit flows can report
// already exists"), generalizing the teacher's string-match technique for
// SQLITE_BUSY to the conflict case.
func wrapStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrConflict, errs.ErrStorage)
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrStorage, err)
}

func isUniqueConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalKeys(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	b, err := json.Marshal(keys)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalKeys(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw.String), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func nullUUID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func parseUUIDOrNil(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
