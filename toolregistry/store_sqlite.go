package toolregistry

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

const (
	defaultSQLiteStoreDir = ".nodeflow"
	defaultSQLiteStoreDB  = "nodeflow.db"
)

// DefaultSQLitePath returns the default SQLite path for CLI persistence:
// ~/.nodeflow/nodeflow.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("toolregistry: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultSQLiteStoreDir, defaultSQLiteStoreDB), nil
}

const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS tool_schemas (
	name TEXT PRIMARY KEY,
	schema BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS credential_names (
	name TEXT PRIMARY KEY,
	updated_at TEXT NOT NULL
);`

// SQLiteStoreConfig configures the SQLite-backed persistence layer.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists registered tool schemas and credential provider
// *names* across process restarts. It never stores resolved secret values
// or handler/provider closures — those are re-wired live at process start
// by whatever code calls LoadInto. The in-memory Registry remains the only
// source of truth while the process is running; the store only seeds it on
// startup and mirrors writes as they happen.
type SQLiteStore struct {
	db *sql.DB
}

// NewDefaultSQLiteStore creates a SQLite store at ~/.nodeflow/nodeflow.db,
// creating the parent directory if needed.
func NewDefaultSQLiteStore() (*SQLiteStore, error) {
	path, err := DefaultSQLitePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("toolregistry: create sqlite store dir: %w", err)
	}
	return NewSQLiteStore(SQLiteStoreConfig{DSN: path})
}

// NewSQLiteStore opens (or creates) a SQLite-backed store at cfg.DSN.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("toolregistry: sqlite store dsn is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: sqlite store open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("toolregistry: sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("toolregistry: sqlite store create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveToolSchema upserts the JSON schema registered for a tool name.
func (s *SQLiteStore) SaveToolSchema(ctx context.Context, name string, schema map[string]any) error {
	if s == nil || s.db == nil {
		return errors.New("toolregistry: sqlite store is nil")
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("toolregistry: sqlite encode schema for %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tool_schemas (name, schema, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET schema = excluded.schema, updated_at = excluded.updated_at`,
		name, payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("toolregistry: sqlite save schema for %q: %w", name, err)
	}
	return nil
}

// SaveCredentialName records that a credential provider named name has been
// registered, without persisting the provider itself or any secret value.
func (s *SQLiteStore) SaveCredentialName(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return errors.New("toolregistry: sqlite store is nil")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credential_names (name, updated_at)
VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		name, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("toolregistry: sqlite save credential name %q: %w", name, err)
	}
	return nil
}

// ToolSchemas returns every persisted tool name and schema.
func (s *SQLiteStore) ToolSchemas(ctx context.Context) (map[string]map[string]any, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("toolregistry: sqlite store is nil")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, schema FROM tool_schemas ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: sqlite list tool schemas: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("toolregistry: sqlite scan tool schema: %w", err)
		}
		var schema map[string]any
		if err := json.Unmarshal(payload, &schema); err != nil {
			return nil, fmt.Errorf("toolregistry: sqlite decode schema for %q: %w", name, err)
		}
		out[name] = schema
	}
	return out, rows.Err()
}

// CredentialNames returns every persisted credential provider name.
func (s *SQLiteStore) CredentialNames(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("toolregistry: sqlite store is nil")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM credential_names ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: sqlite list credential names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("toolregistry: sqlite scan credential name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AttachStore wires store into r: every future RegisterSchema and
// RegisterCredential call mirrors into store as a best-effort side effect
// (persistence failures never fail the in-memory registration, since the
// live registry is authoritative while the process runs).
func (r *Registry) AttachStore(store *SQLiteStore) {
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
}

// LoadFromStore seeds r's tool schemas from store, and registers a
// placeholder credential provider for every persisted credential name that
// r doesn't already have a live provider for. The placeholder always fails,
// yielding no credential, until the owning process re-registers the real
// provider — the store remembers that a name existed, not how to resolve it.
func (r *Registry) LoadFromStore(ctx context.Context, store *SQLiteStore) error {
	schemas, err := store.ToolSchemas(ctx)
	if err != nil {
		return err
	}
	names, err := store.CredentialNames(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, schema := range schemas {
		if _, exists := r.schemas[name]; !exists {
			r.schemas[name] = schema
		}
	}
	for _, name := range names {
		if _, exists := r.credentials[name]; !exists {
			r.credentials[name] = func() (string, error) {
				return "", fmt.Errorf("toolregistry: credential %q restored from store but not yet re-registered", name)
			}
		}
	}
	return nil
}
