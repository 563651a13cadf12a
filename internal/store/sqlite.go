package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"modelgate/internal/common/fsutil"
	"modelgate/pkg/types"
)

// SQLiteStore keeps records in a model_configs table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite store requires a path")
	}
	p, err := fsutil.ExpandHome(dbPath)
	if err != nil {
		return nil, err
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if p == ":memory:" {
		// each pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS model_configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			backend_type TEXT NOT NULL,
			capabilities TEXT,
			context_length INTEGER NOT NULL DEFAULT 0,
			tenant_id TEXT NOT NULL DEFAULT '',
			config TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_configs_tenant ON model_configs(tenant_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec ModelRecord) error {
	if err := validateID(rec.ID); err != nil {
		return err
	}
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	query := `INSERT INTO model_configs
		(id, name, description, backend_type, capabilities, context_length, tenant_id, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			backend_type = excluded.backend_type,
			capabilities = excluded.capabilities,
			context_length = excluded.context_length,
			tenant_id = excluded.tenant_id,
			config = excluded.config,
			updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Description, string(rec.BackendType), string(caps),
		rec.ContextLength, rec.TenantID, string(cfg),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save model config: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, name, description, backend_type, capabilities, context_length, tenant_id, config, created_at, updated_at FROM model_configs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ModelRecord, error) {
	var (
		rec                  ModelRecord
		desc, caps, cfg      sql.NullString
		backend              string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &desc, &backend, &caps, &rec.ContextLength, &rec.TenantID, &cfg, &createdAt, &updatedAt); err != nil {
		return rec, err
	}
	rec.Description = desc.String
	rec.BackendType = types.BackendType(backend)
	if caps.Valid && caps.String != "" && caps.String != "null" {
		if err := json.Unmarshal([]byte(caps.String), &rec.Capabilities); err != nil {
			return rec, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	if cfg.Valid && cfg.String != "" && cfg.String != "null" {
		if err := json.Unmarshal([]byte(cfg.String), &rec.Config); err != nil {
			return rec, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (ModelRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ModelRecord{}, ErrNotFound
	}
	if err != nil {
		return ModelRecord{}, fmt.Errorf("failed to get model config: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model configs: %w", err)
	}
	defer rows.Close()
	var out []ModelRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model config: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

var _ ConfigStore = (*SQLiteStore)(nil)
