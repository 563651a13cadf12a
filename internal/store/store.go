// Package store persists model registrations so they survive restarts.
//
// A record is written before its adapter is built and removed when the
// model is unregistered or its registration is rolled back. Stores only hold
// configuration; runtime status is never persisted.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"modelgate/pkg/types"
)

// ErrNotFound is returned by Get and Delete for unknown ids.
var ErrNotFound = errors.New("model config not found")

// ModelRecord is the persisted form of a registration.
type ModelRecord struct {
	ID            string                `json:"id" yaml:"id"`
	Name          string                `json:"name" yaml:"name"`
	Description   string                `json:"description,omitempty" yaml:"description,omitempty"`
	BackendType   types.BackendType     `json:"backend_type" yaml:"backend_type"`
	Capabilities  []types.InferenceType `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	ContextLength int                   `json:"context_length,omitempty" yaml:"context_length,omitempty"`
	TenantID      string                `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Config        map[string]any        `json:"config,omitempty" yaml:"config,omitempty"`
	CreatedAt     time.Time             `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at" yaml:"updated_at"`
}

// ConfigStore is implemented by every storage backend.
type ConfigStore interface {
	// Save inserts or replaces the record with rec.ID.
	Save(ctx context.Context, rec ModelRecord) error
	Get(ctx context.Context, id string) (ModelRecord, error)
	Delete(ctx context.Context, id string) error
	// List returns every record sorted by id.
	List(ctx context.Context) ([]ModelRecord, error)
	Close() error
}

// Storage types accepted by Open.
const (
	TypeFile   = "file"
	TypeSQLite = "sqlite"
	TypeMemory = "memory"
)

// Options selects and locates a store.
type Options struct {
	Type       string
	Dir        string
	SQLitePath string
}

// Open builds the store named by opts.Type.
func Open(opts Options) (ConfigStore, error) {
	switch strings.ToLower(opts.Type) {
	case "", TypeFile:
		return NewFileStore(opts.Dir)
	case TypeSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case TypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", opts.Type)
	}
}

func validateID(id string) error {
	if id == "" {
		return errors.New("model id is empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("model id %q is not a valid record key", id)
	}
	return nil
}

func cloneRecord(r ModelRecord) ModelRecord {
	r.Capabilities = append([]types.InferenceType(nil), r.Capabilities...)
	if r.Config != nil {
		cfg := make(map[string]any, len(r.Config))
		for k, v := range r.Config {
			cfg[k] = v
		}
		r.Config = cfg
	}
	return r
}
