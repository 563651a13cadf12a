package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"modelgate/internal/common/fsutil"
)

const recordExt = ".yaml"

// FileStore writes one YAML document per model into a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir (after '~' expansion) if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store requires a directory")
	}
	expanded, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

// Dir returns the absolute storage directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *FileStore) Save(_ context.Context, rec ModelRecord) error {
	if err := validateID(rec.ID); err != nil {
		return err
	}
	b, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsutil.WriteFileAtomic(s.path(rec.ID), b, 0o600)
}

func (s *FileStore) Get(_ context.Context, id string) (ModelRecord, error) {
	if err := validateID(id); err != nil {
		return ModelRecord{}, err
	}
	return readRecord(s.path(id))
}

func readRecord(p string) (ModelRecord, error) {
	var rec ModelRecord
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
	}
	return rec, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// List reads every record in the directory. A file that fails to decode
// aborts the listing so a corrupt store is noticed at startup.
func (s *FileStore) List(context.Context) ([]ModelRecord, error) {
	s.mu.Lock()
	files, err := fsutil.ListFiles(s.dir, recordExt)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]ModelRecord, 0, len(files))
	for _, f := range files {
		rec, err := readRecord(f)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) Close() error { return nil }

var _ ConfigStore = (*FileStore)(nil)
