// Package file persists the snapshot as a single pretty-printed UTF-8 JSON
// document on the local filesystem: {"links": [...], "activities": [...]}.
//
// Writes go through a temp file in the same directory followed by a rename,
// so a crash mid-write never leaves a half-written document behind.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/linkdeck/snapshot"
	"github.com/hazyhaar/linkdeck/storage"
)

// Store is a file-backed storage.Backend.
type Store struct {
	path string
}

// New returns a store persisting to the given path. Parent directories are
// created on the first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and decodes the document. A missing file is ErrNotFound;
// undecodable content is ErrCorrupt.
func (s *Store) Load(_ context.Context) (snapshot.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return snapshot.Snapshot{}, fmt.Errorf("file: %s: %w", s.path, storage.ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("file: read %s: %w: %w", s.path, storage.ErrUnavailable, err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("file: decode %s: %w: %w", s.path, storage.ErrCorrupt, err)
	}
	return snap, nil
}

// Save writes the document atomically (temp file + rename).
func (s *Store) Save(_ context.Context, snap snapshot.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file: mkdir %s: %w: %w", dir, storage.ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("file: temp file: %w: %w", storage.ErrUnavailable, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file: write: %w: %w", storage.ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file: close: %w: %w", storage.ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file: rename: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}
