// Package bolt persists the snapshot as a JSON value in a bbolt bucket.
// An embedded key-value file gives durable single-writer semantics without
// a server process, which suits single-instance deployments.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hazyhaar/linkdeck/snapshot"
	"github.com/hazyhaar/linkdeck/storage"
)

const (
	bucketName = "snapshot"
	docKey     = "current"
)

// Store is a bbolt-backed storage.Backend.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the database file at path and ensures the
// snapshot bucket exists. The 1s open timeout surfaces a file locked by
// another process as ErrUnavailable instead of blocking forever.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: mkdir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w: %w", path, storage.ErrUnavailable, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error { return s.db.Close() }

// Load reads and decodes the snapshot value. A missing key is ErrNotFound;
// an undecodable value is ErrCorrupt.
func (s *Store) Load(_ context.Context) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(docKey))
		if data == nil {
			return fmt.Errorf("bolt: %w", storage.ErrNotFound)
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("bolt: decode: %w: %w", storage.ErrCorrupt, err)
		}
		return nil
	})
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

// Save writes the snapshot in a single bbolt transaction.
func (s *Store) Save(_ context.Context, snap snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("bolt: encode: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(docKey), data)
	})
	if err != nil {
		return fmt.Errorf("bolt: save: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}
