// Package storage defines the contract between the persistence coordinator
// and the durable backends, plus the shared error taxonomy every adapter
// translates its provider-specific failures into.
package storage

import (
	"context"
	"errors"

	"github.com/hazyhaar/linkdeck/snapshot"
)

var (
	// ErrUnavailable covers network, auth, and timeout failures — anything
	// transient enough that a bounded retry might succeed.
	ErrUnavailable = errors.New("storage: backend unavailable")

	// ErrCorrupt means the persisted document exists but cannot be decoded.
	ErrCorrupt = errors.New("storage: corrupt document")

	// ErrConflict is an optimistic-concurrency rejection from a backend
	// that tracks document revisions. The caller should reload and retry.
	ErrConflict = errors.New("storage: write conflict")

	// ErrNotFound means no document has been persisted yet.
	ErrNotFound = errors.New("storage: document not found")
)

// Backend persists the full snapshot document.
//
// Load never returns a partially populated snapshot: it either yields the
// complete decoded document or an error from the taxonomy above. Save
// returns nil only after the backend has durably acknowledged the write.
type Backend interface {
	Load(ctx context.Context) (snapshot.Snapshot, error)
	Save(ctx context.Context, snap snapshot.Snapshot) error
}
