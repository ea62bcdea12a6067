// Package storage persists the local snapshot. The engine only sees the
// Store interface; the concrete stores are a sqlite database (the durable
// default) and a plain JSON file (legacy format, still written by older
// clients). Storage failures are fatal to a sync session: a remote push is
// never attempted while local durability is uncertain.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/mindwtr/mindwtr/internal/models"
)

// ErrCorrupt reports a snapshot that could not be decoded even leniently.
var ErrCorrupt = errors.New("corrupt snapshot")

// Store loads and saves the local snapshot.
//
// LoadSnapshot on an empty store returns an empty snapshot, not an error.
// SaveSnapshot must be atomic: a crash mid-save leaves the previous
// snapshot readable.
type Store interface {
	LoadSnapshot(ctx context.Context) (*models.AppData, error)
	SaveSnapshot(ctx context.Context, data *models.AppData) error
}

// BlobStore holds attachment payloads keyed by attachment id.
type BlobStore interface {
	// Open returns the payload and its size.
	Open(id string) (io.ReadCloser, int64, error)
	// Exists reports whether a payload is present.
	Exists(id string) (bool, error)
	// Create starts writing a payload. The write lands atomically on
	// Commit; Discard drops it.
	Create(id string) (BlobWriter, error)
	// Remove deletes a payload. Removing a missing payload is not an error.
	Remove(id string) error
}

// BlobWriter is an in-progress payload write.
type BlobWriter interface {
	io.Writer
	// Commit atomically publishes the payload.
	Commit() error
	// Discard abandons the write and removes temporary state.
	Discard() error
}
