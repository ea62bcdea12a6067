// Package remote defines the blob-store interface the sync engine consumes
// and the tagged error type every backend populates at the transport
// boundary. The remote is a dumb store: no transactions, no locking, no
// cooperation beyond GET/PUT/DELETE on opaque paths.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNotFound reports a confirmed-absent resource. Backends surface it via
// StatusError (status 404); match with errors.Is.
var ErrNotFound = errors.New("resource not found")

// Store is the remote blob store. Bodies are streamed; callers own closing
// the reader returned by GetResource. The returned size may be -1 when the
// backend cannot determine it.
type Store interface {
	GetResource(ctx context.Context, path string) (io.ReadCloser, int64, error)
	PutResource(ctx context.Context, path string, body io.Reader, size int64) error
	DeleteResource(ctx context.Context, path string) error
}

// StatusError is the tagged transport error. It is populated exactly once,
// by the backend that talked to the wire; everything above the transport
// pattern-matches on it instead of probing error shapes.
type StatusError struct {
	Op      string // "get", "put", "delete"
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Op, e.Path, e.Status)
}

// HTTPStatus exposes the numeric status for classification.
func (e *StatusError) HTTPStatus() int { return e.Status }

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}
