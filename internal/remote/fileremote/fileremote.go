// Package fileremote implements remote.Store over a plain directory,
// typically one replicated by an external tool such as Syncthing. Writes
// are atomic (tmp + rename) and keep a .bak copy of the previous content;
// reads fall back to the .bak when the primary is missing, since the
// replicator may be mid-replace.
package fileremote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mindwtr/mindwtr/internal/remote"
)

// Store is a directory-backed remote.
type Store struct {
	dir string
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, fmt.Errorf("create sync dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) resourcePath(path string) string {
	return filepath.Join(s.dir, filepath.FromSlash(path))
}

func (s *Store) GetResource(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	target := s.resourcePath(path)
	f, err := os.Open(target)
	if os.IsNotExist(err) {
		f, err = os.Open(target + ".bak")
	}
	if os.IsNotExist(err) {
		return nil, 0, &remote.StatusError{Op: "get", Path: path, Status: http.StatusNotFound, Message: "no such file"}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("get %s: %w", path, err)
	}
	return f, info.Size(), nil
}

func (s *Store) PutResource(ctx context.Context, path string, body io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.resourcePath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o770); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}

	// Keep the previous content around for recovery.
	if _, err := os.Stat(target); err == nil {
		if prev, err := os.ReadFile(target); err == nil {
			_ = os.WriteFile(target+".bak", prev, 0o660)
		}
	}

	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("put %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("put %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("put %s: %w", path, err)
	}

	// Windows refuses to rename over an existing file.
	if runtime.GOOS == "windows" {
		if _, err := os.Stat(target); err == nil {
			if err := os.Remove(target); err != nil {
				return fmt.Errorf("put %s: %w", path, err)
			}
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *Store) DeleteResource(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.resourcePath(path))
	if os.IsNotExist(err) {
		return &remote.StatusError{Op: "delete", Path: path, Status: http.StatusNotFound, Message: "no such file"}
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
