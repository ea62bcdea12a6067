package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileBlobStore keeps attachment payloads as plain files under a directory,
// one file per attachment id. Writes go through a temp file and rename so a
// crashed transfer never leaves a partial blob behind.
type FileBlobStore struct {
	dir string
}

// NewFileBlobStore creates dir if needed and returns a store rooted there.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

func (s *FileBlobStore) path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id))
}

func (s *FileBlobStore) Open(id string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (s *FileBlobStore) Exists(id string) (bool, error) {
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileBlobStore) Create(id string) (BlobWriter, error) {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(id)+".tmp*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	return &fileBlobWriter{f: tmp, final: s.path(id)}, nil
}

func (s *FileBlobStore) Remove(id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

type fileBlobWriter struct {
	f     *os.File
	final string
}

func (w *fileBlobWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *fileBlobWriter) Commit() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.f.Name())
		return err
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	return os.Rename(w.f.Name(), w.final)
}

func (w *fileBlobWriter) Discard() error {
	w.f.Close()
	err := os.Remove(w.f.Name())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
