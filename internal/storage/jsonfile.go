package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mindwtr/mindwtr/internal/models"
)

// FileStore keeps the snapshot in a single data.json, the format shared
// with the other clients. Reads retry briefly and fall back to the .bak
// copy, because an external replicator can be mid-replace; writes go
// through a tmp file and a rename.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path (usually <data-dir>/data.json).
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

const (
	readAttempts  = 3
	readRetryBase = 120 * time.Millisecond
	readRetryStep = 80 * time.Millisecond
)

func (s *FileStore) LoadSnapshot(ctx context.Context) (*models.AppData, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return models.NewAppData(), nil
	}

	data, err := readWithRetries(ctx, s.path)
	if err == nil {
		return data, nil
	}

	backup := s.path + ".bak"
	if _, statErr := os.Stat(backup); statErr == nil {
		if data, bakErr := readWithRetries(ctx, backup); bakErr == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("load snapshot %s: %w", s.path, err)
}

func (s *FileStore) SaveSnapshot(ctx context.Context, data *models.AppData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := models.EncodeAppData(data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o770); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if prev, err := os.ReadFile(s.path); err == nil {
		_ = os.WriteFile(s.path+".bak", prev, 0o660)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}

	if runtime.GOOS == "windows" {
		if _, err := os.Stat(s.path); err == nil {
			if err := os.Remove(s.path); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
		}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func readWithRetries(ctx context.Context, path string) (*models.AppData, error) {
	var lastErr error
	for attempt := 0; attempt < readAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := os.ReadFile(path)
		if err == nil {
			data, decErr := models.DecodeAppData(raw)
			if decErr == nil {
				return data, nil
			}
			lastErr = fmt.Errorf("%w: %v", ErrCorrupt, decErr)
		} else {
			lastErr = err
		}

		if attempt+1 < readAttempts {
			// Give a concurrent writer time to finish replacing the file.
			time.Sleep(readRetryBase + time.Duration(attempt)*readRetryStep)
		}
	}
	return nil, lastErr
}
