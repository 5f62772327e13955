package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/lcrostarosa/entitlements/internal/errors"
	"github.com/lcrostarosa/entitlements/internal/filelock"
)

// fileLockTimeout bounds how long a write waits for another process holding the store.
const fileLockTimeout = 5 * time.Second

// File keeps the whole store in one JSON document. Writes go to a temp file that is
// renamed over the original, so readers never see a torn write. An flock on
// <path>.lock serializes writers across processes sharing the data dir, and each write
// rereads the document under that lock.
type File struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// NewFile opens (or creates) a file-backed store at path.
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	f := &File{path: path, data: make(map[string]string)}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := f.read()
	if err != nil {
		return err
	}
	f.data = data
	return nil
}

// read parses the document on disk. A missing or empty file is an empty store.
func (f *File) read() (map[string]string, error) {
	data := make(map[string]string)
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: store file %s: %v", apperrors.ErrInvalidJSON, f.path, err)
	}
	return data, nil
}

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return v, nil
}

func (f *File) Put(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateLocked(ctx, func(data map[string]string) { data[key] = value })
}

func (f *File) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateLocked(ctx, func(data map[string]string) { delete(data, key) })
}

func (f *File) Keys(_ context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return matchingKeys(f.data, prefix), nil
}

func (f *File) Close() error { return nil }

// updateLocked applies mutate to the document under the cross-process lock. The document
// is reread first so writes from other processes are kept. Caller holds f.mu.
func (f *File) updateLocked(ctx context.Context, mutate func(map[string]string)) error {
	ctx, cancel := context.WithTimeout(ctx, fileLockTimeout)
	defer cancel()
	return filelock.For(f.path).Do(ctx, func() error {
		data, err := f.read()
		if err != nil {
			return err
		}
		mutate(data)
		if err := f.writeLocked(data); err != nil {
			return err
		}
		f.data = data
		return nil
	})
}

func (f *File) writeLocked(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close store: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}
