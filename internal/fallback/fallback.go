// Package fallback is the synchronous last-chance store for the live
// session record. It is written only at teardown, when the primary store
// may not finish an asynchronous write, and read once at the next boot.
package fallback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/claude/splits/internal/models"
)

// FileStore keeps one session record in a single JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path. The file and its directory
// are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// WriteFallback replaces the stored record. The write goes through a
// temporary file and a rename so a crash mid-write leaves the previous
// record intact.
func (f *FileStore) WriteFallback(s models.SessionState) error {
	data, err := models.EncodeSessionState(s)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating fallback dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".fallback-*")
	if err != nil {
		return fmt.Errorf("creating fallback temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing fallback: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing fallback: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing fallback: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing fallback: %w", err)
	}
	return nil
}

// ReadFallback returns the stored record, or nil when the slot is empty
// or holds no session.
func (f *FileStore) ReadFallback() (*models.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading fallback: %w", err)
	}
	return models.DecodeSessionState(data)
}

// ClearFallback empties the slot. Clearing an empty slot is not an error.
func (f *FileStore) ClearFallback() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing fallback: %w", err)
	}
	return nil
}
