package kvstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileStore keeps every blob in one JSON object on disk, rewritten atomically
// on each mutation. It plays the role of browser local storage for the shell.
type FileStore struct {
	mu    sync.Mutex
	path  string
	cache map[string]string
}

// NewFileStore constructor. The file is read on Initialize.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path), cache: make(map[string]string)}
}

// Initialize loads the file. A missing file is an empty store; an unreadable or
// corrupt file is also treated as empty so startup never blocks on it.
func (f *FileStore) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path) // #nosec G304 - path comes from local config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storageErr(err, "read %s", f.path)
	}
	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		f.cache = make(map[string]string)
		return nil
	}
	f.cache = m
	return nil
}

func (f *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.cache[key]
	return v, ok, nil
}

func (f *FileStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cache[key] = value
	return f.flush()
}

func (f *FileStore) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.cache[key]; !ok {
		return nil
	}
	delete(f.cache, key)
	return f.flush()
}

// Ping reports whether the directory holding the file is usable.
func (f *FileStore) Ping(ctx context.Context) bool {
	info, err := os.Stat(filepath.Dir(f.path))
	return err == nil && info.IsDir()
}

func (f *FileStore) flush() error {
	data, err := json.MarshalIndent(f.cache, "", "  ")
	if err != nil {
		return storageErr(err, "encode %s", f.path)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return storageErr(err, "mkdir for %s", f.path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".kvstore-*")
	if err != nil {
		return storageErr(err, "create temp for %s", f.path)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return storageErr(err, "write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return storageErr(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return storageErr(errors.WithStack(err), "rename to %s", f.path)
	}
	return nil
}
