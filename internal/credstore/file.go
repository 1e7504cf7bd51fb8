package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credential file's directory.
const DirPerms = 0o700

// fileFormat is the on-disk layout of a credential file.
type fileFormat struct {
	Entries map[string]fileEntry `json:"entries"`
}

type fileEntry struct {
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitzero"`
}

// FileStore keeps credentials in a JSON file so that several processes of
// the same user (each its own execution context) read and write one shared
// medium, the way browser tabs share a cookie jar. Every Get re-reads the
// file, so a value written by another process is visible immediately.
//
// Writes are atomic (temp file + rename) so readers never observe a partial
// file. Concurrent writers in different processes are last-writer-wins.
type FileStore struct {
	path string
	mu   sync.Mutex // serializes read-modify-write within this process
	now  func() time.Time
}

// NewFileStore returns a FileStore backed by path. The file and its parent
// directory are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context, name string) (string, bool, error) {
	ff, err := f.load()
	if err != nil {
		return "", false, &StoreError{Op: "get", Name: name, Err: err}
	}

	e, ok := ff.Entries[name]
	if !ok {
		return "", false, nil
	}

	if !e.Expires.IsZero() && !f.now().Before(e.Expires) {
		return "", false, nil
	}

	return e.Value, true, nil
}

func (f *FileStore) Set(_ context.Context, name, value string, opts Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ff, err := f.load()
	if err != nil {
		return &StoreError{Op: "set", Name: name, Err: err}
	}

	e := fileEntry{Value: value, Path: opts.Path}
	if opts.MaxAge > 0 {
		e.Expires = f.now().Add(opts.MaxAge).UTC()
	}

	ff.Entries[name] = e

	if err := f.save(ff); err != nil {
		return &StoreError{Op: "set", Name: name, Err: err}
	}

	return nil
}

func (f *FileStore) Clear(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ff, err := f.load()
	if err != nil {
		return &StoreError{Op: "clear", Name: name, Err: err}
	}

	if _, ok := ff.Entries[name]; !ok {
		return nil
	}

	delete(ff.Entries, name)

	if err := f.save(ff); err != nil {
		return &StoreError{Op: "clear", Name: name, Err: err}
	}

	return nil
}

// load reads the credential file. A missing file is an empty store.
func (f *FileStore) load() (*fileFormat, error) {
	ff := &fileFormat{Entries: make(map[string]fileEntry)}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ff, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}

	if len(data) == 0 {
		return ff, nil
	}

	if err := json.Unmarshal(data, ff); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.path, err)
	}

	if ff.Entries == nil {
		ff.Entries = make(map[string]fileEntry)
	}

	return ff, nil
}

// save writes the credential file atomically with 0600 permissions.
// Never logs values.
func (f *FileStore) save(ff *fileFormat) error {
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}

	dir := filepath.Dir(f.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("creating directory %s: %w", dir, mkErr)
	}

	// Temp file in the same directory so rename(2) stays on one filesystem.
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}
