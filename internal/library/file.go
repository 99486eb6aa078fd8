package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileExt = ".json"

// FileBackend stores each key as <dir>/<key>.json.
type FileBackend struct {
	dir   string
	locks sync.Map // key -> *sync.RWMutex
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &BackendError{Backend: "file", Op: "init", Err: err}
	}
	return &FileBackend{dir: dir}, nil
}

// Ping checks that the storage directory still exists.
func (f *FileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return &BackendError{Backend: "file", Op: "ping", Err: err}
	}
	if !info.IsDir() {
		return &BackendError{Backend: "file", Op: "ping", Err: fmt.Errorf("%s is not a directory", f.dir)}
	}
	return nil
}

func (f *FileBackend) lock(key string) *sync.RWMutex {
	v, _ := f.locks.LoadOrStore(key, &sync.RWMutex{})
	return v.(*sync.RWMutex)
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, key+fileExt)
}

func (f *FileBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}
	l := f.lock(key)
	l.RLock()
	defer l.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &BackendError{Backend: "file", Op: "get", Key: key, Err: err}
	}
	return data, true, nil
}

// Put writes to a temp file and renames it into place.
func (f *FileBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	l := f.lock(key)
	l.Lock()
	defer l.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return &BackendError{Backend: "file", Op: "put", Key: key, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &BackendError{Backend: "file", Op: "put", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &BackendError{Backend: "file", Op: "put", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return &BackendError{Backend: "file", Op: "put", Key: key, Err: fmt.Errorf("rename: %w", err)}
	}
	return nil
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	l := f.lock(key)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &BackendError{Backend: "file", Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (f *FileBackend) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, &BackendError{Backend: "file", Op: "keys", Err: err}
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if ValidateKey(key) == nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileBackend) Close(ctx context.Context) error {
	return nil
}
