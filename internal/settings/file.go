package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileStore keeps settings in a flat YAML mapping. The file is read once on
// open and rewritten atomically on every Set.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

func OpenFile(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("settings: file path is required")
	}
	path = filepath.Clean(path)
	values, err := readYAML(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, values: values}, nil
}

func readYAML(path string) (map[string]string, error) {
	values := make(map[string]string)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return values, nil
	}
	if err := yaml.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	// A "~" or "null" document decodes to a nil map.
	if values == nil {
		values = make(map[string]string)
	}
	return values, nil
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := maps.Clone(f.values)
	if next == nil {
		next = make(map[string]string, 1)
	}
	next[key] = value
	if err := writeYAMLAtomic(f.path, next); err != nil {
		return err
	}
	f.values = next
	return nil
}

func (f *FileStore) Close() error { return nil }

func writeYAMLAtomic(path string, values map[string]string) error {
	b, err := yaml.Marshal(values)
	if err != nil {
		return err
	}

	// Temp file in the same directory so the rename is atomic.
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Watch calls onChange whenever the file is modified by someone other than
// this store, until ctx is done. The parent directory is watched because
// atomic replacement swaps the inode.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return errors.New("settings: onChange is nil")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(f.path), err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != f.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if f.reload() {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// reload re-reads the file and reports whether its contents differ from
// what this store last wrote.
func (f *FileStore) reload() bool {
	values, err := readYAML(f.path)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if maps.Equal(values, f.values) {
		return false
	}
	f.values = values
	return true
}
