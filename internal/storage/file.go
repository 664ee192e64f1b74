package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"resumeunlocked/internal/errors"
)

// FileStore persists values as a single JSON document on disk. Every
// operation re-reads the file so that several processes sharing the same
// state directory see each other's writes.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logger *errors.Logger

	// last is the document as this process last read or wrote it; the
	// watcher diffs against it to report only foreign changes.
	last map[string]string

	debounceDelay time.Duration
}

// NewFileStore creates a store backed by path. The parent directory is
// created on first write.
func NewFileStore(path string, logger *errors.Logger) *FileStore {
	return &FileStore{
		path:          path,
		logger:        logger,
		last:          make(map[string]string),
		debounceDelay: 100 * time.Millisecond,
	}
}

// Path returns the backing file
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	f.last = doc
	v, ok := doc[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return f.update(func(doc map[string]string) {
		doc[key] = value
	})
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	return f.Clear(ctx, key)
}

func (f *FileStore) Clear(_ context.Context, keys ...string) error {
	return f.update(func(doc map[string]string) {
		for _, k := range keys {
			delete(doc, k)
		}
	})
}

func (f *FileStore) update(mutate func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	mutate(doc)
	if err := f.write(doc); err != nil {
		return err
	}
	f.last = doc
	return nil
}

func (f *FileStore) load() (map[string]string, error) {
	doc := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, errors.NewIOError(errors.ErrCodeFileNotReadable,
			fmt.Sprintf("Cannot read state file: %s", f.path), err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInvalidFormat,
			fmt.Sprintf("State file is not valid JSON: %s", f.path), err)
	}
	return doc, nil
}

// write replaces the file atomically via a temp file in the same directory
func (f *FileStore) write(doc map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed,
			fmt.Sprintf("Cannot create state directory: %s", dir), err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeStorageFailed, "Cannot encode state", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot create temp state file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot write temp state file", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot set state file permissions", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot close temp state file", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed,
			fmt.Sprintf("Cannot replace state file: %s", f.path), err)
	}
	return nil
}

// Watch reports changes written to the file by other processes until ctx is
// done. Events are debounced; each reload is diffed against the last
// document this store saw.
func (f *FileStore) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	// The directory is watched so atomic renames are seen.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	f.mu.Lock()
	if doc, err := f.load(); err == nil {
		f.last = doc
	}
	f.mu.Unlock()

	f.logger.Debug("State file watcher started", "file", f.path)
	go f.watchLoop(ctx, watcher, fn)
	return nil
}

func (f *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, fn func(Change)) {
	defer func() {
		if err := watcher.Close(); err != nil {
			f.logger.LogError(err, "Failed to close state file watcher")
		}
	}()

	reload := make(chan struct{}, 1)
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !f.shouldProcessEvent(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(f.debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.LogError(err, "State file watcher error")

		case <-reload:
			for _, c := range f.diff() {
				fn(c)
			}

		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (f *FileStore) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(f.path) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// diff reloads the file and returns keys that differ from the last known
// document.
func (f *FileStore) diff() []Change {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		f.logger.LogError(err, "Failed to reload state file")
		return nil
	}

	var changes []Change
	for k, v := range doc {
		if old, ok := f.last[k]; !ok || old != v {
			changes = append(changes, Change{Key: k, Value: v})
		}
	}
	for k := range f.last {
		if _, ok := doc[k]; !ok {
			changes = append(changes, Change{Key: k, Deleted: true})
		}
	}
	f.last = doc
	return changes
}
