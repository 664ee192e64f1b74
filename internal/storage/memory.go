package storage

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps values in process memory. Watchers are notified of
// every change, which lets several navigators sharing one store behave like
// tabs sharing one browser profile.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[int]func(Change)
	nextID   int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]string),
		watchers: make(map[int]func(Change)),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	m.data[key] = value
	fns := m.snapshotWatchers()
	m.mu.Unlock()

	notify(fns, Change{Key: key, Value: value})
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	return m.Clear(ctx, key)
}

func (m *MemoryStore) Clear(_ context.Context, keys ...string) error {
	m.mu.Lock()
	var removed []string
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			removed = append(removed, k)
		}
	}
	fns := m.snapshotWatchers()
	m.mu.Unlock()

	for _, k := range removed {
		notify(fns, Change{Key: k, Deleted: true})
	}
	return nil
}

// Snapshot returns a copy of all stored values
func (m *MemoryStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.data)
}

// Watch registers fn until ctx is done
func (m *MemoryStore) Watch(ctx context.Context, fn func(Change)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}()
	return nil
}

func (m *MemoryStore) snapshotWatchers() []func(Change) {
	fns := make([]func(Change), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(Change), c Change) {
	for _, fn := range fns {
		fn(c)
	}
}
