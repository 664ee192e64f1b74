package viewstate

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"resumeunlocked/internal/storage"
)

// History is the address-bar side of the router: a stack of locations with
// a cursor, like a browser tab's session history.
type History interface {
	Location() *url.URL
	Push(u *url.URL)
	Replace(u *url.URL)
	// Back and Forward move the cursor and fire the pop handler.
	// They report false when there is nowhere to go.
	Back() bool
	Forward() bool
	OnPop(fn func(*url.URL))
}

// MemoryHistory is an in-process History
type MemoryHistory struct {
	mu      sync.Mutex
	entries []string
	index   int
	onPop   func(*url.URL)
}

// NewMemoryHistory starts a history at the given location ("/" when empty)
func NewMemoryHistory(start string) *MemoryHistory {
	if start == "" {
		start = "/"
	}
	return &MemoryHistory{entries: []string{start}}
}

func (h *MemoryHistory) Location() *url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	return mustParse(h.entries[h.index])
}

// maxHistoryEntries bounds the session history; the oldest entries go first
const maxHistoryEntries = 50

// Push drops any forward entries and appends u
func (h *MemoryHistory) Push(u *url.URL) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.index+1], u.String())
	if over := len(h.entries) - maxHistoryEntries; over > 0 {
		h.entries = append([]string(nil), h.entries[over:]...)
	}
	h.index = len(h.entries) - 1
}

func (h *MemoryHistory) Replace(u *url.URL) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = u.String()
}

func (h *MemoryHistory) Back() bool {
	return h.move(-1)
}

func (h *MemoryHistory) Forward() bool {
	return h.move(1)
}

func (h *MemoryHistory) move(delta int) bool {
	h.mu.Lock()
	next := h.index + delta
	if next < 0 || next >= len(h.entries) {
		h.mu.Unlock()
		return false
	}
	h.index = next
	loc := mustParse(h.entries[next])
	fn := h.onPop
	h.mu.Unlock()

	if fn != nil {
		fn(loc)
	}
	return true
}

func (h *MemoryHistory) OnPop(fn func(*url.URL)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPop = fn
}

// Len returns the number of entries
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// HistorySnapshot is the persisted form of a MemoryHistory
type HistorySnapshot struct {
	Entries []string `json:"entries"`
	Index   int      `json:"index"`
}

// Snapshot captures entries and cursor
func (h *MemoryHistory) Snapshot() HistorySnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HistorySnapshot{
		Entries: append([]string(nil), h.entries...),
		Index:   h.index,
	}
}

// HistoryKey is the store key the history snapshot is saved under
const HistoryKey = "history"

// SaveHistory writes the snapshot of h to s
func SaveHistory(ctx context.Context, s storage.Store, h *MemoryHistory) error {
	return storage.SetJSON(ctx, s, HistoryKey, h.Snapshot())
}

// LoadHistory restores a history saved with SaveHistory. A missing or
// inconsistent snapshot yields a fresh history at "/".
func LoadHistory(ctx context.Context, s storage.Store) (*MemoryHistory, error) {
	var snap HistorySnapshot
	ok, err := storage.GetJSON(ctx, s, HistoryKey, &snap)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if !ok || len(snap.Entries) == 0 || snap.Index < 0 || snap.Index >= len(snap.Entries) {
		return NewMemoryHistory("/"), nil
	}
	for _, e := range snap.Entries {
		if _, err := url.Parse(e); err != nil {
			return NewMemoryHistory("/"), nil
		}
	}
	return &MemoryHistory{entries: snap.Entries, index: snap.Index}, nil
}

func mustParse(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{Path: "/"}
	}
	return u
}
