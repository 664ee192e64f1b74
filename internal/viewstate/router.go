// Package viewstate mirrors the navigator's {view, tab} pair into the URL
// query string and the persistence port, and reports back/forward moves.
package viewstate

import (
	"context"
	"net/url"
	"sync"

	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
)

// Query parameter names
const (
	ParamView = "view"
	ParamTab  = "tab"
)

// Mode selects whether a commit adds a history entry
type Mode int

const (
	// Replace rewrites the current entry. Used for programmatic commits.
	Replace Mode = iota
	// Push adds an entry. Used for user-initiated view and tab changes.
	Push
)

func (m Mode) String() string {
	if m == Push {
		return "push"
	}
	return "replace"
}

// Router is the single navigation abstraction owned by a navigator
type Router struct {
	store   storage.Store
	history History
	logger  *errors.Logger

	mu      sync.Mutex
	handler func(types.NavigationState)
}

// NewRouter wires a router to a store and a history
func NewRouter(store storage.Store, history History, logger *errors.Logger) *Router {
	r := &Router{
		store:   store,
		history: history,
		logger:  logger,
	}
	history.OnPop(r.handlePop)
	return r
}

// ReadInitial resolves the state to show on start: URL first, then storage,
// then {login, profile}. View and tab fall back independently. Storage
// errors are logged and treated as absent values.
func (r *Router) ReadInitial(ctx context.Context) types.NavigationState {
	state := types.DefaultNavigationState()
	q := r.history.Location().Query()

	if v := q.Get(ParamView); v != "" {
		state.View = types.View(v)
	} else if v := r.stored(ctx, storage.KeyCurrentView); v != "" {
		state.View = types.View(v)
	}

	if t := q.Get(ParamTab); t != "" {
		state.Tab = t
	} else if t := r.stored(ctx, storage.KeyActiveTab); t != "" {
		state.Tab = t
	}

	return state
}

func (r *Router) stored(ctx context.Context, key string) string {
	v, _, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("Failed to read navigation state from storage", "key", key, "error", err)
		return ""
	}
	return v
}

// Navigate commits state. The view is always written to storage; the tab
// only when non-empty, so an omitted tab leaves the stored one untouched.
// The URL query is rebuilt from scratch as ?view=&tab=, dropping any other
// parameters; an omitted tab is filled from storage.
func (r *Router) Navigate(ctx context.Context, state types.NavigationState, mode Mode) error {
	if err := r.store.Set(ctx, storage.KeyCurrentView, string(state.View)); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot persist current view", err)
	}

	tab := state.Tab
	if tab != "" {
		if err := r.store.Set(ctx, storage.KeyActiveTab, tab); err != nil {
			return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot persist active tab", err)
		}
	} else {
		tab = r.stored(ctx, storage.KeyActiveTab)
	}

	u := StateURL(r.history.Location().Path, types.NavigationState{View: state.View, Tab: tab})
	if mode == Push {
		r.history.Push(u)
	} else {
		r.history.Replace(u)
	}

	r.logger.Debug("Navigation committed", "view", state.View, "tab", tab, "mode", mode.String())
	return nil
}

// ResetToRoot replaces the current entry with the bare application root
func (r *Router) ResetToRoot() {
	r.history.Replace(&url.URL{Path: "/"})
}

// OnExternalNavigation registers the handler for back/forward moves. The
// handler receives the state parsed from the URL alone.
func (r *Router) OnExternalNavigation(fn func(types.NavigationState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

// Back moves one entry back, reporting false at the start of history
func (r *Router) Back() bool {
	return r.history.Back()
}

// Forward moves one entry forward, reporting false at the end of history
func (r *Router) Forward() bool {
	return r.history.Forward()
}

// Location returns the current URL
func (r *Router) Location() *url.URL {
	return r.history.Location()
}

func (r *Router) handlePop(u *url.URL) {
	r.mu.Lock()
	fn := r.handler
	r.mu.Unlock()

	state := FromURL(u)
	r.logger.Debug("External navigation", "view", state.View, "tab", state.Tab)

	// Keep storage in line with the URL so a reload shows the same screen
	ctx := context.Background()
	if err := r.store.Set(ctx, storage.KeyCurrentView, string(state.View)); err != nil {
		r.logger.LogError(err, "Failed to persist view after history navigation")
	}
	if err := r.store.Set(ctx, storage.KeyActiveTab, state.Tab); err != nil {
		r.logger.LogError(err, "Failed to persist tab after history navigation")
	}

	if fn != nil {
		fn(state)
	}
}

// FromURL parses {view, tab} from a URL, falling back to {login, profile}
// for missing parameters. Unknown values are returned verbatim.
func FromURL(u *url.URL) types.NavigationState {
	state := types.DefaultNavigationState()
	if u == nil {
		return state
	}
	q := u.Query()
	if v := q.Get(ParamView); v != "" {
		state.View = types.View(v)
	}
	if t := q.Get(ParamTab); t != "" {
		state.Tab = t
	}
	return state
}

// StateURL builds path?view=<v>&tab=<t>
func StateURL(path string, state types.NavigationState) *url.URL {
	if path == "" {
		path = "/"
	}
	q := url.Values{}
	q.Set(ParamView, string(state.View))
	if state.Tab != "" {
		q.Set(ParamTab, state.Tab)
	}
	return &url.URL{Path: path, RawQuery: q.Encode()}
}
