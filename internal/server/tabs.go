package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/identity"
	"resumeunlocked/internal/navigator"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/viewstate"
)

// StoreFactory returns the local storage of one browser tab
type StoreFactory func(tabID string) storage.Store

// MemoryStores keeps every tab's storage in process memory
func MemoryStores() StoreFactory {
	return func(string) storage.Store { return storage.NewMemoryStore() }
}

// RedisStores keeps each tab's storage in Redis under prefix+tabID+":"
func RedisStores(client redis.UniversalClient, prefix string, ttl time.Duration) StoreFactory {
	return func(tabID string) storage.Store {
		return storage.NewRedisStore(client, prefix+tabID+":", ttl)
	}
}

// Recorder receives API client and navigator events for every tab
type Recorder interface {
	api.Recorder
	navigator.Recorder
}

// Tab is the navigator hosted for one browser tab
type Tab struct {
	ID        string
	Navigator *navigator.Navigator
	Client    *api.Client
	Store     storage.Store
	History   *viewstate.MemoryHistory
	Identity  *identity.OIDCProvider

	mu       sync.Mutex
	pending  *identity.AuthRequest
	lastSeen time.Time

	// cancel ends the tab's background work
	cancel context.CancelFunc
}

// close stops the navigator's countdown and watchers
func (t *Tab) close() {
	t.Navigator.Close()
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Tab) touch(now time.Time) {
	t.mu.Lock()
	t.lastSeen = now
	t.mu.Unlock()
}

func (t *Tab) idleSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

// setPending remembers the federated sign-in that is waiting for its callback
func (t *Tab) setPending(req *identity.AuthRequest) {
	t.mu.Lock()
	t.pending = req
	t.mu.Unlock()
}

// takePending returns and forgets the pending sign-in when state matches
func (t *Tab) takePending(state string) *identity.AuthRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil || t.pending.State != state {
		return nil
	}
	req := t.pending
	t.pending = nil
	return req
}

// saveHistory persists the back/forward stack so a restarted server with
// shared storage resumes where the tab left off
func (t *Tab) saveHistory(ctx context.Context) error {
	return viewstate.SaveHistory(ctx, t.Store, t.History)
}

// TabManager creates, finds and evicts per-tab navigators
type TabManager struct {
	mu   sync.Mutex
	tabs map[string]*Tab

	newStore   StoreFactory
	apiCfg     config.APIConfig
	navCfg     config.NavigatorConfig
	oidc       *identity.OIDCProvider
	recorder   Recorder
	httpClient *http.Client
	idleTTL    time.Duration
	logger     *errors.Logger
	now        func() time.Time

	done chan struct{}
	once sync.Once
}

// TabOption configures a TabManager
type TabOption func(*TabManager)

// WithFederation lets tabs sign in through p
func WithFederation(p *identity.OIDCProvider) TabOption {
	return func(m *TabManager) { m.oidc = p }
}

// WithTabRecorder reports every tab's API and navigation events to r
func WithTabRecorder(r Recorder) TabOption {
	return func(m *TabManager) { m.recorder = r }
}

// WithBackendHTTPClient sets the HTTP client tabs use to reach the backend
func WithBackendHTTPClient(hc *http.Client) TabOption {
	return func(m *TabManager) { m.httpClient = hc }
}

// WithIdleTTL sets how long an unused tab stays in memory
func WithIdleTTL(d time.Duration) TabOption {
	return func(m *TabManager) {
		if d > 0 {
			m.idleTTL = d
		}
	}
}

// NewTabManager creates a manager whose tabs use stores from newStore
func NewTabManager(apiCfg config.APIConfig, navCfg config.NavigatorConfig, newStore StoreFactory, logger *errors.Logger, opts ...TabOption) *TabManager {
	m := &TabManager{
		tabs:     make(map[string]*Tab),
		newStore: newStore,
		apiCfg:   apiCfg,
		navCfg:   navCfg,
		idleTTL:  30 * time.Minute,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the tab for id, creating and starting a navigator when the
// id is unknown or not a valid tab id. created reports whether a new id
// was issued.
func (m *TabManager) Get(ctx context.Context, id string) (tab *Tab, created bool, err error) {
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		id = ""
	}

	m.mu.Lock()
	if t, ok := m.tabs[id]; ok && id != "" {
		m.mu.Unlock()
		t.touch(m.now())
		return t, false, nil
	}
	m.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
		created = true
	}

	t, err := m.open(ctx, id)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	// Another request for the same tab may have won the race
	if existing, ok := m.tabs[id]; ok {
		m.mu.Unlock()
		t.close()
		existing.touch(m.now())
		return existing, created, nil
	}
	m.tabs[id] = t
	m.mu.Unlock()
	return t, created, nil
}

func (m *TabManager) open(ctx context.Context, id string) (*Tab, error) {
	store := m.newStore(id)

	history, err := viewstate.LoadHistory(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("restore tab history: %w", err)
	}

	logger := m.logger.With("tab", id)
	clientOpts := []api.Option{}
	if m.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(m.httpClient))
	}
	if m.recorder != nil {
		clientOpts = append(clientOpts, api.WithRecorder(m.recorder))
	}
	client := api.NewClient(m.apiCfg, store, logger, clientOpts...)

	router := viewstate.NewRouter(store, history, logger)
	navOpts := []navigator.Option{navigator.WithLogger(logger)}
	if m.recorder != nil {
		navOpts = append(navOpts, navigator.WithRecorder(m.recorder))
	}

	tab := &Tab{
		ID:       id,
		Client:   client,
		Store:    store,
		History:  history,
		lastSeen: m.now(),
	}
	if m.oidc != nil {
		tab.Identity = m.oidc.ForStore(store)
		navOpts = append(navOpts, navigator.WithIdentityProvider(tab.Identity))
	}
	tab.Navigator = navigator.New(m.navCfg, store, router, client, navOpts...)

	if err := tab.Navigator.Start(ctx); err != nil {
		tab.Navigator.Close()
		return nil, fmt.Errorf("start tab navigator: %w", err)
	}
	if m.navCfg.SyncExternalLogout {
		var tabCtx context.Context
		tabCtx, tab.cancel = context.WithCancel(context.WithoutCancel(ctx))
		if err := tab.Navigator.WatchExternalLogout(tabCtx); err != nil {
			logger.Warn("Cross-process logout sync unavailable", "error", err)
		}
	}

	logger.Debug("Opened tab", "view", tab.Navigator.State().Navigation.View)
	return tab, nil
}

// Len returns the number of tabs held in memory
func (m *TabManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}

// Evict drops tabs that have been idle longer than the idle TTL and stops
// their background work. With shared stores such as Redis a returning tab
// is restored from its storage; with MemoryStores its session is gone.
func (m *TabManager) Evict() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var evicted []*Tab
	for id, t := range m.tabs {
		if t.idleSince().Before(cutoff) {
			delete(m.tabs, id)
			evicted = append(evicted, t)
		}
	}
	m.mu.Unlock()

	for _, t := range evicted {
		t.close()
	}
	return len(evicted)
}

// StartEviction runs Evict every interval until Close is called
func (m *TabManager) StartEviction(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.Evict(); n > 0 {
					m.logger.Debug("Evicted idle tabs", "count", n, "remaining", m.Len())
				}
			case <-m.done:
				return
			}
		}
	}()
}

// Close stops the eviction loop and every open tab
func (m *TabManager) Close() {
	m.once.Do(func() {
		close(m.done)

		m.mu.Lock()
		tabs := make([]*Tab, 0, len(m.tabs))
		for id, t := range m.tabs {
			tabs = append(tabs, t)
			delete(m.tabs, id)
		}
		m.mu.Unlock()

		for _, t := range tabs {
			t.close()
		}
	})
}

// GetStats returns tab statistics for the stats endpoint
func (m *TabManager) GetStats() map[string]any {
	return map[string]any{
		"active_tabs":   m.Len(),
		"idle_ttl":      m.idleTTL.String(),
		"federated":     m.oidc != nil,
		"sync_external": m.navCfg.SyncExternalLogout,
	}
}
