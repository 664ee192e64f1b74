package navigator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/viewstate"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks on the caller's goroutine
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type savedProfile struct {
	email string
	data  json.RawMessage
	roles []string
}

type fakeBackend struct {
	mu sync.Mutex

	profile    *types.Profile
	profileErr error
	// release, when set, blocks GetProfile until a value is received
	release chan struct{}

	authResp *types.AuthResponse
	authErr  error
	fedErr   error
	saveErr  error
	upload   *types.UploadResult

	calls     []string
	saved     []savedProfile
	federated []types.Identity
	uploadIDs []string
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBackend) Login(_ context.Context, email, _ string) (*types.AuthResponse, error) {
	f.record("login")
	if f.authErr != nil {
		return nil, f.authErr
	}
	if f.authResp != nil {
		return f.authResp, nil
	}
	return &types.AuthResponse{AccessToken: "tok", User: types.User{ID: "1", Email: email}}, nil
}

func (f *fakeBackend) Register(ctx context.Context, _, email, password string) (*types.AuthResponse, error) {
	return f.Login(ctx, email, password)
}

func (f *fakeBackend) FederatedLogin(_ context.Context, identity types.Identity) (*types.AuthResponse, error) {
	f.record("federated")
	f.mu.Lock()
	f.federated = append(f.federated, identity)
	f.mu.Unlock()
	if f.fedErr != nil {
		return nil, f.fedErr
	}
	return &types.AuthResponse{AccessToken: "fed-tok", User: types.User{Email: identity.Email}}, nil
}

func (f *fakeBackend) GetProfile(ctx context.Context, _ string) (*types.Profile, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "get_profile")
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, f.profileErr
}

func (f *fakeBackend) SaveProfile(_ context.Context, email string, profileData json.RawMessage, roles []string) error {
	f.record("save_profile")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, savedProfile{email: email, data: profileData, roles: roles})
	return nil
}

func (f *fakeBackend) UploadResume(_ context.Context, _ types.UploadFile, userID string) (*types.UploadResult, error) {
	f.record("upload")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadIDs = append(f.uploadIDs, userID)
	return f.upload, nil
}

func (f *fakeBackend) setProfile(p *types.Profile, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile, f.profileErr = p, err
}

type fakeProvider struct {
	identity   *types.Identity
	signOutURL string
	redirects  []string
}

func (p *fakeProvider) ActiveIdentity(context.Context) (*types.Identity, error) {
	return p.identity, nil
}

func (p *fakeProvider) SignOut(_ context.Context, redirect string) (string, error) {
	p.redirects = append(p.redirects, redirect)
	return p.signOutURL, nil
}

type transitionLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *transitionLog) RecordTransition(_ context.Context, from, to, trigger string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, from+">"+to+":"+trigger)
}

func (l *transitionLog) visited(view types.View) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, ">"+string(view)+":") {
			return true
		}
	}
	return false
}

type harness struct {
	nav     *Navigator
	store   *storage.MemoryStore
	history *viewstate.MemoryHistory
	clock   *fakeClock
	backend *fakeBackend
	log     *transitionLog
}

func testNavigatorConfig() config.NavigatorConfig {
	return config.NavigatorConfig{
		Countdown:  15 * time.Second,
		DefaultTab: types.TabProfile,
		AppRoot:    "http://localhost:8080/",
	}
}

func newHarness(t *testing.T, start string, backend *fakeBackend, opts ...Option) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	return newHarnessWithStore(t, start, store, backend, opts...)
}

func newHarnessWithStore(t *testing.T, start string, store *storage.MemoryStore, backend *fakeBackend, opts ...Option) *harness {
	t.Helper()
	history := viewstate.NewMemoryHistory(start)
	router := viewstate.NewRouter(store, history, nil)
	clock := newFakeClock()
	log := &transitionLog{}

	opts = append([]Option{WithClock(clock), WithRecorder(log)}, opts...)
	nav := New(testNavigatorConfig(), store, router, backend, opts...)
	return &harness{nav: nav, store: store, history: history, clock: clock, backend: backend, log: log}
}

func (h *harness) restoreIdentity(t *testing.T, email string) {
	t.Helper()
	ctx := context.Background()
	if err := storage.SetJSON(ctx, h.store, storage.KeyUser, types.Identity{Email: email}); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Set(ctx, storage.KeyAuthMethod, string(types.AuthMethodPassword)); err != nil {
		t.Fatal(err)
	}
	if err := h.store.Set(ctx, storage.KeyAccessToken, "stored-token"); err != nil {
		t.Fatal(err)
	}
}

func sectionsProfile(email string) *types.Profile {
	return &types.Profile{
		Email: email,
		ResumeData: &types.ResumeData{Sections: []types.Section{
			{SectionName: "Experience", Subsections: []types.Subsection{{Title: "Acme", Data: []string{"Shipped"}}}},
		}},
		SelectedRoles: []string{"Backend Engineer"},
	}
}
