package navigator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/viewstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoredIdentityWithSectionsReachesDashboard(t *testing.T) {
	profile := sectionsProfile("a@b.com")
	h := newHarness(t, "/", &fakeBackend{profile: profile})
	h.restoreIdentity(t, "a@b.com")

	require.NoError(t, h.nav.Start(context.Background()))

	s := h.nav.State()
	assert.Equal(t, types.NavigationState{View: types.ViewDashboard, Tab: types.TabProfile}, s.Navigation)
	assert.Equal(t, types.LoadingNone, s.Loading)
	assert.Same(t, profile, s.Profile)
	assert.False(t, h.log.visited(types.ViewUpload))
	assert.Equal(t, types.AuthMethodPassword, s.AuthMethod)
	assert.Equal(t, "dashboard", h.history.Location().Query().Get("view"))
}

func TestRestoredIdentityNotFoundReachesUpload(t *testing.T) {
	h := newHarness(t, "/", &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound, Message: "Profile not found"}})
	h.restoreIdentity(t, "a@b.com")

	require.NoError(t, h.nav.Start(context.Background()))

	s := h.nav.State()
	assert.Equal(t, types.ViewUpload, s.Navigation.View)
	assert.Nil(t, s.Profile)

	stored, _, _ := h.store.Get(context.Background(), storage.KeyCurrentView)
	assert.Equal(t, "upload", stored)
}

func TestServerErrorOnLoginFallsBackToUpload(t *testing.T) {
	h := newHarness(t, "/?view=login", &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusInternalServerError}})
	h.restoreIdentity(t, "a@b.com")

	require.NoError(t, h.nav.Start(context.Background()))
	assert.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)
}

func TestServerErrorElsewhereKeepsView(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusInternalServerError, Message: "database down"}}
	h := newHarness(t, "/?view=dashboard&tab=resumes", backend)
	h.restoreIdentity(t, "a@b.com")

	require.NoError(t, h.nav.Start(context.Background()))

	s := h.nav.State()
	assert.Equal(t, types.NavigationState{View: types.ViewDashboard, Tab: "resumes"}, s.Navigation)
	assert.Equal(t, "database down", s.Error)
}

func TestStartWithoutSessionStaysOnLogin(t *testing.T) {
	backend := &fakeBackend{}
	h := newHarness(t, "/", backend)

	require.NoError(t, h.nav.Start(context.Background()))

	s := h.nav.State()
	assert.Equal(t, types.DefaultNavigationState(), s.Navigation)
	assert.Nil(t, s.Identity)
	assert.Zero(t, backend.callCount("get_profile"))
}

func TestUnknownViewPassesThrough(t *testing.T) {
	h := newHarness(t, "/?view=wizard&tab=nope", &fakeBackend{})

	require.NoError(t, h.nav.Start(context.Background()))
	assert.Equal(t, types.NavigationState{View: "wizard", Tab: "nope"}, h.nav.State().Navigation)
}

func TestFederatedSessionAdoptedOnStart(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}}
	provider := &fakeProvider{identity: &types.Identity{Email: "fed@b.com", DisplayName: "Fed", ProviderSubjectID: "uid-1"}}
	h := newHarness(t, "/", backend, WithIdentityProvider(provider))

	require.NoError(t, h.nav.Start(context.Background()))

	ctx := context.Background()
	method, _, _ := h.store.Get(ctx, storage.KeyAuthMethod)
	token, _, _ := h.store.Get(ctx, storage.KeyAccessToken)
	var stored types.Identity
	ok, err := storage.GetJSON(ctx, h.store, storage.KeyUser, &stored)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, string(types.AuthMethodFederated), method)
	assert.Equal(t, "fed-tok", token)
	assert.Equal(t, "fed@b.com", stored.Email)
	assert.Equal(t, []types.Identity{*provider.identity}, backend.federated)
	assert.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)
}

func TestFederatedExchangeFailureStillRunsGate(t *testing.T) {
	backend := &fakeBackend{profile: sectionsProfile("fed@b.com"), fedErr: &api.Error{StatusCode: 500, Message: "exchange failed"}}
	h := newHarness(t, "/", backend)

	require.NoError(t, h.nav.LoginFederated(context.Background(), types.Identity{Email: "fed@b.com"}))

	s := h.nav.State()
	assert.Equal(t, types.ViewDashboard, s.Navigation.View)
	assert.Equal(t, "exchange failed", s.Error)
	_, ok, _ := h.store.Get(context.Background(), storage.KeyAccessToken)
	assert.False(t, ok)
}

func TestPasswordLogin(t *testing.T) {
	backend := &fakeBackend{profile: sectionsProfile("a@b.com")}
	h := newHarness(t, "/", backend)

	var loading []types.LoadingState
	h.nav.Subscribe(func(s State) {
		if len(loading) == 0 || loading[len(loading)-1] != s.Loading {
			loading = append(loading, s.Loading)
		}
	})

	require.NoError(t, h.nav.LoginWithPassword(context.Background(), "a@b.com", "secret"))

	assert.Equal(t, []types.LoadingState{
		types.LoadingAuthenticating,
		types.LoadingCheckingProfile,
		types.LoadingNone,
	}, loading)

	token, _, _ := h.store.Get(context.Background(), storage.KeyAccessToken)
	assert.Equal(t, "tok", token)
	assert.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)
}

func TestPasswordLoginFailureStaysOnLogin(t *testing.T) {
	backend := &fakeBackend{authErr: &api.Error{StatusCode: http.StatusUnauthorized, Message: "Incorrect email or password"}}
	h := newHarness(t, "/", backend)
	require.NoError(t, h.nav.Start(context.Background()))

	err := h.nav.LoginWithPassword(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)

	s := h.nav.State()
	assert.Equal(t, types.ViewLogin, s.Navigation.View)
	assert.Equal(t, types.LoadingNone, s.Loading)
	assert.Equal(t, "Incorrect email or password", s.Error)
	assert.Zero(t, backend.callCount("get_profile"))
}

func TestLoginValidation(t *testing.T) {
	backend := &fakeBackend{}
	h := newHarness(t, "/", backend)

	err := h.nav.LoginWithPassword(context.Background(), " ", "secret")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Zero(t, backend.callCount("login"))

	err = h.nav.Register(context.Background(), "", "a@b.com", "secret")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestOnboardingFunnelWithCountdown(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		profileErr: &api.Error{StatusCode: http.StatusNotFound},
		upload: &types.UploadResult{ExtractedData: json.RawMessage(
			`{"sections":[{"section_name":"Skills","subsections":[{"title":"Languages","data":["Go"]}]}]}`)},
	}
	h := newHarness(t, "/", backend)
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(ctx))
	require.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)

	draft, err := h.nav.UploadResume(ctx, types.UploadFile{Name: "cv.pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.com"}, backend.uploadIDs)
	assert.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)

	require.NoError(t, h.nav.CompleteUpload(ctx, *draft))
	assert.Equal(t, types.ViewRoles, h.nav.State().Navigation.View)

	require.NoError(t, h.nav.CompleteRoles(ctx, []string{"Backend Engineer"}))
	s := h.nav.State()
	assert.Equal(t, types.ViewCongratulations, s.Navigation.View)
	assert.Equal(t, 15*time.Second, h.nav.CountdownRemaining())

	require.Len(t, backend.saved, 1)
	assert.Equal(t, "a@b.com", backend.saved[0].email)
	assert.Equal(t, []string{"Backend Engineer"}, backend.saved[0].roles)
	assert.JSONEq(t, `{"sections":[{"section_name":"Skills","subsections":[{"title":"Languages","data":["Go"]}]}]}`,
		string(backend.saved[0].data))

	refreshed := sectionsProfile("a@b.com")
	backend.setProfile(refreshed, nil)

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, types.ViewCongratulations, h.nav.State().Navigation.View)
	assert.Equal(t, 5*time.Second, h.nav.CountdownRemaining())

	h.clock.Advance(5 * time.Second)
	s = h.nav.State()
	assert.Equal(t, types.NavigationState{View: types.ViewDashboard, Tab: types.TabProfile}, s.Navigation)
	assert.Same(t, refreshed, s.Profile)
	assert.Nil(t, s.Draft)
	assert.Zero(t, h.nav.CountdownRemaining())
}

func enterCongratulations(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(ctx))
	require.NoError(t, h.nav.CompleteUpload(ctx, types.OnboardingDraft{Resume: *sectionsProfile("a@b.com").ResumeData}))
	require.NoError(t, h.nav.CompleteRoles(ctx, []string{"Data Scientist"}))
	require.Equal(t, types.ViewCongratulations, h.nav.State().Navigation.View)
}

func TestGoNowSkipsCountdown(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}}
	h := newHarness(t, "/", backend)
	enterCongratulations(t, h)

	// Refresh failures do not block the move
	backend.setProfile(nil, &api.Error{StatusCode: http.StatusInternalServerError})
	before := backend.callCount("get_profile")

	require.NoError(t, h.nav.GoNow(context.Background()))
	assert.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)
	assert.Equal(t, before+1, backend.callCount("get_profile"))
	assert.Zero(t, h.clock.pending())

	// The cancelled countdown must not fire later
	h.clock.Advance(time.Minute)
	assert.Equal(t, before+1, backend.callCount("get_profile"))
}

func TestCountdownCancelledOnBack(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}}
	h := newHarness(t, "/", backend)
	enterCongratulations(t, h)
	before := backend.callCount("get_profile")

	require.True(t, h.nav.Back())
	assert.Equal(t, types.ViewRoles, h.nav.State().Navigation.View)
	assert.Zero(t, h.clock.pending())

	h.clock.Advance(time.Minute)
	assert.Equal(t, types.ViewRoles, h.nav.State().Navigation.View)
	assert.Equal(t, before, backend.callCount("get_profile"))

	// Forward re-enters congratulations and restarts the countdown
	require.True(t, h.nav.Forward())
	assert.Equal(t, types.ViewCongratulations, h.nav.State().Navigation.View)
	h.clock.Advance(15 * time.Second)
	assert.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)
}

func TestCompleteRolesSaveFailureStaysOnRoles(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}, saveErr: &api.Error{StatusCode: 422, Message: "email: field required"}}
	h := newHarness(t, "/", backend)
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(context.Background()))
	require.NoError(t, h.nav.CompleteUpload(context.Background(), types.OnboardingDraft{}))

	err := h.nav.CompleteRoles(context.Background(), []string{"PM"})
	require.Error(t, err)

	s := h.nav.State()
	assert.Equal(t, types.ViewRoles, s.Navigation.View)
	assert.Equal(t, "email: field required", s.Error)
	assert.Zero(t, h.clock.pending())
}

func TestCompleteRolesWithoutDraftSendsEmptySections(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}}
	h := newHarness(t, "/", backend)
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(context.Background()))
	require.NoError(t, h.nav.CompleteUpload(context.Background(), types.OnboardingDraft{}))
	require.NoError(t, h.nav.CompleteRoles(context.Background(), []string{"PM"}))

	require.Len(t, backend.saved, 1)
	assert.JSONEq(t, `{"sections":[]}`, string(backend.saved[0].data))
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/", &fakeBackend{})
	require.NoError(t, h.nav.Start(ctx))

	for name, err := range map[string]error{
		"complete upload": h.nav.CompleteUpload(ctx, types.OnboardingDraft{}),
		"complete roles":  h.nav.CompleteRoles(ctx, []string{"PM"}),
		"go now":          h.nav.GoNow(ctx),
		"select tab":      h.nav.SelectTab(ctx, "analytics"),
	} {
		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr, name)
		assert.Equal(t, errors.ErrCodeInvalidTransition, appErr.Code, name)
	}
	assert.Equal(t, types.ViewLogin, h.nav.State().Navigation.View)
}

func TestUploadRequiresSession(t *testing.T) {
	h := newHarness(t, "/", &fakeBackend{})
	_, err := h.nav.UploadResume(context.Background(), types.UploadFile{Name: "cv.pdf"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuth))
}

func TestUploadRejectsBadExtraction(t *testing.T) {
	backend := &fakeBackend{
		profileErr: &api.Error{StatusCode: http.StatusNotFound},
		upload:     &types.UploadResult{ExtractedData: json.RawMessage(`{"sections":[{"section_name":"Skills"}]}`)},
	}
	h := newHarness(t, "/", backend)
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(context.Background()))

	_, err := h.nav.UploadResume(context.Background(), types.UploadFile{Name: "cv.pdf"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, h.nav.State().Error, "missing subsections")
	assert.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)
}

func TestSelectTabPushesHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "/", &fakeBackend{profile: sectionsProfile("a@b.com")})
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(ctx))
	entries := h.history.Len()

	require.NoError(t, h.nav.SelectTab(ctx, "analytics"))
	assert.Equal(t, entries+1, h.history.Len())
	assert.Equal(t, types.NavigationState{View: types.ViewDashboard, Tab: "analytics"}, h.nav.State().Navigation)

	tab, _, _ := h.store.Get(ctx, storage.KeyActiveTab)
	assert.Equal(t, "analytics", tab)

	assert.ErrorContains(t, h.nav.SelectTab(ctx, ""), "tab is required")
}

func TestBackNavigationForcesUpload(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}}
	h := newHarness(t, "/", backend)
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(ctx))
	require.NoError(t, h.nav.CompleteUpload(ctx, types.OnboardingDraft{}))
	require.Equal(t, types.ViewRoles, h.nav.State().Navigation.View)

	require.True(t, h.nav.Back())

	assert.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)
	view, _, _ := h.store.Get(ctx, storage.KeyCurrentView)
	assert.Equal(t, "upload", view)
}

func logoutKeysCleared(t *testing.T, h *harness) {
	t.Helper()
	snapshot := h.store.Snapshot()
	for _, key := range storage.SessionKeys {
		_, ok := snapshot[key]
		assert.False(t, ok, key)
	}
}

func TestLogoutPassword(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	h := newHarness(t, "/", &fakeBackend{profile: sectionsProfile("a@b.com")}, WithIdentityProvider(provider))
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(ctx))
	require.NoError(t, h.nav.SelectTab(ctx, "analytics"))

	require.NoError(t, h.nav.Logout(ctx))

	s := h.nav.State()
	assert.Equal(t, types.ViewLogin, s.Navigation.View)
	assert.Nil(t, s.Identity)
	assert.Nil(t, s.Profile)
	assert.Equal(t, types.AuthMethodNone, s.AuthMethod)
	assert.Empty(t, provider.redirects)
	assert.Equal(t, "/", h.history.Location().String())
	logoutKeysCleared(t, h)
}

func TestLogoutFederated(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{signOutURL: "https://idp.example.com/logout?post_logout_redirect_uri=x"}
	backend := &fakeBackend{profile: sectionsProfile("fed@b.com")}
	h := newHarness(t, "/", backend, WithIdentityProvider(provider))
	require.NoError(t, h.nav.LoginFederated(ctx, types.Identity{Email: "fed@b.com"}))
	require.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)

	require.NoError(t, h.nav.Logout(ctx))

	assert.Equal(t, []string{"http://localhost:8080/"}, provider.redirects)
	assert.Equal(t, provider.signOutURL, h.nav.State().SignOutURL)
	assert.Equal(t, types.ViewLogin, h.nav.State().Navigation.View)
	logoutKeysCleared(t, h)
}

func TestLogoutDuringCongratulationsCancelsCountdown(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}}
	h := newHarness(t, "/", backend)
	enterCongratulations(t, h)

	require.NoError(t, h.nav.Logout(context.Background()))
	h.clock.Advance(time.Minute)

	assert.Equal(t, types.ViewLogin, h.nav.State().Navigation.View)
	logoutKeysCleared(t, h)
}

func TestStaleProfileCheckDiscarded(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	backend := &fakeBackend{profile: sectionsProfile("a@b.com"), release: release}
	h := newHarness(t, "/", backend)
	h.restoreIdentity(t, "a@b.com")

	done := make(chan error, 1)
	go func() { done <- h.nav.Start(ctx) }()

	_, err := h.nav.WaitFor(ctx, func(s State) bool { return s.Loading == types.LoadingCheckingProfile })
	require.NoError(t, err)

	require.NoError(t, h.nav.Logout(ctx))
	close(release)
	require.NoError(t, <-done)

	s := h.nav.State()
	assert.Equal(t, types.ViewLogin, s.Navigation.View)
	assert.Nil(t, s.Profile)
	assert.False(t, h.log.visited(types.ViewDashboard))
}

func TestNewerCheckWins(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}, release: release}
	h := newHarness(t, "/", backend)
	h.restoreIdentity(t, "a@b.com")

	first := make(chan error, 1)
	go func() { first <- h.nav.Start(ctx) }()
	_, err := h.nav.WaitFor(ctx, func(s State) bool { return s.Loading == types.LoadingCheckingProfile })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return backend.callCount("get_profile") == 1 }, time.Second, time.Millisecond)

	// Unblock only the refresh below; the first check stays parked
	backend.mu.Lock()
	backend.release = nil
	backend.profile, backend.profileErr = sectionsProfile("a@b.com"), nil
	backend.mu.Unlock()

	require.NoError(t, h.nav.CheckProfile(ctx))
	require.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)

	backend.setProfile(nil, &api.Error{StatusCode: http.StatusNotFound})
	close(release)
	require.NoError(t, <-first)

	assert.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)
}

func TestUnauthorizedResetsToLogin(t *testing.T) {
	ctx := context.Background()
	var unauthorized atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if unauthorized.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(sectionsProfile("a@b.com"))
	}))
	t.Cleanup(srv.Close)

	store := storage.NewMemoryStore()
	client := api.NewClient(config.APIConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, store, nil)
	history := viewstate.NewMemoryHistory("/")
	router := viewstate.NewRouter(store, history, nil)
	nav := New(testNavigatorConfig(), store, router, client, WithClock(newFakeClock()))

	require.NoError(t, storage.SetJSON(ctx, store, storage.KeyUser, types.Identity{Email: "a@b.com"}))
	require.NoError(t, store.Set(ctx, storage.KeyAccessToken, "expired"))
	require.NoError(t, nav.Start(ctx))
	require.Equal(t, types.ViewDashboard, nav.State().Navigation.View)

	unauthorized.Store(true)
	err := nav.CheckProfile(ctx)
	require.Error(t, err)

	s := nav.State()
	assert.Equal(t, types.ViewLogin, s.Navigation.View)
	assert.Nil(t, s.Identity)
	assert.Equal(t, sessionExpiredMessage, s.Error)
	assert.Equal(t, "/", history.Location().String())

	view, _, _ := store.Get(ctx, storage.KeyCurrentView)
	assert.Equal(t, "login", view)
	_, ok, _ := store.Get(ctx, storage.KeyAccessToken)
	assert.False(t, ok)
}

func TestExternalLogoutSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemoryStore()
	backend := &fakeBackend{profile: sectionsProfile("a@b.com")}
	a := newHarnessWithStore(t, "/", store, backend)
	b := newHarnessWithStore(t, "/", store, backend)
	a.restoreIdentity(t, "a@b.com")

	require.NoError(t, a.nav.Start(ctx))
	require.NoError(t, b.nav.Start(ctx))
	require.Equal(t, types.ViewDashboard, b.nav.State().Navigation.View)
	require.NoError(t, b.nav.WatchExternalLogout(ctx))

	require.NoError(t, a.nav.Logout(ctx))

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	s, err := b.nav.WaitFor(waitCtx, func(s State) bool { return s.Navigation.View == types.ViewLogin })
	require.NoError(t, err)
	assert.Nil(t, s.Identity)
}

func TestReloadOnCongratulationsRestartsCountdown(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusInternalServerError}}
	h := newHarness(t, "/?view=congratulations", backend)
	h.restoreIdentity(t, "a@b.com")

	require.NoError(t, h.nav.Start(context.Background()))
	require.Equal(t, types.ViewCongratulations, h.nav.State().Navigation.View)

	backend.setProfile(sectionsProfile("a@b.com"), nil)
	h.clock.Advance(15 * time.Second)
	assert.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	h := newHarness(t, "/", &fakeBackend{})
	calls := 0
	unsubscribe := h.nav.Subscribe(func(State) { calls++ })

	require.NoError(t, h.nav.Start(context.Background()))
	seen := calls
	assert.Positive(t, seen)

	unsubscribe()
	require.NoError(t, h.nav.Logout(context.Background()))
	assert.Equal(t, seen, calls)
}

func TestCloseStopsCountdown(t *testing.T) {
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusInternalServerError}}
	h := newHarness(t, "/?view=congratulations", backend)
	h.restoreIdentity(t, "a@b.com")

	require.NoError(t, h.nav.Start(context.Background()))
	require.Equal(t, types.ViewCongratulations, h.nav.State().Navigation.View)
	require.Equal(t, 1, h.clock.pending())

	h.nav.Close()
	assert.Zero(t, h.clock.pending())
	assert.Zero(t, h.nav.CountdownRemaining())

	// Moving back onto congratulations does not re-arm a closed navigator
	h.nav.handleExternalNavigation(types.NavigationState{View: types.ViewRoles})
	h.nav.handleExternalNavigation(types.NavigationState{View: types.ViewCongratulations})
	assert.Zero(t, h.clock.pending())

	backend.setProfile(sectionsProfile("a@b.com"), nil)
	h.clock.Advance(time.Minute)
	assert.Equal(t, types.ViewCongratulations, h.nav.State().Navigation.View)
}

func TestCloseEndsExternalLogoutWatch(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	backend := &fakeBackend{profile: sectionsProfile("a@b.com")}
	h := newHarnessWithStore(t, "/", store, backend)
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(ctx))
	require.NoError(t, h.nav.WatchExternalLogout(ctx))

	h.nav.Close()
	require.NoError(t, store.Delete(ctx, storage.KeyAccessToken))

	assert.Never(t, func() bool { return h.nav.State().Identity == nil }, 200*time.Millisecond, 10*time.Millisecond)
	assert.NoError(t, h.nav.WatchExternalLogout(ctx))
}

func TestWatchCatchesEarlierLogout(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	backend := &fakeBackend{profile: sectionsProfile("a@b.com")}
	h := newHarnessWithStore(t, "/", store, backend)
	h.restoreIdentity(t, "a@b.com")
	require.NoError(t, h.nav.Start(ctx))
	require.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)

	// Another writer signs out before this navigator starts watching
	require.NoError(t, store.Delete(ctx, storage.KeyAccessToken))
	require.NoError(t, h.nav.WatchExternalLogout(ctx))
	t.Cleanup(h.nav.Close)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s, err := h.nav.WaitFor(waitCtx, func(s State) bool { return s.Navigation.View == types.ViewLogin })
	require.NoError(t, err)
	assert.Nil(t, s.Identity)
}

func TestLoginCheckOutlivesCaller(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{profile: sectionsProfile("a@b.com"), release: release}
	h := newHarness(t, "/", backend)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.nav.LoginWithPassword(ctx, "a@b.com", "pw") }()

	require.Eventually(t, func() bool { return backend.callCount("get_profile") == 1 }, time.Second, time.Millisecond)
	cancel()
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, types.ViewDashboard, h.nav.State().Navigation.View)
	assert.False(t, h.log.visited(types.ViewUpload))
}

func TestRecheckOnUploadKeepsHistory(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{profileErr: &api.Error{StatusCode: http.StatusNotFound}}
	h := newHarness(t, "/?view=upload", backend)
	h.restoreIdentity(t, "a@b.com")

	require.NoError(t, h.nav.Start(ctx))
	require.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)
	entries := h.history.Len()

	assert.True(t, api.IsNotFound(h.nav.CheckProfile(ctx)))
	assert.True(t, api.IsNotFound(h.nav.CheckProfile(ctx)))
	assert.Equal(t, types.ViewUpload, h.nav.State().Navigation.View)
	assert.Equal(t, entries, h.history.Len())
	assert.False(t, h.nav.Back())
}
