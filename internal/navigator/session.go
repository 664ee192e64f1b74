package navigator

import (
	"context"
	"strings"
	"time"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/gate"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/viewstate"
)

const sessionExpiredMessage = "Your session has expired. Please sign in again."

// profileCheckTimeout bounds a profile check that no longer follows its caller
const profileCheckTimeout = 30 * time.Second

// Start resolves the initial screen and restores the session. A saved
// identity is checked against the backend; without one, an active
// federated session is adopted when an identity provider is configured.
func (n *Navigator) Start(ctx context.Context) error {
	initial := n.router.ReadInitial(ctx)

	n.mu.Lock()
	n.state.Navigation = initial
	if initial.View == types.ViewCongratulations {
		n.startCountdownLocked()
	}
	err := n.router.Navigate(ctx, initial, viewstate.Replace)
	n.unlockAndPublish()
	if err != nil {
		return err
	}

	n.logger.Debug("Navigator started", "view", string(initial.View), "tab", initial.Tab)

	if identity, method := n.restoreIdentity(ctx); identity != nil {
		n.mu.Lock()
		n.state.Identity = identity
		n.state.AuthMethod = method
		n.unlockAndPublish()

		n.checkProfile(ctx, identity.Email, "restore")
		return nil
	}

	if n.identity == nil {
		return nil
	}

	n.setLoading(types.LoadingAuthenticating)
	identity, err := n.identity.ActiveIdentity(ctx)
	if err != nil {
		n.logger.LogError(err, "Failed to query identity provider")
		n.setLoading(types.LoadingNone)
		return nil
	}
	if identity == nil {
		n.setLoading(types.LoadingNone)
		return nil
	}
	return n.LoginFederated(ctx, *identity)
}

func (n *Navigator) restoreIdentity(ctx context.Context) (*types.Identity, types.AuthMethod) {
	var identity types.Identity
	ok, err := storage.GetJSON(ctx, n.store, storage.KeyUser, &identity)
	if err != nil {
		n.logger.Warn("Ignoring unreadable stored identity", "error", err)
		return nil, types.AuthMethodNone
	}
	if !ok || identity.Email == "" {
		return nil, types.AuthMethodNone
	}

	method := types.AuthMethodPassword
	if raw, _ := storage.GetString(ctx, n.store, storage.KeyAuthMethod); raw != "" {
		method = types.AuthMethod(raw)
	}
	return &identity, method
}

// LoginWithPassword signs in with email and password
func (n *Navigator) LoginWithPassword(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "email and password are required", nil)
	}

	n.beginAuth()
	resp, err := n.backend.Login(ctx, email, password)
	if err != nil {
		return n.failAuth(err, "Login failed. Please try again.")
	}
	return n.establish(ctx, identityFrom(resp, email), types.AuthMethodPassword, resp.AccessToken)
}

// Register creates an account and signs in with it
func (n *Navigator) Register(ctx context.Context, username, email, password string) error {
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "username, email and password are required", nil)
	}

	n.beginAuth()
	resp, err := n.backend.Register(ctx, username, email, password)
	if err != nil {
		return n.failAuth(err, "Registration failed. Please try again.")
	}
	return n.establish(ctx, identityFrom(resp, email), types.AuthMethodPassword, resp.AccessToken)
}

// LoginFederated adopts an identity confirmed by the identity provider and
// exchanges it for a backend token. A failed exchange is reported through
// the state error but does not block the profile check.
func (n *Navigator) LoginFederated(ctx context.Context, identity types.Identity) error {
	if identity.Email == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "federated identity has no email", nil)
	}

	n.beginAuth()
	var token string
	resp, err := n.backend.FederatedLogin(ctx, identity)
	if err != nil {
		n.logger.LogError(err, "Federated token exchange failed", "email", identity.Email)
		n.mu.Lock()
		n.state.Error = api.UserMessage(err, "Could not complete sign-in with the backend.")
		n.unlockAndPublish()
	} else {
		token = resp.AccessToken
	}
	return n.establish(ctx, identity, types.AuthMethodFederated, token)
}

func identityFrom(resp *types.AuthResponse, email string) types.Identity {
	identity := resp.User.Identity()
	if identity.Email == "" {
		identity.Email = email
	}
	return identity
}

func (n *Navigator) beginAuth() {
	n.mu.Lock()
	n.state.Loading = types.LoadingAuthenticating
	n.state.Error = ""
	n.state.SignOutURL = ""
	n.unlockAndPublish()
}

func (n *Navigator) failAuth(err error, fallback string) error {
	n.logger.LogError(err, "Authentication failed")
	n.mu.Lock()
	n.state.Loading = types.LoadingNone
	n.state.Error = api.UserMessage(err, fallback)
	n.unlockAndPublish()
	return err
}

func (n *Navigator) setLoading(l types.LoadingState) {
	n.mu.Lock()
	n.state.Loading = l
	n.unlockAndPublish()
}

// establish persists the session and hands over to the profile gate
func (n *Navigator) establish(ctx context.Context, identity types.Identity, method types.AuthMethod, token string) error {
	if err := n.persistSession(ctx, identity, method, token); err != nil {
		return n.failAuth(err, "Could not save the session.")
	}

	n.mu.Lock()
	n.state.Identity = &identity
	n.state.AuthMethod = method
	n.unlockAndPublish()

	n.logger.Info("Session established", "email", identity.Email, "method", string(method))
	n.checkProfile(ctx, identity.Email, "login")
	return nil
}

func (n *Navigator) persistSession(ctx context.Context, identity types.Identity, method types.AuthMethod, token string) error {
	if err := storage.SetJSON(ctx, n.store, storage.KeyUser, identity); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot persist identity", err)
	}
	if err := n.store.Set(ctx, storage.KeyAuthMethod, string(method)); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot persist auth method", err)
	}
	if token == "" {
		return nil
	}
	if err := n.store.Set(ctx, storage.KeyAccessToken, token); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot persist access token", err)
	}
	return nil
}

// checkProfile runs the gate and applies its decision unless a newer check
// was issued or the session was torn down in the meantime
func (n *Navigator) checkProfile(ctx context.Context, email, trigger string) gate.Decision {
	// A caller going away must not turn the check into a failed lookup
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileCheckTimeout)
	defer cancel()

	n.mu.Lock()
	n.checkSeq++
	token := n.checkSeq
	current := n.state.Navigation.View
	n.state.Loading = types.LoadingCheckingProfile
	n.unlockAndPublish()

	d := n.gate.Check(ctx, email, current)

	n.mu.Lock()
	if token != n.checkSeq {
		n.mu.Unlock()
		n.logger.Debug("Discarding stale profile check", "email", email, "token", token)
		return d
	}

	n.state.Loading = types.LoadingNone
	switch d.Action {
	case gate.GotoDashboard:
		n.state.Profile = d.Profile
		next := types.NavigationState{View: types.ViewDashboard, Tab: d.Tab}
		_ = n.transitionLocked(ctx, next, n.gateModeLocked(next), trigger)
	case gate.GotoUpload:
		next := types.NavigationState{View: types.ViewUpload}
		_ = n.transitionLocked(ctx, next, n.gateModeLocked(next), trigger)
	default:
		if d.Err != nil {
			n.state.Error = api.UserMessage(d.Err, "Could not check your profile.")
		}
	}
	n.unlockAndPublish()
	return d
}

// gateModeLocked pushes a history entry unless the gate keeps the user on
// the screen they are already on
func (n *Navigator) gateModeLocked(next types.NavigationState) viewstate.Mode {
	cur := n.state.Navigation
	if cur.View != next.View {
		return viewstate.Push
	}
	if next.View == types.ViewDashboard && cur.Tab != next.Tab {
		return viewstate.Push
	}
	return viewstate.Replace
}

// CheckProfile re-runs the profile gate for the current identity
func (n *Navigator) CheckProfile(ctx context.Context) error {
	n.mu.Lock()
	email := ""
	if n.state.Identity != nil {
		email = n.state.Identity.Email
	}
	n.mu.Unlock()

	if email == "" {
		return errors.NewAuthError(errors.ErrCodeNotAuthenticated, "not signed in", nil)
	}
	return n.checkProfile(ctx, email, "refresh").Err
}

// Logout ends the session. Federated sessions also sign out of the provider
// with a redirect back to the application root. All session keys are
// cleared and the view returns to login whatever the auth method was.
func (n *Navigator) Logout(ctx context.Context) error {
	n.mu.Lock()
	n.epoch++
	n.checkSeq++
	n.stopCountdownLocked()
	method := n.state.AuthMethod
	n.mu.Unlock()

	var signOutURL string
	if method == types.AuthMethodFederated && n.identity != nil {
		u, err := n.identity.SignOut(ctx, n.cfg.AppRoot)
		if err != nil {
			n.logger.LogError(err, "Identity provider sign-out failed")
		}
		signOutURL = u
	}

	var clearErr error
	if err := n.store.Clear(ctx, storage.SessionKeys...); err != nil {
		clearErr = errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot clear session storage", err)
		n.logger.LogError(clearErr, "Logout left session keys behind")
	}

	n.mu.Lock()
	from := n.state.Navigation.View
	n.state = State{
		Navigation: types.NavigationState{View: types.ViewLogin, Tab: n.cfg.DefaultTab},
		Loading:    types.LoadingNone,
		AuthMethod: types.AuthMethodNone,
		SignOutURL: signOutURL,
	}
	n.router.ResetToRoot()
	n.recordLocked(ctx, from, types.ViewLogin, "logout")
	n.unlockAndPublish()

	n.logger.Info("Logged out", "method", string(method))
	return clearErr
}

// handleUnauthorized runs after the API client has cleared credentials on a
// 401. Outstanding checks are invalidated and the view returns to login.
func (n *Navigator) handleUnauthorized(ctx context.Context) {
	n.mu.Lock()
	n.epoch++
	n.checkSeq++
	n.stopCountdownLocked()
	n.clearSessionLocked()
	n.state.Error = sessionExpiredMessage

	if from := n.state.Navigation.View; from != types.ViewLogin {
		n.state.Navigation.View = types.ViewLogin
		if err := n.store.Set(ctx, storage.KeyCurrentView, string(types.ViewLogin)); err != nil {
			n.logger.LogError(err, "Failed to persist login view after 401")
		}
		n.router.ResetToRoot()
		n.recordLocked(ctx, from, types.ViewLogin, "unauthorized")
	}
	n.unlockAndPublish()
}

func (n *Navigator) clearSessionLocked() {
	n.state.Identity = nil
	n.state.AuthMethod = types.AuthMethodNone
	n.state.Profile = nil
	n.state.Draft = nil
	n.state.Loading = types.LoadingNone
}

// handleExternalNavigation applies a back/forward move verbatim
func (n *Navigator) handleExternalNavigation(next types.NavigationState) {
	n.mu.Lock()
	from := n.state.Navigation.View
	if from == types.ViewCongratulations && next.View != types.ViewCongratulations {
		n.stopCountdownLocked()
	}
	n.state.Navigation = next
	if next.View == types.ViewCongratulations && from != types.ViewCongratulations {
		n.startCountdownLocked()
	}
	n.recordLocked(context.Background(), from, next.View, "history")
	n.unlockAndPublish()
}

// WatchExternalLogout resets this navigator to login when another writer
// removes the access token from a shared store. It is a no-op for stores
// that cannot be watched. The watch ends with ctx or Close.
func (n *Navigator) WatchExternalLogout(ctx context.Context) error {
	w, ok := n.store.(storage.Watcher)
	if !ok {
		n.logger.Debug("Store does not support watching, cross-session logout disabled")
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		cancel()
		return nil
	}
	if n.stopWatch != nil {
		n.stopWatch()
	}
	n.stopWatch = cancel
	n.mu.Unlock()

	err := w.Watch(watchCtx, func(c storage.Change) {
		if c.Key != storage.KeyAccessToken || !c.Deleted {
			return
		}
		// Watchers may be notified while the writer holds our lock
		go n.reconcileExternalLogout(watchCtx)
	})
	if err != nil {
		cancel()
		return err
	}
	// Catch a logout that landed before the watch was in place
	go n.reconcileExternalLogout(watchCtx)
	return nil
}

// Close stops the countdown and the external logout watch. A closed
// navigator no longer starts timers or background work.
func (n *Navigator) Close() {
	n.mu.Lock()
	n.closed = true
	n.stopCountdownLocked()
	stop := n.stopWatch
	n.stopWatch = nil
	n.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (n *Navigator) reconcileExternalLogout(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, ok, err := n.store.Get(ctx, storage.KeyAccessToken); err != nil || ok {
		return
	}

	n.mu.Lock()
	if n.state.Identity == nil {
		n.mu.Unlock()
		return
	}
	n.epoch++
	n.checkSeq++
	n.stopCountdownLocked()
	n.clearSessionLocked()

	from := n.state.Navigation.View
	n.state.Navigation.View = types.ViewLogin
	n.router.ResetToRoot()
	n.recordLocked(ctx, from, types.ViewLogin, "external_logout")
	n.unlockAndPublish()

	n.logger.Info("Session ended by another writer")
}
