// Package navigator owns the session and the active screen: it reacts to
// authentication events, runs the onboarding funnel and reconciles history
// navigation with in-memory state.
package navigator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/gate"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/viewstate"
)

// Backend is the part of the API client the navigator drives
type Backend interface {
	Login(ctx context.Context, email, password string) (*types.AuthResponse, error)
	Register(ctx context.Context, username, email, password string) (*types.AuthResponse, error)
	FederatedLogin(ctx context.Context, identity types.Identity) (*types.AuthResponse, error)
	GetProfile(ctx context.Context, email string) (*types.Profile, error)
	SaveProfile(ctx context.Context, email string, profileData json.RawMessage, selectedRoles []string) error
	UploadResume(ctx context.Context, file types.UploadFile, userID string) (*types.UploadResult, error)
}

// IdentityProvider is a third-party sign-in service
type IdentityProvider interface {
	// ActiveIdentity returns the signed-in identity, or nil when there is none
	ActiveIdentity(ctx context.Context) (*types.Identity, error)
	// SignOut ends the provider session and returns a URL the user should
	// visit to finish signing out, or "" when none is needed
	SignOut(ctx context.Context, postLogoutRedirect string) (string, error)
}

// Recorder receives one event per view transition
type Recorder interface {
	RecordTransition(ctx context.Context, from, to, trigger string)
}

// State is a snapshot of everything a host renders
type State struct {
	Navigation types.NavigationState `json:"navigation"`
	Loading    types.LoadingState    `json:"loading"`
	Identity   *types.Identity       `json:"identity,omitempty"`
	AuthMethod types.AuthMethod      `json:"authMethod"`

	// Profile is the payload cached by the last successful check or refresh
	Profile *types.Profile         `json:"profile,omitempty"`
	Draft   *types.OnboardingDraft `json:"draft,omitempty"`

	CountdownDeadline time.Time `json:"countdownDeadline,omitzero"`

	// Error is the last user-visible failure message
	Error string `json:"error,omitempty"`

	// SignOutURL is set after a federated logout that needs a browser visit
	SignOutURL string `json:"signOutUrl,omitempty"`
}

// Navigator is the session/view state machine. All methods are safe for
// concurrent use; backend calls run without holding the state lock.
type Navigator struct {
	cfg      config.NavigatorConfig
	store    storage.Store
	router   *viewstate.Router
	backend  Backend
	gate     *gate.Gate
	identity IdentityProvider
	clock    Clock
	recorder Recorder
	logger   *errors.Logger

	mu    sync.Mutex
	state State

	// checkSeq is the token of the latest profile check; results carrying
	// an older token are discarded
	checkSeq uint64
	// epoch changes whenever the session is torn down
	epoch uint64

	countdown    Timer
	countdownSeq uint64

	// stopWatch cancels the external logout watch
	stopWatch context.CancelFunc
	closed    bool

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSub     int
}

// Option configures a Navigator
type Option func(*Navigator)

// WithIdentityProvider enables federated sign-in
func WithIdentityProvider(p IdentityProvider) Option {
	return func(n *Navigator) { n.identity = p }
}

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(n *Navigator) { n.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *errors.Logger) Option {
	return func(n *Navigator) { n.logger = l }
}

// WithRecorder attaches a metrics recorder. A recorder that also implements
// gate.Recorder receives gate decisions.
func WithRecorder(r Recorder) Option {
	return func(n *Navigator) { n.recorder = r }
}

// WithGate replaces the default profile gate
func WithGate(g *gate.Gate) Option {
	return func(n *Navigator) { n.gate = g }
}

// New creates a navigator over store and router. Start must be called
// before the navigator reflects the persisted session.
func New(cfg config.NavigatorConfig, store storage.Store, router *viewstate.Router, backend Backend, opts ...Option) *Navigator {
	if cfg.DefaultTab == "" {
		cfg.DefaultTab = types.TabProfile
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = 15 * time.Second
	}

	n := &Navigator{
		cfg:     cfg,
		store:   store,
		router:  router,
		backend: backend,
		clock:   realClock{},
		state: State{
			Navigation: types.DefaultNavigationState(),
			Loading:    types.LoadingNone,
			AuthMethod: types.AuthMethodNone,
		},
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.gate == nil {
		var gr gate.Recorder
		if r, ok := n.recorder.(gate.Recorder); ok {
			gr = r
		}
		n.gate = gate.New(backend, n.logger, gr)
	}

	router.OnExternalNavigation(n.handleExternalNavigation)
	if u, ok := backend.(interface {
		OnUnauthorized(fn func(ctx context.Context))
	}); ok {
		u.OnUnauthorized(n.handleUnauthorized)
	}
	return n
}

// State returns a snapshot of the current state
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

// CountdownRemaining is the time left before congratulations moves on by
// itself, or zero outside congratulations
func (n *Navigator) CountdownRemaining() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.CountdownDeadline.IsZero() {
		return 0
	}
	return max(n.state.CountdownDeadline.Sub(n.clock.Now()), 0)
}

// Subscribe registers fn to receive every new state. The returned function
// removes the subscription.
func (n *Navigator) Subscribe(fn func(State)) func() {
	n.subMu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subscribers[id] = fn
	n.subMu.Unlock()

	return func() {
		n.subMu.Lock()
		delete(n.subscribers, id)
		n.subMu.Unlock()
	}
}

// WaitFor blocks until pred holds for the current state or ctx is done
func (n *Navigator) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	ch := make(chan State, 1)
	unsubscribe := n.Subscribe(func(s State) {
		if pred(s) {
			select {
			case ch <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	if s := n.State(); pred(s) {
		return s, nil
	}

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return n.State(), ctx.Err()
	}
}

func (n *Navigator) snapshotLocked() State {
	s := n.state
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	if s.Draft != nil {
		d := *s.Draft
		s.Draft = &d
	}
	return s
}

// publish hands a snapshot to subscribers. It must be called without n.mu.
func (n *Navigator) publish(s State) {
	n.subMu.Lock()
	fns := make([]func(State), 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		fns = append(fns, fn)
	}
	n.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// unlockAndPublish releases n.mu and publishes the state it guarded
func (n *Navigator) unlockAndPublish() {
	s := n.snapshotLocked()
	n.mu.Unlock()
	n.publish(s)
}

// transitionLocked moves to next and commits it through the router. An
// empty tab keeps the current one.
func (n *Navigator) transitionLocked(ctx context.Context, next types.NavigationState, mode viewstate.Mode, trigger string) error {
	from := n.state.Navigation.View
	if from == types.ViewCongratulations && next.View != types.ViewCongratulations {
		n.stopCountdownLocked()
	}

	tab := next.Tab
	if tab == "" {
		tab = n.state.Navigation.Tab
	}
	n.state.Navigation = types.NavigationState{View: next.View, Tab: tab}

	if next.View == types.ViewCongratulations && from != types.ViewCongratulations {
		n.startCountdownLocked()
	}

	n.recordLocked(ctx, from, next.View, trigger)

	if err := n.router.Navigate(ctx, next, mode); err != nil {
		n.logger.LogError(err, "Failed to commit navigation state")
		return err
	}
	return nil
}

// recordLocked reports a view change. Tab switches within a view are not
// transitions.
func (n *Navigator) recordLocked(ctx context.Context, from, to types.View, trigger string) {
	if from == to {
		return
	}
	if n.recorder != nil {
		n.recorder.RecordTransition(ctx, string(from), string(to), trigger)
	}
	n.logger.Info("View transition",
		"from", string(from),
		"to", string(to),
		"trigger", trigger)
}

func invalidTransition(from types.View, action string) error {
	return errors.NewValidationError(errors.ErrCodeInvalidTransition,
		"cannot "+action+" from the "+string(from)+" view", nil).
		WithContext("view", string(from))
}
