// Package gate decides whether a signed-in user belongs in onboarding or on
// the dashboard.
package gate

import (
	"context"
	stderrors "errors"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/types"
)

// Action is what the navigator should do with a check result
type Action int

const (
	NoOp Action = iota
	GotoUpload
	GotoDashboard
)

func (a Action) String() string {
	switch a {
	case GotoUpload:
		return "goto_upload"
	case GotoDashboard:
		return "goto_dashboard"
	default:
		return "noop"
	}
}

// Existence is the derived profile state
type Existence int

const (
	Unknown Existence = iota
	Complete
	Incomplete // absent, or present without sections
)

func (e Existence) String() string {
	switch e {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one profile check
type Decision struct {
	Action    Action
	Tab       string         // set for GotoDashboard
	Profile   *types.Profile // payload to cache for the dashboard
	Existence Existence
	Err       error // lookup failure, if any
}

// ProfileFetcher looks up a profile by email
type ProfileFetcher interface {
	GetProfile(ctx context.Context, email string) (*types.Profile, error)
}

// Recorder receives one event per decision
type Recorder interface {
	RecordGateDecision(ctx context.Context, action string, existence string)
}

// Gate runs profile-existence checks
type Gate struct {
	fetcher  ProfileFetcher
	logger   *errors.Logger
	recorder Recorder
}

// New creates a gate. recorder may be nil.
func New(fetcher ProfileFetcher, logger *errors.Logger, recorder Recorder) *Gate {
	return &Gate{fetcher: fetcher, logger: logger, recorder: recorder}
}

// Check looks up the profile for email and decides where the user goes.
// current is the view shown while the check runs.
func (g *Gate) Check(ctx context.Context, email string, current types.View) Decision {
	if email == "" {
		g.logger.Debug("Skipping profile check without email")
		return Decision{Action: NoOp}
	}

	d := g.decide(ctx, email, current)
	if g.recorder != nil {
		g.recorder.RecordGateDecision(ctx, d.Action.String(), d.Existence.String())
	}
	return d
}

func (g *Gate) decide(ctx context.Context, email string, current types.View) Decision {
	profile, err := g.fetcher.GetProfile(ctx, email)
	switch {
	case err == nil && profile.HasSections():
		return Decision{Action: GotoDashboard, Tab: types.TabProfile, Profile: profile, Existence: Complete}

	case err == nil:
		g.logger.Info("Profile has no resume sections, continuing onboarding", "email", email)
		return Decision{Action: GotoUpload, Profile: profile, Existence: Incomplete}

	case api.IsNotFound(err):
		return Decision{Action: GotoUpload, Existence: Incomplete, Err: err}

	case stderrors.Is(err, context.Canceled):
		g.logger.Debug("Profile check cancelled", "email", email)
		return Decision{Action: NoOp, Existence: Unknown, Err: err}

	case current == types.ViewLogin:
		g.logger.LogError(err, "Profile check failed on login, defaulting to onboarding", "email", email)
		return Decision{Action: GotoUpload, Existence: Unknown, Err: err}

	default:
		g.logger.LogError(err, "Profile check failed, keeping current view",
			"email", email,
			"view", string(current))
		return Decision{Action: NoOp, Existence: Unknown, Err: err}
	}
}
