package navigator

import (
	"context"
	"encoding/json"
	"time"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/viewstate"
)

// UploadResume sends a resume file for extraction and returns the parsed
// draft. The view does not change; hand the draft to CompleteUpload.
func (n *Navigator) UploadResume(ctx context.Context, file types.UploadFile) (*types.OnboardingDraft, error) {
	email, err := n.currentEmail()
	if err != nil {
		return nil, err
	}

	result, err := n.backend.UploadResume(ctx, file, email)
	if err != nil {
		n.setError(api.UserMessage(err, "Failed to upload resume. Please try again."))
		return nil, err
	}

	resume, err := types.ParseExtractedData(result.ExtractedData)
	if err != nil {
		n.setError(err.Error())
		return nil, errors.NewValidationError(errors.ErrCodeInvalidFormat, "Unusable resume extraction", err).
			WithContext("file", file.Name)
	}

	n.logger.Info("Resume extracted", "file", file.Name, "sections", len(resume.Sections))
	return &types.OnboardingDraft{Resume: *resume}, nil
}

// CompleteUpload keeps draft in memory and moves from upload to roles
func (n *Navigator) CompleteUpload(ctx context.Context, draft types.OnboardingDraft) error {
	n.mu.Lock()
	if v := n.state.Navigation.View; v != types.ViewUpload {
		n.mu.Unlock()
		return invalidTransition(v, "complete upload")
	}
	n.state.Draft = &draft
	n.state.Error = ""
	err := n.transitionLocked(ctx, types.NavigationState{View: types.ViewRoles}, viewstate.Push, "upload_complete")
	n.unlockAndPublish()
	return err
}

// CompleteRoles saves the profile with the drafted resume and the selected
// roles, then moves from roles to congratulations. On a save failure the
// view stays on roles and the error is surfaced.
func (n *Navigator) CompleteRoles(ctx context.Context, roles []string) error {
	if len(roles) == 0 {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "select at least one role", nil)
	}

	n.mu.Lock()
	if v := n.state.Navigation.View; v != types.ViewRoles {
		n.mu.Unlock()
		return invalidTransition(v, "complete role selection")
	}
	if n.state.Identity == nil {
		n.mu.Unlock()
		return errors.NewAuthError(errors.ErrCodeNotAuthenticated, "not signed in", nil)
	}
	email := n.state.Identity.Email
	resume := n.resumeForSaveLocked()
	epoch := n.epoch
	n.mu.Unlock()

	profileData, err := json.Marshal(resume)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInvalidFormat, "Cannot encode resume data", err)
	}

	if err := n.backend.SaveProfile(ctx, email, profileData, roles); err != nil {
		n.logger.LogError(err, "Failed to save profile", "email", email)
		n.setError(api.UserMessage(err, "Failed to save profile. Please try again."))
		return err
	}

	n.mu.Lock()
	if epoch != n.epoch || n.state.Navigation.View != types.ViewRoles {
		n.mu.Unlock()
		n.logger.Debug("Session changed while saving profile, not advancing")
		return nil
	}
	if n.state.Draft == nil {
		n.state.Draft = &types.OnboardingDraft{Resume: resume}
	}
	n.state.Draft.SelectedRoles = append([]string(nil), roles...)
	n.state.Error = ""
	err = n.transitionLocked(ctx, types.NavigationState{View: types.ViewCongratulations}, viewstate.Push, "roles_complete")
	n.unlockAndPublish()
	return err
}

// resumeForSaveLocked prefers the drafted resume, then the cached profile's
func (n *Navigator) resumeForSaveLocked() types.ResumeData {
	if n.state.Draft != nil && len(n.state.Draft.Resume.Sections) > 0 {
		return n.state.Draft.Resume
	}
	if n.state.Profile.HasSections() {
		return *n.state.Profile.ResumeData
	}
	return types.ResumeData{Sections: []types.Section{}}
}

// GoNow leaves congratulations without waiting for the countdown
func (n *Navigator) GoNow(ctx context.Context) error {
	n.mu.Lock()
	if v := n.state.Navigation.View; v != types.ViewCongratulations {
		n.mu.Unlock()
		return invalidTransition(v, "skip the countdown")
	}
	seq := n.countdownSeq
	n.mu.Unlock()

	return n.finishCongratulations(ctx, seq, "go_now")
}

func (n *Navigator) startCountdownLocked() {
	n.stopCountdownLocked()
	if n.closed {
		return
	}
	seq := n.countdownSeq
	n.state.CountdownDeadline = n.clock.Now().Add(n.cfg.Countdown)
	n.countdown = n.clock.AfterFunc(n.cfg.Countdown, func() {
		if err := n.finishCongratulations(context.Background(), seq, "countdown"); err != nil {
			n.logger.LogError(err, "Countdown transition failed")
		}
	})
	n.logger.Debug("Countdown started", "duration", n.cfg.Countdown)
}

// stopCountdownLocked cancels the pending countdown and invalidates any
// callback that already fired
func (n *Navigator) stopCountdownLocked() {
	if n.countdown != nil {
		n.countdown.Stop()
		n.countdown = nil
	}
	n.countdownSeq++
	n.state.CountdownDeadline = time.Time{}
}

// finishCongratulations refreshes the profile once and moves to the
// dashboard. A failed refresh is logged and the move happens regardless.
func (n *Navigator) finishCongratulations(ctx context.Context, seq uint64, trigger string) error {
	n.mu.Lock()
	if seq != n.countdownSeq || n.state.Navigation.View != types.ViewCongratulations {
		n.mu.Unlock()
		return nil
	}
	n.stopCountdownLocked()
	epoch := n.epoch
	email := ""
	if n.state.Identity != nil {
		email = n.state.Identity.Email
	}
	n.unlockAndPublish()

	var profile *types.Profile
	if email != "" {
		p, err := n.backend.GetProfile(ctx, email)
		if err != nil {
			n.logger.Warn("Profile refresh before dashboard failed", "email", email, "error", err)
		} else {
			profile = p
		}
	}

	n.mu.Lock()
	if epoch != n.epoch || n.state.Navigation.View != types.ViewCongratulations {
		n.mu.Unlock()
		return nil
	}
	if profile != nil {
		n.state.Profile = profile
	}
	n.state.Draft = nil
	err := n.transitionLocked(ctx, types.NavigationState{View: types.ViewDashboard, Tab: types.TabProfile}, viewstate.Push, trigger)
	n.unlockAndPublish()
	return err
}

// SelectTab switches the dashboard tab and adds a history entry
func (n *Navigator) SelectTab(ctx context.Context, tab string) error {
	if tab == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidRequest, "tab is required", nil)
	}

	n.mu.Lock()
	if v := n.state.Navigation.View; v != types.ViewDashboard {
		n.mu.Unlock()
		return invalidTransition(v, "select a tab")
	}
	err := n.transitionLocked(ctx, types.NavigationState{View: types.ViewDashboard, Tab: tab}, viewstate.Push, "tab")
	n.unlockAndPublish()
	return err
}

// RefreshProfile fetches the current user's profile and caches it
func (n *Navigator) RefreshProfile(ctx context.Context) (*types.Profile, error) {
	email, err := n.currentEmail()
	if err != nil {
		return nil, err
	}
	profile, err := n.backend.GetProfile(ctx, email)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.state.Profile = profile
	n.unlockAndPublish()
	return profile, nil
}

// Back moves one history entry back. It reports false at the start of
// history.
func (n *Navigator) Back() bool {
	return n.router.Back()
}

// Forward moves one history entry forward. It reports false at the end of
// history.
func (n *Navigator) Forward() bool {
	return n.router.Forward()
}

func (n *Navigator) currentEmail() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.Identity == nil || n.state.Identity.Email == "" {
		return "", errors.NewAuthError(errors.ErrCodeNotAuthenticated, "not signed in", nil)
	}
	return n.state.Identity.Email, nil
}

func (n *Navigator) setError(msg string) {
	n.mu.Lock()
	n.state.Error = msg
	n.unlockAndPublish()
}
