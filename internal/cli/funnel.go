package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"resumeunlocked/internal/common"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/navigator"
	"resumeunlocked/internal/types"
)

func newUploadCmd() *cobra.Command {
	var (
		roles []string
		wait  bool
		flags outputFlags
	)

	cmd := &cobra.Command{
		Use:   "upload [resume-file]",
		Short: "Upload a resume and finish onboarding",
		Long: `Upload a resume for extraction, choose target roles and save the profile.

Roles come from --role, or are read one per line from stdin (end with an
empty line). After saving, the congratulations screen hands over to the
dashboard immediately, or after the countdown with --wait.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				file, err := common.NewFileProcessor(s.logger).ReadUpload(args[0], uploadLimit(s))
				if err != nil {
					return err
				}

				draft, err := s.nav.UploadResume(ctx, file)
				if err != nil {
					return err
				}
				if err := s.nav.CompleteUpload(ctx, *draft); err != nil {
					return err
				}
				cmd.PrintErrf("Extracted %d sections from %s\n", len(draft.Resume.Sections), file.Name)

				picked := common.NormalizeRoles(roles)
				if len(picked) == 0 {
					picked = common.NormalizeRoles(readLines(cmd, "Target roles, one per line (empty line to finish):\n"))
				}
				if err := s.nav.CompleteRoles(ctx, picked); err != nil {
					return err
				}

				if err := leaveCongratulations(ctx, cmd, s, wait); err != nil {
					return err
				}
				return s.printStatus(ctx, flags)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&roles, "role", "r", nil, "Target role (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the congratulations countdown instead of going straight on")
	addOutputFlags(cmd, &flags)
	return cmd
}

func uploadLimit(s *session) int64 {
	if s.cfg.API.MaxUploadSize > 0 {
		return s.cfg.API.MaxUploadSize
	}
	return s.cfg.App.MaxFileSize
}

// leaveCongratulations waits out the countdown or skips it. While waiting,
// a logout from another process ends the wait when sync is enabled.
func leaveCongratulations(ctx context.Context, cmd *cobra.Command, s *session, wait bool) error {
	if !wait {
		return s.nav.GoNow(ctx)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if s.cfg.Navigator.SyncExternalLogout {
		if err := s.nav.WatchExternalLogout(watchCtx); err != nil {
			s.logger.Warn("Cross-process logout sync unavailable", "error", err)
		}
	}

	if remaining := s.nav.CountdownRemaining(); remaining > 0 {
		cmd.PrintErrf("Opening your dashboard in %s...\n", remaining.Round(time.Second))
	}
	st, err := s.nav.WaitFor(ctx, func(st navigator.State) bool {
		return st.Navigation.View != types.ViewCongratulations
	})
	if err != nil {
		return err
	}
	if st.Navigation.View == types.ViewLogin {
		return errors.NewAuthError(errors.ErrCodeSessionExpired, "Signed out from another session", nil)
	}
	return nil
}

func newRolesCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "roles [role]...",
		Short: "Replace the target roles of your profile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				picked := common.NormalizeRoles(args)
				if len(picked) == 0 {
					return errors.NewValidationError(errors.ErrCodeInvalidRequest, "select at least one role", nil)
				}
				if err := s.client.UpdateRoles(ctx, email, picked); err != nil {
					return err
				}
				profile, err := s.nav.RefreshProfile(ctx)
				if err != nil {
					return err
				}
				return s.out.HandleOutput(profile, s.withDefaults(flags))
			})
		},
	}
	addOutputFlags(cmd, &flags)
	return cmd
}

func newTabCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "tab [name]",
		Short: "Switch the dashboard tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.nav.SelectTab(ctx, args[0]); err != nil {
					return err
				}
				return s.printStatus(ctx, flags)
			})
		},
	}
	addOutputFlags(cmd, &flags)
	return cmd
}

func newBackCmd() *cobra.Command {
	return newHistoryCmd("back", "Go back one screen", (*navigator.Navigator).Back)
}

func newForwardCmd() *cobra.Command {
	return newHistoryCmd("forward", "Go forward one screen", (*navigator.Navigator).Forward)
}

func newHistoryCmd(use, short string, move func(*navigator.Navigator) bool) *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if !move(s.nav) {
					return errors.NewValidationError(errors.ErrCodeInvalidTransition, "No history entry to go "+use+" to", nil)
				}
				return s.printStatus(ctx, flags)
			})
		},
	}
	addOutputFlags(cmd, &flags)
	return cmd
}
