package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"resumeunlocked/internal/common"
	"resumeunlocked/internal/errors"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show, update or delete your stored profile",
	}
	cmd.AddCommand(newProfileShowCmd(), newProfileUpdateCmd(), newProfileDeleteCmd())
	return cmd
}

func newProfileShowCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
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

func newProfileUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update [profile-json-file]",
		Short: "Replace the profile data with the contents of a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				data, err := common.NewFileProcessor(s.logger).ReadFile(args[0], s.cfg.App.MaxFileSize)
				if err != nil {
					return err
				}
				if !json.Valid(data) {
					return errors.NewValidationError(errors.ErrCodeInvalidFormat, "Profile file is not valid JSON", nil).
						WithContext("file", args[0])
				}
				if err := s.client.UpdateProfile(ctx, email, data); err != nil {
					return err
				}
				cmd.Println("Profile updated.")
				return nil
			})
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the stored profile and return to onboarding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.NewValidationError(errors.ErrCodeInvalidRequest, "Refusing to delete without --yes", nil)
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				if err := s.client.DeleteProfile(ctx, email); err != nil {
					return err
				}
				// The gate sends the user back to upload now that nothing is on file
				if err := s.nav.CheckProfile(ctx); err != nil {
					s.logger.Debug("Profile check after delete", "error", err)
				}
				cmd.Println("Profile deleted.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}
