package cli

import (
	"bufio"
	"context"
	"strings"

	"github.com/spf13/cobra"

	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/identity"
)

func newLoginCmd() *cobra.Command {
	var (
		email     string
		password  string
		federated bool
		flags     outputFlags
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password or with the identity provider",
		Long: `Sign in and land on the screen your profile calls for: the dashboard when
a resume is on file, the upload step otherwise.

With --federated the authorization URL is printed and a local listener waits
for the browser to come back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if federated {
					if err := loginFederated(ctx, cmd, s); err != nil {
						return err
					}
					return s.printStatus(ctx, flags)
				}

				if password == "" {
					p, err := readSecret(cmd, "Password: ")
					if err != nil {
						return err
					}
					password = p
				}
				if err := s.nav.LoginWithPassword(ctx, email, password); err != nil {
					return err
				}
				return s.printStatus(ctx, flags)
			})
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when omitted)")
	cmd.Flags().BoolVar(&federated, "federated", false, "Sign in through the configured identity provider")
	cmd.MarkFlagsMutuallyExclusive("federated", "email")
	addOutputFlags(cmd, &flags)
	return cmd
}

func loginFederated(ctx context.Context, cmd *cobra.Command, s *session) error {
	provider, ok := s.identity.(*identity.OIDCProvider)
	if !ok {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			"Federated sign-in is not configured (identity.provider must be \"oidc\")", nil)
	}

	ident, err := provider.Login(ctx, func(authURL string) error {
		cmd.PrintErrf("Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)
		return nil
	})
	if err != nil {
		return err
	}
	return s.nav.LoginFederated(ctx, *ident)
}

func newRegisterCmd() *cobra.Command {
	var (
		username string
		email    string
		password string
		flags    outputFlags
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and start onboarding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if password == "" {
					p, err := readSecret(cmd, "Choose a password: ")
					if err != nil {
						return err
					}
					password = p
				}
				if err := s.nav.Register(ctx, username, email, password); err != nil {
					return err
				}
				return s.printStatus(ctx, flags)
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when omitted)")
	addOutputFlags(cmd, &flags)
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.nav.Logout(ctx); err != nil {
					return err
				}
				if u := s.nav.State().SignOutURL; u != "" {
					cmd.PrintErrf("Finish signing out of your identity provider at:\n\n  %s\n\n", u)
				}
				cmd.Println("Signed out.")
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in and which screen is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.printStatus(ctx, flags)
			})
		},
	}
	addOutputFlags(cmd, &flags)
	return cmd
}

// readSecret reads one line from the command's input
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	cmd.PrintErr(prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.NewValidationError(errors.ErrCodeInvalidRequest, "No password given", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readLines reads whitespace-trimmed, non-empty lines until EOF or a blank line
func readLines(cmd *cobra.Command, prompt string) []string {
	cmd.PrintErr(prompt)
	var out []string
	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			break
		}
		out = append(out, line)
	}
	return out
}

