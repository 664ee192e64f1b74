package cli

import (
	"context"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"

	"github.com/spf13/cobra"
)

// Define custom private types for context keys.
type configKeyType struct{}
type loggerKeyType struct{}

var configKey = configKeyType{}
var loggerKey = loggerKeyType{}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "resumeunlocked",
		Short: "Sign in, onboard and manage your Resume Unlocked profile",
		Long: `resumeunlocked drives the Resume Unlocked onboarding flow from the terminal:
sign in, upload a resume, pick target roles and land on the dashboard.
The session and the screen you are on survive between invocations.

Use "resumeunlocked serve" to host the same flow for a browser.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newLoginCmd(),
		newRegisterCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newUploadCmd(),
		newRolesCmd(),
		newTabCmd(),
		newBackCmd(),
		newForwardCmd(),
		newProfileCmd(),
		newDraftsCmd(),
		newLatexCmd(),
		newGenerateCmd(),
		newLinkCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree with cfg and logger attached to ctx
func Execute(ctx context.Context, cfg *config.Config, logger *errors.Logger) error {
	ctx = context.WithValue(ctx, configKey, cfg)
	ctx = context.WithValue(ctx, loggerKey, logger)
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

// getConfigFromContext is a helper function to get config from context
func getConfigFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg
	}
	panic("config not found in context") // Should not happen if properly initialized
}

// getLoggerFromContext is a helper function to get logger from context
func getLoggerFromContext(ctx context.Context) *errors.Logger {
	if logger, ok := ctx.Value(loggerKey).(*errors.Logger); ok {
		return logger
	}
	panic("logger not found in context") // Should not happen if properly initialized
}

// addOutputFlags registers --output and --format on cmd
func addOutputFlags(cmd *cobra.Command, cc *outputFlags) {
	cmd.Flags().StringVarP(&cc.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringVar(&cc.OutputFormat, "format", "", "Output format: json, text, or markdown")

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg := getConfigFromContext(cmd.Context())
		return cfg.App.SupportedFormats, cobra.ShellCompDirectiveNoFileComp
	})
}
