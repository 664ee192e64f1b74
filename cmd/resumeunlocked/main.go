package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"resumeunlocked/internal/cli"
	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
)

func main() {
	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(config.LoadOptions{
		ConfigFile: os.Getenv(config.EnvPrefix + "_CONFIG"),
		Verbose:    os.Getenv(config.EnvPrefix+"_CONFIG_VERBOSE") != "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := errors.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := config.ApplyVaultSecrets(cfg, logger); err != nil {
		logger.LogError(err, "Failed to load secrets from Vault")
		os.Exit(1)
	}

	logger.Debug("Starting resumeunlocked",
		"version", cli.Version,
		"log_level", cfg.App.LogLevel,
		"api", cfg.API.BaseURL)

	if err := cli.Execute(ctx, cfg, logger); err != nil {
		logger.LogError(err, "Command failed")
		os.Exit(1)
	}
}
