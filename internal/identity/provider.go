// Package identity adapts third-party sign-in services to the navigator.
package identity

import (
	"context"
	"fmt"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
)

// Provider names accepted in configuration
const (
	ProviderNone = "none"
	ProviderOIDC = "oidc"
)

// Provider reports the signed-in federated identity and ends provider
// sessions
type Provider interface {
	ActiveIdentity(ctx context.Context) (*types.Identity, error)
	SignOut(ctx context.Context, postLogoutRedirect string) (string, error)
}

// NoopProvider is used when federation is not configured. It never reports
// an identity and signs out without a redirect.
type NoopProvider struct{}

func (NoopProvider) ActiveIdentity(context.Context) (*types.Identity, error) { return nil, nil }

func (NoopProvider) SignOut(context.Context, string) (string, error) { return "", nil }

// New builds the provider selected by cfg. The OIDC provider performs
// discovery, so New needs network access to the issuer.
func New(ctx context.Context, cfg config.IdentityConfig, store storage.Store, logger *errors.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return NoopProvider{}, nil
	case ProviderOIDC:
		p, err := NewOIDCProvider(ctx, cfg.OIDC, store, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown identity provider %q", cfg.Provider), nil)
	}
}
