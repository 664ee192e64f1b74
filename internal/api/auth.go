package api

import (
	"context"
	"net/http"

	"resumeunlocked/internal/types"
)

// Register creates a password account
func (c *Client) Register(ctx context.Context, username, email, password string) (*types.AuthResponse, error) {
	var out types.AuthResponse
	err := c.sendJSON(ctx, http.MethodPost, "/api/auth/register", "auth.register",
		types.RegisterRequest{Username: username, Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges email and password for an access token
func (c *Client) Login(ctx context.Context, email, password string) (*types.AuthResponse, error) {
	var out types.AuthResponse
	err := c.sendJSON(ctx, http.MethodPost, "/api/auth/login", "auth.login",
		types.LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FederatedLogin exchanges a provider identity for a backend access token
func (c *Client) FederatedLogin(ctx context.Context, identity types.Identity) (*types.AuthResponse, error) {
	var out types.AuthResponse
	err := c.sendJSON(ctx, http.MethodPost, "/api/auth/firebase", "auth.federated",
		types.FederatedAuthRequest{
			UID:      identity.ProviderSubjectID,
			Email:    identity.Email,
			Name:     identity.DisplayName,
			PhotoURL: identity.AvatarURL,
		}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the user the current token belongs to
func (c *Client) Me(ctx context.Context) (*types.User, error) {
	var out types.User
	if err := c.getJSON(ctx, "/api/auth/me", "auth.me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the backend health report
func (c *Client) Health(ctx context.Context) (*types.HealthStatus, error) {
	var out types.HealthStatus
	if err := c.getJSON(ctx, "/health", "health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
