package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
)

// Store keys private to the OIDC provider. They are not session keys: the
// navigator's logout leaves them to SignOut.
const (
	keyToken    = "oidc_token"
	keyIdentity = "oidc_identity"
)

// OIDCProvider signs users in with an OpenID Connect issuer using the
// authorization-code flow with PKCE
type OIDCProvider struct {
	oauth        *oauth2.Config
	provider     *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
	endSession   string
	loginTimeout time.Duration
	httpClient   *http.Client
	store        storage.Store
	logger       *errors.Logger
}

// OIDCOption configures an OIDCProvider
type OIDCOption func(*OIDCProvider)

// WithHTTPClient sets the client used for discovery, token and userinfo calls
func WithHTTPClient(hc *http.Client) OIDCOption {
	return func(p *OIDCProvider) { p.httpClient = hc }
}

// AuthRequest is one pending authorization
type AuthRequest struct {
	URL         string
	State       string
	Nonce       string
	Verifier    string
	RedirectURL string
}

// storedToken keeps the id_token that oauth2.Token only carries as an extra
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	IDToken      string    `json:"id_token,omitempty"`
}

func (t storedToken) oauth() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

type idClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// NewOIDCProvider runs discovery against cfg.Issuer
func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig, store storage.Store, logger *errors.Logger, opts ...OIDCOption) (*OIDCProvider, error) {
	if cfg.Issuer == "" {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "OIDC issuer is required", nil)
	}
	if cfg.ClientID == "" {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "OIDC client ID is required", nil)
	}
	if cfg.RedirectURL == "" {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "OIDC redirect URL is required", nil)
	}

	p := &OIDCProvider{
		endSession:   cfg.EndSessionURL,
		loginTimeout: cfg.LoginTimeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		store:        store,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.loginTimeout <= 0 {
		p.loginTimeout = 5 * time.Minute
	}

	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(p.clientContext(ctx), issuer)
	if err != nil {
		return nil, errors.NewNetworkError(errors.ErrCodeBackendUnavailable, "OIDC discovery failed", err).
			WithContext("issuer", issuer)
	}
	p.provider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: cfg.ClientID})

	scopes := cfg.Scopes
	if !slices.Contains(scopes, gooidc.ScopeOpenID) {
		scopes = append([]string{gooidc.ScopeOpenID}, scopes...)
	}
	p.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     op.Endpoint(),
	}

	if p.endSession == "" {
		var meta struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := op.Claims(&meta); err == nil {
			p.endSession = meta.EndSessionEndpoint
		}
	}

	logger.Debug("OIDC provider ready", "issuer", issuer, "end_session", p.endSession != "")
	return p, nil
}

// ForStore returns a provider sharing discovery results with p that keeps
// its tokens in store
func (p *OIDCProvider) ForStore(store storage.Store) *OIDCProvider {
	c := *p
	c.store = store
	return &c
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return gooidc.ClientContext(ctx, p.httpClient)
}

func (p *OIDCProvider) configFor(redirectURL string) *oauth2.Config {
	c := *p.oauth
	if redirectURL != "" {
		c.RedirectURL = redirectURL
	}
	return &c
}

// Begin prepares an authorization URL with fresh state, nonce and PKCE
// verifier. An empty redirectURL uses the configured one.
func (p *OIDCProvider) Begin(redirectURL string) (*AuthRequest, error) {
	state, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	cfg := p.configFor(redirectURL)
	authURL := cfg.AuthCodeURL(state,
		gooidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)

	return &AuthRequest{
		URL:         authURL,
		State:       state,
		Nonce:       nonce,
		Verifier:    verifier,
		RedirectURL: cfg.RedirectURL,
	}, nil
}

// Exchange trades an authorization code for tokens, verifies the ID token
// and caches the resulting identity
func (p *OIDCProvider) Exchange(ctx context.Context, req *AuthRequest, code string) (*types.Identity, error) {
	if code == "" {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidRequest, "authorization code is required", nil)
	}
	ctx = p.clientContext(ctx)

	tok, err := p.configFor(req.RedirectURL).Exchange(ctx, code, oauth2.VerifierOption(req.Verifier))
	if err != nil {
		return nil, errors.NewAuthError(errors.ErrCodeNotAuthenticated, "Token exchange failed", err)
	}

	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, errors.NewAuthError(errors.ErrCodeNotAuthenticated, "Token response has no id_token", nil)
	}
	identity, err := p.verifyIdentity(ctx, tok, rawID, req.Nonce)
	if err != nil {
		return nil, err
	}

	stored := storedToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		IDToken:      rawID,
	}
	if err := p.save(ctx, stored, identity); err != nil {
		return nil, err
	}

	p.logger.Info("Federated sign-in complete", "email", identity.Email)
	return identity, nil
}

func (p *OIDCProvider) verifyIdentity(ctx context.Context, tok *oauth2.Token, rawID, nonce string) (*types.Identity, error) {
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, errors.NewAuthError(errors.ErrCodeNotAuthenticated, "ID token verification failed", err)
	}
	if nonce != "" && idTok.Nonce != nonce {
		return nil, errors.NewAuthError(errors.ErrCodeNotAuthenticated, "ID token nonce mismatch", nil)
	}

	var claims idClaims
	if err := idTok.Claims(&claims); err != nil {
		return nil, errors.NewAuthError(errors.ErrCodeInvalidFormat, "Cannot decode ID token claims", err)
	}

	if claims.Email == "" || claims.Name == "" {
		if err := p.fillFromUserInfo(ctx, tok, &claims); err != nil {
			return nil, err
		}
	}
	if claims.Email == "" {
		return nil, errors.NewAuthError(errors.ErrCodeNotAuthenticated, "Identity provider returned no email", nil)
	}

	return &types.Identity{
		Email:             claims.Email,
		DisplayName:       claims.Name,
		AvatarURL:         claims.Picture,
		ProviderSubjectID: claims.Subject,
	}, nil
}

func (p *OIDCProvider) fillFromUserInfo(ctx context.Context, tok *oauth2.Token, claims *idClaims) error {
	ui, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return errors.NewAuthError(errors.ErrCodeNotAuthenticated, "Userinfo request failed", err)
	}
	var extra idClaims
	if err := ui.Claims(&extra); err != nil {
		return errors.NewAuthError(errors.ErrCodeInvalidFormat, "Cannot decode userinfo claims", err)
	}
	if claims.Email == "" {
		claims.Email = firstNonEmpty(ui.Email, extra.Email)
	}
	if claims.Name == "" {
		claims.Name = extra.Name
	}
	if claims.Picture == "" {
		claims.Picture = extra.Picture
	}
	if claims.Subject == "" {
		claims.Subject = ui.Subject
	}
	return nil
}

func (p *OIDCProvider) save(ctx context.Context, tok storedToken, identity *types.Identity) error {
	if err := storage.SetJSON(ctx, p.store, keyToken, tok); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot cache provider token", err)
	}
	if err := storage.SetJSON(ctx, p.store, keyIdentity, identity); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot cache provider identity", err)
	}
	return nil
}

// ActiveIdentity returns the cached identity while its token is valid,
// refreshing an expired token when a refresh token is available
func (p *OIDCProvider) ActiveIdentity(ctx context.Context) (*types.Identity, error) {
	var identity types.Identity
	ok, err := storage.GetJSON(ctx, p.store, keyIdentity, &identity)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot read provider identity", err)
	}
	if !ok {
		return nil, nil
	}

	var tok storedToken
	ok, err = storage.GetJSON(ctx, p.store, keyToken, &tok)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot read provider token", err)
	}
	if !ok {
		return nil, nil
	}
	if tok.oauth().Valid() {
		return &identity, nil
	}
	if tok.RefreshToken == "" {
		p.logger.Debug("Provider session expired", "email", identity.Email)
		return nil, nil
	}

	fresh, err := p.oauth.TokenSource(p.clientContext(ctx), tok.oauth()).Token()
	if err != nil {
		p.logger.Warn("Provider token refresh failed", "email", identity.Email, "error", err)
		return nil, nil
	}
	refreshed := storedToken{
		AccessToken:  fresh.AccessToken,
		TokenType:    fresh.TokenType,
		RefreshToken: firstNonEmpty(fresh.RefreshToken, tok.RefreshToken),
		Expiry:       fresh.Expiry,
		IDToken:      tok.IDToken,
	}
	if rawID, _ := fresh.Extra("id_token").(string); rawID != "" {
		refreshed.IDToken = rawID
	}
	if err := p.save(ctx, refreshed, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// SignOut forgets the cached tokens and returns the issuer's end-session
// URL carrying post_logout_redirect_uri, or "" when the issuer has none
func (p *OIDCProvider) SignOut(ctx context.Context, postLogoutRedirect string) (string, error) {
	var tok storedToken
	if _, err := storage.GetJSON(ctx, p.store, keyToken, &tok); err != nil {
		p.logger.Warn("Ignoring unreadable provider token on sign-out", "error", err)
	}
	if err := p.store.Clear(ctx, keyToken, keyIdentity); err != nil {
		return "", errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot clear provider session", err)
	}

	if p.endSession == "" {
		return "", nil
	}
	u, err := url.Parse(p.endSession)
	if err != nil {
		return "", errors.NewConfigError(errors.ErrCodeInvalidConfig, "Invalid end-session URL", err)
	}
	q := u.Query()
	if tok.IDToken != "" {
		q.Set("id_token_hint", tok.IDToken)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	q.Set("client_id", p.oauth.ClientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// randomString returns a URL-safe random string of exactly length characters
func randomString(length int) (string, error) {
	b := make([]byte, (length*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}
