package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
)

const testClientID = "client-1"

type fakeIssuer struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu        sync.Mutex
	email     string
	nonce     string
	refreshes int
	verifiers []string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{key: key, email: "ada@example.com"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("GET /authorize", f.authorize)
	mux.HandleFunc("POST /token", f.token)
	mux.HandleFunc("GET /userinfo", f.userinfo)
	mux.HandleFunc("GET /keys", f.keys)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIssuer) setNonce(n string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce = n
}

func (f *fakeIssuer) setEmail(e string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.email = e
}

func (f *fakeIssuer) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeIssuer) seenVerifiers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.verifiers...)
}

func (f *fakeIssuer) discovery(w http.ResponseWriter, _ *http.Request) {
	base := f.srv.URL
	writeJSON(w, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"userinfo_endpoint":                     base + "/userinfo",
		"jwks_uri":                              base + "/keys",
		"end_session_endpoint":                  base + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIssuer) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.setNonce(q.Get("nonce"))

	back, _ := url.Parse(q.Get("redirect_uri"))
	bq := back.Query()
	bq.Set("code", "abc")
	bq.Set("state", q.Get("state"))
	back.RawQuery = bq.Encode()
	http.Redirect(w, r, back.String(), http.StatusFound)
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "abc" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		f.verifiers = append(f.verifiers, r.PostForm.Get("code_verifier"))
		writeJSON(w, map[string]any{
			"access_token":  "access-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
			"id_token":      f.signIDToken(),
		})
	case "refresh_token":
		f.refreshes++
		writeJSON(w, map[string]any{
			"access_token": "access-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
	}
}

func (f *fakeIssuer) signIDToken() string {
	claims := jwt.MapClaims{
		"iss":   f.srv.URL,
		"aud":   testClientID,
		"sub":   "subject-1",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
		"nonce": f.nonce,
	}
	if f.email != "" {
		claims["email"] = f.email
		claims["name"] = "Ada Lovelace"
		claims["picture"] = "https://example.com/ada.png"
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(f.key)
	if err != nil {
		panic(err)
	}
	return signed
}

func (f *fakeIssuer) userinfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"sub":   "subject-1",
		"email": "info@example.com",
		"name":  "From Userinfo",
	})
}

func (f *fakeIssuer) keys(w http.ResponseWriter, _ *http.Request) {
	pub := f.key.PublicKey
	writeJSON(w, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testOIDCConfig(issuer string) config.OIDCConfig {
	return config.OIDCConfig{
		Issuer:       issuer,
		ClientID:     testClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:0/callback",
		Scopes:       []string{"profile", "email"},
		LoginTimeout: 5 * time.Second,
	}
}

func newTestProvider(t *testing.T, issuer *fakeIssuer) (*OIDCProvider, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	p, err := NewOIDCProvider(context.Background(), testOIDCConfig(issuer.srv.URL), store, nil)
	require.NoError(t, err)
	return p, store
}

func TestNewOIDCProviderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.OIDCConfig)
		msg    string
	}{
		{"missing issuer", func(c *config.OIDCConfig) { c.Issuer = "" }, "issuer is required"},
		{"missing client id", func(c *config.OIDCConfig) { c.ClientID = "" }, "client ID is required"},
		{"missing redirect", func(c *config.OIDCConfig) { c.RedirectURL = "" }, "redirect URL is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testOIDCConfig("https://issuer.example.com")
			tt.mutate(&cfg)
			_, err := NewOIDCProvider(context.Background(), cfg, storage.NewMemoryStore(), nil)
			assert.ErrorContains(t, err, tt.msg)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestNewOIDCProviderDiscovery(t *testing.T) {
	issuer := newFakeIssuer(t)

	p, _ := newTestProvider(t, issuer)
	assert.Equal(t, issuer.srv.URL+"/authorize", p.oauth.Endpoint.AuthURL)
	assert.Equal(t, issuer.srv.URL+"/token", p.oauth.Endpoint.TokenURL)
	assert.Equal(t, issuer.srv.URL+"/logout", p.endSession)
	assert.Equal(t, []string{"openid", "profile", "email"}, p.oauth.Scopes)

	cfg := testOIDCConfig(issuer.srv.URL + "/.well-known/openid-configuration")
	cfg.EndSessionURL = "https://sso.example.com/bye"
	p, err := NewOIDCProvider(context.Background(), cfg, storage.NewMemoryStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://sso.example.com/bye", p.endSession)
}

func TestNewOIDCProviderDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewOIDCProvider(context.Background(), testOIDCConfig(srv.URL), storage.NewMemoryStore(), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNetwork))
}

func TestBegin(t *testing.T) {
	p, _ := newTestProvider(t, newFakeIssuer(t))

	req, err := p.Begin("http://127.0.0.1:9999/callback")
	require.NoError(t, err)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, req.State, q.Get("state"))
	assert.Equal(t, req.Nonce, q.Get("nonce"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "http://127.0.0.1:9999/callback", q.Get("redirect_uri"))
	assert.Len(t, req.State, 32)
	assert.NotEqual(t, req.State, req.Nonce)
}

func TestExchangeCachesIdentity(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, _ := newTestProvider(t, issuer)
	ctx := context.Background()

	req, err := p.Begin("")
	require.NoError(t, err)
	issuer.setNonce(req.Nonce)

	identity, err := p.Exchange(ctx, req, "abc")
	require.NoError(t, err)
	assert.Equal(t, types.Identity{
		Email:             "ada@example.com",
		DisplayName:       "Ada Lovelace",
		AvatarURL:         "https://example.com/ada.png",
		ProviderSubjectID: "subject-1",
	}, *identity)
	assert.Equal(t, []string{req.Verifier}, issuer.seenVerifiers())

	active, err := p.ActiveIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, identity, active)
}

func TestExchangeUserInfoFallback(t *testing.T) {
	issuer := newFakeIssuer(t)
	issuer.setEmail("")
	p, _ := newTestProvider(t, issuer)

	req, err := p.Begin("")
	require.NoError(t, err)
	issuer.setNonce(req.Nonce)

	identity, err := p.Exchange(context.Background(), req, "abc")
	require.NoError(t, err)
	assert.Equal(t, "info@example.com", identity.Email)
	assert.Equal(t, "From Userinfo", identity.DisplayName)
	assert.Equal(t, "subject-1", identity.ProviderSubjectID)
}

func TestExchangeRejectsNonceMismatch(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, store := newTestProvider(t, issuer)

	req, err := p.Begin("")
	require.NoError(t, err)
	issuer.setNonce("someone-else")

	_, err = p.Exchange(context.Background(), req, "abc")
	assert.ErrorContains(t, err, "nonce mismatch")
	assert.Empty(t, store.Snapshot())
}

func TestExchangeRequiresCode(t *testing.T) {
	p, _ := newTestProvider(t, newFakeIssuer(t))
	_, err := p.Exchange(context.Background(), &AuthRequest{}, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestActiveIdentityRefreshesExpiredToken(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, store := newTestProvider(t, issuer)
	ctx := context.Background()

	identity := types.Identity{Email: "ada@example.com"}
	require.NoError(t, storage.SetJSON(ctx, store, keyIdentity, identity))
	require.NoError(t, storage.SetJSON(ctx, store, keyToken, storedToken{
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
		IDToken:      "id-1",
	}))

	active, err := p.ActiveIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, &identity, active)
	assert.Equal(t, 1, issuer.refreshCount())

	var tok storedToken
	_, err = storage.GetJSON(ctx, store, keyToken, &tok)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "id-1", tok.IDToken)
}

func TestActiveIdentityExpiredWithoutRefresh(t *testing.T) {
	p, store := newTestProvider(t, newFakeIssuer(t))
	ctx := context.Background()

	require.NoError(t, storage.SetJSON(ctx, store, keyIdentity, types.Identity{Email: "ada@example.com"}))
	require.NoError(t, storage.SetJSON(ctx, store, keyToken, storedToken{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)}))

	active, err := p.ActiveIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestActiveIdentityWithoutSession(t *testing.T) {
	p, _ := newTestProvider(t, newFakeIssuer(t))
	active, err := p.ActiveIdentity(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSignOut(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, store := newTestProvider(t, issuer)
	ctx := context.Background()

	require.NoError(t, storage.SetJSON(ctx, store, keyIdentity, types.Identity{Email: "ada@example.com"}))
	require.NoError(t, storage.SetJSON(ctx, store, keyToken, storedToken{AccessToken: "a", IDToken: "id-1"}))

	raw, err := p.SignOut(ctx, "http://localhost:8080/")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/logout", u.Path)
	assert.Equal(t, "id-1", u.Query().Get("id_token_hint"))
	assert.Equal(t, "http://localhost:8080/", u.Query().Get("post_logout_redirect_uri"))
	assert.Equal(t, testClientID, u.Query().Get("client_id"))
	assert.Empty(t, store.Snapshot())
}

func TestSignOutWithoutEndSession(t *testing.T) {
	p, _ := newTestProvider(t, newFakeIssuer(t))
	p.endSession = ""

	raw, err := p.SignOut(context.Background(), "http://localhost:8080/")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestLoginFlow(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, _ := newTestProvider(t, issuer)

	identity, err := p.Login(context.Background(), func(authURL string) error {
		resp, err := http.Get(authURL)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", identity.Email)
}

func TestLoginTimeout(t *testing.T) {
	p, _ := newTestProvider(t, newFakeIssuer(t))
	p.loginTimeout = 50 * time.Millisecond

	_, err := p.Login(context.Background(), func(string) error { return nil })
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrCodeNetworkTimeout, appErr.Code)
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		status  int
		code    string
		wantErr bool
		noSend  bool
	}{
		{"success", "state=s1&code=abc", http.StatusOK, "abc", false, false},
		{"provider error", "error=access_denied&error_description=nope&state=s1", http.StatusBadRequest, "", true, false},
		{"state mismatch", "state=other&code=abc", http.StatusBadRequest, "", false, true},
		{"missing code", "state=s1", http.StatusBadRequest, "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(chan callbackResult, 1)
			rec := httptest.NewRecorder()
			callbackHandler("s1", results)(rec, httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil))

			assert.Equal(t, tt.status, rec.Code)
			if tt.noSend {
				assert.Empty(t, results)
				return
			}
			res := <-results
			assert.Equal(t, tt.code, res.code)
			assert.Equal(t, tt.wantErr, res.err != nil)
		})
	}
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(context.Background(), config.IdentityConfig{Provider: ProviderNone}, storage.NewMemoryStore(), nil)
	require.NoError(t, err)
	assert.IsType(t, NoopProvider{}, p)

	identity, err := p.ActiveIdentity(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, identity)

	_, err = New(context.Background(), config.IdentityConfig{Provider: "saml"}, storage.NewMemoryStore(), nil)
	assert.ErrorContains(t, err, "unknown identity provider")

	issuer := newFakeIssuer(t)
	p, err = New(context.Background(), config.IdentityConfig{Provider: ProviderOIDC, OIDC: testOIDCConfig(issuer.srv.URL)}, storage.NewMemoryStore(), nil)
	require.NoError(t, err)
	assert.IsType(t, &OIDCProvider{}, p)
}

func TestForStoreIsolatesSessions(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, shared := newTestProvider(t, issuer)
	ctx := context.Background()

	tabStore := storage.NewMemoryStore()
	tab := p.ForStore(tabStore)

	req, err := tab.Begin("")
	require.NoError(t, err)
	issuer.setNonce(req.Nonce)
	_, err = tab.Exchange(ctx, req, "abc")
	require.NoError(t, err)

	active, err := tab.ActiveIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)

	other, err := p.ActiveIdentity(ctx)
	require.NoError(t, err)
	assert.Nil(t, other)
	assert.Empty(t, shared.Snapshot())
}
