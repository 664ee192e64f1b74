package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	resumeErrors "resumeunlocked/internal/errors"
	"resumeunlocked/internal/types"
)

type callbackResult struct {
	code string
	err  error
}

// Login runs the interactive flow: it listens on the redirect URL's host,
// hands the authorization URL to open and waits for the browser to come
// back with a code. A redirect port of 0 picks a free loopback port.
func (p *OIDCProvider) Login(ctx context.Context, open func(authURL string) error) (*types.Identity, error) {
	redirect, err := url.Parse(p.oauth.RedirectURL)
	if err != nil {
		return nil, resumeErrors.NewConfigError(resumeErrors.ErrCodeInvalidConfig, "Invalid OIDC redirect URL", err)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, resumeErrors.NewIOError(resumeErrors.ErrCodeInvalidConfig, "Cannot listen for the sign-in callback", err).
			WithContext("address", redirect.Host)
	}
	if redirect.Port() == "0" {
		redirect.Host = ln.Addr().String()
	}

	req, err := p.Begin(redirect.String())
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	results := make(chan callbackResult, 1)
	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, callbackHandler(req.State, results))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.LogError(err, "Sign-in callback listener failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := open(req.URL); err != nil {
		return nil, fmt.Errorf("open authorization URL: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.loginTimeout)
	defer cancel()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, resumeErrors.NewAuthError(resumeErrors.ErrCodeNotAuthenticated, "Sign-in was not completed", res.err)
		}
		return p.Exchange(ctx, req, res.code)
	case <-waitCtx.Done():
		return nil, resumeErrors.NewAuthError(resumeErrors.ErrCodeNetworkTimeout, "Timed out waiting for sign-in", waitCtx.Err()).
			WithContext("timeout", p.loginTimeout.String())
	}
}

func callbackHandler(state string, results chan<- callbackResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("%s: %s", q.Get("error"), q.Get("error_description"))
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("code") == "":
			res.err = fmt.Errorf("callback carried no authorization code")
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
		default:
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if res.err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintln(w, "Sign-in failed. You can close this window.")
			return
		}
		_, _ = fmt.Fprintln(w, "Signed in. You can close this window and return to the terminal.")
	}
}
