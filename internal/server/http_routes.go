package server

import (
	"context"
	"net/http"
	"time"

	"resumeunlocked/internal/observability"
)

// tabHandler handles a request on behalf of one tab
type tabHandler func(w http.ResponseWriter, r *http.Request, tab *Tab)

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	rateLimit := s.rateLimitMiddleware()
	requestLimit := s.requestSizeLimitMiddleware()
	tab := func(h tabHandler) http.HandlerFunc {
		return rateLimit(requestLimit(s.withTab(h)))
	}

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.HandleFunc("GET /r/{code}", rateLimit(s.publicLinkHandler))

	mux.HandleFunc("GET /state", tab(s.stateHandler))
	mux.HandleFunc("POST /login", tab(s.loginHandler))
	mux.HandleFunc("POST /register", tab(s.registerHandler))
	mux.HandleFunc("GET /auth/federated", tab(s.federatedStartHandler))
	mux.HandleFunc("GET /auth/callback", tab(s.federatedCallbackHandler))
	mux.HandleFunc("POST /logout", tab(s.logoutHandler))
	mux.HandleFunc("POST /upload", tab(s.uploadHandler))
	mux.HandleFunc("POST /roles", tab(s.rolesHandler))
	mux.HandleFunc("POST /congratulations/go", tab(s.goNowHandler))
	mux.HandleFunc("POST /tab", tab(s.tabHandler))
	mux.HandleFunc("POST /history/back", tab(s.backHandler))
	mux.HandleFunc("POST /history/forward", tab(s.forwardHandler))
	mux.HandleFunc("POST /profile/refresh", tab(s.refreshProfileHandler))

	cookie := s.CookieName
	handler := observability.ObservabilityMiddleware(s.Observability, cookie)(mux)
	return s.Observability.HTTPMiddleware()(handler)
}

// withTab resolves the tab cookie, issuing a new tab id when needed, and
// saves the tab's history after the handler ran
func (s *Server) withTab(next tabHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(s.CookieName); err == nil {
			id = c.Value
		}

		tab, created, err := s.Tabs.Get(r.Context(), id)
		if err != nil {
			s.Logger.LogError(err, "Failed to open tab")
			writeErrorResponse(w, "Tab unavailable", "Could not restore this tab's session", http.StatusServiceUnavailable)
			return
		}
		if created || id != tab.ID {
			http.SetCookie(w, &http.Cookie{
				Name:     s.CookieName,
				Value:    tab.ID,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.TLSConfig.Mode == "server",
				SameSite: http.SameSiteLaxMode,
			})
		}

		next(w, r, tab)

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := tab.saveHistory(saveCtx); err != nil {
			s.Logger.Warn("Failed to save tab history", "tab", tab.ID, "error", err)
		}
	}
}

// requestSizeLimitMiddleware limits the size of incoming requests
func (s *Server) requestSizeLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.MaxRequestSize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestSize)
			}

			next(w, r)
		}
	}
}
