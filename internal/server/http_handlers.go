package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/common"
	resumeErrors "resumeunlocked/internal/errors"
	"resumeunlocked/internal/types"
)

// uploadField is the multipart field carrying the resume file
const uploadField = "resume"

// healthHandler reports backend reachability, breaker state and tab storage
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "healthy",
		"service": "resumeunlocked",
		"version": s.Version,
	}
	healthy := true

	if s.Public != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		backend := map[string]any{"url": s.Public.BaseURL()}
		if status, err := s.Public.Health(ctx); err != nil {
			healthy = false
			backend["available"] = false
			backend["error"] = err.Error()
		} else {
			backend["available"] = true
			backend["status"] = status.Status
			if status.Database != "" {
				backend["database"] = status.Database
			}
		}
		backend["circuit_breaker"] = s.Public.BreakerStats()
		response["backend"] = backend
	}

	if s.StoragePing != nil {
		if err := s.StoragePing(); err != nil {
			healthy = false
			response["tab_storage"] = map[string]any{"available": false, "error": err.Error()}
		} else {
			response["tab_storage"] = map[string]any{"available": true}
		}
	}

	status := http.StatusOK
	if !healthy {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// statsHandler provides server statistics including rate limiting info
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service": "resumeunlocked",
		"version": s.Version,
		"server": map[string]any{
			"max_request_size_bytes": s.MaxRequestSize,
		},
		"tabs": s.Tabs.GetStats(),
	}

	if s.RateLimiter != nil {
		response["rate_limiting"] = s.RateLimiter.GetStats()
	} else {
		response["rate_limiting"] = map[string]any{
			"enabled": false,
		}
	}

	if s.RateLimit != nil {
		response["rate_limit_config"] = map[string]any{
			"enabled":          s.RateLimit.Enabled,
			"requests_per_min": s.RateLimit.RequestsPerMin,
			"burst_capacity":   s.RateLimit.BurstCapacity,
			"by_ip":            s.RateLimit.ByIP,
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// publicLinkHandler serves a shared resume exactly as the backend renders it
func (s *Server) publicLinkHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Public.ResolveLink(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeNavError(w, err, "Resume link not found")
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	if _, err := w.Write(doc.Data); err != nil {
		s.Logger.Warn("Failed to write shared resume", "error", err)
	}
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	s.writeState(w, tab)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	var req LoginRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := tab.Navigator.LoginWithPassword(r.Context(), req.Email, req.Password); err != nil {
		s.writeNavError(w, err, "Login failed")
		return
	}
	s.writeState(w, tab)
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	var req RegisterRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := tab.Navigator.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		s.writeNavError(w, err, "Registration failed")
		return
	}
	s.writeState(w, tab)
}

// federatedStartHandler redirects the browser to the identity provider
func (s *Server) federatedStartHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	if tab.Identity == nil {
		writeErrorResponse(w, "Federated sign-in unavailable", "No identity provider is configured", http.StatusNotFound)
		return
	}
	req, err := tab.Identity.Begin(s.callbackURL(r))
	if err != nil {
		s.writeNavError(w, err, "Could not start sign-in")
		return
	}
	tab.setPending(req)
	http.Redirect(w, r, req.URL, http.StatusFound)
}

// federatedCallbackHandler completes the provider round trip and signs the
// tab in with the returned identity
func (s *Server) federatedCallbackHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	if tab.Identity == nil {
		writeErrorResponse(w, "Federated sign-in unavailable", "No identity provider is configured", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeErrorResponse(w, "Sign-in was not completed", strings.TrimSpace(e+" "+q.Get("error_description")), http.StatusUnauthorized)
		return
	}
	pending := tab.takePending(q.Get("state"))
	if pending == nil {
		writeErrorResponse(w, "Invalid sign-in state", "The sign-in request expired or was started in another tab", http.StatusBadRequest)
		return
	}

	identity, err := tab.Identity.Exchange(r.Context(), pending, q.Get("code"))
	if err != nil {
		s.writeNavError(w, err, "Sign-in failed")
		return
	}
	if err := tab.Navigator.LoginFederated(r.Context(), *identity); err != nil {
		s.writeNavError(w, err, "Sign-in failed")
		return
	}
	http.Redirect(w, r, "/state", http.StatusSeeOther)
}

func (s *Server) callbackURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/callback", scheme, r.Host)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	if err := tab.Navigator.Logout(r.Context()); err != nil {
		s.writeNavError(w, err, "Logout failed")
		return
	}
	s.writeState(w, tab)
}

// uploadHandler sends the multipart resume to the backend and moves the tab
// on to role selection with the extracted sections
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeErrorResponse(w, "Upload too large", fmt.Sprintf("limit is %d bytes", maxBytesErr.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeErrorResponse(w, "Invalid upload", fmt.Sprintf("multipart field %q is required", uploadField), http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErrorResponse(w, "Invalid upload", err.Error(), http.StatusBadRequest)
		return
	}

	draft, err := tab.Navigator.UploadResume(r.Context(), types.UploadFile{Name: header.Filename, Data: data})
	if err != nil {
		s.writeNavError(w, err, "Failed to process resume")
		return
	}
	if err := tab.Navigator.CompleteUpload(r.Context(), *draft); err != nil {
		s.writeNavError(w, err, "Failed to continue")
		return
	}
	s.writeState(w, tab)
}

func (s *Server) rolesHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	var req RolesRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := tab.Navigator.CompleteRoles(r.Context(), common.NormalizeRoles(req.Roles)); err != nil {
		s.writeNavError(w, err, "Failed to save profile")
		return
	}
	s.writeState(w, tab)
}

func (s *Server) goNowHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	if err := tab.Navigator.GoNow(r.Context()); err != nil {
		s.writeNavError(w, err, "Failed to continue")
		return
	}
	s.writeState(w, tab)
}

func (s *Server) tabHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	var req TabRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if err := tab.Navigator.SelectTab(r.Context(), req.Tab); err != nil {
		s.writeNavError(w, err, "Failed to select tab")
		return
	}
	s.writeState(w, tab)
}

func (s *Server) backHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	if !tab.Navigator.Back() {
		writeErrorResponse(w, "No history", "Already at the first history entry", http.StatusConflict)
		return
	}
	s.writeState(w, tab)
}

func (s *Server) forwardHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	if !tab.Navigator.Forward() {
		writeErrorResponse(w, "No history", "Already at the last history entry", http.StatusConflict)
		return
	}
	s.writeState(w, tab)
}

func (s *Server) refreshProfileHandler(w http.ResponseWriter, r *http.Request, tab *Tab) {
	if _, err := tab.Navigator.RefreshProfile(r.Context()); err != nil {
		s.writeNavError(w, err, "Failed to load profile")
		return
	}
	s.writeState(w, tab)
}

func (s *Server) writeState(w http.ResponseWriter, tab *Tab) {
	resp := StateResponse{State: tab.Navigator.State()}
	if remaining := tab.Navigator.CountdownRemaining(); remaining > 0 {
		resp.CountdownSeconds = int((remaining + time.Second - 1) / time.Second)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeNavError maps navigator, identity and backend failures to HTTP
func (s *Server) writeNavError(w http.ResponseWriter, err error, title string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.LogError(err, title)
	}
	writeErrorResponse(w, title, api.UserMessage(err, err.Error()), status)
}

func statusFor(err error) int {
	var appErr *resumeErrors.AppError
	if errors.As(err, &appErr) {
		switch {
		case appErr.Code == resumeErrors.ErrCodeInvalidTransition:
			return http.StatusConflict
		case appErr.Type == resumeErrors.ErrorTypeValidation:
			return http.StatusBadRequest
		case appErr.Type == resumeErrors.ErrorTypeAuth:
			return http.StatusUnauthorized
		case appErr.Type == resumeErrors.ErrorTypeNotFound:
			return http.StatusNotFound
		}
	}

	switch code := api.StatusCode(err); {
	case api.IsTransport(err):
		return http.StatusServiceUnavailable
	case code >= 400 && code < 500:
		return code
	case code >= 500:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// parseJSONRequest parses JSON request body into the provided struct
func parseJSONRequest(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("content-type must be application/json")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body too large (limit is %d bytes)", maxBytesErr.Limit)
		}
		return fmt.Errorf("failed to read request body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeErrorResponse writes a standardized error response
func writeErrorResponse(w http.ResponseWriter, error, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
