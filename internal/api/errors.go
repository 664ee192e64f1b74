package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is returned for every failed backend call. StatusCode is zero when
// the request never produced an HTTP response.
type Error struct {
	StatusCode int
	Message    string
	Body       []byte
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("backend unreachable: %v", e.Cause)
		}
		return "backend unreachable"
	}
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newStatusError(status int, body []byte) *Error {
	return &Error{StatusCode: status, Message: serverMessage(body), Body: body}
}

func newTransportError(cause error) *Error {
	return &Error{Cause: cause}
}

// serverMessage extracts the human-readable message the backend put in an
// error body: {"detail": ...}, {"message": ...} or {"error": ...}.
func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "message", "error"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		// FastAPI validation errors carry a list of {msg} objects
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			msgs := make([]string, 0, len(list))
			for _, item := range list {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return ""
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether the backend answered 404
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports whether the backend answered 401
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// IsTransport reports whether err is a network, timeout or open-breaker
// failure rather than an HTTP answer
func IsTransport(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 0
}

// UserMessage returns the server-provided message carried by err, or fallback
func UserMessage(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
