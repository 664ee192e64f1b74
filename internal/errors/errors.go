package errors

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeAPI        ErrorType = "api"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Cause   error          `json:"cause,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func newAppError(typ ErrorType, code, message string, cause error) *AppError {
	return &AppError{
		Type:    typ,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error constructors for different types
func NewValidationError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeValidation, code, message, cause)
}

func NewIOError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeIO, code, message, cause)
}

func NewNetworkError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeNetwork, code, message, cause)
}

func NewConfigError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeConfig, code, message, cause)
}

func NewInternalError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, code, message, cause)
}

func NewAuthError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeAuth, code, message, cause)
}

func NewNotFoundError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeNotFound, code, message, cause)
}

func NewAPIError(code, message string, cause error) *AppError {
	return newAppError(ErrorTypeAPI, code, message, cause)
}

// WithContext adds context to an error
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsType reports whether err is, or wraps, an AppError of the given type.
func IsType(err error, typ ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == typ
	}
	return false
}

// Logger wraps slog with application-specific methods
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a new structured logger writing JSON to stderr.
// Stdout is reserved for command output.
func NewLogger(level slog.Level) *Logger {
	return NewLoggerWithWriter(os.Stderr, level)
}

// NewLoggerWithWriter creates a structured logger writing to w
func NewLoggerWithWriter(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(w, opts)
	return &Logger{logger: slog.New(handler)}
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return NewLoggerWithWriter(io.Discard, slog.LevelError+4)
}

// LogError logs an application error with appropriate level and context
func (l *Logger) LogError(err error, message string, args ...any) {
	if l == nil {
		return
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		logArgs := []any{
			"error_type", appErr.Type,
			"error_code", appErr.Code,
			"error_message", appErr.Message,
		}

		for key, value := range appErr.Context {
			logArgs = append(logArgs, key, value)
		}
		if appErr.Cause != nil {
			logArgs = append(logArgs, "cause", appErr.Cause.Error())
		}

		logArgs = append(logArgs, args...)

		l.logger.Error(message, logArgs...)
		return
	}

	logArgs := append([]any{"error", fmt.Sprint(err)}, args...)
	l.logger.Error(message, logArgs...)
}

func (l *Logger) Info(message string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Info(message, args...)
}

func (l *Logger) Debug(message string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Debug(message, args...)
}

func (l *Logger) Warn(message string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Warn(message, args...)
}

// With returns a logger that always includes the given attributes
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{logger: l.logger.With(args...)}
}

// ParseLevel converts a configured level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}

// New creates a new logger instance
func New(level string) (*Logger, error) {
	slogLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return NewLogger(slogLevel), nil
}

// Common error codes
const (
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodeFileNotReadable    = "FILE_NOT_READABLE"
	ErrCodeInvalidFormat      = "INVALID_FORMAT"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeNetworkTimeout     = "NETWORK_TIMEOUT"
	ErrCodeInvalidConfig      = "INVALID_CONFIG"
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeSessionExpired     = "SESSION_EXPIRED"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodeBackendFailed      = "BACKEND_FAILED"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeStorageFailed      = "STORAGE_FAILED"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
)
