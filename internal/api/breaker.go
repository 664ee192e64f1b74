package api

import (
	"fmt"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"

	"github.com/sony/gobreaker/v2"
)

// Breaker wraps backend calls with the circuit breaker pattern.
// A nil *Breaker runs every call directly.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[*response]
}

// NewBreaker creates a circuit breaker for the backend named by baseURL
func NewBreaker(baseURL string, cfg config.CircuitBreakerConfig, logger *errors.Logger) *Breaker {
	// If circuit breaker is disabled, return nil to indicate no circuit breaker
	if !cfg.Enabled {
		return nil
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("backend-%s", baseURL),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests &&
				failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
				"max_requests", cfg.MaxRequests,
				"failure_threshold", cfg.FailureThreshold)
		},
	}

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker[*response](settings),
	}
}

// execute runs fn with circuit breaker protection
func (b *Breaker) execute(fn func() (*response, error)) (*response, error) {
	if b == nil || b.cb == nil {
		return fn()
	}
	return b.cb.Execute(fn)
}

// GetStats returns circuit breaker statistics
func (b *Breaker) GetStats() map[string]any {
	if b == nil || b.cb == nil {
		return map[string]any{
			"enabled": false,
		}
	}

	return map[string]any{
		"name":    b.cb.Name(),
		"state":   b.cb.State().String(),
		"counts":  b.cb.Counts(),
		"enabled": true,
	}
}

// IsHealthy returns true if the circuit breaker is in closed state
func (b *Breaker) IsHealthy() bool {
	if b == nil || b.cb == nil {
		return true
	}
	return b.cb.State() == gobreaker.StateClosed
}
