package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all custom metrics for resumeunlocked
type Metrics struct {
	// Navigator metrics
	NavigationTransitions metric.Int64Counter
	GateDecisions         metric.Int64Counter

	// Backend API metrics
	APIRequests        metric.Int64Counter
	APIRequestDuration metric.Float64Histogram

	// Rate limiting metrics
	RateLimitHits metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.NavigationTransitions, err = meter.Int64Counter(
		"resumeunlocked_navigation_transitions_total",
		metric.WithDescription("Total number of navigator view transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create navigation transitions metric: %w", err)
	}

	m.GateDecisions, err = meter.Int64Counter(
		"resumeunlocked_gate_decisions_total",
		metric.WithDescription("Total number of profile-existence gate decisions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate decisions metric: %w", err)
	}

	m.APIRequests, err = meter.Int64Counter(
		"resumeunlocked_api_requests_total",
		metric.WithDescription("Total number of backend API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request count metric: %w", err)
	}

	m.APIRequestDuration, err = meter.Float64Histogram(
		"resumeunlocked_api_request_duration_seconds",
		metric.WithDescription("Time spent waiting for backend API responses"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API request duration metric: %w", err)
	}

	m.RateLimitHits, err = meter.Int64Counter(
		"resumeunlocked_rate_limit_hits_total",
		metric.WithDescription("Total number of rate limit hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit hits metric: %w", err)
	}

	return m, nil
}

// Recorder turns navigator, gate and API client events into metrics.
// Instruments that were never created are skipped.
type Recorder struct {
	metrics     *Metrics
	navigation  bool
	api         bool
	apiDuration bool
	rateLimits  bool
}

// RecordTransition counts one view change
func (r *Recorder) RecordTransition(ctx context.Context, from, to, trigger string) {
	if r == nil || !r.navigation || r.metrics.NavigationTransitions == nil {
		return
	}
	r.metrics.NavigationTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("trigger", trigger),
	))
}

// RecordGateDecision counts one profile-existence decision
func (r *Recorder) RecordGateDecision(ctx context.Context, action, existence string) {
	if r == nil || !r.navigation || r.metrics.GateDecisions == nil {
		return
	}
	r.metrics.GateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("existence", existence),
	))
}

// RecordAPIRequest counts one backend call and its latency. A status code of
// 0 means the request never got a response.
func (r *Recorder) RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration, err error) {
	if r == nil || !r.api || r.metrics.APIRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", strconv.Itoa(statusCode)),
		attribute.Bool("success", err == nil),
	)
	r.metrics.APIRequests.Add(ctx, 1, attrs)
	if r.apiDuration && r.metrics.APIRequestDuration != nil {
		r.metrics.APIRequestDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordRateLimitHit counts one throttled request
func (r *Recorder) RecordRateLimitHit(ctx context.Context, scope string) {
	if r == nil || !r.rateLimits || r.metrics.RateLimitHits == nil {
		return
	}
	r.metrics.RateLimitHits.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}
