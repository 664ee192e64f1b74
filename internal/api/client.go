// Package api is the HTTP client for the resume backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync"
	"time"

	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// maxResponseSize bounds how much of a response body is buffered
const maxResponseSize = 64 << 20

// Recorder receives per-request telemetry
type Recorder interface {
	RecordAPIRequest(ctx context.Context, endpoint string, statusCode int, duration time.Duration, err error)
	RecordRateLimitHit(ctx context.Context, scope string)
}

// Client talks to the backend. It attaches the stored bearer token to every
// request and clears the stored credentials when the backend answers 401.
type Client struct {
	baseURL       string
	userAgent     string
	maxUploadSize int64
	httpClient    *http.Client
	store         storage.Store
	limiter       *rate.Limiter
	breaker       *Breaker
	recorder      Recorder
	logger        *errors.Logger

	mu             sync.RWMutex
	onUnauthorized []func(ctx context.Context)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// NewClient creates a backend client from configuration
func NewClient(cfg config.APIConfig, store storage.Store, logger *errors.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:       cfg.BaseURL,
		userAgent:     cfg.UserAgent,
		maxUploadSize: cfg.MaxUploadSize,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		store:   store,
		breaker: NewBreaker(cfg.BaseURL, cfg.CircuitBreaker, logger),
		logger:  logger,
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnUnauthorized registers fn to run after a 401 has cleared the stored
// credentials
func (c *Client) OnUnauthorized(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = append(c.onUnauthorized, fn)
}

// BreakerStats exposes circuit breaker statistics
func (c *Client) BreakerStats() map[string]any {
	return c.breaker.GetStats()
}

// Healthy reports whether the circuit breaker is closed
func (c *Client) Healthy() bool {
	return c.breaker.IsHealthy()
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	method      string
	path        string
	endpoint    string // route template used as the metric label
	body        []byte
	contentType string
	accept      string
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do sends r and returns the buffered response, or an *Error for any
// non-2xx answer or transport failure
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	start := time.Now()
	resp, err := c.send(ctx, r)

	status := 0
	if resp != nil {
		status = resp.status
	}
	if c.recorder != nil {
		c.recorder.RecordAPIRequest(ctx, r.endpoint, status, time.Since(start), err)
	}

	if err != nil {
		c.logger.Debug("Backend request failed",
			"method", r.method,
			"endpoint", r.endpoint,
			"status", status,
			"error", err.Error())
		if status == http.StatusUnauthorized {
			c.handleUnauthorized(ctx)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, r request) (*response, error) {
	if c.limiter != nil {
		if !c.limiter.Allow() {
			if c.recorder != nil {
				c.recorder.RecordRateLimitHit(ctx, "api_client")
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, newTransportError(err)
			}
		}
	}

	token, err := storage.GetString(ctx, c.store, storage.KeyAccessToken)
	if err != nil {
		c.logger.LogError(err, "Failed to read access token from storage")
		token = ""
	}

	resp, err := c.breaker.execute(func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, bytes.NewReader(r.body))
		if err != nil {
			return nil, err
		}
		if r.body == nil {
			req.Body = http.NoBody
			req.ContentLength = 0
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}
		if r.accept != "" {
			req.Header.Set("Accept", r.accept)
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = httpResp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		if err != nil {
			return nil, err
		}

		resp := &response{status: httpResp.StatusCode, header: httpResp.Header, body: body}
		// Only server-side failures count against the breaker
		if resp.status >= http.StatusInternalServerError {
			return resp, newStatusError(resp.status, body)
		}
		return resp, nil
	})

	if err != nil {
		if resp != nil {
			return resp, err
		}
		return nil, newTransportError(err)
	}
	if resp.status >= http.StatusBadRequest {
		return resp, newStatusError(resp.status, resp.body)
	}
	return resp, nil
}

// handleUnauthorized clears the stored credentials and notifies listeners
func (c *Client) handleUnauthorized(ctx context.Context) {
	if err := c.store.Clear(ctx, storage.CredentialKeys...); err != nil {
		c.logger.LogError(err, "Failed to clear credentials after 401")
	}
	c.logger.Info("Backend rejected credentials, session cleared")

	c.mu.RLock()
	hooks := append([]func(context.Context){}, c.onUnauthorized...)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

// getJSON issues a GET and decodes the JSON answer into out
func (c *Client) getJSON(ctx context.Context, path, endpoint string, out any) error {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, endpoint: endpoint, accept: "application/json"})
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// sendJSON encodes in as the body of method and decodes the answer into out
// when out is non-nil
func (c *Client) sendJSON(ctx context.Context, method, path, endpoint string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
	}
	resp, err := c.do(ctx, request{
		method:      method,
		path:        path,
		endpoint:    endpoint,
		body:        body,
		contentType: "application/json",
		accept:      "application/json",
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(resp, out)
}

// sendForDocument posts in as JSON and returns the binary answer
func (c *Client) sendForDocument(ctx context.Context, path, endpoint string, in any) (*types.Document, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		endpoint:    endpoint,
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return documentFrom(resp), nil
}

// multipartForm builds a multipart body with one file part and string fields
func (c *Client) multipartForm(fileField string, file types.UploadFile, fields map[string]string) ([]byte, string, error) {
	if c.maxUploadSize > 0 && int64(len(file.Data)) > c.maxUploadSize {
		return nil, "", errors.NewValidationError(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("file %s exceeds the %d byte upload limit", file.Name, c.maxUploadSize), nil)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fileField, file.Name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func decode(resp *response, out any) error {
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return errors.NewAPIError(errors.ErrCodeInvalidFormat, "backend returned malformed JSON", err).
			WithContext("status", resp.status)
	}
	return nil
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}

// documentFrom wraps a binary answer, taking the filename from
// Content-Disposition when the backend sends one
func documentFrom(resp *response) *types.Document {
	doc := &types.Document{
		ContentType: resp.header.Get("Content-Type"),
		Data:        resp.body,
	}
	if cd := resp.header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			doc.Filename = params["filename"]
		}
	}
	return doc
}
