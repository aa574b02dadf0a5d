package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/config"
	"github.com/pendulo/formstudio/model"
)

// Observer receives the outcome of each upstream request. Implemented by
// the metrics layer; a nil Observer is ignored.
type Observer interface {
	ObserveUpstream(service, method string, status int, elapsed time.Duration)
}

// Client is a resilient JSON client for one upstream service.
type Client struct {
	name     string
	baseURL  string
	cfg      config.ServiceConfig
	http     *http.Client
	breaker  *Breaker
	log      *zap.Logger
	observer Observer
}

// NewClient builds a client for one service. The service name is used in
// logs and metrics only.
func NewClient(name string, cfg config.ServiceConfig, log *zap.Logger, observer Observer) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewBreaker(
			cfg.CircuitBreaker.FailureThreshold,
			cfg.CircuitBreaker.SuccessThreshold,
			cfg.CircuitBreaker.Timeout,
		),
		log:      log,
		observer: observer,
	}
}

// Breaker exposes the circuit breaker for readiness reporting.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Get issues a GET and decodes the JSON response into out (may be nil).
// Identity and correlation headers come from the RequestContext attached to
// ctx, when present.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, query, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream %s: marshal body: %w", c.name, err)
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	return c.executeWithRetry(ctx, method, reqURL, bodyBytes, "application/json", out)
}

// Upload sends a multipart form with a single file part and decodes the
// JSON response. Uploads are never retried.
func (c *Client) Upload(ctx context.Context, path, fieldName, filename string, file io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, filename)
	if err != nil {
		return fmt.Errorf("upstream %s: multipart: %w", c.name, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("upstream %s: multipart copy: %w", c.name, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("upstream %s: multipart close: %w", c.name, err)
	}

	return c.executeOnce(ctx, model.RequestContextFrom(ctx), http.MethodPost, c.baseURL+path, buf.Bytes(), mw.FormDataContentType(), out)
}

func (c *Client) executeWithRetry(ctx context.Context, method, reqURL string, bodyBytes []byte, contentType string, out any) error {
	rctx := model.RequestContextFrom(ctx)

	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method) || !c.cfg.Retry.IdempotentOnly

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(c.cfg.Retry, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.log.Debug("retrying upstream request",
				zap.String("service", c.name),
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
			)
		}

		err := c.executeOnce(ctx, rctx, method, reqURL, bodyBytes, contentType, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !canRetry || !isRetryable(err) {
			return err
		}
	}
	return lastErr
}

// executeOnce performs a single request with circuit breaker protection.
// The request context, when present, is forwarded as auth and correlation
// headers.
func (c *Client) executeOnce(ctx context.Context, rctx *model.RequestContext, method, reqURL string, bodyBytes []byte, contentType string, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return model.NewUpstreamUnavailableError()
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("upstream %s: build request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if rctx != nil {
		if rctx.Token != "" {
			req.Header.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		req.Header.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
		req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		req.Header.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.observe(method, 0, time.Since(start))
		if ctx.Err() != nil || isTimeoutError(err) {
			return model.NewUpstreamTimeoutError()
		}
		if isConnectionError(err) {
			return model.NewUpstreamUnavailableError()
		}
		return fmt.Errorf("upstream %s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		c.breaker.RecordFailure()
		c.observe(method, resp.StatusCode, time.Since(start))
		return fmt.Errorf("upstream %s: read response: %w", c.name, err)
	}
	c.observe(method, resp.StatusCode, time.Since(start))

	// 4xx responses are not infrastructure failures; only 5xx count
	// against the breaker.
	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
	case resp.StatusCode < 400:
		c.breaker.RecordSuccess()
	}

	if resp.StatusCode >= 400 {
		return c.decodeError(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("upstream %s: decode response: %w", c.name, err)
		}
	}
	return nil
}

// decodeError converts an upstream error response into an ErrorEnvelope.
// Upstream envelopes pass through; anything else maps by status code.
func (c *Client) decodeError(status int, body []byte) error {
	var env model.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return &env
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case status == http.StatusNotFound:
		return model.NewNotFoundError(fmt.Sprintf("%s: resource not found", c.name))
	case status == http.StatusUnauthorized:
		return model.NewUnauthorizedError(fmt.Sprintf("%s rejected the request credentials", c.name))
	case status == http.StatusConflict:
		return model.NewConflictError(fmt.Sprintf("%s reported a conflict", c.name))
	case status == http.StatusGatewayTimeout:
		return model.NewUpstreamTimeoutError()
	case status >= 500:
		return model.NewUpstreamUnavailableError()
	default:
		if msg == "" {
			msg = fmt.Sprintf("%s returned status %d", c.name, status)
		}
		return model.NewBadRequestError(msg)
	}
}

func (c *Client) observe(method string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveUpstream(c.name, method, status, elapsed)
	}
}

// sanitizeHeader strips newlines and carriage returns to prevent header
// injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// isRetryable reports whether another attempt could help. Envelope errors
// carry a definitive upstream answer except for 5xx-class codes.
func isRetryable(err error) bool {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code == model.ErrUpstreamTimeout || env.Code == model.ErrUpstreamUnavailable
	}
	return true
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > max {
			return max
		}
	}
	return delay
}
