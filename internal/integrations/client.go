package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"orderhub/internal/metrics"
)

const defaultRetryAfter = 60 * time.Second

// ClientConfig is the transport part of a platform's credential contract.
type ClientConfig struct {
	Platform          string
	BaseURL           string
	Timeout           time.Duration
	RetryAttempts     int
	RateLimitBuffer   int
	RequestsPerSecond float64
}

// Clock abstracts time so waits can be simulated in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AuthSession is the adapter's current credential capability.
type AuthSession struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
}

// RateLimitState mirrors the platform's rate-limit headers.
type RateLimitState struct {
	Remaining   int
	ResetAt     time.Time
	WindowStart time.Time
	known       bool
}

// RateLimitEvent is emitted whenever a platform answers 429.
type RateLimitEvent struct {
	Platform   string
	RetryAfter time.Duration
	At         time.Time
}

// Response is a raw platform response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client gives an adapter authenticated, rate-limited, retried HTTP access.
// Session and rate-limit state are private to one Client.
type Client struct {
	cfg     ClientConfig
	auth    Authenticator
	http    *http.Client
	clock   Clock
	limiter *rate.Limiter
	log     logrus.FieldLogger

	onRateLimit func(RateLimitEvent)

	authMu  sync.Mutex // serializes logins
	mu      sync.Mutex // guards session and rl
	session AuthSession
	rl      RateLimitState
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }
func WithClock(clk Clock) ClientOption           { return func(c *Client) { c.clock = clk } }
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithRateLimitObserver registers a callback for 429 responses.
func WithRateLimitObserver(fn func(RateLimitEvent)) ClientOption {
	return func(c *Client) { c.onRateLimit = fn }
}

func NewClient(cfg ClientConfig, auth Authenticator, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:   cfg,
		auth:  auth,
		http:  &http.Client{},
		clock: realClock{},
		log:   logrus.StandardLogger(),
	}
	if cfg.RequestsPerSecond > 0 {
		// The header gate keeps RateLimitBuffer calls in reserve; the limiter
		// lets that many through at once.
		burst := cfg.RateLimitBuffer
		if burst < 1 {
			burst = max(1, int(cfg.RequestsPerSecond))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.WithField("platform", cfg.Platform)
	return c
}

func (c *Client) Platform() string { return c.cfg.Platform }
func (c *Client) Clock() Clock      { return c.clock }

// Session returns a copy of the current auth session.
func (c *Client) Session() AuthSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// RateLimit returns a copy of the tracked rate-limit state.
func (c *Client) RateLimit() RateLimitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rl
}

// EnsureAuthenticated logs in when there is no token or it has expired.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	c.mu.Lock()
	valid := c.session.Token != "" && c.clock.Now().Before(c.session.ExpiresAt)
	c.mu.Unlock()
	if valid {
		return nil
	}

	res, err := c.auth.Authenticate(ctx)
	if err != nil {
		metrics.AuthRefreshes.WithLabelValues(c.cfg.Platform, "error").Inc()
		return &AuthenticationError{Platform: c.cfg.Platform, Reason: err.Error(), Err: err}
	}
	if !res.Success || res.Token == "" {
		metrics.AuthRefreshes.WithLabelValues(c.cfg.Platform, "rejected").Inc()
		reason := res.Error
		if reason == "" {
			reason = "no token returned"
		}
		return &AuthenticationError{Platform: c.cfg.Platform, Reason: reason}
	}
	ttl := time.Duration(res.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.mu.Lock()
	c.session = AuthSession{
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    c.clock.Now().Add(ttl),
	}
	c.mu.Unlock()
	metrics.AuthRefreshes.WithLabelValues(c.cfg.Platform, "ok").Inc()
	c.log.WithField("expires_in", res.ExpiresIn).Debug("authenticated")
	return nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.session.Token = ""
	c.mu.Unlock()
}

// EnforceRateLimit suspends the caller while the platform window is
// exhausted. Concurrent callers all observe the same state and wait for the
// same reset; nothing is queued.
func (c *Client) EnforceRateLimit(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	rl := c.rl
	c.mu.Unlock()
	now := c.clock.Now()
	if rl.known && now.Before(rl.ResetAt) && rl.Remaining <= c.cfg.RateLimitBuffer {
		wait := rl.ResetAt.Sub(now)
		metrics.RateLimitWaits.WithLabelValues(c.cfg.Platform, "window").Inc()
		c.log.WithField("wait", wait).Info("rate limit window exhausted, waiting for reset")
		return c.clock.Sleep(ctx, wait)
	}
	return nil
}

func (c *Client) updateRateLimit(h http.Header) {
	rem := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	if rem == "" && reset == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, err := strconv.Atoi(rem); err == nil {
		c.rl.Remaining = n
		c.rl.known = true
	}
	if sec, err := strconv.ParseInt(reset, 10, 64); err == nil {
		at := time.Unix(sec, 0)
		if !at.Equal(c.rl.ResetAt) {
			c.rl.WindowStart = c.clock.Now()
		}
		c.rl.ResetAt = at
	}
}

// Do issues an authenticated JSON request and decodes a 2xx body into out.
// A 401 triggers one re-authentication and a single retry; a 429 waits for
// Retry-After and tries again, up to the configured retry attempts.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s marshal: %w", c.cfg.Platform, err)
		}
		payload = b
	}
	resp, err := c.do(ctx, method, path, payload, false, 0)
	if err != nil {
		return err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("%s decode %s: %w", c.cfg.Platform, path, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, reauthed bool, throttled int) (*Response, error) {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if err := c.EnforceRateLimit(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	token := c.session.Token
	c.mu.Unlock()

	resp, err := c.Send(ctx, method, path, payload, http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		return nil, err
	}
	c.updateRateLimit(resp.Header)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if reauthed {
			return nil, c.apiError(method, path, resp)
		}
		c.log.Info("token rejected, re-authenticating")
		c.clearToken()
		return c.do(ctx, method, path, payload, true, throttled)
	case resp.StatusCode == http.StatusTooManyRequests:
		if throttled >= c.cfg.RetryAttempts {
			return nil, c.apiError(method, path, resp)
		}
		wait := retryAfter(resp.Header.Get("Retry-After"))
		c.rateLimited(wait)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		return c.do(ctx, method, path, payload, reauthed, throttled+1)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, c.apiError(method, path, resp)
	}
	return resp, nil
}

func (c *Client) rateLimited(wait time.Duration) {
	metrics.RateLimitWaits.WithLabelValues(c.cfg.Platform, "429").Inc()
	c.log.WithField("retry_after", wait).Warn("rate limit exceeded")
	if c.onRateLimit != nil {
		c.onRateLimit(RateLimitEvent{Platform: c.cfg.Platform, RetryAfter: wait, At: c.clock.Now()})
	}
}

func (c *Client) apiError(method, path string, resp *Response) *APIRequestError {
	return &APIRequestError{
		Platform:   c.cfg.Platform,
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
	}
}

func retryAfter(v string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultRetryAfter
}

// Send issues a single unauthenticated request with the per-request timeout
// and returns the raw response. Non-2xx statuses are not errors here.
func (c *Client) Send(ctx context.Context, method, path string, payload []byte, hdr http.Header) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s request %s: %w", c.cfg.Platform, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.PlatformLatency.WithLabelValues(c.cfg.Platform).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.PlatformRequests.WithLabelValues(c.cfg.Platform, "error").Inc()
		return nil, fmt.Errorf("%s %s %s: %w", c.cfg.Platform, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", c.cfg.Platform, err)
	}
	metrics.PlatformRequests.WithLabelValues(c.cfg.Platform, strconv.Itoa(resp.StatusCode)).Inc()
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Retry runs op with the client's configured attempts and clock.
func (c *Client) Retry(ctx context.Context, op func(context.Context) error) error {
	_, err := RetryWithBackoff(ctx, c.clock, c.cfg.RetryAttempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
