package integrations

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type stubAuth struct {
	calls  atomic.Int32
	result AuthResult
	err    error
}

func (s *stubAuth) Authenticate(context.Context) (AuthResult, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return AuthResult{}, s.err
	}
	r := s.result
	if r.Success && r.Token == "" {
		r.Token = "tok-" + strconv.Itoa(int(n))
	}
	return r, nil
}

func okAuth() *stubAuth {
	return &stubAuth{result: AuthResult{Success: true, ExpiresIn: 3600}}
}

func newTestClient(t *testing.T, h http.HandlerFunc, auth Authenticator, clk Clock) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{Platform: "test", BaseURL: srv.URL, Timeout: 2 * time.Second, RetryAttempts: 3}, auth,
		WithHTTPClient(srv.Client()), WithClock(clk))
}

func TestDoAttachesBearerToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}, okAuth(), newFakeClock())

	var out struct{ OK bool }
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/ping", nil, &out))
	assert.True(t, out.OK)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestDoReauthenticatesOnceOn401(t *testing.T) {
	var hits atomic.Int32
	auth := okAuth()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"value":42}`))
	}, auth, newFakeClock())

	var out struct{ Value int }
	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/orders", nil, &out))
	assert.Equal(t, 42, out.Value)
	assert.EqualValues(t, 2, hits.Load())
	// initial login plus exactly one re-authentication
	assert.EqualValues(t, 2, auth.calls.Load())
	assert.Equal(t, "tok-2", c.Session().Token)
}

func TestDoPropagatesSecond401(t *testing.T) {
	var hits atomic.Int32
	auth := okAuth()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("nope"))
	}, auth, newFakeClock())

	err := c.Do(context.Background(), http.MethodGet, "/orders", nil, nil)
	var apiErr *APIRequestError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "nope", apiErr.Body)
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 2, auth.calls.Load())
}

func TestDoWaitsRetryAfterOn429(t *testing.T) {
	var hits atomic.Int32
	clk := newFakeClock()
	start := clk.Now()
	var events []RateLimitEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c := NewClient(ClientConfig{Platform: "test", BaseURL: srv.URL, RetryAttempts: 3}, okAuth(),
		WithHTTPClient(srv.Client()), WithClock(clk),
		WithRateLimitObserver(func(e RateLimitEvent) { events = append(events, e) }))

	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/orders", nil, nil))
	assert.EqualValues(t, 2, hits.Load())
	assert.GreaterOrEqual(t, clk.Now().Sub(start), 2*time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, 2*time.Second, events[0].RetryAfter)
}

func TestDoDefaultsRetryAfterTo60s(t *testing.T) {
	var hits atomic.Int32
	clk := newFakeClock()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}, okAuth(), clk)

	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/x", map[string]string{"a": "b"}, nil))
	assert.Equal(t, []time.Duration{60 * time.Second}, clk.Slept())
}

func TestDoReturnsAPIErrorOnServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}, okAuth(), newFakeClock())

	err := c.Do(context.Background(), http.MethodGet, "/orders", nil, nil)
	var apiErr *APIRequestError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, apiErr.Temporary())
}

func TestEnsureAuthenticatedFailure(t *testing.T) {
	auth := &stubAuth{result: AuthResult{Success: false, Error: "bad credentials"}}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be issued without a token")
	}, auth, newFakeClock())

	err := c.Do(context.Background(), http.MethodGet, "/orders", nil, nil)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "bad credentials", authErr.Reason)
}

func TestEnsureAuthenticatedRenewsExpiredToken(t *testing.T) {
	clk := newFakeClock()
	auth := &stubAuth{result: AuthResult{Success: true, ExpiresIn: 60}}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, auth, clk)

	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	assert.EqualValues(t, 1, auth.calls.Load())

	_ = clk.Sleep(context.Background(), 60*time.Second)
	require.NoError(t, c.EnsureAuthenticated(context.Background()))
	assert.EqualValues(t, 2, auth.calls.Load())
}

func TestRateLimitGateWaitsForReset(t *testing.T) {
	clk := newFakeClock()
	reset := clk.Now().Add(5 * time.Second).Unix()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		_, _ = w.Write([]byte(`{}`))
	}, okAuth(), clk)

	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/a", nil, nil))
	assert.Empty(t, clk.Slept())
	rl := c.RateLimit()
	assert.Equal(t, 0, rl.Remaining)
	assert.Equal(t, reset, rl.ResetAt.Unix())

	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/b", nil, nil))
	assert.Equal(t, []time.Duration{5 * time.Second}, clk.Slept())
}

func TestLimiterBurstFollowsRateLimitBuffer(t *testing.T) {
	for _, tc := range []struct {
		rps    float64
		buffer int
		burst  int
	}{
		{rps: 1, buffer: 5, burst: 5},
		{rps: 2.5, buffer: 0, burst: 2},
		{rps: 0.5, buffer: 0, burst: 1},
	} {
		c := NewClient(ClientConfig{Platform: "test", BaseURL: "http://unused", RequestsPerSecond: tc.rps, RateLimitBuffer: tc.buffer}, okAuth())
		require.NotNil(t, c.limiter)
		assert.Equal(t, tc.burst, c.limiter.Burst(), "rps=%v buffer=%d", tc.rps, tc.buffer)
	}

	c := NewClient(ClientConfig{Platform: "test", BaseURL: "http://unused", RateLimitBuffer: 5}, okAuth())
	assert.Nil(t, c.limiter)
}

func TestRetryWithBackoff(t *testing.T) {
	clk := newFakeClock()
	calls := 0
	v, err := RetryWithBackoff(context.Background(), clk, 3, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection reset")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clk.Slept())
}

func TestRetryWithBackoffExhausted(t *testing.T) {
	clk := newFakeClock()
	calls := 0
	_, err := RetryWithBackoff(context.Background(), clk, 3, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("attempt " + strconv.Itoa(calls))
	})
	require.EqualError(t, err, "attempt 3")
	assert.Equal(t, 3, calls)
	assert.Len(t, clk.Slept(), 2)
}

func TestRetryWithBackoffStopsOnPermanentError(t *testing.T) {
	clk := newFakeClock()
	calls := 0
	_, err := RetryWithBackoff(context.Background(), clk, 5, func(context.Context) (int, error) {
		calls++
		return 0, &InvalidPriceError{Value: -1}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clk.Slept())
}

func TestRetryWithBackoffHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryWithBackoff(ctx, newFakeClock(), 3, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
