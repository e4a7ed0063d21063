package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/infra/storage"
	"deprecations-feed/internal/resilience/circuitbreaker"
	"deprecations-feed/internal/resilience/retry"
	"deprecations-feed/internal/usecase/cache"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T) (*Client, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}

	fs, err := storage.NewFileSystem(t.TempDir(), storage.WithClock(clk.Now))
	require.NoError(t, err)
	cm := cache.NewManager(fs, cache.Options{Now: clk.Now})

	cfg := config.DefaultCollectorConfig()
	cfg.HostInterval = 0
	c := NewClient(cfg, cm,
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
		WithRetryConfig(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}),
		WithClientClock(clk.Now))
	return c, clk
}

func TestClient_CachesFreshPages(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Contains(t, r.Header.Get("User-Agent"), "deprecations-feed")
		_, _ = io.WriteString(w, "<table></table>")
	}))
	defer srv.Close()

	c, clk := newTestClient(t)
	ctx := context.Background()

	body, err := c.Fetch(ctx, srv.URL+"/deprecations")
	require.NoError(t, err)
	assert.Equal(t, "<table></table>", string(body))

	clk.Advance(22 * time.Hour)
	_, err = c.Fetch(ctx, srv.URL+"/deprecations")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "a fresh page must not be requested again")

	clk.Advance(2 * time.Hour)
	_, err = c.Fetch(ctx, srv.URL+"/deprecations")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "a stale page must be requested again")
}

func TestClient_RevalidatesWithETag(t *testing.T) {
	var hits, notModified int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` && r.Header.Get("If-Modified-Since") == "Fri, 14 Mar 2025 08:00:00 GMT" {
			atomic.AddInt32(&notModified, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Fri, 14 Mar 2025 08:00:00 GMT")
		w.Header().Set("Cache-Control", "public, max-age=60")
		_, _ = io.WriteString(w, "original")
	}))
	defer srv.Close()

	c, clk := newTestClient(t)
	ctx := context.Background()

	_, err := c.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	_, err = c.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "max-age=60 keeps the page fresh for a minute")

	clk.Advance(time.Minute)
	body, err := c.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "original", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notModified))

	var page Page
	ok, err := c.cache.Get(ctx, PageKey(srv.URL), &page)
	require.NoError(t, err)
	require.True(t, ok, "a 304 must refresh the cached page")
	assert.Equal(t, clk.Now(), page.FetchedAt)
}

func TestClient_ServesStaleOnNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "cached body")
	}))
	pageURL := srv.URL + "/models"

	c, clk := newTestClient(t)
	ctx := context.Background()

	_, err := c.Fetch(ctx, pageURL)
	require.NoError(t, err)

	srv.Close()
	clk.Advance(48 * time.Hour)

	body, err := c.Fetch(ctx, pageURL)
	require.NoError(t, err)
	assert.Equal(t, "cached body", string(body))
}

func TestClient_HTTPErrorsAreNotMaskedByStale(t *testing.T) {
	var fail atomic.Bool
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c, clk := newTestClient(t)
	ctx := context.Background()

	_, err := c.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	fail.Store(true)
	clk.Advance(48 * time.Hour)

	_, err = c.Fetch(ctx, srv.URL)
	require.Error(t, err)
	var httpErr *retry.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits), "5xx is retried once")
}

func TestClient_OversizedBodyIsRejected(t *testing.T) {
	var body atomic.Value
	body.Store("0123456789abcdef")
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = io.WriteString(w, body.Load().(string))
	}))
	defer srv.Close()

	c, clk := newTestClient(t)
	c.maxBody = 16
	ctx := context.Background()

	got, err := c.Fetch(ctx, srv.URL)
	require.NoError(t, err, "a body of exactly the limit is accepted")
	assert.Equal(t, "0123456789abcdef", string(got))

	body.Store("0123456789abcdef!")
	clk.Advance(48 * time.Hour)
	atomic.StoreInt32(&hits, 0)

	_, err = c.Fetch(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBodyTooLarge))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "oversized bodies are not retried")

	var page Page
	ok, err := c.cache.GetStale(ctx, PageKey(srv.URL), &page)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0123456789abcdef", string(page.Body), "truncated page is not cached")
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(t)
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_OpenBreakerServesStale(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, "last good")
	}))
	defer srv.Close()

	c, clk := newTestClient(t)
	c.breakers = circuitbreaker.NewRegistry(func(name string) circuitbreaker.Config {
		cfg := circuitbreaker.SourceFetchConfig(name)
		cfg.ConsecutiveFailures = 1
		return cfg
	})
	ctx := context.Background()

	_, err := c.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	fail.Store(true)
	clk.Advance(48 * time.Hour)

	body, err := c.Fetch(ctx, srv.URL)
	require.NoError(t, err, "the retry after the tripping failure hits the open breaker")
	assert.Equal(t, "last good", string(body))
}

func TestClient_WithoutCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = io.WriteString(w, "page")
	}))
	defer srv.Close()

	cfg := config.DefaultCollectorConfig()
	cfg.HostInterval = 0
	c := NewClient(cfg, nil)

	for i := 0; i < 2; i++ {
		body, err := c.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "page", string(body))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_RateLimitsPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "page")
	}))
	defer srv.Close()

	cfg := config.DefaultCollectorConfig()
	cfg.HostInterval = 100 * time.Millisecond
	c := NewClient(cfg, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestClient_InvalidURL(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Fetch(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestParseMaxAge(t *testing.T) {
	v, ok := parseMaxAge("public, max-age=3600")
	assert.True(t, ok)
	assert.Equal(t, 3600, v)

	_, ok = parseMaxAge("no-cache")
	assert.False(t, ok)
}

func TestPageKey(t *testing.T) {
	k := PageKey("https://platform.openai.com/docs/deprecations")
	assert.Regexp(t, `^http:[0-9a-f]{64}$`, k)
	assert.NotEqual(t, k, PageKey("https://platform.openai.com/docs/models"))
}
