// Package source fetches provider pages and turns them into collection tasks.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/observability/metrics"
	"deprecations-feed/internal/observability/tracing"
	"deprecations-feed/internal/resilience/circuitbreaker"
	"deprecations-feed/internal/resilience/retry"
	"deprecations-feed/internal/usecase/cache"
)

// defaultMaxBodyBytes caps how much of a page is read.
const defaultMaxBodyBytes = 10 << 20

// ErrBodyTooLarge is returned when a page exceeds the client's body limit.
// A truncated page is never parsed or cached.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// HTTP cache outcomes reported to metrics.
const (
	resultFresh       = "fresh"
	resultRevalidated = "revalidated"
	resultStored      = "stored"
	resultStale       = "stale"
)

var maxAgePattern = regexp.MustCompile(`max-age=(\d+)`)

// Fetcher returns the body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Page is a cached HTTP response body with its validators.
type Page struct {
	URL          string    `json:"url"`
	Body         []byte    `json:"body"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	MaxAge       *int      `json:"max_age,omitempty"`
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is used
// as is, without the tracing wrapper.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithRetryConfig replaces the per-request retry policy.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(cl *Client) { cl.retry = cfg }
}

// WithBreakers replaces the per-host circuit breakers.
func WithBreakers(r *circuitbreaker.Registry) ClientOption {
	return func(cl *Client) { cl.breakers = r }
}

// WithMaxBodyBytes replaces the page size limit.
func WithMaxBodyBytes(n int64) ClientOption {
	return func(cl *Client) { cl.maxBody = n }
}

// WithClientClock replaces the clock used to stamp fetched pages.
func WithClientClock(now func() time.Time) ClientOption {
	return func(cl *Client) { cl.now = now }
}

// Client is an HTTP client for provider pages. Pages are cached in the
// storage backend under http:<sha256(url)> and revalidated with ETag and
// Last-Modified once stale. Requests to one host are spaced by a rate
// limiter and guarded by a circuit breaker. When the network fails the last
// cached body is served.
type Client struct {
	http      *http.Client
	cache     *cache.Manager
	userAgent string
	freshFor  time.Duration
	interval  time.Duration
	retry     retry.Config
	breakers  *circuitbreaker.Registry
	maxBody   int64
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a Client. cm may be nil, which disables page caching.
func NewClient(cfg config.CollectorConfig, cm *cache.Manager, opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: tracing.Transport(http.DefaultTransport),
		},
		cache:     cm,
		userAgent: cfg.UserAgent,
		freshFor:  cfg.HTTPFreshness,
		interval:  cfg.HostInterval,
		retry:     retry.SourceFetchConfig(),
		breakers:  circuitbreaker.NewRegistry(circuitbreaker.SourceFetchConfig),
		maxBody:   defaultMaxBodyBytes,
		now:       time.Now,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageKey is the storage key of the cached page for pageURL.
func PageKey(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return cache.GenerateKey(cache.PrefixHTTP, hex.EncodeToString(sum[:]), nil)
}

// Fetch implements Fetcher.
func (c *Client) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid source url %q", pageURL)
	}
	host := u.Hostname()
	logger := slog.Default().With(slog.String("url", pageURL))
	key := PageKey(pageURL)

	var cached Page
	hasCached := false
	if c.cache != nil {
		ok, err := c.cache.Get(ctx, key, &cached)
		if err != nil {
			logger.Warn("http cache read failed", slog.Any("error", err))
		}
		if ok {
			metrics.RecordSourceHTTPCache(host, resultFresh)
			return cached.Body, nil
		}
		hasCached, err = c.cache.GetStale(ctx, key, &cached)
		if err != nil {
			logger.Warn("http cache stale read failed", slog.Any("error", err))
		}
	}

	var page Page
	err = retry.WithBackoff(ctx, c.retry, func() error {
		out, err := c.breakers.Get(host).Execute(func() (interface{}, error) {
			return c.do(ctx, pageURL, host, cached, hasCached)
		})
		if err != nil {
			return err
		}
		page = out.(Page)
		return nil
	})

	if err != nil {
		if hasCached && servesStale(ctx, err) {
			logger.Warn("source unreachable, serving cached page",
				slog.Time("fetched_at", cached.FetchedAt),
				slog.Any("error", err))
			metrics.RecordSourceHTTPCache(host, resultStale)
			return cached.Body, nil
		}
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	if c.cache != nil {
		if err := c.cache.SaveWithTTL(context.WithoutCancel(ctx), key, page, c.ttl(page)); err != nil {
			logger.Warn("http cache write failed", slog.Any("error", err))
		}
	}
	return page.Body, nil
}

// do performs one conditional request.
func (c *Client) do(ctx context.Context, pageURL, host string, cached Page, hasCached bool) (Page, error) {
	if err := c.limiter(host).Wait(ctx); err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/rss+xml,application/atom+xml;q=0.9,*/*;q=0.8")
	if hasCached {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordSourceRequest(host, 0, time.Since(start))
		return Page{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordSourceRequest(host, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotModified && hasCached:
		metrics.RecordSourceHTTPCache(host, resultRevalidated)
		page := cached
		page.FetchedAt = c.now().UTC()
		if maxAge, ok := parseMaxAge(resp.Header.Get("Cache-Control")); ok {
			page.MaxAge = &maxAge
		}
		return page, nil
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return Page{}, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > c.maxBody {
			return Page{}, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.maxBody)
		}
		metrics.RecordSourceHTTPCache(host, resultStored)
		page := Page{
			URL:          pageURL,
			Body:         body,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    c.now().UTC(),
		}
		if maxAge, ok := parseMaxAge(resp.Header.Get("Cache-Control")); ok {
			page.MaxAge = &maxAge
		}
		return page, nil
	default:
		return Page{}, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.interval > 0 {
			limit = rate.Every(c.interval)
		}
		l = rate.NewLimiter(limit, 1)
		c.limiters[host] = l
	}
	return l
}

// ttl is the freshness lifetime of page: its max-age when the server sent
// one, otherwise the configured default.
func (c *Client) ttl(p Page) time.Duration {
	if p.MaxAge != nil {
		return time.Duration(*p.MaxAge) * time.Second
	}
	return c.freshFor
}

// servesStale reports whether a cached page may stand in for a failed fetch:
// transport failures and open breakers qualify, HTTP error statuses,
// oversized bodies and caller cancellation do not.
func servesStale(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var httpErr *retry.HTTPError
	return !errors.As(err, &httpErr)
}

func parseMaxAge(cacheControl string) (int, bool) {
	m := maxAgePattern.FindStringSubmatch(cacheControl)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}
