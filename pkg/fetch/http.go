package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// MaxBodySize bounds a fetched package.
const MaxBodySize = 16 << 20

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	// RPS and Burst throttle outgoing requests; RPS <= 0 disables throttling.
	RPS   float64
	Burst int
	// BreakerThreshold consecutive failures open the breaker for BreakerReset.
	BreakerThreshold int
	BreakerReset     time.Duration
	Client           *http.Client
	Logger           *slog.Logger
}

// HTTPFetcher fetches resources below a base URL with If-None-Match.
type HTTPFetcher struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(cfg HTTPConfig) (*HTTPFetcher, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", base.Scheme)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	reset := cfg.BreakerReset
	if reset <= 0 {
		reset = 10 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPFetcher{
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewCircuitBreaker(base.Host, threshold, reset),
		logger:  logger.With("component", "fetch", "host", base.Host),
	}, nil
}

// Fetch issues a conditional GET for resource.
func (f *HTTPFetcher) Fetch(ctx context.Context, resource, eTag string) (*Response, error) {
	if !f.breaker.Allow() {
		return nil, transportError(resource, fmt.Errorf("circuit breaker open for %s", f.breaker.name))
	}
	// Calls that never reach the source leave the breaker unsettled.
	if err := f.limiter.Wait(ctx); err != nil {
		f.breaker.Release()
		return nil, transportError(resource, err)
	}

	target := f.base.JoinPath(resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		f.breaker.Release()
		return nil, transportError(resource, err)
	}
	if eTag != "" {
		req.Header.Set("If-None-Match", eTag)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := f.client.Do(req)
	if err != nil {
		f.breaker.Failure()
		return nil, transportError(resource, err)
	}
	defer func() { _ = resp.Body.Close() }()

	f.logger.DebugContext(ctx, "fetched", "resource", resource, "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		f.breaker.Success()
		return nil, ErrNotModified
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
		if err != nil {
			f.breaker.Failure()
			return nil, fmt.Errorf("%w: %s: %w", ErrNoResponse, resource, err)
		}
		if len(body) == 0 || len(body) > MaxBodySize {
			f.breaker.Failure()
			return nil, fmt.Errorf("%w: %s: body of %d bytes", ErrNoResponse, resource, len(body))
		}
		f.breaker.Success()
		return &Response{Body: body, ETag: resp.Header.Get("ETag")}, nil
	case resp.StatusCode >= 500:
		f.breaker.Failure()
	default:
		f.breaker.Success()
	}
	return nil, &StatusError{Resource: resource, Code: resp.StatusCode}
}
