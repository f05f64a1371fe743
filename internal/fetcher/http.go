package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shelfwatch/pricematch/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Limiter    *rate.Limiter
}

// HTTPFetcher downloads snapshot files over HTTP with retry and a
// client-side rate limit.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pricematch/1.0"
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 10)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: limiter,
	}
}

// Open downloads the URL and returns the response body. Transient
// failures are retried with backoff before giving up.
func (f *HTTPFetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = f.opts.MaxRetries
	retryCfg.OnRetry = resilience.RetryLogger("fetcher", "http get")

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (io.ReadCloser, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "http: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "http: build request %s", rawURL)
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "http: get %s", rawURL), 0)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := eris.Errorf("http: get %s: status %d", rawURL, resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		zap.L().Debug("http: fetched",
			zap.String("url", rawURL),
			zap.Int64("content_length", resp.ContentLength),
		)
		return resp.Body, nil
	})
}
