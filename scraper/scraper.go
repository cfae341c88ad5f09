// Package scraper is the HTTP fetch layer of the stateless regime. Every
// request goes through a shared colly collector with pacing, retries and
// error classification.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/reviewharvest/config"
	"github.com/aluiziolira/reviewharvest/metrics"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// Fetcher issues anonymous GET requests against one site. It is safe for
// concurrent use; each Fetch runs on its own clone of the base collector.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option customises a Fetcher.
type Option func(*Fetcher) error

// WithMetrics records request metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) error {
		f.metrics = m
		return nil
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) error {
		if logger != nil {
			f.logger = logger
		}
		return nil
	}
}

// WithTransport swaps the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) error {
		f.collector.WithTransport(rt)
		return nil
	}
}

// WithCookies seeds the cookie jar for rawURL.
func WithCookies(rawURL string, cookies []*http.Cookie) Option {
	return func(f *Fetcher) error {
		if len(cookies) == 0 {
			return nil
		}
		if err := f.collector.SetCookies(rawURL, cookies); err != nil {
			return fmt.Errorf("set cookies for %s: %w", rawURL, err)
		}
		return nil
	}
}

// NewFetcher builds a fetcher restricted to the given domains.
func NewFetcher(cfg *config.Config, domains []string, opts ...Option) (*Fetcher, error) {
	collector := colly.NewCollector(
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Workers,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Fetch returns the body of target, retrying transient failures with capped
// exponential backoff.
func (f *Fetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}

	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, status, err := f.visit(target)
		if err == nil {
			return body, nil
		}

		classified := classifyError(err, status)
		category := ErrorType(classified)
		f.metrics.IncError(category)
		f.logger.Debug("request error",
			slog.String("url", target),
			slog.String("category", category),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)

		if !retryable(classified) || attempt >= f.cfg.MaxRetries {
			return nil, classified
		}

		f.metrics.IncRetries()
		timer := time.NewTimer(f.backoff(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *Fetcher) visit(target string) ([]byte, int, error) {
	c := f.collector.Clone()

	var (
		body    []byte
		status  int
		failure error
		start   time.Time
	)

	c.OnRequest(func(r *colly.Request) {
		start = time.Now()
		r.Headers.Set("Accept-Language", "en-US")
		f.metrics.IncRequest("started")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
		f.metrics.ObserveDuration(time.Since(start))
	})
	c.OnError(func(r *colly.Response, err error) {
		failure = err
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(target); err != nil && failure == nil {
		failure = err
	}
	if failure != nil {
		return nil, status, failure
	}
	if status >= http.StatusBadRequest {
		return nil, status, fmt.Errorf("http status %d", status)
	}
	return body, status, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := f.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case http.StatusServiceUnavailable:
			return ErrBlocked{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}
