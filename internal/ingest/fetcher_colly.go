package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyFetcher implements Fetcher on top of Colly. It is selected per source
// with `fetch_engine: colly`; pacing is delegated to Colly's LimitRule
// (uniform delay + random component) instead of the watermark in HTTPFetcher,
// but the retry contract is the same: MaxRetries extra attempts with
// BackoffBase^attempt seconds plus jitter between them.
type CollyFetcher struct {
	UserAgent      string
	MaxRetries     int
	BackoffBase    float64
	RequestTimeout time.Duration
	DomainDelay    time.Duration
	RandomDelay    time.Duration

	logger *slog.Logger
}

func NewCollyFetcher(logger *slog.Logger) *CollyFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollyFetcher{
		UserAgent:      "vz-aggregator/0.1 (+contact@example.com)",
		MaxRetries:     3,
		BackoffBase:    0.6,
		RequestTimeout: 30 * time.Second,
		DomainDelay:    500 * time.Millisecond,
		RandomDelay:    500 * time.Millisecond,
		logger:         logger,
	}
}

func (f *CollyFetcher) backoff(attempt int) time.Duration {
	base := f.BackoffBase
	if base <= 0 {
		base = 0.6
	}
	wait := math.Pow(base, float64(attempt))
	jitter := rand.Float64() * 0.1
	return time.Duration((wait + jitter) * float64(time.Second))
}

func (f *CollyFetcher) buildCollector(hostname string) *colly.Collector {
	// Colly matches allowed domains against URL.Hostname(), so the entry
	// must not carry a port.
	c := colly.NewCollector(
		colly.AllowedDomains(hostname),
		colly.UserAgent(f.UserAgent),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
		RandomDelay: f.RandomDelay,
	})
	c.SetRequestTimeout(f.RequestTimeout)

	return c
}

// FetchText fetches one URL, retrying failed responses up to MaxRetries
// extra attempts with exponential backoff before giving up with a
// *FetchError.
func (f *CollyFetcher) FetchText(ctx context.Context, targetURL string) (string, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	c := f.buildCollector(parsed.Hostname())

	var body string
	var fetched bool
	var lastErr error
	lastStatus := 0
	failures := 0

	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
		fetched = true
	})

	c.OnError(func(r *colly.Response, respErr error) {
		failures++
		lastErr = respErr
		if r != nil {
			lastStatus = r.StatusCode
		}
		if failures <= f.MaxRetries {
			wait := f.backoff(failures)
			f.logger.Debug("colly retry",
				"url", targetURL, "attempt", failures, "wait", wait, "err", respErr)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			r.Request.Retry()
		}
	})

	// Visit reports the first attempt's error even when a later retry
	// succeeded, so success is judged by the response callback.
	visitErr := c.Visit(targetURL)
	c.Wait()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if fetched {
		return body, nil
	}

	attempts := failures
	if attempts == 0 {
		// rejected before any request went out (e.g. a disallowed domain)
		attempts = 1
	}
	if lastErr == nil {
		lastErr = visitErr
	}
	return "", &FetchError{URL: targetURL, Attempts: attempts, StatusCode: lastStatus, Err: lastErr}
}
