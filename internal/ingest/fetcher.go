package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// FetchError is returned once the retry budget for a URL is exhausted. It
// carries the last underlying failure.
type FetchError struct {
	URL        string
	Attempts   int
	StatusCode int // last HTTP status, 0 on transport failure
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPFetcher is a rate-limited, retrying GET client. Pacing uses a single
// "time of last request" watermark: before each request it sleeps only as
// long as needed to make the inter-request gap a uniform draw from
// [DelayMin, DelayMax], so time already spent on parsing is not compounded
// into extra sleep.
type HTTPFetcher struct {
	DelayMin    time.Duration
	DelayMax    time.Duration
	MaxRetries  int
	BackoffBase float64 // seconds; per-retry wait is BackoffBase^attempt
	UserAgent   string
	Client      *http.Client

	logger *slog.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewHTTPFetcher applies the documented defaults for unset options.
func NewHTTPFetcher(logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		DelayMin:    500 * time.Millisecond,
		DelayMax:    time.Second,
		MaxRetries:  3,
		BackoffBase: 0.6,
		UserAgent:   "vz-aggregator/0.1 (+contact@example.com)",
		Client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

// waitTurn enforces the inter-request gap. The watermark is mutex-guarded so
// the pacing contract survives callers fetching from multiple goroutines.
func (f *HTTPFetcher) waitTurn(ctx context.Context) error {
	f.mu.Lock()
	target := f.DelayMin
	if f.DelayMax > f.DelayMin {
		target = f.DelayMin + time.Duration(rand.Int63n(int64(f.DelayMax-f.DelayMin)))
	}
	sleep := target - time.Since(f.lastRequest)
	f.mu.Unlock()

	if sleep > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}

	f.mu.Lock()
	f.lastRequest = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *HTTPFetcher) backoff(attempt int) time.Duration {
	base := f.BackoffBase
	if base <= 0 {
		base = 0.6
	}
	wait := math.Pow(base, float64(attempt))
	jitter := rand.Float64() * 0.1
	return time.Duration((wait + jitter) * float64(time.Second))
}

// FetchText performs a GET and returns the body as text. Transport failures
// and non-2xx statuses are retried up to MaxRetries additional attempts with
// exponential backoff plus jitter; exhaustion yields a *FetchError.
func (f *HTTPFetcher) FetchText(ctx context.Context, url string) (string, error) {
	var lastErr error
	lastStatus := 0
	attempts := 0

	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.backoff(attempt)):
			}
		}
		if err := f.waitTurn(ctx); err != nil {
			return "", err
		}

		attempts++
		body, status, err := f.doGet(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		lastStatus = status
		f.logger.Debug("fetch attempt failed", "url", url, "attempt", attempts, "err", err)
	}

	return "", &FetchError{URL: url, Attempts: attempts, StatusCode: lastStatus, Err: lastErr}
}

func (f *HTTPFetcher) doGet(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "cs,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read body: %w", err)
	}
	return string(payload), resp.StatusCode, nil
}
