package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	f := NewHTTPFetcher(slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	f.DelayMin = time.Millisecond
	f.DelayMax = 2 * time.Millisecond
	f.BackoffBase = 0.01
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestFetchTextSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Error("missing User-Agent header")
		}
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := testFetcher(t)
	body, err := f.FetchText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchText: %v", err)
	}
	if body != "<html>ok</html>" {
		t.Errorf("body = %q", body)
	}
}

func TestFetchTextRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := testFetcher(t)
	body, err := f.FetchText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchText: %v", err)
	}
	if body != "recovered" {
		t.Errorf("body = %q", body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestFetchTextExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := testFetcher(t)
	f.MaxRetries = 2
	_, err := f.FetchText(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *FetchError", err)
	}
	if fe.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", fe.Attempts)
	}
	if fe.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", fe.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestFetchTextPacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher(t)
	f.DelayMin = 50 * time.Millisecond
	f.DelayMax = 60 * time.Millisecond

	ctx := context.Background()
	if _, err := f.FetchText(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := f.FetchText(ctx, srv.URL); err != nil {
		t.Fatal(err)
	}
	if gap := time.Since(start); gap < 40*time.Millisecond {
		t.Errorf("second request after %v, want the inter-request gap enforced", gap)
	}
}

func TestFetchTextContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := testFetcher(t)
	f.BackoffBase = 2 // long enough that cancellation lands inside the backoff

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.FetchText(ctx, srv.URL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
