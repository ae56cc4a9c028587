package miso

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"powerflow/config"
	"powerflow/models"
	"powerflow/retry"
)

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Reader.Timeout = 5 * time.Second
	cfg.Reader.MaxConcurrent = 4
	cfg.Reader.ConnectionPool.MaxIdleConns = 4
	cfg.Reader.ConnectionPool.MaxConnsPerHost = 4
	cfg.Reader.ConnectionPool.IdleConnTimeout = time.Minute
	cfg.Reader.RateLimit.RequestsPerSecond = 1000
	cfg.Reader.RateLimit.BurstSize = 100
	cfg.Reader.Retry.MaxAttempts = 3
	cfg.Reader.Retry.BaseDelay = time.Millisecond
	cfg.Reader.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Reader.Retry.MaxJitter = time.Millisecond
	cfg.Source.LoadURL = serverURL + "/load"
	cfg.Source.FuelMixURL = serverURL + "/fuelmix"
	cfg.Source.LmpURL = serverURL + "/lmp"
	cfg.Source.ReportsBaseURL = serverURL + "/marketreports"
	return cfg
}

func TestFetchRealtimeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lmp" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("INTERVAL,CPNODE,LMP,MLC,MCC\n"))
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	payload, err := client.FetchRealtime(context.Background(), models.SeriesRealtimeLMP)
	if err != nil {
		t.Fatalf("FetchRealtime failed: %v", err)
	}
	if payload.Format != models.FormatCSV {
		t.Errorf("LMP feed should be CSV, got %s", payload.Format)
	}
	if len(payload.Data) == 0 {
		t.Error("payload body should not be empty")
	}
	if payload.FetchedAt.IsZero() {
		t.Error("FetchedAt should be stamped")
	}
}

func TestFetchRealtimeRetriesServerErrors(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"LoadInfo":{}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	if _, err := client.FetchRealtime(context.Background(), models.SeriesLoad); err != nil {
		t.Fatalf("FetchRealtime should recover after transient failures: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchRealtimeExhaustsRetries(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	_, err := client.FetchRealtime(context.Background(), models.SeriesLoad)
	if !retry.IsExhausted(err) {
		t.Fatalf("expected retry exhaustion, got %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Errorf("expected the attempt bound, got %d attempts", got)
	}
}

func TestFetchRealtimeClientErrorIsFatal(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	_, err := client.FetchRealtime(context.Background(), models.SeriesLoad)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected HTTPError 403, got %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("4xx must not retry, got %d attempts", got)
	}
}

func TestFetchRealtimeDayaheadHasNoEndpoint(t *testing.T) {
	client := NewClient(testConfig(t, "http://localhost:1"))
	if _, err := client.FetchRealtime(context.Background(), models.SeriesDayaheadLMP); err == nil {
		t.Fatal("day-ahead prices have no live endpoint")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&HTTPError{StatusCode: 500}, true},
		{&HTTPError{StatusCode: 503}, true},
		{&HTTPError{StatusCode: 429}, true},
		{&HTTPError{StatusCode: 404}, false},
		{&HTTPError{StatusCode: 403}, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
