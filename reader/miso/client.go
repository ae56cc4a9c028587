// Package miso fetches real-time feeds and market report files from
// the MISO public endpoints. The client owns transport concerns only:
// pooling, rate limiting, concurrency caps and retry. Bodies come
// back undecoded.
package miso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"powerflow/config"
	"powerflow/logger"
	"powerflow/models"
	"powerflow/retry"
)

// HTTPError is a non-2xx response. Status decides retryability.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// IsTransient classifies a fetch failure. Server-side trouble (5xx,
// 429) and network-level failures are worth retrying; other HTTP
// statuses and context expiry are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Client is the shared fetcher for every series and report file.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	sem        chan struct{}
	policy     *retry.Policy
	log        *logger.Entry
}

func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Reader.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Reader.ConnectionPool.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.Reader.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Reader.ConnectionPool.IdleConnTimeout,
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Reader.Timeout,
		},
		limiter: rate.NewLimiter(
			rate.Limit(cfg.Reader.RateLimit.RequestsPerSecond),
			cfg.Reader.RateLimit.BurstSize,
		),
		sem:    make(chan struct{}, cfg.Reader.MaxConcurrent),
		policy: retry.NewPolicy(cfg.Reader.Retry, IsTransient),
		log:    logger.GetLogger().WithComponent("miso_client"),
	}
}

// FetchRealtime fetches one real-time series payload. Day-ahead
// prices have no live endpoint; they arrive via report files.
func (c *Client) FetchRealtime(ctx context.Context, series models.Series) (*models.RawPayload, error) {
	var endpoint string
	var format models.PayloadFormat
	switch series {
	case models.SeriesLoad, models.SeriesForecast:
		endpoint, format = c.cfg.Source.LoadURL, models.FormatJSON
	case models.SeriesFuelMix:
		endpoint, format = c.cfg.Source.FuelMixURL, models.FormatJSON
	case models.SeriesRealtimeLMP:
		endpoint, format = c.cfg.Source.LmpURL, models.FormatCSV
	default:
		return nil, fmt.Errorf("series %s has no real-time endpoint", series)
	}

	var body []byte
	err := c.policy.Execute(ctx, "fetch_"+string(series), func() error {
		b, err := c.get(ctx, endpoint)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.IncrementFetch()
	c.log.WithFields(logger.Fields{
		"series": string(series),
		"bytes":  len(body),
	}).Debug("fetched real-time payload")

	return &models.RawPayload{
		Series:    series,
		Format:    format,
		Data:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// get performs a single rate-limited, concurrency-capped request.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return io.ReadAll(resp.Body)
}
