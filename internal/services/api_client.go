package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codyseavey/tcg-pricesync/internal/metrics"
)

// errRetryable marks responses worth another attempt (429, 5xx, transport errors)
var errRetryable = errors.New("retryable")

// apiClient is the HTTP plumbing shared by the pricing API services: one token bucket,
// one request in flight, JSON decoding and bounded retries.
type apiClient struct {
	source     string
	client     *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
	maxRetries int
	retryWait  time.Duration
	log        *zap.Logger
}

func newAPIClient(source string, timeout time.Duration, rps float64, log *zap.Logger) *apiClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rps <= 0 {
		rps = 1
	}
	return &apiClient{
		source: source,
		client: &http.Client{
			Timeout: timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		headers:    map[string]string{"Accept": "application/json"},
		maxRetries: 3,
		retryWait:  10 * time.Second,
		log:        log,
	}
}

// getJSON fetches url into out. A 404 is ErrNotFound.
func (c *apiClient) getJSON(ctx context.Context, url string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.do(ctx, url, out)
		if err == nil || !errors.Is(err, errRetryable) {
			return err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}

		wait := c.retryWait * time.Duration(attempt)
		c.log.Warn("Retrying pricing API request",
			zap.String("source", c.source),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", c.source, c.maxRetries, lastErr)
}

func (c *apiClient) do(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.APILatency.WithLabelValues(c.source).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(c.source, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: request to %s failed: %v", errRetryable, c.source, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.APIRequestsTotal.WithLabelValues(c.source, "not_found").Inc()
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		metrics.APIRequestsTotal.WithLabelValues(c.source, "error").Inc()
		return fmt.Errorf("%w: %s API returned status %d", errRetryable, c.source, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		metrics.APIRequestsTotal.WithLabelValues(c.source, "error").Inc()
		return fmt.Errorf("%s API returned status %d", c.source, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.APIRequestsTotal.WithLabelValues(c.source, "error").Inc()
		return fmt.Errorf("failed to decode %s response: %w", c.source, err)
	}
	metrics.APIRequestsTotal.WithLabelValues(c.source, "ok").Inc()
	return nil
}

// formatPrice renders an API float for the normalizer, which re-parses it as a decimal
func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
