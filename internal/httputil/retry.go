package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/swapdesk-backend/internal/logging"
)

const maxErrorBody = 512

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// NoRetry is for non-idempotent calls such as order placement, where a
// second attempt could place the order twice.
var NoRetry = RetryConfig{MaxAttempts: 1}

// Do executes an HTTP request, retrying transport errors and 5xx responses
// with exponential backoff. buildReq is called on every attempt so that each
// one gets a fresh body. Responses below 500 are returned to the caller as-is.
func Do(ctx context.Context, client *http.Client, cfg RetryConfig, buildReq func() (*http.Request, error)) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	log := logging.For("http")

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, ReadSnippet(resp))
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     cfg.MaxAttempts,
			"host":    req.URL.Host,
			"delay":   delay.String(),
		}).WithError(lastErr).Warn("request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if cfg.MaxAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("all %d attempts failed, last error: %w", cfg.MaxAttempts, lastErr)
}

// ReadSnippet drains and closes resp.Body, returning at most the first few
// hundred bytes for use in error messages.
func ReadSnippet(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	return string(body)
}
