package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/swapdesk-backend/internal/httputil"
	"github.com/kjannette/swapdesk-backend/internal/logging"
)

// Sender posts operator alerts (fee relay failures, payout failures) to a
// Slack- or Discord-style incoming webhook. Without a URL it only logs.
type Sender struct {
	webhookURL  string
	serviceName string
	httpClient  *http.Client
	retry       httputil.RetryConfig

	wg sync.WaitGroup
}

func NewSender(webhookURL, serviceName string) *Sender {
	if serviceName == "" {
		serviceName = "SwapDesk"
	}
	return &Sender{
		webhookURL:  webhookURL,
		serviceName: serviceName,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

// Send logs msg and delivers it to the webhook, blocking until delivery
// succeeds or retries run out.
func (s *Sender) Send(ctx context.Context, msg string) error {
	formatted := fmt.Sprintf("[%s] %s", s.serviceName, msg)
	log := logging.For("notify")
	log.Warn(msg)

	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		log.WithError(err).Error("webhook delivery failed")
		return err
	}
	if resp.StatusCode >= 300 {
		snippet := httputil.ReadSnippet(resp)
		log.WithField("status", resp.StatusCode).Error("webhook rejected message")
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, snippet)
	}
	resp.Body.Close()
	return nil
}

// Notify sends msg in the background so request handlers are not held up
// by webhook retries.
func (s *Sender) Notify(msg string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.Send(ctx, msg)
	}()
}

// Wait blocks until background notifications have finished. Used on shutdown.
func (s *Sender) Wait() {
	s.wg.Wait()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.serviceName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.serviceName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
