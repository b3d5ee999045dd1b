package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/kjannette/swapdesk-backend/internal/httputil"
	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/models"
)

const (
	walletImportPath = "/account/wallets"
	swapOrderPath    = "/automation/swap_order"
	maxResponseBody  = 1 << 20
)

// ErrRejected is wrapped when DBot answered but reported a failure.
var ErrRejected = errors.New("dbot rejected request")

// DBotClient talks to the DBot trading-bot API: custodial wallet import and
// automated swap orders.
type DBotClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewDBotClient(baseURL, apiKey string, timeout time.Duration) *DBotClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DBotClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry: httputil.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   1 * time.Second,
			MaxDelay:    2 * time.Second,
		},
	}
}

// ImportWallet registers a private key (base58, 64-byte secret) with DBot
// and returns the wallet id DBot assigned to it. Importing the same key twice
// yields the same wallet, so transport failures are retried.
func (c *DBotClient) ImportWallet(ctx context.Context, chain models.Chain, privateKey string) (string, error) {
	payload := map[string]any{
		"type":        string(chain),
		"privateKeys": []string{privateKey},
	}
	body, err := c.post(ctx, walletImportPath, payload, c.retry)
	if err != nil {
		return "", fmt.Errorf("import wallet: %w", err)
	}

	if msg, failed := errField(body); failed {
		return "", fmt.Errorf("import wallet: %w: %s", ErrRejected, msg)
	}
	if gjson.GetBytes(body, "err").Type != gjson.False {
		return "", fmt.Errorf("import wallet: unexpected response: %s", truncate(body))
	}
	res := gjson.GetBytes(body, "res")
	if !res.IsArray() || len(res.Array()) == 0 {
		return "", fmt.Errorf("import wallet: unexpected response: %s", truncate(body))
	}
	id := res.Array()[0].Get("id").String()
	if id == "" {
		return "", fmt.Errorf("import wallet: response carries no wallet id: %s", truncate(body))
	}

	logging.For("dbot").WithField("wallet_id", id).Info("wallet imported")
	return id, nil
}

// PlaceSwapOrder submits an automated swap order. It is never retried:
// a timeout after DBot accepted the order must not place it again.
func (c *DBotClient) PlaceSwapOrder(ctx context.Context, intent models.SwapOrderIntent) (string, error) {
	body, err := c.post(ctx, swapOrderPath, intent, httputil.NoRetry)
	if err != nil {
		return "", fmt.Errorf("swap order: %w", err)
	}
	if msg, failed := errField(body); failed {
		return "", fmt.Errorf("swap order: %w: %s", ErrRejected, msg)
	}

	for _, path := range []string{"orderId", "res.id", "res.orderId"} {
		if id := gjson.GetBytes(body, path).String(); id != "" {
			logging.For("dbot").WithFields(logrus.Fields{
				"order_id": id,
				"pair":     intent.Pair,
				"side":     intent.Type,
			}).Info("swap order accepted")
			return id, nil
		}
	}
	// Accepted without an id; callers treat an empty id as "unknown".
	return "", nil
}

func (c *DBotClient) post(ctx context.Context, path string, payload any, retry httputil.RetryConfig) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := httputil.Do(ctx, c.httpClient, retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", c.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg, failed := errField(body); failed {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response: %s", truncate(body))
	}
	return body, nil
}

// errField reports whether DBot flagged the response as failed. DBot sends
// `"err": false` on success and either `true` or a message string otherwise.
func errField(body []byte) (string, bool) {
	e := gjson.GetBytes(body, "err")
	switch {
	case !e.Exists() || e.Type == gjson.Null:
		return "", false
	case e.Type == gjson.False:
		return "", false
	case e.Type == gjson.String && e.String() != "":
		return e.String(), true
	case e.Type == gjson.String:
		return "", false
	}
	if msg := gjson.GetBytes(body, "msg").String(); msg != "" {
		return msg, true
	}
	return e.Raw, true
}

func truncate(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
