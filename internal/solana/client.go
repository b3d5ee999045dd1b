package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

const (
	DefaultPollInterval = 1 * time.Second
	commitmentConfirmed = "confirmed"
	commitmentFinalized = "finalized"
)

// ErrBlockhashExpired is returned when the blockhash a transaction was signed
// with is no longer valid and the transaction never landed.
var ErrBlockhashExpired = errors.New("blockhash expired before confirmation")

// ErrTransactionFailed is returned when a transaction landed but failed
// on-chain, so no lamports moved.
var ErrTransactionFailed = errors.New("transaction failed on-chain")

// Client talks JSON-RPC 2.0 to a Solana node. The go-ethereum rpc client is a
// plain JSON-RPC 2.0 transport and is used here for Solana methods.
type Client struct {
	rpc          *rpc.Client
	pollInterval time.Duration
}

type ClientOption func(*Client)

func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pollInterval = d }
}

// Dial connects to the RPC endpoint. httpClient carries the request timeout.
func Dial(ctx context.Context, endpoint string, httpClient *http.Client, opts ...ClientOption) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rc, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial solana rpc: %w", err)
	}
	c := &Client{rpc: rc, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() { c.rpc.Close() }

type LatestBlockhash struct {
	Blockhash            Hash
	LastValidBlockHeight uint64
}

func (c *Client) LatestBlockhash(ctx context.Context) (*LatestBlockhash, error) {
	var res struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	err := c.rpc.CallContext(ctx, &res, "getLatestBlockhash",
		map[string]string{"commitment": commitmentFinalized})
	if err != nil {
		return nil, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	h, err := ParseHash(res.Value.Blockhash)
	if err != nil {
		return nil, err
	}
	return &LatestBlockhash{Blockhash: h, LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var h uint64
	err := c.rpc.CallContext(ctx, &h, "getBlockHeight",
		map[string]string{"commitment": commitmentConfirmed})
	if err != nil {
		return 0, fmt.Errorf("getBlockHeight: %w", err)
	}
	return h, nil
}

// SendTransaction submits the signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *Transaction) (string, error) {
	var sig string
	err := c.rpc.CallContext(ctx, &sig, "sendTransaction",
		base64.StdEncoding.EncodeToString(tx.Bytes()),
		map[string]string{
			"encoding":            "base64",
			"preflightCommitment": commitmentConfirmed,
		})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	if sig != tx.ID() {
		return "", fmt.Errorf("sendTransaction: node returned signature %s, expected %s", sig, tx.ID())
	}
	return sig, nil
}

// SignatureStatus is nil-able: a nil status means the node has not seen it.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

func (s *SignatureStatus) Confirmed() bool {
	return s.ConfirmationStatus == commitmentConfirmed || s.ConfirmationStatus == commitmentFinalized
}

func (c *Client) SignatureStatus(ctx context.Context, sig string) (*SignatureStatus, error) {
	var res struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.rpc.CallContext(ctx, &res, "getSignatureStatuses", []string{sig}); err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	if len(res.Value) == 0 {
		return nil, nil
	}
	return res.Value[0], nil
}

// Confirm polls the signature until it reaches confirmed commitment, fails
// on-chain, or its blockhash expires. ctx bounds the total wait.
func (c *Client) Confirm(ctx context.Context, sig string, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		st, err := c.SignatureStatus(ctx, sig)
		if err != nil {
			return err
		}
		if st != nil {
			if st.Failed() {
				return fmt.Errorf("%w: %s: %s", ErrTransactionFailed, sig, string(st.Err))
			}
			if st.Confirmed() {
				return nil
			}
		} else if lastValidBlockHeight > 0 {
			h, err := c.BlockHeight(ctx)
			if err != nil {
				return err
			}
			if h > lastValidBlockHeight {
				return ErrBlockhashExpired
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Transfer sends lamports from payer to recipient and waits for confirmation.
// It is the single-call equivalent of build, sign, send and confirm.
func (c *Client) Transfer(ctx context.Context, payer *Keypair, to PublicKey, lamports uint64) (string, error) {
	bh, err := c.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	tx, err := NewTransfer(payer, to, lamports, bh.Blockhash)
	if err != nil {
		return "", err
	}
	sig, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := c.Confirm(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return sig, err
	}
	return sig, nil
}
