// Package fees moves platform fees on-chain: buy fees from a user's custodial
// wallet to the fee-collection address, and fee-income payouts back to users.
package fees

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/metrics"
	"github.com/kjannette/swapdesk-backend/internal/models"
	"github.com/kjannette/swapdesk-backend/internal/repository"
	"github.com/kjannette/swapdesk-backend/internal/solana"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	CreditReferrer(ctx context.Context, username string, delta decimal.Decimal) (decimal.Decimal, error)
}

// Opener decrypts a sealed wallet secret.
type Opener interface {
	Open(blob, aad string) (string, error)
}

// Chain submits a lamport transfer and waits for confirmation.
type Chain interface {
	Transfer(ctx context.Context, payer *solana.Keypair, to solana.PublicKey, lamports uint64) (string, error)
}

type Config struct {
	FeeWallet      solana.PublicKey
	ReferralShare  decimal.Decimal
	ConfirmTimeout time.Duration
	// PayoutKey signs withdrawals from the fee wallet. Nil disables on-chain
	// payouts.
	PayoutKey *solana.Keypair
}

type Executor struct {
	users UserStore
	keys  Opener
	chain Chain
	cfg   Config
	log   *logrus.Entry
}

func NewExecutor(users UserStore, keys Opener, chain Chain, cfg Config) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	return &Executor{users: users, keys: keys, chain: chain, cfg: cfg, log: logging.For("fees")}
}

func (e *Executor) FeeWallet() solana.PublicKey { return e.cfg.FeeWallet }

// Transfer moves a buy fee from the user's custodial wallet to the fee
// wallet. Validation and key lookup happen before anything touches the
// network. The referrer, if any, is credited their share after confirmation.
func (e *Executor) Transfer(ctx context.Context, req models.FeeTransferRequest) (*models.FeeTransferResult, error) {
	if req.Type != models.SideBuy {
		return nil, apperr.Validation("fee transfers are only made for buy orders")
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return nil, apperr.Validation("fee amount must be a positive number")
	}

	user, err := e.users.GetByID(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("load user", err)
	}
	if user.WalletSecret == "" {
		return nil, apperr.NotFound("wallet private key not found")
	}

	payer, err := e.payerFor(user)
	if err != nil {
		return nil, err
	}

	lamports, err := solana.LamportsFromSOL(decimal.NewFromFloat(req.Amount))
	if err != nil {
		return nil, apperr.Validation("fee amount out of range")
	}
	if lamports == 0 {
		return nil, apperr.Validation("fee amount is below one lamport")
	}

	log := e.log.WithFields(logrus.Fields{"user_id": user.ID, "lamports": lamports})
	log.Info("sending fee transfer")

	sig, took, err := e.send(ctx, payer, e.cfg.FeeWallet, lamports)
	metrics.RecordFeeTransfer(err == nil, lamports, took)
	if err != nil {
		log.WithError(err).WithField("signature", sig).Error("fee transfer failed")
		upErr := apperr.Upstream("solana", err)
		if sig != "" {
			upErr = upErr.WithDetail("signature", sig)
		}
		return nil, upErr
	}
	log.WithField("signature", sig).Info("fee transfer confirmed")

	feeAmount := solana.SOLFromLamports(lamports)
	e.creditReferrer(ctx, user, feeAmount)

	return &models.FeeTransferResult{
		Signature: sig,
		FeeAmount: feeAmount.InexactFloat64(),
		FeeWallet: e.cfg.FeeWallet.String(),
		Lamports:  lamports,
	}, nil
}

func (e *Executor) PayoutEnabled() bool { return e.cfg.PayoutKey != nil }

// Payout sends amount SOL from the fee wallet to recipient.
func (e *Executor) Payout(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	if e.cfg.PayoutKey == nil {
		return "", apperr.Unexpected("payout", errors.New("no payout key configured"))
	}
	to, err := solana.ParsePublicKey(recipient)
	if err != nil {
		return "", apperr.Unexpected("payout recipient", err)
	}
	lamports, err := solana.LamportsFromSOL(amount)
	if err != nil || lamports == 0 {
		return "", apperr.Validation("withdrawal amount is below one lamport")
	}

	sig, took, err := e.send(ctx, e.cfg.PayoutKey, to, lamports)
	if err != nil {
		e.log.WithError(err).WithField("recipient", recipient).Error("payout failed")
		return sig, apperr.Upstream("solana", err)
	}
	e.log.WithFields(logrus.Fields{
		"recipient": recipient,
		"lamports":  lamports,
		"signature": sig,
		"took":      took.String(),
	}).Info("payout confirmed")
	return sig, nil
}

func (e *Executor) send(ctx context.Context, payer *solana.Keypair, to solana.PublicKey, lamports uint64) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()
	start := time.Now()
	sig, err := e.chain.Transfer(ctx, payer, to, lamports)
	return sig, time.Since(start), err
}

func (e *Executor) payerFor(user *models.User) (*solana.Keypair, error) {
	secret, err := e.keys.Open(user.WalletSecret, user.WalletPublicKey)
	if err != nil {
		return nil, apperr.Unexpected("decrypt wallet secret", err)
	}
	kp, err := solana.KeypairFromBase58(secret)
	if err != nil {
		return nil, apperr.Unexpected("decode wallet secret", err)
	}
	if kp.PublicKey().String() != user.WalletPublicKey {
		return nil, apperr.Unexpected("decode wallet secret", errors.New("stored secret does not match wallet public key"))
	}
	return kp, nil
}

func (e *Executor) creditReferrer(ctx context.Context, user *models.User, fee decimal.Decimal) {
	if user.Referrer == nil || *user.Referrer == "" || !e.cfg.ReferralShare.IsPositive() {
		return
	}
	credit := fee.Mul(e.cfg.ReferralShare).Truncate(9)
	if !credit.IsPositive() {
		return
	}
	log := e.log.WithFields(logrus.Fields{"referrer": *user.Referrer, "credit": credit.String()})
	if _, err := e.users.CreditReferrer(ctx, *user.Referrer, credit); err != nil {
		log.WithError(err).Error("referrer credit failed")
		return
	}
	log.Info("referrer credited")
}
