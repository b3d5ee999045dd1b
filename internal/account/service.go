// Package account handles registration, login and the per-user wallet,
// fee-income and follow settings.
package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/auth"
	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/metrics"
	"github.com/kjannette/swapdesk-backend/internal/models"
	"github.com/kjannette/swapdesk-backend/internal/repository"
	"github.com/kjannette/swapdesk-backend/internal/solana"
	"github.com/kjannette/swapdesk-backend/internal/wallet"
)

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt ignores anything past 72 bytes

	invalidCredentials = "invalid username or password"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type UserStore interface {
	Create(ctx context.Context, u *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	AddFeeIncome(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error)
	ClaimFeeIncome(ctx context.Context, id string) (decimal.Decimal, error)
	UpdateFollow(ctx context.Context, id string, follow bool, amount decimal.Decimal) (*models.User, error)
}

type Provisioner interface {
	Provision(ctx context.Context) (*wallet.Provisioned, error)
}

type TokenIssuer interface {
	Issue(userID, username string) (string, error)
}

// Payer sends withdrawals on-chain from the fee wallet.
type Payer interface {
	PayoutEnabled() bool
	Payout(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)
}

type Notifier interface {
	Notify(msg string)
}

type RegisterInput struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	InviterUsername string `json:"inviterUsername,omitempty"`
}

// Session is returned by Register and Login.
type Session struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	WalletPublicKey string  `json:"walletPublicKey"`
	WalletID        *string `json:"walletId"`
	Token           string  `json:"token"`
}

type WalletInfo struct {
	PublicKey string          `json:"publicKey"`
	WalletID  string          `json:"walletId"`
	FeeIncome decimal.Decimal `json:"feeIncome"`
}

type Withdrawal struct {
	WithdrawalAmount decimal.Decimal `json:"withdrawalAmount"`
	Signature        string          `json:"signature,omitempty"`
}

type FollowSettings struct {
	Follow            bool            `json:"follow"`
	CopyTradingAmount decimal.Decimal `json:"copyTradingAmount"`
}

type Service struct {
	users    UserStore
	wallets  Provisioner
	sessions TokenIssuer
	payer    Payer
	notifier Notifier
	log      *logrus.Entry
}

func NewService(users UserStore, wallets Provisioner, sessions TokenIssuer, payer Payer, notifier Notifier) *Service {
	return &Service{
		users:    users,
		wallets:  wallets,
		sessions: sessions,
		payer:    payer,
		notifier: notifier,
		log:      logging.For("account"),
	}
}

// Register creates a user with a freshly provisioned custodial wallet. No
// record is written unless the wallet import succeeded.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, apperr.Validation("username must be 3-32 characters of letters, digits, '_', '.' or '-'")
	}
	if n := len(in.Password); n < minPasswordLen || n > maxPasswordLen {
		return nil, apperr.Validation("password must be %d-%d bytes", minPasswordLen, maxPasswordLen)
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, apperr.Validation("username already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Unexpected("check username", err)
	}

	var referrer *string
	if inviter := strings.TrimSpace(in.InviterUsername); inviter != "" {
		if _, err := s.users.GetByUsername(ctx, inviter); errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Validation("inviter %q not found", inviter)
		} else if err != nil {
			return nil, apperr.Unexpected("check inviter", err)
		}
		referrer = &inviter
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Unexpected("hash password", err)
	}

	w, err := s.wallets.Provision(ctx)
	metrics.RecordWalletImport(err == nil)
	if err != nil {
		s.log.WithError(err).WithField("username", username).Error("wallet provisioning failed")
		return nil, err
	}

	walletID := w.WalletID
	user, err := s.users.Create(ctx, &models.User{
		Username:        username,
		PasswordHash:    hash,
		WalletPublicKey: w.PublicKey,
		WalletSecret:    w.SealedSecret,
		WalletID:        &walletID,
		Referrer:        referrer,
	})
	if errors.Is(err, repository.ErrDuplicateUsername) {
		// Lost a race with a concurrent registration. The imported wallet
		// stays orphaned at DBot.
		s.log.WithField("wallet_id", walletID).Warn("duplicate username after wallet import")
		return nil, apperr.Validation("username already exists")
	}
	if err != nil {
		return nil, apperr.Unexpected("create user", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"username":   user.Username,
		"public_key": user.WalletPublicKey,
	}).Info("user registered")
	return s.session(user)
}

func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperr.Validation("username and password are required")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		auth.BurnPasswordCheck(password)
		return nil, apperr.Auth(invalidCredentials)
	}
	if err != nil {
		return nil, apperr.Unexpected("load user", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.Auth(invalidCredentials)
	}
	return s.session(user)
}

func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	return s.load(ctx, userID)
}

func (s *Service) Wallet(ctx context.Context, userID string) (*WalletInfo, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasWallet() {
		return nil, apperr.NotFound("wallet not found")
	}
	return &WalletInfo{
		PublicKey: user.WalletPublicKey,
		WalletID:  *user.WalletID,
		FeeIncome: user.FeeIncome,
	}, nil
}

// WithdrawFee claims the user's whole fee income. With a payout key
// configured the amount is sent on-chain to the user's wallet and restored
// to the balance if that fails; otherwise the claim is recorded only.
func (s *Service) WithdrawFee(ctx context.Context, userID string) (*Withdrawal, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.users.ClaimFeeIncome(ctx, user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("claim fee income", err)
	}
	if !claimed.IsPositive() {
		return nil, apperr.Validation("no fee income to withdraw")
	}

	log := s.log.WithFields(logrus.Fields{"user_id": user.ID, "amount": claimed.String()})
	out := &Withdrawal{WithdrawalAmount: claimed}

	if s.payer == nil || !s.payer.PayoutEnabled() {
		metrics.RecordWithdrawal(true)
		log.Info("fee income withdrawn (ledger only)")
		return out, nil
	}

	sig, err := s.payer.Payout(ctx, user.WalletPublicKey, claimed)
	if err != nil {
		metrics.RecordWithdrawal(false)
		if !payoutNeverLanded(sig, err) {
			// The transaction may still confirm; the claim stays until an
			// operator reconciles it.
			log.WithError(err).WithField("signature", sig).Error("payout outcome unknown, claim kept")
			s.notify(fmt.Sprintf("payout of %s SOL to user %s has unknown outcome (signature %s): %v",
				claimed, user.ID, sig, err))
			var ae *apperr.Error
			if !errors.As(err, &ae) {
				ae = apperr.Upstream("fee payout", err)
			}
			return nil, ae.WithDetail("signature", sig).WithDetail("withdrawalAmount", claimed)
		}
		if _, rerr := s.users.AddFeeIncome(context.WithoutCancel(ctx), user.ID, claimed); rerr != nil {
			log.WithError(rerr).Error("restoring fee income after failed payout")
			s.notify(fmt.Sprintf("fee income of %s SOL for user %s was claimed but neither paid out nor restored: %v",
				claimed, user.ID, rerr))
		}
		return nil, err
	}

	metrics.RecordWithdrawal(true)
	log.WithField("signature", sig).Info("fee income paid out")
	out.Signature = sig
	return out, nil
}

// payoutNeverLanded reports whether a failed payout provably moved nothing:
// it was never broadcast, its blockhash expired unseen, or it failed on-chain.
func payoutNeverLanded(sig string, err error) bool {
	return sig == "" ||
		errors.Is(err, solana.ErrBlockhashExpired) ||
		errors.Is(err, solana.ErrTransactionFailed)
}

func (s *Service) UpdateFollow(ctx context.Context, userID string, follow bool, amount float64) (*FollowSettings, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return nil, apperr.Validation("copyTradingAmount must be a non-negative number")
	}
	user, err := s.users.UpdateFollow(ctx, userID, follow, decimal.NewFromFloat(amount))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("update follow settings", err)
	}
	return &FollowSettings{Follow: user.Follow, CopyTradingAmount: user.CopyTradingAmount}, nil
}

func (s *Service) load(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("load user", err)
	}
	return user, nil
}

func (s *Service) session(user *models.User) (*Session, error) {
	token, err := s.sessions.Issue(user.ID, user.Username)
	if err != nil {
		return nil, apperr.Unexpected("issue session", err)
	}
	return &Session{
		ID:              user.ID,
		Username:        user.Username,
		WalletPublicKey: user.WalletPublicKey,
		WalletID:        user.WalletID,
		Token:           token,
	}, nil
}

func (s *Service) notify(msg string) {
	if s.notifier != nil {
		s.notifier.Notify(msg)
	}
}
