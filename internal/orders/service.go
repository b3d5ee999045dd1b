// Package orders relays swap orders to the trading API and collects the
// platform fee on buys.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/metrics"
	"github.com/kjannette/swapdesk-backend/internal/models"
	"github.com/kjannette/swapdesk-backend/internal/repository"
)

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetFollowPair(ctx context.Context, id, pair string) error
}

type Placer interface {
	PlaceSwapOrder(ctx context.Context, intent models.SwapOrderIntent) (string, error)
}

type FeeTransferrer interface {
	Transfer(ctx context.Context, req models.FeeTransferRequest) (*models.FeeTransferResult, error)
}

type Notifier interface {
	Notify(msg string)
}

// Result describes a submitted order. Amounts are in the order's unit
// (SOL for buys, a fraction of the position for sells).
type Result struct {
	OrderID         string          `json:"orderId"`
	Side            string          `json:"side"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	SubmittedAmount decimal.Decimal `json:"submittedAmount"`
	FeeAmount       decimal.Decimal `json:"feeAmount"`
	FeeSignature    string          `json:"feeSignature,omitempty"`
	FeeWarning      string          `json:"feeWarning,omitempty"`
}

type Service struct {
	users    UserStore
	placer   Placer
	fees     FeeTransferrer
	notifier Notifier
	feeRate  decimal.Decimal
	log      *logrus.Entry
}

func NewService(users UserStore, placer Placer, fees FeeTransferrer, notifier Notifier, feeRate decimal.Decimal) *Service {
	return &Service{
		users:    users,
		placer:   placer,
		fees:     fees,
		notifier: notifier,
		feeRate:  feeRate,
		log:      logging.For("orders"),
	}
}

// SplitBuy returns the fee withheld from a buy amount and what is left to
// forward: fee = amount*rate, adjusted = amount-fee.
func SplitBuy(amount, rate decimal.Decimal) (fee, adjusted decimal.Decimal) {
	fee = amount.Mul(rate)
	return fee, amount.Sub(fee)
}

// Submit validates intent, forwards it to the trading API under the user's
// own wallet id and, for buys, sends the withheld fee on-chain whatever the
// order outcome. A failed fee transfer never fails the order.
func (s *Service) Submit(ctx context.Context, userID string, intent models.SwapOrderIntent) (*Result, error) {
	if err := Validate(&intent); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Unexpected("load user", err)
	}
	if !user.HasWallet() {
		return nil, apperr.NotFound("wallet not found")
	}
	intent.WalletID = *user.WalletID

	requested := decimal.NewFromFloat(intent.AmountOrPercent)
	res := &Result{
		Side:            intent.Type,
		RequestedAmount: requested,
		SubmittedAmount: requested,
		FeeAmount:       decimal.Zero,
	}
	if intent.Type == models.SideBuy {
		res.FeeAmount, res.SubmittedAmount = SplitBuy(requested, s.feeRate)
		intent.AmountOrPercent = res.SubmittedAmount.InexactFloat64()
	}

	log := s.log.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"chain":     intent.Chain,
		"pair":      intent.Pair,
		"side":      intent.Type,
		"requested": requested.String(),
		"submitted": res.SubmittedAmount.String(),
	})

	orderID, orderErr := s.placer.PlaceSwapOrder(ctx, intent)
	metrics.RecordSwapOrder(intent.Type, orderErr == nil)
	if orderErr != nil {
		log.WithError(orderErr).Error("swap order failed")
	} else {
		log.WithField("order_id", orderID).Info("swap order placed")
	}

	if intent.Type == models.SideBuy && res.FeeAmount.IsPositive() {
		s.collectFee(ctx, user, res)
	}

	if orderErr != nil {
		upErr := apperr.Upstream("trading API", orderErr).WithDetail("feeAmount", res.FeeAmount)
		if res.FeeSignature != "" {
			upErr = upErr.WithDetail("feeSignature", res.FeeSignature)
		}
		if res.FeeWarning != "" {
			upErr = upErr.WithDetail("feeWarning", res.FeeWarning)
		}
		return nil, upErr
	}
	res.OrderID = orderID

	if user.IsAdmin() {
		if err := s.users.SetFollowPair(ctx, user.ID, intent.Pair); err != nil {
			log.WithError(err).Warn("updating follow pair failed")
		}
	}
	return res, nil
}

// collectFee runs detached from the request's cancellation: once the order
// has gone out the fee must still be attempted.
func (s *Service) collectFee(ctx context.Context, user *models.User, res *Result) {
	fee, err := s.fees.Transfer(context.WithoutCancel(ctx), models.FeeTransferRequest{
		UserID: user.ID,
		Amount: res.FeeAmount.InexactFloat64(),
		Type:   models.SideBuy,
	})
	if err != nil {
		res.FeeWarning = "fee transfer failed: " + apperr.PublicMessage(err)
		s.log.WithError(err).WithField("user_id", user.ID).Error("fee transfer failed")
		if s.notifier != nil {
			s.notifier.Notify(fmt.Sprintf("fee transfer of %s SOL for user %s (%s) failed: %v",
				res.FeeAmount, user.Username, user.ID, err))
		}
		return
	}
	res.FeeSignature = fee.Signature
}

// Validate checks an intent against the trading API's accepted ranges.
func Validate(in *models.SwapOrderIntent) error {
	in.Pair = strings.TrimSpace(in.Pair)
	switch {
	case !in.Chain.Valid():
		return apperr.Validation("unsupported chain %q", in.Chain)
	case in.Pair == "":
		return apperr.Validation("pair is required")
	case in.Type != models.SideBuy && in.Type != models.SideSell:
		return apperr.Validation("type must be buy or sell")
	case !finite(in.AmountOrPercent):
		return apperr.Validation("amountOrPercent must be a number")
	case in.Type == models.SideBuy && in.AmountOrPercent <= 0:
		return apperr.Validation("buy amount must be greater than 0")
	case in.Type == models.SideSell && (in.AmountOrPercent <= 0 || in.AmountOrPercent > 1):
		return apperr.Validation("sell percent must be in (0, 1]")
	case !unit(in.MaxSlippage):
		return apperr.Validation("maxSlippage must be in [0, 1]")
	case in.StopEarnPercent != nil && !unit(*in.StopEarnPercent):
		return apperr.Validation("stopEarnPercent must be in [0, 1]")
	case in.StopLossPercent != nil && !unit(*in.StopLossPercent):
		return apperr.Validation("stopLossPercent must be in [0, 1]")
	case in.ConcurrentNodes < 1 || in.ConcurrentNodes > 3:
		return apperr.Validation("concurrentNodes must be between 1 and 3")
	case in.Retries < 0 || in.Retries > 10:
		return apperr.Validation("retries must be between 0 and 10")
	}
	for _, g := range [][]models.TakeProfitStep{in.StopEarnGroup, in.StopLossGroup} {
		for _, step := range g {
			if !unit(step.PricePercent) || !unit(step.AmountPercent) {
				return apperr.Validation("stop group percents must be in [0, 1]")
			}
		}
	}
	for name, v := range map[string]*float64{"gasFeeDelta": in.GasFeeDelta, "maxFeePerGas": in.MaxFeePerGas, "jitoTip": in.JitoTip} {
		if v != nil && (!finite(*v) || *v < 0) {
			return apperr.Validation("%s must be a non-negative number", name)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func unit(v float64) bool { return finite(v) && v >= 0 && v <= 1 }
