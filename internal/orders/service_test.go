package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/models"
	"github.com/kjannette/swapdesk-backend/internal/repository"
)

type fakePlacer struct {
	got []models.SwapOrderIntent
	id  string
	err error
}

func (f *fakePlacer) PlaceSwapOrder(_ context.Context, in models.SwapOrderIntent) (string, error) {
	f.got = append(f.got, in)
	return f.id, f.err
}

type fakeFees struct {
	got []models.FeeTransferRequest
	err error
}

func (f *fakeFees) Transfer(_ context.Context, req models.FeeTransferRequest) (*models.FeeTransferResult, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.FeeTransferResult{Signature: "feeSig", FeeAmount: req.Amount}, nil
}

type fakeNotifier struct{ msgs []string }

func (n *fakeNotifier) Notify(msg string) { n.msgs = append(n.msgs, msg) }

type env struct {
	svc      *Service
	repo     *repository.MemoryUserRepo
	placer   *fakePlacer
	fees     *fakeFees
	notifier *fakeNotifier
	user     *models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:     repository.NewMemoryUserRepo(),
		placer:   &fakePlacer{id: "ord_1"},
		fees:     &fakeFees{},
		notifier: &fakeNotifier{},
	}
	wid := "wlt_alice"
	u, err := e.repo.Create(context.Background(), &models.User{
		Username: "alice", PasswordHash: "h", WalletPublicKey: "pubA", WalletSecret: "v1:x", WalletID: &wid,
	})
	require.NoError(t, err)
	e.user = u
	e.svc = NewService(e.repo, e.placer, e.fees, e.notifier, decimal.RequireFromString("0.012"))
	return e
}

func intent(side string, amount float64) models.SwapOrderIntent {
	return models.SwapOrderIntent{
		Chain:           models.ChainSolana,
		Pair:            "PAIR111",
		WalletID:        "someone-elses-wallet",
		Type:            side,
		AmountOrPercent: amount,
		MaxSlippage:     0.1,
		ConcurrentNodes: 1,
		Retries:         3,
	}
}

func TestSplitBuy(t *testing.T) {
	rate := decimal.RequireFromString("0.012")
	for _, s := range []string{"0", "0.001", "1", "10", "123.456789", "1000000"} {
		amount := decimal.RequireFromString(s)
		fee, adjusted := SplitBuy(amount, rate)
		assert.True(t, fee.Add(adjusted).Equal(amount), s)
		assert.False(t, adjusted.IsNegative(), s)
		assert.True(t, fee.Equal(amount.Mul(rate)), s)
	}
}

func TestSubmit_BuyDeductsFee(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.Submit(context.Background(), e.user.ID, intent("buy", 10))
	require.NoError(t, err)

	assert.Equal(t, "ord_1", res.OrderID)
	assert.True(t, res.SubmittedAmount.Equal(decimal.RequireFromString("9.88")), res.SubmittedAmount.String())
	assert.True(t, res.FeeAmount.Equal(decimal.RequireFromString("0.12")), res.FeeAmount.String())
	assert.Equal(t, "feeSig", res.FeeSignature)
	assert.Empty(t, res.FeeWarning)

	require.Len(t, e.placer.got, 1)
	assert.Equal(t, 9.88, e.placer.got[0].AmountOrPercent)
	assert.Equal(t, "wlt_alice", e.placer.got[0].WalletID, "order must use the caller's stored wallet")

	require.Len(t, e.fees.got, 1)
	assert.Equal(t, models.FeeTransferRequest{UserID: e.user.ID, Amount: 0.12, Type: "buy"}, e.fees.got[0])
}

func TestSubmit_SellUnmodified(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.Submit(context.Background(), e.user.ID, intent("sell", 0.5))
	require.NoError(t, err)

	assert.True(t, res.FeeAmount.IsZero())
	require.Len(t, e.placer.got, 1)
	assert.Equal(t, 0.5, e.placer.got[0].AmountOrPercent)
	assert.Empty(t, e.fees.got, "sells carry no fee")
}

func TestSubmit_FeeFailureIsWarningOnly(t *testing.T) {
	e := newEnv(t)
	e.fees.err = apperr.Upstream("solana", errors.New("insufficient funds for fee"))

	res, err := e.svc.Submit(context.Background(), e.user.ID, intent("buy", 10))
	require.NoError(t, err)
	assert.Equal(t, "ord_1", res.OrderID)
	assert.Contains(t, res.FeeWarning, "insufficient funds for fee")
	assert.Empty(t, res.FeeSignature)
	assert.Len(t, e.notifier.msgs, 1)
}

func TestSubmit_OrderFailureStillSendsFee(t *testing.T) {
	e := newEnv(t)
	e.placer.err = errors.New("HTTP 500: engine down")

	_, err := e.svc.Submit(context.Background(), e.user.ID, intent("buy", 10))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Contains(t, apperr.PublicMessage(err), "engine down")
	assert.Equal(t, "feeSig", apperr.DetailsOf(err)["feeSignature"])

	require.Len(t, e.fees.got, 1, "fee is sent regardless of the order outcome")
}

func TestSubmit_ZeroFeeRateSkipsTransfer(t *testing.T) {
	e := newEnv(t)
	e.svc.feeRate = decimal.Zero

	res, err := e.svc.Submit(context.Background(), e.user.ID, intent("buy", 10))
	require.NoError(t, err)
	assert.True(t, res.SubmittedAmount.Equal(decimal.NewFromInt(10)))
	assert.Empty(t, e.fees.got)
}

func TestSubmit_AdminUpdatesFollowPair(t *testing.T) {
	e := newEnv(t)
	e.repo.SetRole(e.user.ID, models.RoleAdmin)

	_, err := e.svc.Submit(context.Background(), e.user.ID, intent("buy", 1))
	require.NoError(t, err)

	u, _ := e.repo.GetByID(context.Background(), e.user.ID)
	require.NotNil(t, u.FollowPair)
	assert.Equal(t, "PAIR111", *u.FollowPair)
}

func TestSubmit_NormalUserKeepsFollowPair(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Submit(context.Background(), e.user.ID, intent("buy", 1))
	require.NoError(t, err)

	u, _ := e.repo.GetByID(context.Background(), e.user.ID)
	assert.Nil(t, u.FollowPair)
}

func TestSubmit_UnknownUserOrWallet(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Submit(context.Background(), "ghost", intent("buy", 1))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	noWallet, err := e.repo.Create(context.Background(), &models.User{
		Username: "bob", PasswordHash: "h", WalletPublicKey: "pubB",
	})
	require.NoError(t, err)
	_, err = e.svc.Submit(context.Background(), noWallet.ID, intent("buy", 1))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	assert.Empty(t, e.placer.got)
	assert.Empty(t, e.fees.got)
}

func TestValidate(t *testing.T) {
	half, two := 0.5, 2.0
	neg := -1.0
	cases := []struct {
		name string
		mut  func(*models.SwapOrderIntent)
		ok   bool
	}{
		{"valid buy", func(*models.SwapOrderIntent) {}, true},
		{"bad chain", func(i *models.SwapOrderIntent) { i.Chain = "dogechain" }, false},
		{"blank pair", func(i *models.SwapOrderIntent) { i.Pair = "  " }, false},
		{"bad side", func(i *models.SwapOrderIntent) { i.Type = "hold" }, false},
		{"zero buy", func(i *models.SwapOrderIntent) { i.AmountOrPercent = 0 }, false},
		{"sell over 1", func(i *models.SwapOrderIntent) { i.Type = "sell"; i.AmountOrPercent = 1.5 }, false},
		{"sell all", func(i *models.SwapOrderIntent) { i.Type = "sell"; i.AmountOrPercent = 1 }, true},
		{"slippage > 1", func(i *models.SwapOrderIntent) { i.MaxSlippage = 1.1 }, false},
		{"stop earn ok", func(i *models.SwapOrderIntent) { i.StopEarnPercent = &half }, true},
		{"stop loss > 1", func(i *models.SwapOrderIntent) { i.StopLossPercent = &two }, false},
		{"nodes 0", func(i *models.SwapOrderIntent) { i.ConcurrentNodes = 0 }, false},
		{"nodes 4", func(i *models.SwapOrderIntent) { i.ConcurrentNodes = 4 }, false},
		{"retries 11", func(i *models.SwapOrderIntent) { i.Retries = 11 }, false},
		{"retries -1", func(i *models.SwapOrderIntent) { i.Retries = -1 }, false},
		{"group percent", func(i *models.SwapOrderIntent) {
			i.StopEarnGroup = []models.TakeProfitStep{{PricePercent: 0.2, AmountPercent: 1.2}}
		}, false},
		{"negative jito tip", func(i *models.SwapOrderIntent) { i.JitoTip = &neg }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := intent("buy", 1)
			tc.mut(&in)
			err := Validate(&in)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			}
		})
	}
}
