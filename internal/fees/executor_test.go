package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/keystore"
	"github.com/kjannette/swapdesk-backend/internal/models"
	"github.com/kjannette/swapdesk-backend/internal/repository"
	"github.com/kjannette/swapdesk-backend/internal/solana"
)

type transferCall struct {
	payer    solana.PublicKey
	to       solana.PublicKey
	lamports uint64
	deadline bool
}

type fakeChain struct {
	calls []transferCall
	sig   string
	err   error
}

func (f *fakeChain) Transfer(ctx context.Context, payer *solana.Keypair, to solana.PublicKey, lamports uint64) (string, error) {
	_, hasDeadline := ctx.Deadline()
	f.calls = append(f.calls, transferCall{payer.PublicKey(), to, lamports, hasDeadline})
	return f.sig, f.err
}

type fixture struct {
	repo      *repository.MemoryUserRepo
	ks        *keystore.Keystore
	chain     *fakeChain
	exec      *Executor
	feeWallet solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ks, err := keystore.New("operator-secret")
	require.NoError(t, err)
	feeKP, err := solana.NewKeypair(nil)
	require.NoError(t, err)

	f := &fixture{
		repo:      repository.NewMemoryUserRepo(),
		ks:        ks,
		chain:     &fakeChain{sig: "5igSig"},
		feeWallet: feeKP.PublicKey(),
	}
	f.exec = NewExecutor(f.repo, ks, f.chain, Config{
		FeeWallet:      f.feeWallet,
		ReferralShare:  decimal.RequireFromString("0.3"),
		ConfirmTimeout: 5 * time.Second,
	})
	return f
}

// addUser stores a user with a real sealed keypair and returns it.
func (f *fixture) addUser(t *testing.T, name string, referrer *string) (*models.User, *solana.Keypair) {
	t.Helper()
	kp, err := solana.NewKeypair(nil)
	require.NoError(t, err)
	pub := kp.PublicKey().String()
	sealed, err := f.ks.Seal(kp.SecretBase58(), pub)
	require.NoError(t, err)
	wid := "w-" + name
	u, err := f.repo.Create(context.Background(), &models.User{
		Username:        name,
		PasswordHash:    "h",
		WalletPublicKey: pub,
		WalletSecret:    sealed,
		WalletID:        &wid,
		Referrer:        referrer,
	})
	require.NoError(t, err)
	return u, kp
}

func TestTransfer_SendsToFeeWallet(t *testing.T) {
	f := newFixture(t)
	u, kp := f.addUser(t, "alice", nil)

	res, err := f.exec.Transfer(context.Background(), models.FeeTransferRequest{
		UserID: u.ID, Amount: 0.12, Type: "buy",
	})
	require.NoError(t, err)

	assert.Equal(t, "5igSig", res.Signature)
	assert.Equal(t, 0.12, res.FeeAmount)
	assert.Equal(t, uint64(120_000_000), res.Lamports)
	assert.Equal(t, f.feeWallet.String(), res.FeeWallet)

	require.Len(t, f.chain.calls, 1)
	call := f.chain.calls[0]
	assert.Equal(t, kp.PublicKey(), call.payer)
	assert.Equal(t, f.feeWallet, call.to)
	assert.True(t, call.deadline, "transfer must run under the confirm timeout")
}

func TestTransfer_FloorsToLamports(t *testing.T) {
	f := newFixture(t)
	u, _ := f.addUser(t, "alice", nil)

	res, err := f.exec.Transfer(context.Background(), models.FeeTransferRequest{
		UserID: u.ID, Amount: 0.0000000019, Type: "buy",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Lamports)
	assert.Equal(t, 0.000000001, res.FeeAmount, "feeAmount reports what was sent, not what was asked")
}

func TestTransfer_RejectsBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	u, _ := f.addUser(t, "alice", nil)
	noSecret, err := f.repo.Create(context.Background(), &models.User{
		Username: "nokey", PasswordHash: "h", WalletPublicKey: "pubX",
	})
	require.NoError(t, err)

	cases := []struct {
		name string
		req  models.FeeTransferRequest
		kind apperr.Kind
	}{
		{"sell type", models.FeeTransferRequest{UserID: u.ID, Amount: 1, Type: "sell"}, apperr.KindValidation},
		{"empty type", models.FeeTransferRequest{UserID: u.ID, Amount: 1}, apperr.KindValidation},
		{"zero amount", models.FeeTransferRequest{UserID: u.ID, Amount: 0, Type: "buy"}, apperr.KindValidation},
		{"negative amount", models.FeeTransferRequest{UserID: u.ID, Amount: -0.5, Type: "buy"}, apperr.KindValidation},
		{"below one lamport", models.FeeTransferRequest{UserID: u.ID, Amount: 1e-10, Type: "buy"}, apperr.KindValidation},
		{"unknown user", models.FeeTransferRequest{UserID: "ghost", Amount: 1, Type: "buy"}, apperr.KindNotFound},
		{"user without key", models.FeeTransferRequest{UserID: noSecret.ID, Amount: 1, Type: "buy"}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.exec.Transfer(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
	assert.Empty(t, f.chain.calls, "no transaction may be submitted for rejected requests")
}

func TestTransfer_ChainFailure(t *testing.T) {
	f := newFixture(t)
	u, _ := f.addUser(t, "alice", nil)
	f.chain.sig = "pendingSig"
	f.chain.err = solana.ErrBlockhashExpired

	_, err := f.exec.Transfer(context.Background(), models.FeeTransferRequest{
		UserID: u.ID, Amount: 0.12, Type: "buy",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.True(t, errors.Is(err, solana.ErrBlockhashExpired))
	assert.Equal(t, "pendingSig", apperr.DetailsOf(err)["signature"])
}

func TestTransfer_CreditsReferrer(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "inviter", nil)
	ref := "inviter"
	u, _ := f.addUser(t, "bob", &ref)

	_, err := f.exec.Transfer(context.Background(), models.FeeTransferRequest{
		UserID: u.ID, Amount: 0.12, Type: "buy",
	})
	require.NoError(t, err)

	inviter, err := f.repo.GetByUsername(context.Background(), "inviter")
	require.NoError(t, err)
	assert.True(t, inviter.FeeIncome.Equal(decimal.RequireFromString("0.036")), inviter.FeeIncome.String())
}

func TestTransfer_NoReferrerCreditOnFailure(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "inviter", nil)
	ref := "inviter"
	u, _ := f.addUser(t, "bob", &ref)
	f.chain.err = errors.New("rpc down")

	_, err := f.exec.Transfer(context.Background(), models.FeeTransferRequest{
		UserID: u.ID, Amount: 0.12, Type: "buy",
	})
	require.Error(t, err)

	inviter, _ := f.repo.GetByUsername(context.Background(), "inviter")
	assert.True(t, inviter.FeeIncome.IsZero())
}

func TestTransfer_MissingReferrerIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ref := "deleted-user"
	u, _ := f.addUser(t, "bob", &ref)

	res, err := f.exec.Transfer(context.Background(), models.FeeTransferRequest{
		UserID: u.ID, Amount: 0.12, Type: "buy",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Signature)
}

func TestTransfer_TamperedSecret(t *testing.T) {
	f := newFixture(t)
	_, kp := f.addUser(t, "alice", nil)
	// Seal alice's secret under a different public key than the stored one.
	sealed, err := f.ks.Seal(kp.SecretBase58(), "pubY")
	require.NoError(t, err)
	mallory, err := f.repo.Create(context.Background(), &models.User{
		Username: "mallory", PasswordHash: "h", WalletPublicKey: "pubY", WalletSecret: sealed,
	})
	require.NoError(t, err)

	_, err = f.exec.Transfer(context.Background(), models.FeeTransferRequest{
		UserID: mallory.ID, Amount: 0.12, Type: "buy",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnexpected, apperr.KindOf(err))
	assert.Empty(t, f.chain.calls)
}

func TestPayout(t *testing.T) {
	f := newFixture(t)
	_, userKP := f.addUser(t, "alice", nil)
	assert.False(t, f.exec.PayoutEnabled())

	payout, err := solana.NewKeypair(nil)
	require.NoError(t, err)
	f.exec.cfg.PayoutKey = payout
	require.True(t, f.exec.PayoutEnabled())

	sig, err := f.exec.Payout(context.Background(), userKP.PublicKey().String(), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "5igSig", sig)

	require.Len(t, f.chain.calls, 1)
	assert.Equal(t, payout.PublicKey(), f.chain.calls[0].payer)
	assert.Equal(t, userKP.PublicKey(), f.chain.calls[0].to)
	assert.Equal(t, uint64(500_000_000), f.chain.calls[0].lamports)
}
