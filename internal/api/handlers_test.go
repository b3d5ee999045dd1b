package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/swapdesk-backend/internal/account"
	"github.com/kjannette/swapdesk-backend/internal/auth"
	"github.com/kjannette/swapdesk-backend/internal/external"
	"github.com/kjannette/swapdesk-backend/internal/fees"
	"github.com/kjannette/swapdesk-backend/internal/keystore"
	"github.com/kjannette/swapdesk-backend/internal/models"
	"github.com/kjannette/swapdesk-backend/internal/orders"
	"github.com/kjannette/swapdesk-backend/internal/repository"
	"github.com/kjannette/swapdesk-backend/internal/solana"
	"github.com/kjannette/swapdesk-backend/internal/wallet"
)

// fakeDBot answers wallet imports and swap orders the way DBot does.
type fakeDBot struct {
	mu     sync.Mutex
	n      int
	orders []models.SwapOrderIntent
}

func (f *fakeDBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/account/wallets":
		f.n++
		io.WriteString(w, `{"err":false,"res":[{"id":"wlt_`+string(rune('a'+f.n-1))+`"}]}`)
	case "/automation/swap_order":
		var in models.SwapOrderIntent
		json.NewDecoder(r.Body).Decode(&in)
		f.orders = append(f.orders, in)
		io.WriteString(w, `{"err":false,"res":{"id":"ord_1"}}`)
	default:
		http.NotFound(w, r)
	}
}

type fakeChain struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeChain) Transfer(_ context.Context, _ *solana.Keypair, _ solana.PublicKey, _ uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "feeSig", nil
}

type quietNotifier struct{}

func (quietNotifier) Notify(string) {}

type testAPI struct {
	handler http.Handler
	dbot    *fakeDBot
	chain   *fakeChain
	repo    *repository.MemoryUserRepo
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dbot := &fakeDBot{}
	ts := httptest.NewServer(dbot)
	t.Cleanup(ts.Close)

	ks, err := keystore.New("operator-secret")
	require.NoError(t, err)
	feeKP, err := solana.NewKeypair(nil)
	require.NoError(t, err)

	repo := repository.NewMemoryUserRepo()
	client := external.NewDBotClient(ts.URL, "test-key", 5*time.Second)
	chain := &fakeChain{}
	sessions := auth.NewSessions("0123456789abcdef0123456789abcdef", time.Hour)

	executor := fees.NewExecutor(repo, ks, chain, fees.Config{
		FeeWallet:      feeKP.PublicKey(),
		ReferralShare:  decimal.RequireFromString("0.3"),
		ConfirmTimeout: 5 * time.Second,
	})
	accounts := account.NewService(repo, wallet.NewProvisioner(client, ks), sessions, executor, quietNotifier{})
	orderSvc := orders.NewService(repo, client, executor, quietNotifier{}, decimal.RequireFromString("0.012"))

	s := NewServer(Deps{
		Accounts: accounts,
		Orders:   orderSvc,
		Fees:     executor,
		Sessions: sessions,
	}, Options{RateLimitRPS: 100, RateLimitBurst: 100})

	return &testAPI{handler: s.Handler(), dbot: dbot, chain: chain, repo: repo}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) register(t *testing.T, name string) account.Session {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": name, "password": "pw123"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var s account.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	return s
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t)

	s := api.register(t, "alice")
	raw, err := base58.Decode(s.WalletPublicKey)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	require.NotNil(t, s.WalletID)
	assert.Equal(t, "wlt_a", *s.WalletID)
	assert.NotEmpty(t, s.Token)

	rr := api.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "pw123"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login account.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	assert.Equal(t, s.ID, login.ID)
	assert.Equal(t, s.WalletPublicKey, login.WalletPublicKey)
}

func TestLogin_WrongPassword(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "alice")

	rr := api.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "nope12"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid username or password", decodeError(t, rr).Error)
}

func TestRegister_Duplicate(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "alice")

	rr := api.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"username": "alice", "password": "pw123"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 1, api.repo.Count())
}

func TestRegister_EmptyBody(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/api/auth/register", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "request body is required", decodeError(t, rr).Error)
}

func TestProfile(t *testing.T) {
	api := newTestAPI(t)
	s := api.register(t, "alice")

	rr := api.do(t, http.MethodGet, "/api/auth/profile", s.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "v1:", "sealed secret must never be served")
	assert.NotContains(t, rr.Body.String(), "passwordHash")

	rr = api.do(t, http.MethodGet, "/api/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestWallet(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")
	bob := api.register(t, "bob")

	rr := api.do(t, http.MethodGet, "/api/wallet/"+alice.ID, alice.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var info account.WalletInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, alice.WalletPublicKey, info.PublicKey)

	rr = api.do(t, http.MethodGet, "/api/wallet/"+bob.ID, alice.Token, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = api.do(t, http.MethodGet, "/api/wallet/no-such-user", alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSwapOrder_BuyWithholdsFee(t *testing.T) {
	api := newTestAPI(t)
	s := api.register(t, "alice")

	rr := api.do(t, http.MethodPost, "/api/orders/swap", s.Token, models.SwapOrderIntent{
		Chain:           models.ChainSolana,
		Pair:            "PAIR111",
		Type:            models.SideBuy,
		AmountOrPercent: 10,
		MaxSlippage:     0.1,
		ConcurrentNodes: 1,
		Retries:         3,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res orders.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "ord_1", res.OrderID)
	assert.True(t, res.SubmittedAmount.Equal(decimal.RequireFromString("9.88")), res.SubmittedAmount.String())
	assert.True(t, res.FeeAmount.Equal(decimal.RequireFromString("0.12")), res.FeeAmount.String())
	assert.Equal(t, "feeSig", res.FeeSignature)

	require.Len(t, api.dbot.orders, 1)
	assert.Equal(t, 9.88, api.dbot.orders[0].AmountOrPercent)
	assert.Equal(t, *s.WalletID, api.dbot.orders[0].WalletID)
	assert.Equal(t, 1, api.chain.calls)
}

func TestSwapOrder_Invalid(t *testing.T) {
	api := newTestAPI(t)
	s := api.register(t, "alice")

	rr := api.do(t, http.MethodPost, "/api/orders/swap", s.Token, models.SwapOrderIntent{
		Chain: models.ChainSolana, Pair: "PAIR111", Type: "hold", AmountOrPercent: 1, ConcurrentNodes: 1,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, api.dbot.orders)
	assert.Zero(t, api.chain.calls)
}

func TestSendFee(t *testing.T) {
	api := newTestAPI(t)
	alice := api.register(t, "alice")
	bob := api.register(t, "bob")

	rr := api.do(t, http.MethodPost, "/api/send-fee", alice.Token, models.FeeTransferRequest{Amount: 0.12, Type: "buy"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res models.FeeTransferResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "feeSig", res.Signature)
	assert.Equal(t, uint64(120_000_000), res.Lamports)

	rr = api.do(t, http.MethodPost, "/api/send-fee", alice.Token, models.FeeTransferRequest{Amount: 0.12, Type: "sell"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = api.do(t, http.MethodPost, "/api/send-fee", alice.Token, models.FeeTransferRequest{UserID: "ghost", Amount: 0.12, Type: "buy"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = api.do(t, http.MethodPost, "/api/send-fee", alice.Token, models.FeeTransferRequest{UserID: bob.ID, Amount: 0.12, Type: "buy"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	assert.Equal(t, 1, api.chain.calls)
}

func TestWithdrawFee(t *testing.T) {
	api := newTestAPI(t)
	s := api.register(t, "alice")
	_, err := api.repo.AddFeeIncome(context.Background(), s.ID, decimal.RequireFromString("0.25"))
	require.NoError(t, err)

	rr := api.do(t, http.MethodPost, "/api/withdraw-fee", s.Token, map[string]string{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var w account.Withdrawal
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &w))
	assert.True(t, w.WithdrawalAmount.Equal(decimal.RequireFromString("0.25")))

	rr = api.do(t, http.MethodPost, "/api/withdraw-fee", s.Token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateFollow(t *testing.T) {
	api := newTestAPI(t)
	s := api.register(t, "alice")

	rr := api.do(t, http.MethodPost, "/api/update-follow", s.Token, map[string]any{"follow": true, "copyTradingAmount": 2})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got account.FollowSettings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.True(t, got.Follow)
	assert.True(t, got.CopyTradingAmount.Equal(decimal.NewFromInt(2)))
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "not configured", body.Services.Database)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodGet, "/health", "", nil)

	rr := api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}
