package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/swapdesk-backend/internal/account"
	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/auth"
	"github.com/kjannette/swapdesk-backend/internal/fees"
	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/metrics"
	"github.com/kjannette/swapdesk-backend/internal/orders"
)

const maxBodyBytes = 1 << 20

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Accounts *account.Service
	Orders   *orders.Service
	Fees     *fees.Executor
	Sessions *auth.Sessions
	DB       Pinger
}

type Options struct {
	Port           int
	CORSOrigin     string
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	accounts   *account.Service
	orders     *orders.Service
	fees       *fees.Executor
	sessions   *auth.Sessions
	db         Pinger
	limiter    *rateLimiter
	handler    http.Handler
	httpServer *http.Server
	log        *logrus.Entry
}

func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		accounts: deps.Accounts,
		orders:   deps.Orders,
		fees:     deps.Fees,
		sessions: deps.Sessions,
		db:       deps.DB,
		limiter:  newRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		log:      logging.For("api"),
	}

	mux := http.NewServeMux()

	// Auth routes
	mux.Handle("POST /api/auth/register", s.limit(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /api/auth/login", s.limit(http.HandlerFunc(s.handleLogin)))
	mux.Handle("GET /api/auth/profile", s.requireSession(s.handleProfile))

	// Wallet and fee-income routes
	mux.Handle("GET /api/wallet/{userId}", s.requireSession(s.handleWallet))
	mux.Handle("POST /api/withdraw-fee", s.requireSession(s.handleWithdrawFee))
	mux.Handle("POST /api/update-follow", s.requireSession(s.handleUpdateFollow))

	// Order and fee routes
	mux.Handle("POST /api/orders/swap", s.limit(s.requireSession(s.handleSwapOrder)))
	mux.Handle("POST /api/send-fee", s.requireSession(s.handleSendFee))

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.handler = recoverMiddleware(metrics.InstrumentHandler(corsMiddleware(mux, opts.CORSOrigin)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("REST API server started")
	s.limiter.startCleanup(10 * time.Minute)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.stopCleanup()
	return s.httpServer.Shutdown(ctx)
}

// --- request helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

// actingUser returns the user id a request may act on. An explicit id that
// is not the caller's own is rejected with 404 when no such user exists and
// 403 otherwise.
func (s *Server) actingUser(r *http.Request, requested string) (string, error) {
	self := auth.UserID(r.Context())
	if requested == "" || requested == self {
		return self, nil
	}
	if _, err := s.accounts.Profile(r.Context(), requested); err != nil {
		return "", err
	}
	return "", apperr.Forbidden("cannot act on another user's account")
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	entry := s.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).WithError(err)
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		entry.Warn("request rejected")
	default:
		entry.Debug("request rejected")
	}
	writeJSON(w, status, errorBody{Error: apperr.PublicMessage(err), Details: apperr.DetailsOf(err)})
}
