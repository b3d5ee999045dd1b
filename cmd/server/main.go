package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/swapdesk-backend/internal/account"
	"github.com/kjannette/swapdesk-backend/internal/api"
	"github.com/kjannette/swapdesk-backend/internal/auth"
	"github.com/kjannette/swapdesk-backend/internal/config"
	"github.com/kjannette/swapdesk-backend/internal/db"
	"github.com/kjannette/swapdesk-backend/internal/external"
	"github.com/kjannette/swapdesk-backend/internal/fees"
	"github.com/kjannette/swapdesk-backend/internal/keystore"
	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/notifications"
	"github.com/kjannette/swapdesk-backend/internal/orders"
	"github.com/kjannette/swapdesk-backend/internal/repository"
	"github.com/kjannette/swapdesk-backend/internal/solana"
	"github.com/kjannette/swapdesk-backend/internal/wallet"
)

const banner = `
╔══════════════════════════════════════╗
║        SwapDesk Backend v0.1         ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.For("main")

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg.Print()

	// Database
	log.WithField("db", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)).Info("connecting to database")
	pool, err := db.Connect(context.Background(), cfg.DSN(), db.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer func() {
		pool.Close()
		log.Info("database pool closed")
	}()

	if err := db.TestConnection(context.Background(), pool); err != nil {
		log.WithError(err).Fatal("database test query failed")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(startCtx, pool); err != nil {
		cancelStart()
		log.WithError(err).Fatal("migrations failed")
	}

	// Upstreams
	chain, err := solana.Dial(startCtx, cfg.SolanaRPCURL, &http.Client{Timeout: cfg.UpstreamTimeout})
	cancelStart()
	if err != nil {
		log.WithError(err).Fatal("solana rpc dial failed")
	}
	defer chain.Close()

	ks, err := keystore.New(cfg.WalletEncryptionKey)
	if err != nil {
		log.WithError(err).Fatal("keystore init failed")
	}
	dbot := external.NewDBotClient(cfg.DBotAPIURL, cfg.DBotAPIKey, cfg.UpstreamTimeout)
	notify := notifications.NewSender(cfg.WebhookURL, cfg.ServiceName)
	defer notify.Wait()
	if notify.Enabled() {
		log.Info("ops webhook notifications enabled")
	}

	// Services
	users := repository.NewUserRepo(pool)
	sessions := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL)

	feeWallet, err := solana.ParsePublicKey(cfg.FeeWalletAddress)
	if err != nil {
		log.WithError(err).Fatal("invalid fee wallet")
	}
	var payoutKey *solana.Keypair
	if cfg.FeeWalletSecret != "" {
		if payoutKey, err = solana.KeypairFromBase58(cfg.FeeWalletSecret); err != nil {
			log.WithError(err).Fatal("invalid fee wallet secret")
		}
	}
	executor := fees.NewExecutor(users, ks, chain, fees.Config{
		FeeWallet:      feeWallet,
		ReferralShare:  decimal.NewFromFloat(cfg.ReferralShare),
		ConfirmTimeout: cfg.ConfirmTimeout,
		PayoutKey:      payoutKey,
	})

	accounts := account.NewService(users, wallet.NewProvisioner(dbot, ks), sessions, executor, notify)
	orderSvc := orders.NewService(users, dbot, executor, notify, decimal.NewFromFloat(cfg.FeeRate))

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(api.Deps{
		Accounts: accounts,
		Orders:   orderSvc,
		Fees:     executor,
		Sessions: sessions,
		DB:       pool,
	}, api.Options{
		Port:           cfg.Port,
		CORSOrigin:     cfg.CORSAllowOrigin,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("API server error")
			stop()
		}
	}()

	log.Info("all services started")

	<-ctx.Done()
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API shutdown error")
	}
	log.Info("shutdown complete")
}
