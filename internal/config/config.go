package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/swapdesk-backend/internal/logging"
	"github.com/kjannette/swapdesk-backend/internal/solana"
)

const (
	defaultDBotURL   = "https://api-bot-v1.dbotx.com"
	defaultSolanaRPC = "https://api.mainnet-beta.solana.com"
)

type Config struct {
	// Server
	Port            int
	CORSAllowOrigin string
	RateLimitRPS    float64
	RateLimitBurst  int
	LogLevel        string
	LogFormat       string

	// Secrets (from .env)
	SessionSecret       string
	WalletEncryptionKey string
	DBotAPIKey          string
	FeeWalletSecret     string
	WebhookURL          string
	ServiceName         string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	DBMaxConns int

	// Upstreams
	DBotAPIURL      string
	SolanaRPCURL    string
	UpstreamTimeout time.Duration
	ConfirmTimeout  time.Duration

	// Fees
	FeeWalletAddress string
	FeeRate          float64
	ReferralShare    float64

	// Sessions
	SessionTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Server
		Port:            envInt("PORT", 5000),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),
		RateLimitRPS:    envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:  envInt("RATE_LIMIT_BURST", 10),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		LogFormat:       envStr("LOG_FORMAT", "text"),

		// Secrets
		SessionSecret:       envStr("SESSION_SECRET", ""),
		WalletEncryptionKey: envStr("WALLET_ENCRYPTION_KEY", ""),
		DBotAPIKey:          envStr("DBOT_API_KEY", ""),
		FeeWalletSecret:     envStr("FEE_WALLET_SECRET", ""),
		WebhookURL:          envStr("WEBHOOK_URL", ""),
		ServiceName:         envStr("SERVICE_NAME", "SwapDesk"),

		// Database
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "swapdesk"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),
		DBSSLMode:  envStr("DB_SSLMODE", "disable"),
		DBMaxConns: envInt("DB_MAX_CONNS", 20),

		// Upstreams
		DBotAPIURL:      strings.TrimRight(envStr("DBOT_API_URL", defaultDBotURL), "/"),
		SolanaRPCURL:    envStr("SOLANA_RPC_URL", defaultSolanaRPC),
		UpstreamTimeout: time.Duration(envInt("UPSTREAM_TIMEOUT_SECONDS", 30)) * time.Second,
		ConfirmTimeout:  time.Duration(envInt("CONFIRM_TIMEOUT_SECONDS", 60)) * time.Second,

		// Fees
		FeeWalletAddress: envStr("FEE_WALLET_ADDRESS", ""),
		FeeRate:          envFloat("FEE_RATE", 0.012),
		ReferralShare:    envFloat("REFERRAL_SHARE", 0.3),

		// Sessions
		SessionTTL: time.Duration(envInt("SESSION_TTL_HOURS", 720)) * time.Hour,
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	log := logging.For("config")

	if c.SessionSecret == "" {
		errs = append(errs, "SESSION_SECRET is required")
	} else if len(c.SessionSecret) < 32 {
		errs = append(errs, "SESSION_SECRET must be at least 32 characters")
	}
	if c.WalletEncryptionKey == "" {
		errs = append(errs, "WALLET_ENCRYPTION_KEY is required")
	}
	if c.DBotAPIKey == "" {
		errs = append(errs, "DBOT_API_KEY is required")
	}
	if c.FeeWalletAddress == "" {
		errs = append(errs, "FEE_WALLET_ADDRESS is required")
	} else if _, err := solana.ParsePublicKey(c.FeeWalletAddress); err != nil {
		errs = append(errs, fmt.Sprintf("FEE_WALLET_ADDRESS is invalid: %v", err))
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 || math.IsNaN(c.FeeRate) {
		errs = append(errs, "FEE_RATE must be in [0, 1)")
	}
	if c.ReferralShare < 0 || c.ReferralShare > 1 || math.IsNaN(c.ReferralShare) {
		errs = append(errs, "REFERRAL_SHARE must be in [0, 1]")
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, "SESSION_TTL_HOURS must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if c.FeeWalletSecret != "" {
		kp, err := solana.KeypairFromBase58(c.FeeWalletSecret)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("FEE_WALLET_SECRET is invalid: %v", err))
		case kp.PublicKey().String() != c.FeeWalletAddress:
			errs = append(errs, "FEE_WALLET_SECRET does not match FEE_WALLET_ADDRESS")
		}
	} else {
		log.Warn("FEE_WALLET_SECRET not set, fee withdrawals are ledger-only (no on-chain payout)")
	}
	if c.FeeRate == 0 {
		log.Warn("FEE_RATE is 0, buy orders carry no platform fee")
	}
	if c.WebhookURL == "" {
		log.Warn("WEBHOOK_URL not set, fee relay failures are only logged")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	logging.For("config").WithFields(logrus.Fields{
		"port":             c.Port,
		"db":               fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName),
		"dbot_api":         c.DBotAPIURL,
		"solana_rpc":       c.SolanaRPCURL,
		"fee_wallet":       truncAddr(c.FeeWalletAddress),
		"fee_rate":         c.FeeRate,
		"referral_share":   c.ReferralShare,
		"fee_payout":       boolLabel(c.FeeWalletSecret != "", "enabled", "ledger-only"),
		"webhook":          boolLabel(c.WebhookURL != "", "configured", "not set"),
		"session_ttl":      c.SessionTTL.String(),
		"upstream_timeout": c.UpstreamTimeout.String(),
	}).Info("configuration loaded")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func truncAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
