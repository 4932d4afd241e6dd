package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine.
type Config struct {
	// Mode
	PaperTrading bool
	PaperBalance decimal.Decimal
	Debug        bool

	// Venue alpha (CLOB crypto-settled)
	AlphaAPIURL     string
	AlphaWSURL      string
	AlphaAPIKey     string
	AlphaAPISecret  string
	AlphaPassphrase string
	AlphaPrivateKey string // hex ECDSA key for order signing
	AlphaFeeBps     int64

	// Venue beta (regulated API)
	BetaAPIURL string
	BetaWSURL  string
	BetaAPIKey string
	BetaSecret string
	BetaFeeBps int64

	// Arbitrage
	EnableSinglePlatformArb bool
	EnableCrossPlatformArb  bool
	MinArbitrageSpreadBps   int64

	// Streaming
	EnableWebSocket bool

	// Risk limits
	MaxPositionSizeUSD  decimal.Decimal
	MaxTotalExposureUSD decimal.Decimal
	MaxDailyLossUSD     decimal.Decimal
	MaxDrawdownPercent  decimal.Decimal

	// Strategy manager
	SignalCooldown       time.Duration
	MaxConcurrentSignals int

	// Engine
	ScanInterval time.Duration

	// Copy trading
	CopyTradingEnabled bool
	TrackedWallets     []string
	CopyPollInterval   time.Duration

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Admin API
	AdminAddr string

	// Database
	DatabaseDSN string // postgres DSN, or empty for sqlite
	SQLitePath  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		PaperTrading: getEnvBool("PAPER_TRADING", true),
		PaperBalance: getEnvDecimal("PAPER_BALANCE", decimal.NewFromInt(10000)),
		Debug:        getEnvBool("DEBUG", false),

		AlphaAPIURL:     getEnv("ALPHA_API_URL", "https://clob.venue-alpha.example"),
		AlphaWSURL:      getEnv("ALPHA_WS_URL", "wss://stream.venue-alpha.example/market"),
		AlphaAPIKey:     os.Getenv("ALPHA_API_KEY"),
		AlphaAPISecret:  os.Getenv("ALPHA_API_SECRET"),
		AlphaPassphrase: os.Getenv("ALPHA_PASSPHRASE"),
		AlphaPrivateKey: os.Getenv("ALPHA_PRIVATE_KEY"),
		AlphaFeeBps:     int64(getEnvInt("ALPHA_FEE_BPS", 0)),

		BetaAPIURL: getEnv("BETA_API_URL", "https://api.venue-beta.example"),
		BetaWSURL:  getEnv("BETA_WS_URL", "wss://api.venue-beta.example/ws"),
		BetaAPIKey: os.Getenv("BETA_API_KEY"),
		BetaSecret: os.Getenv("BETA_API_SECRET"),
		BetaFeeBps: int64(getEnvInt("BETA_FEE_BPS", 100)),

		EnableSinglePlatformArb: getEnvBool("ENABLE_SINGLE_PLATFORM_ARB", true),
		EnableCrossPlatformArb:  getEnvBool("ENABLE_CROSS_PLATFORM_ARB", true),
		MinArbitrageSpreadBps:   int64(getEnvInt("MIN_ARBITRAGE_SPREAD_BPS", 100)),

		EnableWebSocket: getEnvBool("ENABLE_WEBSOCKET", true),

		MaxPositionSizeUSD:  getEnvDecimal("MAX_POSITION_SIZE_USD", decimal.NewFromInt(1000)),
		MaxTotalExposureUSD: getEnvDecimal("MAX_TOTAL_EXPOSURE_USD", decimal.NewFromInt(5000)),
		MaxDailyLossUSD:     getEnvDecimal("MAX_DAILY_LOSS_USD", decimal.NewFromInt(500)),
		MaxDrawdownPercent:  getEnvDecimal("MAX_DRAWDOWN_PERCENT", decimal.NewFromInt(20)),

		SignalCooldown:       getEnvDuration("SIGNAL_COOLDOWN", 15*time.Second),
		MaxConcurrentSignals: getEnvInt("MAX_CONCURRENT_SIGNALS", 5),

		ScanInterval: getEnvDuration("SCAN_INTERVAL", time.Second),

		CopyTradingEnabled: getEnvBool("COPY_TRADING_ENABLED", false),
		CopyPollInterval:   getEnvDuration("COPY_POLL_INTERVAL", 15*time.Second),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		AdminAddr: getEnv("ADMIN_ADDR", ":8080"),

		DatabaseDSN: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/crossarb.db"),
	}

	if wallets := os.Getenv("TRACKED_WALLETS"); wallets != "" {
		cfg.TrackedWallets = splitCSV(wallets)
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.MinArbitrageSpreadBps < 0 {
		return nil, fmt.Errorf("MIN_ARBITRAGE_SPREAD_BPS must be >= 0")
	}
	if cfg.MaxPositionSizeUSD.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("MAX_POSITION_SIZE_USD must be positive")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
