// Package config loads the engine's runtime configuration from environment
// variables, covering the risk, monitor, execution, pool, and persistence
// surfaces.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/execution"
	"github.com/dlmmcore/engine/types"
)

// MonitorConfig holds the poll-loop and alert-threshold settings.
type MonitorConfig struct {
	PollInterval          time.Duration
	StopLossPollInterval  time.Duration
	BinWindowAroundActive int32
	MaxHistoryLength      int
	PriceChangeAlertPct   decimal.Decimal
	LargeTradeThreshold   decimal.Decimal
	MinLiquidityThreshold decimal.Decimal
}

// PoolConfig holds the default bin-math parameters new pools are registered
// with when no venue-reported value is available.
type PoolConfig struct {
	DefaultBinStep uint16
	BasePrice      decimal.Decimal
}

// Config is the fully resolved, process-wide configuration surface.
type Config struct {
	Debug bool

	Risk      types.RiskEnvelope
	Monitor   MonitorConfig
	Execution execution.Config
	Pool      PoolConfig

	// DatabaseURL selects persistence: empty disables it, a postgres://
	// scheme selects Postgres, anything else is a sqlite file path.
	DatabaseURL string

	TelegramBotToken string
	TelegramChatID   int64

	LiveTrading bool

	// StreamURL, if set, enables the optional streaming subscription
	// alongside the monitor's polling loop.
	StreamURL string
}

// Load reads Config from the environment. Callers are expected to have
// already called godotenv.Load() in main.
func Load() (*Config, error) {
	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		Risk: types.RiskEnvelope{
			MaxPositionSize:      getEnvDecimal("RISK_MAX_POSITION_SIZE", decimal.NewFromInt(10_000)),
			MaxTotalExposure:     getEnvDecimal("RISK_MAX_TOTAL_EXPOSURE", decimal.NewFromInt(100_000)),
			MaxActiveOrders:      getEnvInt("RISK_MAX_ACTIVE_ORDERS", 50),
			MaxSlippageBps:       getEnvInt("RISK_MAX_SLIPPAGE_BPS", 100),
			DailyLossLimit:       getEnvDecimal("RISK_DAILY_LOSS_LIMIT", decimal.Zero),
			GlobalStopLossPct:    getEnvDecimal("RISK_GLOBAL_STOP_LOSS_PCT", decimal.Zero),
			MaxConsecutiveLosses: getEnvInt("RISK_MAX_CONSECUTIVE_LOSSES", 3),
			PositionCooldown:     getEnvDuration("RISK_POSITION_COOLDOWN_SEC", 30*time.Second),
		},

		Monitor: MonitorConfig{
			PollInterval:          getEnvMillis("POLL_INTERVAL_MS", time.Second),
			StopLossPollInterval:  getEnvMillis("STOP_LOSS_POLL_MS", 500*time.Millisecond),
			BinWindowAroundActive: int32(getEnvInt("BIN_WINDOW_AROUND_ACTIVE", 10)),
			MaxHistoryLength:      getEnvInt("MAX_HISTORY_LENGTH", 500),
			PriceChangeAlertPct:   getEnvDecimal("PRICE_CHANGE_ALERT_PCT", decimal.NewFromFloat(0.05)),
			LargeTradeThreshold:   getEnvDecimal("LARGE_TRADE_THRESHOLD", decimal.NewFromInt(50_000)),
			MinLiquidityThreshold: getEnvDecimal("MIN_LIQUIDITY_THRESHOLD", decimal.NewFromInt(1_000)),
		},

		Execution: execution.Config{
			MaxConcurrentExecutions: getEnvInt("MAX_CONCURRENT_EXECUTIONS", 8),
			ExecutionTimeout:        getEnvDuration("EXECUTION_TIMEOUT_SECS", 30*time.Second),
			MaxRetryAttempts:        getEnvInt("MAX_RETRY_ATTEMPTS", 3),
			RetryDelay:              getEnvMillis("RETRY_DELAY_MS", 250*time.Millisecond),
			FeePolicy:                execution.FeePolicy{Kind: execution.FeePolicyKind(getEnv("FEE_POLICY", string(execution.FeeDynamic)))},
			EnableSlippageProtection: getEnvBool("ENABLE_SLIPPAGE_PROTECTION", true),
			EnableMevProtection:      getEnvBool("ENABLE_MEV_PROTECTION", true),
			BatchThreshold:           getEnvDecimal("BATCH_THRESHOLD", decimal.NewFromInt(10_000)),
			MinLiquidityFloor:        getEnvDecimal("MIN_LIQUIDITY_THRESHOLD", decimal.NewFromInt(1_000)),
			MaxSplits:                getEnvInt("MAX_MEV_SPLITS", 4),
			DispatchInterval:         getEnvMillis("DISPATCH_INTERVAL_MS", 100*time.Millisecond),
			AgeBonusThreshold:        getEnvDuration("AGE_BONUS_THRESHOLD_SEC", 30*time.Second),
			MevDelayMin:              getEnvMillis("MEV_DELAY_MIN_MS", 50*time.Millisecond),
			MevDelayMax:              getEnvMillis("MEV_DELAY_MAX_MS", 400*time.Millisecond),
			VulnerabilityWeights:     execution.DefaultVulnerabilityWeights(),
			NotionalReference:        getEnvDecimal("VULNERABILITY_NOTIONAL_REFERENCE", decimal.NewFromInt(25_000)),
			BlockInterval:            getEnvDuration("BLOCK_INTERVAL_SEC", 2*time.Second),
			PoolToxicity:             make(map[string]decimal.Decimal),
		},

		Pool: PoolConfig{
			DefaultBinStep: uint16(getEnvInt("DEFAULT_BIN_STEP", 20)),
			BasePrice:      getEnvDecimal("BASE_PRICE", decimal.NewFromInt(1)),
		},

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		LiveTrading:      getEnvBool("LIVE_TRADING", false),
		StreamURL:        os.Getenv("STREAM_URL"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// UsesPostgres reports whether DatabaseURL selects the Postgres driver
// rather than sqlite.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// PersistenceEnabled reports whether any store should be constructed.
func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}

// TelegramEnabled reports whether a TelegramSink can be constructed.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

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
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvMillis parses a plain integer env var as milliseconds, the
// convention every *_MS setting follows.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
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
