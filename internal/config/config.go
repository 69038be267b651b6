// Package config loads the static key/value document described in spec.md
// §6.5. Loading follows the same order the sentinel repo's config package
// uses: .env file first (if present), then environment variables with
// defaults, resolved into a typed Config. Every option named in §6.5 gets a
// field; nothing lives as an untyped map past this package boundary.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/aristath/sentinel-trader/internal/errs"
	"github.com/joho/godotenv"
)

// CircuitBreakerThresholds holds the graduated loss-gate percentages (C4).
type CircuitBreakerThresholds struct {
	YellowPct float64
	OrangePct float64
	RedPct    float64
}

// ProviderTimeouts holds the per-collaborator timeout budget (§5).
type ProviderTimeouts struct {
	BrokerSeconds     int
	MarketDataSeconds int
	SentimentSeconds  int
	LLMFastSeconds    int
	LLMDeepSeconds    int
}

// ConcurrencyConfig holds the fan-out and batching knobs (§5).
type ConcurrencyConfig struct {
	PerStageFanout        int
	SentimentBatchSize    int
	SentimentBatchDelayS  int
}

// Config is the fully resolved application configuration.
type Config struct {
	DataDir                 string
	LogLevel                string
	Pretty                  bool
	Port                    int
	DevMode                 bool

	MaxPositions            int
	MinPositions            int
	TargetPositionCount     int
	TargetInvestedRatio     float64
	MaxPositionPct          float64
	MinTradeDollarThreshold float64
	CacheTTLHours           int
	PlanFreshnessHours      int
	MaxStageRetries         int

	CircuitBreaker   CircuitBreakerThresholds
	ProviderTimeouts ProviderTimeouts
	Concurrency      ConcurrencyConfig
	TimeZone         string

	RestrictedSymbols []string
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Load reads configuration from a .env file (if present) and the
// environment, applying the defaults documented in spec.md §6.5. A missing
// or invalid DataDir is a fatal ConfigError per spec.md §7.
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	dataDir := getEnv("SENTINEL_DATA_DIR", "")
	if dataDir == "" {
		return nil, fmt.Errorf("%w: SENTINEL_DATA_DIR must be set", errs.ErrConfig)
	}

	cfg := &Config{
		DataDir:  dataDir,
		LogLevel: getEnv("SENTINEL_LOG_LEVEL", "info"),
		Pretty:   getEnvBool("SENTINEL_LOG_PRETTY", true),
		Port:     getEnvInt("SENTINEL_PORT", 8001),
		DevMode:  getEnvBool("SENTINEL_DEV_MODE", false),

		MaxPositions:            getEnvInt("SENTINEL_MAX_POSITIONS", 20),
		MinPositions:            getEnvInt("SENTINEL_MIN_POSITIONS", 10),
		TargetPositionCount:     getEnvInt("SENTINEL_TARGET_POSITION_COUNT", 20),
		TargetInvestedRatio:     getEnvFloat("SENTINEL_TARGET_INVESTED_RATIO", 0.90),
		MaxPositionPct:          getEnvFloat("SENTINEL_MAX_POSITION_PCT", 0.10),
		MinTradeDollarThreshold: getEnvFloat("SENTINEL_MIN_TRADE_DOLLAR_THRESHOLD", 25),
		CacheTTLHours:           getEnvInt("SENTINEL_CACHE_TTL_HOURS", 16),
		PlanFreshnessHours:      getEnvInt("SENTINEL_PLAN_FRESHNESS_HOURS", 4),
		MaxStageRetries:         getEnvInt("SENTINEL_MAX_STAGE_RETRIES", 2),

		CircuitBreaker: CircuitBreakerThresholds{
			YellowPct: getEnvFloat("SENTINEL_CB_YELLOW_PCT", 5),
			OrangePct: getEnvFloat("SENTINEL_CB_ORANGE_PCT", 10),
			RedPct:    getEnvFloat("SENTINEL_CB_RED_PCT", 15),
		},
		ProviderTimeouts: ProviderTimeouts{
			BrokerSeconds:     getEnvInt("SENTINEL_TIMEOUT_BROKER_S", 30),
			MarketDataSeconds: getEnvInt("SENTINEL_TIMEOUT_MARKET_DATA_S", 30),
			SentimentSeconds:  getEnvInt("SENTINEL_TIMEOUT_SENTIMENT_S", 30),
			LLMFastSeconds:    getEnvInt("SENTINEL_TIMEOUT_LLM_FAST_S", 45),
			LLMDeepSeconds:    getEnvInt("SENTINEL_TIMEOUT_LLM_DEEP_S", 600),
		},
		Concurrency: ConcurrencyConfig{
			PerStageFanout:       getEnvInt("SENTINEL_FANOUT", 5),
			SentimentBatchSize:   getEnvInt("SENTINEL_SENTIMENT_BATCH_SIZE", 5),
			SentimentBatchDelayS: getEnvInt("SENTINEL_SENTIMENT_BATCH_DELAY_S", 5),
		},
		TimeZone: getEnv("SENTINEL_TIME_ZONE", "America/New_York"),
	}

	if cfg.MaxPositions < 1 || cfg.MinPositions < 1 {
		return nil, fmt.Errorf("%w: max_positions and min_positions must be >= 1", errs.ErrConfig)
	}
	if cfg.TargetInvestedRatio <= 0 || cfg.TargetInvestedRatio > 1 {
		return nil, fmt.Errorf("%w: target_invested_ratio must be in (0,1]", errs.ErrConfig)
	}
	if cfg.MaxPositionPct <= 0 || cfg.MaxPositionPct > 1 {
		return nil, fmt.Errorf("%w: max_position_pct must be in (0,1]", errs.ErrConfig)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data dir: %v", errs.ErrConfig, err)
	}

	return cfg, nil
}
