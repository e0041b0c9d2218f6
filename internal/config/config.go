// Package config loads runtime configuration from the environment, with
// an optional .env file for local runs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config is the full runtime configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WebsocketEndpoint string
	RPCEndpoints      []string

	KlineIdleTimeout time.Duration
	MinSolAmount     decimal.Decimal
	HighSpikeMult    decimal.Decimal
	FoldQueueSize    int

	PingInterval  time.Duration
	EvictInterval time.Duration
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxReconnects int

	PoolCacheTTL time.Duration

	StrategyWindow            int
	StrategyMinGainPct        decimal.Decimal
	StrategyRequireIncreasing bool
	StrategyInterval          time.Duration

	NotificationEnabled  bool
	NotificationScript   string
	NotificationCooldown time.Duration

	HTTPAddr string

	// ClickHouseDSN enables the candle archive when non-empty.
	ClickHouseDSN string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		RedisAddr:     envStr("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		WebsocketEndpoint: envStr("RPC_WEBSOCKET_ENDPOINT", "wss://api.mainnet-beta.solana.com"),
		RPCEndpoints:      envList("RPC_ENDPOINTS", "https://api.mainnet-beta.solana.com"),

		KlineIdleTimeout: envSecs("KLINE_TIMEOUT_SECS", 60),
		MinSolAmount:     envDecimal("MIN_SOL_AMOUNT", "0.01"),
		HighSpikeMult:    envDecimal("HIGH_SPIKE_MULTIPLE", "100"),
		FoldQueueSize:    envInt("FOLD_QUEUE_SIZE", 1024),

		PingInterval:  envSecs("PING_INTERVAL_SECS", 30),
		EvictInterval: envSecs("EVICT_INTERVAL_SECS", 30),
		ReconnectBase: envSecs("RECONNECT_BASE_SECS", 5),
		ReconnectMax:  envSecs("RECONNECT_MAX_SECS", 300),
		MaxReconnects: envInt("RECONNECT_MAX_ATTEMPTS", 10),

		PoolCacheTTL: envSecs("POOL_CACHE_TTL_SECS", 3600),

		StrategyWindow:            envInt("STRATEGY_WINDOW", 4),
		StrategyMinGainPct:        envDecimal("STRATEGY_MIN_GAIN", "1"),
		StrategyRequireIncreasing: envBool("STRATEGY_REQUIRE_INCREASING", true),
		StrategyInterval:          envSecs("STRATEGY_INTERVAL_SECS", 10),

		NotificationEnabled:  envBool("NOTIFICATION_ENABLED", false),
		NotificationScript:   envStr("NOTIFICATION_SCRIPT_PATH", "./notify.sh"),
		NotificationCooldown: envSecs("NOTIFICATION_COOLDOWN_SECONDS", 600),

		HTTPAddr: envStr("HTTP_ADDR", ":8080"),

		ClickHouseDSN: envStr("CLICKHOUSE_DSN", ""),
	}
}

// LogStartup records the effective configuration once at boot.
func (c Config) LogStartup(log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"redis_addr":      c.RedisAddr,
		"ws_endpoint":     c.WebsocketEndpoint,
		"rpc_endpoints":   len(c.RPCEndpoints),
		"idle_timeout":    c.KlineIdleTimeout,
		"min_sol":         c.MinSolAmount,
		"strategy_window": c.StrategyWindow,
		"notifications":   c.NotificationEnabled,
		"archive":         c.ClickHouseDSN != "",
	}).Info("configuration loaded")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envSecs(key string, fallback int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * time.Second
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Duration(fallback) * time.Second
	}
	return time.Duration(n) * time.Second
}

func envDecimal(key, fallback string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return decimal.RequireFromString(fallback)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.RequireFromString(fallback)
	}
	return d
}

func envList(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
