package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 60*time.Second, cfg.KlineIdleTimeout)
	assert.True(t, cfg.MinSolAmount.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 4, cfg.StrategyWindow)
	assert.True(t, cfg.StrategyRequireIncreasing)
	assert.Equal(t, 5*time.Second, cfg.ReconnectBase)
	assert.Equal(t, 300*time.Second, cfg.ReconnectMax)
	assert.Equal(t, 10, cfg.MaxReconnects)
	assert.Equal(t, time.Hour, cfg.PoolCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.NotificationCooldown)
	assert.False(t, cfg.NotificationEnabled)
	assert.Empty(t, cfg.ClickHouseDSN)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("KLINE_TIMEOUT_SECS", "120")
	t.Setenv("MIN_SOL_AMOUNT", "0.5")
	t.Setenv("STRATEGY_REQUIRE_INCREASING", "false")
	t.Setenv("RPC_ENDPOINTS", "https://a.example, https://b.example")

	cfg := Load()

	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, 2*time.Minute, cfg.KlineIdleTimeout)
	assert.True(t, cfg.MinSolAmount.Equal(decimal.RequireFromString("0.5")))
	assert.False(t, cfg.StrategyRequireIncreasing)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.RPCEndpoints)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("KLINE_TIMEOUT_SECS", "soon")
	t.Setenv("MIN_SOL_AMOUNT", "lots")
	t.Setenv("REDIS_DB", "main")

	cfg := Load()

	assert.Equal(t, 60*time.Second, cfg.KlineIdleTimeout)
	assert.True(t, cfg.MinSolAmount.Equal(decimal.RequireFromString("0.01")))
	assert.Zero(t, cfg.RedisDB)
}
