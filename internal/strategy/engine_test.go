package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmonitor/internal/domain"
	"kmonitor/internal/kline"
	redisstore "kmonitor/internal/storage/redis"
)

const testMint = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

type captureNotifier struct {
	alerts []domain.StrategyAlert
}

func (c *captureNotifier) Notify(_ context.Context, alert domain.StrategyAlert) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func testEngine(t *testing.T, cfg PatternConfig) (*Engine, *kline.Manager, *captureNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redisstore.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	m := kline.NewManager(store, time.Hour, decimal.NewFromInt(100), testLog())
	n := &captureNotifier{}
	return NewEngine(m, n, cfg, testLog()), m, n, mr
}

// addCandles folds one trade per minute so each candle opens and closes
// at the given prices.
func addCandles(t *testing.T, m *kline.Manager, mint string, base int64, prices [][2]string) {
	t.Helper()
	ctx := context.Background()
	for i, p := range prices {
		ts := base + int64(i)*60
		open := decimal.RequireFromString(p[0])
		close := decimal.RequireFromString(p[1])
		one := decimal.NewFromInt(1)
		require.NoError(t, m.AddTrade(ctx, mint, ts, open, one, one, true))
		require.NoError(t, m.AddTrade(ctx, mint, ts, close, one, one, true))
	}
}

func TestRunOnce_FiresOnRisingPattern(t *testing.T) {
	e, m, n, _ := testEngine(t, DefaultPatternConfig())

	// per-candle gains 1%, 1.5%, 2%, 2.5%: all above minimum and increasing
	addCandles(t, m, testMint, 1700000040, [][2]string{
		{"100", "101"},
		{"101", "102.515"},
		{"102.515", "104.5653"},
		{"104.5653", "107.17943"},
	})

	fired, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	require.Len(t, n.alerts, 1)
	alert := n.alerts[0]
	assert.Equal(t, testMint, alert.Mint)
	assert.Equal(t, "consecutive_rising", alert.StrategyName)
	assert.Len(t, alert.Klines, 4)
	assert.Contains(t, alert.Message, "4 consecutive rising candles")
	// total gain is the sum of the per-candle gains
	assert.Contains(t, alert.Message, "total gain 7%")
	assert.Contains(t, alert.Message, "(1%, 1.5%, 2%, 2.5%)")
}

func TestRunOnce_RequiresIncreasingGains(t *testing.T) {
	e, m, n, _ := testEngine(t, DefaultPatternConfig())

	// second gain (1.5%) below first (2%): rising but not accelerating
	addCandles(t, m, testMint, 1700000040, [][2]string{
		{"100", "102"},
		{"102", "103.53"},
		{"103.53", "105.6"},
		{"105.6", "108.8"},
	})

	fired, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Empty(t, n.alerts)
}

func TestRunOnce_AcceptsNonIncreasingWhenDisabled(t *testing.T) {
	cfg := DefaultPatternConfig()
	cfg.RequireIncreasing = false
	e, m, n, _ := testEngine(t, cfg)

	addCandles(t, m, testMint, 1700000040, [][2]string{
		{"100", "102"},
		{"102", "103.53"},
		{"103.53", "105.6"},
		{"105.6", "108.8"},
	})

	fired, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, n.alerts, 1)
}

func TestRunOnce_TooFewCandles(t *testing.T) {
	e, m, n, _ := testEngine(t, DefaultPatternConfig())

	addCandles(t, m, testMint, 1700000040, [][2]string{
		{"100", "102"},
		{"102", "104.5"},
		{"104.5", "107.8"},
	})

	fired, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Empty(t, n.alerts)
}

func TestRunOnce_GainBelowMinimum(t *testing.T) {
	e, m, n, _ := testEngine(t, DefaultPatternConfig())

	// last candle gains only 0.5%
	addCandles(t, m, testMint, 1700000040, [][2]string{
		{"100", "101"},
		{"101", "102.515"},
		{"102.515", "104.5653"},
		{"104.5653", "105.088"},
	})

	fired, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Empty(t, n.alerts)
}

func TestRunOnce_EvaluationErrorKeepsWatermark(t *testing.T) {
	e, m, n, mr := testEngine(t, DefaultPatternConfig())

	base := int64(1700000040)
	addCandles(t, m, testMint, base, [][2]string{
		{"100", "101"},
		{"101", "102.515"},
		{"102.515", "104.5653"},
		{"104.5653", "107.17943"},
	})

	lastKey := fmt.Sprintf("kline:%s:%d", testMint, base+180)
	goodCandle := domain.KLineData{
		Timestamp: base + 180,
		Open:      "104.5653",
		High:      "107.17943",
		Low:       "104.5653",
		Close:     "107.17943",
	}
	badCandle := goodCandle
	badCandle.Open = "not-a-number"

	raw, err := json.Marshal(badCandle)
	require.NoError(t, err)
	require.NoError(t, mr.Set(lastKey, string(raw)))

	fired, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)

	// the failed window must be retried once the candle reads cleanly,
	// even though the mint saw no new folds in between
	raw, err = json.Marshal(goodCandle)
	require.NoError(t, err)
	require.NoError(t, mr.Set(lastKey, string(raw)))

	fired, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	require.Len(t, n.alerts, 1)
}

func TestRunOnce_WatermarkSkipsUnchangedMints(t *testing.T) {
	e, m, n, _ := testEngine(t, DefaultPatternConfig())

	addCandles(t, m, testMint, 1700000040, [][2]string{
		{"100", "101"},
		{"101", "102.515"},
		{"102.515", "104.5653"},
		{"104.5653", "107.17943"},
	})

	fired, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	// no new folds since last scan: the mint is skipped entirely
	fired, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
	require.Len(t, n.alerts, 1)
}
