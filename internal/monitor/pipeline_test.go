package monitor

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mr-tron/base58"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmonitor/internal/domain"
	"kmonitor/internal/kline"
	"kmonitor/internal/pool"
	redisstore "kmonitor/internal/storage/redis"
)

func testPipeline(t *testing.T) (*kline.Manager, *FoldWorker, *miniredis.Miniredis, context.CancelFunc) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redisstore.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	m := kline.NewManager(store, time.Minute, decimal.NewFromInt(100), testLog())
	w := NewFoldWorker(m, 16, testLog())

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)
	return m, w, mr, cancel
}

func pumpTradeTx(t *testing.T, sol, token uint64, ts int64) (domain.TxLogs, string) {
	t.Helper()
	buf := make([]byte, 129)
	for i := 8; i < 40; i++ {
		buf[i] = 0xAB
	}
	mint := base58.Encode(buf[8:40])
	binary.LittleEndian.PutUint64(buf[40:48], sol)
	binary.LittleEndian.PutUint64(buf[48:56], token)
	binary.LittleEndian.PutUint64(buf[89:97], uint64(ts))

	return domain.TxLogs{
		Signature: "sig",
		Success:   true,
		Logs: []string{
			"Program log: Instruction: Buy",
			"Program data: " + base64.StdEncoding.EncodeToString(buf),
		},
	}, mint
}

func waitForKline(t *testing.T, m *kline.Manager, mint string) []domain.KLineData {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		klines, err := m.KlinesForMint(context.Background(), mint, 0)
		require.NoError(t, err)
		if len(klines) > 0 {
			return klines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no kline appeared for %s", mint)
	return nil
}

func TestPumpHandler_FoldsTrade(t *testing.T) {
	m, w, _, _ := testPipeline(t)
	handler := PumpHandler(w, decimal.RequireFromString("0.01"), testLog())

	tx, mint := pumpTradeTx(t, 1_500_000_000, 300_000_000_000, 1700000100)
	handler(context.Background(), tx)

	klines := waitForKline(t, m, mint)
	require.Len(t, klines, 1)
	assert.Equal(t, "1.5", klines[0].VolumeSol)
	assert.Equal(t, "0.000005", klines[0].Open)
}

func TestPumpHandler_FiltersDust(t *testing.T) {
	m, w, _, _ := testPipeline(t)
	handler := PumpHandler(w, decimal.RequireFromString("0.01"), testLog())

	// 0.005 SOL, below the 0.01 minimum
	tx, mint := pumpTradeTx(t, 5_000_000, 1_000_000_000, 1700000100)
	handler(context.Background(), tx)

	time.Sleep(50 * time.Millisecond)
	klines, err := m.KlinesForMint(context.Background(), mint, 0)
	require.NoError(t, err)
	assert.Empty(t, klines)
}

type stubChain struct {
	accounts map[string][]byte
}

func (s *stubChain) AccountData(_ context.Context, address string) ([]byte, error) {
	return s.accounts[address], nil
}

func TestAmmHandler_ResolvesPoolAndFolds(t *testing.T) {
	m, w, mr, _ := testPipeline(t)

	// AMM swap record: token leg at 16..24, SOL leg at 64..72
	buf := make([]byte, 200)
	binary.LittleEndian.PutUint64(buf[8:16], 1700000200)
	binary.LittleEndian.PutUint64(buf[16:24], 500_000_000_000)
	binary.LittleEndian.PutUint64(buf[64:72], 3_000_000_000)
	for i := 120; i < 152; i++ {
		buf[i] = 0x11
	}
	poolAddr := base58.Encode(buf[120:152])

	// pool account: base mint at 43..75, quote mint (WSOL) at 75..107
	account := make([]byte, 200)
	for i := 43; i < 75; i++ {
		account[i] = 0x07
	}
	mint := base58.Encode(account[43:75])
	wsol, err := base58.Decode(domain.WSOL)
	require.NoError(t, err)
	copy(account[75:107], wsol)

	store := redisstore.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	resolver := pool.NewResolver(&stubChain{accounts: map[string][]byte{poolAddr: account}},
		store, time.Hour, testLog())

	handler := AmmHandler(w, resolver, decimal.RequireFromString("0.01"), testLog())
	handler(context.Background(), domain.TxLogs{
		Signature: "ammsig",
		Success:   true,
		Logs: []string{
			"Program " + domain.PumpAMMProgram + " invoke [1]",
			"Program log: Instruction: Sell",
			"Program data: " + base64.StdEncoding.EncodeToString(buf),
		},
	})

	klines := waitForKline(t, m, mint)
	require.Len(t, klines, 1)
	assert.Equal(t, "3", klines[0].VolumeSol)
	// sell pushes net flow negative
	assert.Equal(t, "-3", klines[0].NetFlowSol)
}
