package kline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/domain"
	"kmonitor/internal/storage"
)

// Archiver receives candles evicted by the idle sweep before they are
// deleted. Implementations must not block the sweep for long.
type Archiver interface {
	Enqueue(mint string, k domain.KLineData) error
}

// Manager owns all candle bucket mutation. One instance per process; a
// single mutex serializes folds, so per-bucket read-modify-write against
// the KV store is atomic within the process (not across processes).
type Manager struct {
	mu            sync.Mutex
	store         storage.KV
	idleTimeout   time.Duration
	spikeMultiple decimal.Decimal
	archiver      Archiver
	log           *logrus.Entry
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchiver routes evicted candles to an archive sink before deletion.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithClock overrides the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a candle aggregation engine over the given KV store.
// spikeMultiple is the high/open ratio above which a data-quality warning
// is logged (e.g. 100 for 100x).
func NewManager(store storage.KV, idleTimeout time.Duration, spikeMultiple decimal.Decimal, log *logrus.Entry, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		idleTimeout:   idleTimeout,
		spikeMultiple: spikeMultiple,
		log:           log,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// minuteBucket truncates a trade's event timestamp to its minute boundary,
// evaluated in the local time zone.
func minuteBucket(ts int64) int64 {
	t := time.Unix(ts, 0).In(time.Local)
	return t.Add(-time.Duration(t.Second()) * time.Second).Unix()
}

func klineKey(mint string, bucketTS int64) string {
	return fmt.Sprintf("kline:%s:%d", mint, bucketTS)
}

func activityKey(mint string) string {
	return fmt.Sprintf("mint_activity:%s", mint)
}

func mintPattern(mint string) string {
	return fmt.Sprintf("kline:%s:*", mint)
}

// mintFromKey extracts the mint from a "kline:{mint}:{ts}" or
// "mint_activity:{mint}" key.
func mintFromKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// AddTrade folds one trade into its (mint, minute) bucket and refreshes the
// mint's activity marker. The bucket key comes from the trade's own event
// timestamp, so late-arriving events still target their original minute.
func (m *Manager) AddTrade(ctx context.Context, mint string, timestamp int64, price, solVolume, tokenVolume decimal.Decimal, isBuy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucketTS := minuteBucket(timestamp)
	key := klineKey(mint, bucketTS)
	nowSecs := m.now().Unix()

	flow := solVolume
	if !isBuy {
		flow = solVolume.Neg()
	}

	var k domain.KLineData
	existing, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		k = domain.KLineData{
			Timestamp:   bucketTS,
			Open:        price.String(),
			High:        price.String(),
			Low:         price.String(),
			Close:       price.String(),
			VolumeSol:   solVolume.String(),
			VolumeToken: tokenVolume.String(),
			NetFlowSol:  flow.String(),
			LastUpdate:  nowSecs,
		}
	case err != nil:
		return fmt.Errorf("load kline %s: %w", key, err)
	default:
		if err := json.Unmarshal([]byte(existing), &k); err != nil {
			return fmt.Errorf("decode kline %s: %w", key, err)
		}
		m.fold(&k, price, solVolume, tokenVolume, flow, nowSecs)
	}

	m.checkQuality(mint, &k, price, timestamp)

	buf, err := json.Marshal(&k)
	if err != nil {
		return fmt.Errorf("encode kline %s: %w", key, err)
	}
	if err := m.store.Set(ctx, key, string(buf)); err != nil {
		return fmt.Errorf("store kline %s: %w", key, err)
	}

	if err := m.store.Set(ctx, activityKey(mint), strconv.FormatInt(nowSecs, 10)); err != nil {
		return fmt.Errorf("store activity marker for %s: %w", mint, err)
	}
	return nil
}

// fold mutates an existing bucket in place with one more trade.
func (m *Manager) fold(k *domain.KLineData, price, solVolume, tokenVolume, flow decimal.Decimal, nowSecs int64) {
	high := parseOr(k.High, decimal.Zero)
	low := parseOr(k.Low, price)
	volSol := parseOr(k.VolumeSol, decimal.Zero)
	volToken := parseOr(k.VolumeToken, decimal.Zero)
	netFlow := parseOr(k.NetFlowSol, decimal.Zero)

	if price.GreaterThan(high) {
		k.High = price.String()
	}
	if price.LessThan(low) {
		k.Low = price.String()
	}
	k.Close = price.String()
	k.VolumeSol = volSol.Add(solVolume).String()
	k.VolumeToken = volToken.Add(tokenVolume).String()
	k.NetFlowSol = netFlow.Add(flow).String()
	k.LastUpdate = nowSecs
}

// checkQuality logs warning-level diagnostics for suspicious buckets: a
// zero low, or a high that ran more than spikeMultiple above the open.
func (m *Manager) checkQuality(mint string, k *domain.KLineData, price decimal.Decimal, timestamp int64) {
	low := parseOr(k.Low, decimal.Zero)
	if low.IsZero() {
		m.log.WithFields(logrus.Fields{
			"mint":      mint,
			"price":     price.String(),
			"timestamp": timestamp,
		}).Warn("kline low is zero")
	}

	open := parseOr(k.Open, decimal.Zero)
	if open.IsPositive() {
		high := parseOr(k.High, decimal.Zero)
		rise := high.Sub(open).Div(open)
		if rise.GreaterThan(m.spikeMultiple) {
			m.log.WithFields(logrus.Fields{
				"mint":    mint,
				"open":    k.Open,
				"high":    k.High,
				"rise":    rise.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
				"current": price.String(),
			}).Warn("kline high spiked above open")
		}
	}
}

// CleanupIdle deletes every bucket and the activity marker of each mint
// whose last activity is older than the idle timeout. This full scan is the
// only deletion path for candle data. When an archiver is configured,
// candles are enqueued to it before deletion. Returns the number of
// mints evicted.
func (m *Manager) CleanupIdle(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowSecs := m.now().Unix()

	activityKeys, err := m.store.Keys(ctx, "mint_activity:*")
	if err != nil {
		return 0, fmt.Errorf("scan activity markers: %w", err)
	}

	evicted := 0
	for _, ak := range activityKeys {
		raw, err := m.store.Get(ctx, ak)
		if err != nil {
			continue
		}
		lastActivity, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if nowSecs-lastActivity <= int64(m.idleTimeout.Seconds()) {
			continue
		}

		mint := mintFromKey(ak)
		if mint == "" {
			continue
		}

		klineKeys, err := m.store.Keys(ctx, mintPattern(mint))
		if err != nil {
			return evicted, fmt.Errorf("scan klines for %s: %w", mint, err)
		}

		if m.archiver != nil {
			m.archiveKlines(ctx, mint, klineKeys)
		}

		if len(klineKeys) > 0 {
			m.log.WithFields(logrus.Fields{
				"mint":      mint,
				"idle_secs": nowSecs - lastActivity,
				"klines":    len(klineKeys),
			}).Info("evicting idle mint")
			if err := m.store.Del(ctx, klineKeys...); err != nil {
				return evicted, fmt.Errorf("delete klines for %s: %w", mint, err)
			}
		}
		if err := m.store.Del(ctx, ak); err != nil {
			return evicted, fmt.Errorf("delete activity marker for %s: %w", mint, err)
		}
		evicted++
	}
	return evicted, nil
}

func (m *Manager) archiveKlines(ctx context.Context, mint string, keys []string) {
	for _, key := range keys {
		raw, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var k domain.KLineData
		if err := json.Unmarshal([]byte(raw), &k); err != nil {
			continue
		}
		if err := m.archiver.Enqueue(mint, k); err != nil {
			m.log.WithError(err).WithField("mint", mint).Warn("archive enqueue failed")
		}
	}
}

// KlinesForMint returns all candles for one mint sorted ascending by bucket
// timestamp. When limit > 0, only the most recent limit candles are kept.
func (m *Manager) KlinesForMint(ctx context.Context, mint string, limit int) ([]domain.KLineData, error) {
	keys, err := m.store.Keys(ctx, mintPattern(mint))
	if err != nil {
		return nil, fmt.Errorf("scan klines for %s: %w", mint, err)
	}

	klines := make([]domain.KLineData, 0, len(keys))
	for _, key := range keys {
		raw, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var k domain.KLineData
		if err := json.Unmarshal([]byte(raw), &k); err != nil {
			continue
		}
		klines = append(klines, k)
	}

	sort.Slice(klines, func(i, j int) bool { return klines[i].Timestamp < klines[j].Timestamp })

	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// LatestKlines returns up to limitPerMint most recent candles for every
// tracked mint.
func (m *Manager) LatestKlines(ctx context.Context, limitPerMint int) ([]domain.MintKline, error) {
	keys, err := m.store.Keys(ctx, "kline:*:*")
	if err != nil {
		return nil, fmt.Errorf("scan klines: %w", err)
	}

	byMint := make(map[string][]domain.KLineData)
	for _, key := range keys {
		mint := mintFromKey(key)
		if mint == "" {
			continue
		}
		raw, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var k domain.KLineData
		if err := json.Unmarshal([]byte(raw), &k); err != nil {
			continue
		}
		byMint[mint] = append(byMint[mint], k)
	}

	var result []domain.MintKline
	for mint, klines := range byMint {
		sort.Slice(klines, func(i, j int) bool { return klines[i].Timestamp > klines[j].Timestamp })
		if len(klines) > limitPerMint {
			klines = klines[:limitPerMint]
		}
		for _, k := range klines {
			result = append(result, domain.MintKline{Mint: mint, KLine: k})
		}
	}
	return result, nil
}

// Stats returns the number of distinct tracked mints and total buckets.
func (m *Manager) Stats(ctx context.Context) (mints, klines int, err error) {
	keys, err := m.store.Keys(ctx, "kline:*:*")
	if err != nil {
		return 0, 0, fmt.Errorf("scan klines: %w", err)
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		if mint := mintFromKey(key); mint != "" {
			seen[mint] = struct{}{}
		}
	}
	return len(seen), len(keys), nil
}

// ActiveMints lists every mint with an activity marker, most recently
// active first.
func (m *Manager) ActiveMints(ctx context.Context) ([]domain.ActiveMint, error) {
	keys, err := m.store.Keys(ctx, "mint_activity:*")
	if err != nil {
		return nil, fmt.Errorf("scan activity markers: %w", err)
	}

	mints := make([]domain.ActiveMint, 0, len(keys))
	for _, key := range keys {
		raw, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		lastActivity, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if mint := mintFromKey(key); mint != "" {
			mints = append(mints, domain.ActiveMint{Mint: mint, LastActivity: lastActivity})
		}
	}

	sort.Slice(mints, func(i, j int) bool { return mints[i].LastActivity > mints[j].LastActivity })
	return mints, nil
}

func parseOr(s string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}
