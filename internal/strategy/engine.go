// Package strategy evaluates candle patterns over active mints and
// raises alerts through a notifier.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/domain"
	"kmonitor/internal/kline"
)

// Notifier delivers a fired alert. Delivery failure never fails a scan.
type Notifier interface {
	Notify(ctx context.Context, alert domain.StrategyAlert) error
}

// PatternConfig tunes the consecutive-rising detector.
type PatternConfig struct {
	// Window is how many of the most recent candles must rise.
	Window int
	// MinGainPct is the minimum percent gain each candle must show.
	MinGainPct decimal.Decimal
	// RequireIncreasing additionally demands each gain exceed the previous one.
	RequireIncreasing bool
}

func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		Window:            4,
		MinGainPct:        decimal.NewFromInt(1),
		RequireIncreasing: true,
	}
}

// Engine scans active mints for the rising pattern. A per-mint watermark
// of the last evaluated activity skips mints with no new folds.
type Engine struct {
	klines   *kline.Manager
	notifier Notifier
	cfg      PatternConfig
	log      *logrus.Entry

	lastChecked map[string]int64
}

func NewEngine(klines *kline.Manager, notifier Notifier, cfg PatternConfig, log *logrus.Entry) *Engine {
	return &Engine{
		klines:      klines,
		notifier:    notifier,
		cfg:         cfg,
		log:         log,
		lastChecked: make(map[string]int64),
	}
}

// RunOnce scans every active mint once. Returns the number of alerts fired.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	mints, err := e.klines.ActiveMints(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active mints: %w", err)
	}

	fired := 0
	for _, m := range mints {
		if m.LastActivity <= e.lastChecked[m.Mint] {
			continue
		}

		alert, err := e.evaluate(ctx, m.Mint)
		if err != nil {
			// leave the watermark so the next scan retries this window
			e.log.WithError(err).WithField("mint", m.Mint).Warn("pattern evaluation failed")
			continue
		}
		// the watermark advances whether or not the pattern fires
		e.lastChecked[m.Mint] = m.LastActivity

		if alert == nil {
			continue
		}

		fired++
		e.log.WithFields(logrus.Fields{
			"mint":     alert.Mint,
			"strategy": alert.StrategyName,
		}).Info("pattern fired")
		if err := e.notifier.Notify(ctx, *alert); err != nil {
			e.log.WithError(err).WithField("mint", alert.Mint).Warn("notification failed")
		}
	}
	return fired, nil
}

// Run scans at the given interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				e.log.WithError(err).Warn("strategy scan failed")
			}
		}
	}
}

// evaluate checks the most recent candles of one mint for the
// consecutive-rising pattern.
func (e *Engine) evaluate(ctx context.Context, mint string) (*domain.StrategyAlert, error) {
	klines, err := e.klines.KlinesForMint(ctx, mint, e.cfg.Window)
	if err != nil {
		return nil, err
	}
	if len(klines) < e.cfg.Window {
		return nil, nil
	}

	gains := make([]decimal.Decimal, 0, e.cfg.Window)
	prev := decimal.Zero
	for i, k := range klines {
		open, err := decimal.NewFromString(k.Open)
		if err != nil {
			return nil, fmt.Errorf("candle %d open: %w", i, err)
		}
		close, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, fmt.Errorf("candle %d close: %w", i, err)
		}
		if open.IsZero() || close.LessThanOrEqual(open) {
			return nil, nil
		}

		gain := close.Sub(open).Div(open).Mul(decimal.NewFromInt(100))
		if gain.LessThan(e.cfg.MinGainPct) {
			return nil, nil
		}
		if e.cfg.RequireIncreasing && i > 0 && gain.LessThanOrEqual(prev) {
			return nil, nil
		}
		prev = gain
		gains = append(gains, gain)
	}

	total := decimal.Zero
	for _, g := range gains {
		total = total.Add(g)
	}

	parts := make([]string, len(gains))
	for i, g := range gains {
		parts[i] = g.Round(2).String() + "%"
	}

	return &domain.StrategyAlert{
		Mint:         mint,
		StrategyName: "consecutive_rising",
		Message: fmt.Sprintf("%d consecutive rising candles, total gain %s%% (%s)",
			e.cfg.Window, total.Round(2), strings.Join(parts, ", ")),
		Timestamp: time.Now().Unix(),
		Klines:    klines,
	}, nil
}
