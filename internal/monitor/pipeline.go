package monitor

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/decoder"
	"kmonitor/internal/domain"
	"kmonitor/internal/pool"
)

// PumpHandler decodes bonding curve trades out of notifications and feeds
// them to the fold worker. minSol filters dust trades.
func PumpHandler(worker *FoldWorker, minSol decimal.Decimal, log *logrus.Entry) Handler {
	return func(ctx context.Context, tx domain.TxLogs) {
		for _, event := range decoder.ParsePumpTrades(tx) {
			d := event.Details()
			if d.Price.IsZero() {
				log.WithField("signature", event.Signature).Debug("skipping zero-price trade")
				continue
			}
			if d.SolAmount.LessThan(minSol) {
				continue
			}

			log.WithFields(logrus.Fields{
				"mint":   event.Mint,
				"sol":    d.SolAmount,
				"price":  d.Price,
				"is_buy": event.IsBuy,
			}).Debug("bonding curve trade")

			worker.Enqueue(ctx, foldJob{
				mint:      event.Mint,
				timestamp: event.Timestamp,
				price:     d.Price,
				solVolume: d.SolAmount,
				tokVolume: d.TokenAmount,
				isBuy:     event.IsBuy,
			})
		}
	}
}

// AmmHandler decodes AMM swaps, resolves the pool to its tracked mint and
// feeds the trade to the fold worker. Pools not paired against wrapped SOL
// are skipped.
func AmmHandler(worker *FoldWorker, resolver *pool.Resolver, minSol decimal.Decimal, log *logrus.Entry) Handler {
	return func(ctx context.Context, tx domain.TxLogs) {
		event := decoder.ParseAmmTrade(tx)
		if event == nil {
			return
		}

		d := event.Details()
		if d.Price.IsZero() {
			log.WithField("signature", event.Signature).Debug("skipping zero-price swap")
			return
		}
		if d.SolAmount.LessThan(minSol) {
			return
		}

		mint, err := resolver.TrackedMint(ctx, event.Pool)
		if err != nil {
			log.WithError(err).WithField("pool", event.Pool).Warn("pool resolution failed")
			return
		}
		if mint == "" {
			log.WithField("pool", event.Pool).Debug("pool not paired against SOL, skipping")
			return
		}

		log.WithFields(logrus.Fields{
			"mint":   mint,
			"pool":   event.Pool,
			"sol":    d.SolAmount,
			"price":  d.Price,
			"is_buy": event.IsBuy,
		}).Debug("amm swap")

		worker.Enqueue(ctx, foldJob{
			mint:      mint,
			timestamp: event.Timestamp,
			price:     d.Price,
			solVolume: d.SolAmount,
			tokVolume: d.TokenAmount,
			isBuy:     event.IsBuy,
		})
	}
}
