package monitor

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/kline"
)

// foldJob is one trade ready to be folded into a candle.
type foldJob struct {
	mint      string
	timestamp int64
	price     decimal.Decimal
	solVolume decimal.Decimal
	tokVolume decimal.Decimal
	isBuy     bool
}

// FoldWorker decouples notification handling from candle folds: handlers
// enqueue, a single goroutine drains into the manager. Enqueue blocks when
// the buffer is full so no trade is dropped.
type FoldWorker struct {
	jobs   chan foldJob
	klines *kline.Manager
	log    *logrus.Entry
}

func NewFoldWorker(klines *kline.Manager, queueSize int, log *logrus.Entry) *FoldWorker {
	return &FoldWorker{
		jobs:   make(chan foldJob, queueSize),
		klines: klines,
		log:    log,
	}
}

func (w *FoldWorker) Enqueue(ctx context.Context, job foldJob) {
	select {
	case w.jobs <- job:
	case <-ctx.Done():
	}
}

// Run consumes fold jobs until the context is cancelled.
func (w *FoldWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			err := w.klines.AddTrade(ctx, job.mint, job.timestamp,
				job.price, job.solVolume, job.tokVolume, job.isBuy)
			if err != nil {
				w.log.WithError(err).WithField("mint", job.mint).Error("candle fold failed")
			}
		}
	}
}
