// Package archive persists evicted candles to ClickHouse so history
// survives the hot store's idle eviction.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"

	"kmonitor/internal/domain"
)

// Row is one archived candle. Prices travel as strings, matching the
// Decimal columns of the archive table.
type Row struct {
	Mint        string
	BucketTime  time.Time
	Open        string
	High        string
	Low         string
	Close       string
	VolumeSol   string
	VolumeToken string
	NetFlowSol  string
	LastUpdate  time.Time
}

// Config tunes batching toward the archive table.
type Config struct {
	DSN              string
	BatchMaxRows     int
	BatchMaxInterval time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
}

// Connect opens and pings a ClickHouse connection from a DSN.
func Connect(ctx context.Context, dsn string) (ch.Conn, error) {
	opts, err := ch.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Compression == nil {
		opts.Compression = &ch.Compression{Method: ch.CompressionLZ4}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// Writer batches rows into the kline_archive table on a background
// goroutine. Enqueue never blocks the eviction path longer than one
// buffered-channel send.
type Writer struct {
	conn ch.Conn
	cfg  Config
	log  *logrus.Entry

	inCh      chan Row
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(conn ch.Conn, cfg Config, log *logrus.Entry) *Writer {
	if cfg.BatchMaxRows <= 0 {
		cfg.BatchMaxRows = 1000
	}
	if cfg.BatchMaxInterval <= 0 {
		cfg.BatchMaxInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		conn:     conn,
		cfg:      cfg,
		log:      log,
		inCh:     make(chan Row, 8192),
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue queues one evicted candle for archival.
func (w *Writer) Enqueue(mint string, k domain.KLineData) error {
	row := Row{
		Mint:        mint,
		BucketTime:  time.Unix(k.Timestamp, 0),
		Open:        k.Open,
		High:        k.High,
		Low:         k.Low,
		Close:       k.Close,
		VolumeSol:   k.VolumeSol,
		VolumeToken: k.VolumeToken,
		NetFlowSol:  k.NetFlowSol,
		LastUpdate:  time.Unix(k.LastUpdate, 0),
	}

	select {
	case <-w.closedCh:
		return errors.New("archive writer closed")
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return errors.New("archive writer closed")
	}
}

// Close drains the buffer and waits for the final flush. inCh is left
// open so a concurrent Enqueue can never hit a closed channel; stragglers
// that lose the race are rejected by the closedCh check instead.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]Row, 0, w.cfg.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.WithError(err).WithField("rows", len(batch)).Error("archive batch insert failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-w.inCh:
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.closedCh:
			// drain whatever made it into the buffer, then stop
			for {
				select {
				case row := <-w.inCh:
					batch = append(batch, row)
					if len(batch) >= w.cfg.BatchMaxRows {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []Row) error {
	backoff := w.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		batch, err := w.conn.PrepareBatch(ctx, `
			INSERT INTO kline_archive (
				mint,
				bucket_time,
				open,
				high,
				low,
				close,
				volume_sol,
				volume_token,
				net_flow_sol,
				last_update
			)
		`)
		if err != nil {
			lastErr = err
			continue
		}

		appendErr := false
		for i := range rows {
			r := &rows[i]
			if err = batch.Append(
				r.Mint,
				r.BucketTime,
				r.Open,
				r.High,
				r.Low,
				r.Close,
				r.VolumeSol,
				r.VolumeToken,
				r.NetFlowSol,
				r.LastUpdate,
			); err != nil {
				lastErr = err
				_ = batch.Abort()
				appendErr = true
				break
			}
		}
		if appendErr {
			continue
		}

		if err = batch.Send(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
