package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"kmonitor/internal/api"
	"kmonitor/internal/archive"
	"kmonitor/internal/config"
	"kmonitor/internal/domain"
	"kmonitor/internal/kline"
	"kmonitor/internal/monitor"
	"kmonitor/internal/notify"
	"kmonitor/internal/pool"
	"kmonitor/internal/storage/redis"
	"kmonitor/internal/strategy"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  monitor      stream bonding curve trades into candles
  monitor-amm  stream AMM swaps into candles
  web          serve the HTTP read API
  strategy     scan candles for rising patterns

`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	strategyFlags := flag.NewFlagSet("strategy", flag.ExitOnError)
	once := strategyFlags.Bool("once", false, "run a single scan and exit")
	interval := strategyFlags.Duration("interval", 0, "scan interval (overrides STRATEGY_INTERVAL_SECS)")

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logger)

	cfg := config.Load()
	cfg.LogStartup(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := redis.New(ctx, redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	defer store.Close()

	var opts []kline.Option
	if cfg.ClickHouseDSN != "" {
		conn, err := archive.Connect(ctx, cfg.ClickHouseDSN)
		if err != nil {
			log.WithError(err).Fatal("clickhouse connection failed")
		}
		writer := archive.NewWriter(conn, archive.Config{DSN: cfg.ClickHouseDSN}, log)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := writer.Close(closeCtx); err != nil {
				log.WithError(err).Warn("archive writer close failed")
			}
		}()
		opts = append(opts, kline.WithArchiver(writer))
	}
	klines := kline.NewManager(store, cfg.KlineIdleTimeout, cfg.HighSpikeMult, log, opts...)

	switch command {
	case "monitor":
		err = runMonitor(ctx, cfg, klines, store, log, false)
	case "monitor-amm":
		err = runMonitor(ctx, cfg, klines, store, log, true)
	case "web":
		err = api.NewServer(cfg.HTTPAddr, klines, log).ListenAndServe(ctx)
	case "strategy":
		strategyFlags.Parse(os.Args[2:])
		err = runStrategy(ctx, cfg, klines, store, log, *once, *interval)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("run failed")
	}
	log.Info("shutdown complete")
}

func runMonitor(ctx context.Context, cfg config.Config, klines *kline.Manager, store *redis.Client, log *logrus.Entry, amm bool) error {
	worker := monitor.NewFoldWorker(klines, cfg.FoldQueueSize, log)
	go worker.Run(ctx)

	mcfg := monitor.Config{
		Endpoint:      cfg.WebsocketEndpoint,
		PingInterval:  cfg.PingInterval,
		EvictInterval: cfg.EvictInterval,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectMax:  cfg.ReconnectMax,
		MaxAttempts:   cfg.MaxReconnects,
	}

	var handler monitor.Handler
	if amm {
		reader, err := pool.NewRPCReader(cfg.RPCEndpoints, log)
		if err != nil {
			return err
		}
		resolver := pool.NewResolver(reader, store, cfg.PoolCacheTTL, log)
		mcfg.Name = "amm"
		mcfg.Programs = []string{domain.PumpAMMProgram}
		handler = monitor.AmmHandler(worker, resolver, cfg.MinSolAmount, log)
	} else {
		mcfg.Name = "pump"
		mcfg.Programs = []string{domain.PumpProgram}
		handler = monitor.PumpHandler(worker, cfg.MinSolAmount, log)
	}

	return monitor.New(mcfg, handler, klines, log).Run(ctx)
}

func runStrategy(ctx context.Context, cfg config.Config, klines *kline.Manager, store *redis.Client, log *logrus.Entry, once bool, interval time.Duration) error {
	notifier := notify.NewScriptNotifier(notify.Config{
		Enabled:    cfg.NotificationEnabled,
		ScriptPath: cfg.NotificationScript,
		Cooldown:   cfg.NotificationCooldown,
	}, store, log)

	engine := strategy.NewEngine(klines, notifier, strategy.PatternConfig{
		Window:            cfg.StrategyWindow,
		MinGainPct:        cfg.StrategyMinGainPct,
		RequireIncreasing: cfg.StrategyRequireIncreasing,
	}, log)

	if once {
		fired, err := engine.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.WithField("alerts", fired).Info("scan complete")
		return nil
	}

	if interval <= 0 {
		interval = cfg.StrategyInterval
	}
	return engine.Run(ctx, interval)
}
