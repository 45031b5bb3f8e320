// Command auction runs the single-instrument auction market decision pipeline:
// market events feed the volume profile, the orchestrator turns the market context
// into gated orders and the paper bridge fills them.
//
// Usage:
//
//	auction --config config.yaml
//	auction (uses CLI arguments)
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/auction/config"
	"github.com/vadiminshakov/auction/internal"
	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/metrics"
	"github.com/vadiminshakov/auction/internal/services/bridge"
	"github.com/vadiminshakov/auction/internal/services/market/vwap"
	"github.com/vadiminshakov/auction/internal/services/orchestrator"
	"github.com/vadiminshakov/auction/internal/services/profile"
	"github.com/vadiminshakov/auction/internal/services/regime"
	"github.com/vadiminshakov/auction/internal/services/safety"
	"github.com/vadiminshakov/auction/internal/services/setup"
	"github.com/vadiminshakov/auction/internal/services/valueshift"
	"github.com/vadiminshakov/auction/internal/storage"
	"github.com/vadiminshakov/auction/internal/web"
)

const eventBuffer = 1024

func main() {
	conf, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, conf); err != nil {
		logger.Fatal("auction stopped with error", zap.Error(err))
	}
	logger.Info("auction stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, logger *zap.Logger, conf config.Config) error {
	logger = logger.With(zap.String("symbol", conf.Symbol))

	store, err := internal.NewStore(ctx, logger, conf)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	safetyManager := safety.NewManager(logger.Named("safety"), store, rec, conf.Safety)
	durable := true
	if err := safetyManager.Restore(ctx); err != nil {
		if !errors.Is(err, storage.ErrNotDurable) {
			return errors.Wrap(err, "failed to restore safety state")
		}
		durable = false
		logger.Warn("store is not durable, running analysis only")
	}

	engine := profile.NewEngine(conf.TickSize)
	calc := vwap.NewCalculator()
	classifier := regime.NewClassifier(logger.Named("regime"), conf.RegimeThreshold)
	shifts := valueshift.NewDetector(logger.Named("valueshift"))

	setupConf := setup.DefaultConfig()
	setupConf.LevelTolerance = conf.LevelTolerance
	setupConf.StopBuffer = conf.StopBuffer
	recognizer := setup.NewRecognizer(logger.Named("setup"), setupConf)

	// the bot reports the session to the orchestrator and wakes it on every update
	var orch *orchestrator.Orchestrator
	var expirer internal.OrderExpirer = safetyManager
	if !durable {
		expirer = noExpiry{}
	}
	bot := internal.NewTradingBot(logger.Named("bot"), conf, store, engine, calc,
		internal.TriggerFunc(func() { orch.OnMarketDataUpdate() }),
		expirer, rec, classifier, shifts, internal.ResetFunc(recognizer.Clear))

	orchConf := orchestrator.DefaultConfig()
	orchConf.Symbol = conf.Symbol
	orchConf.Debounce = conf.Debounce
	orchConf.Quantity = conf.Quantity
	orchConf.TickSize = conf.TickSize
	orch = orchestrator.NewOrchestrator(logger.Named("orchestrator"), orchConf, orchestrator.Deps{
		Store:      store,
		Profile:    engine,
		Session:    bot,
		Regime:     classifier,
		ValueShift: shifts,
		Setups:     recognizer,
		Safety:     safetyManager,
		Metrics:    rec,
	})

	// status is settled before any cycle can read it: a stale disconnect from the last shutdown would latch the fence
	if err := bot.Initialize(ctx); err != nil {
		return errors.Wrap(err, "failed to initialize trading bot")
	}
	var paper *bridge.Paper
	if durable {
		paper = bridge.NewPaper(logger.Named("bridge"), store, safetyManager, bridge.Config{
			PollInterval: conf.BridgePollInterval,
			MaxSlippage:  conf.MaxSlippage,
			PointValue:   conf.PointValue,
		})
		if err := paper.Connect(ctx); err != nil {
			return errors.Wrap(err, "failed to connect paper bridge")
		}
	}

	source, closer, err := internal.NewSource(logger.Named("feed"), conf)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	events := make(chan domain.MarketEvent, eventBuffer)

	g.Go(func() error {
		defer close(events)
		return ignoreCanceled(source.Run(gctx, events))
	})
	g.Go(func() error {
		// a finished replay stops the process
		defer cancel()
		return ignoreCanceled(bot.Run(gctx, events))
	})
	g.Go(func() error {
		return ignoreCanceled(orch.Run(gctx))
	})
	if paper != nil {
		g.Go(func() error {
			return ignoreCanceled(paper.Run(gctx))
		})
	}
	g.Go(func() error {
		return web.NewServer(logger.Named("web"), conf.MetricsAddr, reg, safetyManager, store, recognizer).Start(gctx)
	})

	logger.Info("started",
		zap.String("store", conf.Store),
		zap.String("feed", conf.Feed),
		zap.Bool("auto_trading", conf.AutoTrading),
		zap.Duration("debounce", conf.Debounce))

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// noExpiry stands in for the safety manager when orders cannot be tracked.
type noExpiry struct{}

func (noExpiry) ExpireStaleOrders(context.Context, time.Duration) (int, error) { return 0, nil }
