package internal

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/config"
	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/services/market/vwap"
	"github.com/vadiminshakov/auction/internal/services/profile"
	"github.com/vadiminshakov/auction/internal/storage"
)

type botStore interface {
	GetPosition(ctx context.Context) (*domain.Position, error)
	SetPosition(ctx context.Context, p domain.Position) error
	GetSystemStatus(ctx context.Context) (*domain.SystemStatus, error)
	SetSystemStatus(ctx context.Context, st domain.SystemStatus) error
	SetMarketData(ctx context.Context, md domain.MarketData) error
	SetVWAP(ctx context.Context, v domain.VWAPData) error
	SetDomSnapshot(ctx context.Context, d domain.DomSnapshot) error
	SetComposite(ctx context.Context, c domain.CompositeProfile) error
	AppendTimeAndSales(ctx context.Context, e domain.TimeAndSalesEntry) error
	AppendFootprint(ctx context.Context, fb domain.FootprintBar) error
	AppendOrderFlowSignal(ctx context.Context, sig domain.OrderFlowSignal) error
	AppendAbsorption(ctx context.Context, e domain.AbsorptionEvent) error
	AppendSessionProfile(ctx context.Context, p domain.VolumeProfile) error
	RecentSessionProfiles(ctx context.Context, n int) ([]domain.VolumeProfile, error)
}

// Trigger is notified on every update that may change the trading decision.
type Trigger interface {
	OnMarketDataUpdate()
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func()

func (f TriggerFunc) OnMarketDataUpdate() { f() }

// OrderExpirer cancels orders the broker never answered.
type OrderExpirer interface {
	ExpireStaleOrders(ctx context.Context, maxAge time.Duration) (int, error)
}

// Resetter is state that starts over with every session.
type Resetter interface {
	Reset()
}

// ResetFunc adapts a function to Resetter.
type ResetFunc func()

func (f ResetFunc) Reset() { f() }

type priceRecorder interface {
	RecordLastPrice(symbol string, price float64)
	RecordError(kind string)
}

// TradingBot applies market events to the session state and wakes the orchestrator.
type TradingBot struct {
	logger  *zap.Logger
	cfg     config.Config
	store   botStore
	engine  *profile.Engine
	vwap    *vwap.Calculator
	trigger Trigger
	expirer OrderExpirer
	metrics priceRecorder

	resetters []Resetter

	mu      sync.RWMutex
	session domain.Session
	now     func() time.Time
}

// NewTradingBot creates a new trading bot instance
func NewTradingBot(logger *zap.Logger, cfg config.Config, store botStore, engine *profile.Engine, calc *vwap.Calculator,
	trigger Trigger, expirer OrderExpirer, metrics priceRecorder, resetters ...Resetter) *TradingBot {
	return &TradingBot{
		logger:    logger.With(zap.String("symbol", cfg.Symbol)),
		cfg:       cfg,
		store:     store,
		engine:    engine,
		vwap:      calc,
		trigger:   trigger,
		expirer:   expirer,
		metrics:   metrics,
		resetters: resetters,
		now:       time.Now,
	}
}

// Session returns the session in progress.
func (b *TradingBot) Session() domain.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Initialize seeds a flat position and the system status on a fresh store.
func (b *TradingBot) Initialize(ctx context.Context) error {
	if _, err := b.store.GetPosition(ctx); errors.Is(err, storage.ErrNotFound) {
		flat := domain.Position{Side: domain.PositionSideFlat, UpdatedAt: b.now()}
		if err := b.store.SetPosition(ctx, flat); err != nil {
			return errors.Wrap(err, "seed position")
		}
		b.logger.Info("seeded flat position")
	} else if err != nil {
		return errors.Wrap(err, "load position")
	}

	st, err := b.store.GetSystemStatus(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		st = &domain.SystemStatus{}
	case err != nil:
		return errors.Wrap(err, "load system status")
	}
	st.AutoTradingEnabled = b.cfg.AutoTrading
	st.UpdatedAt = b.now()
	if err := b.store.SetSystemStatus(ctx, *st); err != nil {
		return errors.Wrap(err, "save system status")
	}

	b.mu.Lock()
	if b.session.Start.IsZero() {
		b.session = domain.Session{Start: b.now()}
	}
	b.mu.Unlock()

	return nil
}

// Run consumes events until ctx is done or the feed closes.
func (b *TradingBot) Run(ctx context.Context, events <-chan domain.MarketEvent) error {
	if err := b.Initialize(ctx); err != nil {
		return errors.Wrap(err, "failed to initialize trading bot")
	}

	sweep := b.cfg.OrderSweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	b.logger.Info("Starting feed loop", zap.Duration("sweep_interval", sweep))

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Context done, stopping feed loop")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				b.logger.Info("Market feed closed, stopping feed loop")
				return nil
			}
			if err := b.Handle(ctx, ev); err != nil {
				b.metrics.RecordError("feed_event")
				b.logger.Error("failed to apply market event", zap.String("type", string(ev.Type)), zap.Error(err))
			}
		case <-ticker.C:
			n, err := b.expirer.ExpireStaleOrders(ctx, b.cfg.OrderMaxAge)
			if err != nil {
				b.logger.Error("stale order sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				b.logger.Warn("expired stale orders", zap.Int("count", n))
			}
		}
	}
}

// Handle applies one event.
func (b *TradingBot) Handle(ctx context.Context, ev domain.MarketEvent) error {
	if ev.Symbol != "" && ev.Symbol != b.cfg.Symbol {
		b.logger.Debug("ignoring event for another symbol", zap.String("event_symbol", ev.Symbol))
		return nil
	}

	switch ev.Type {
	case domain.EventTrade:
		return b.onTrade(ctx, *ev.Trade)
	case domain.EventBar:
		return b.onBar(ctx, *ev.Bar)
	case domain.EventOrderFlow:
		if err := b.store.AppendOrderFlowSignal(ctx, *ev.Signal); err != nil {
			return errors.Wrap(err, "append order flow signal")
		}
		b.trigger.OnMarketDataUpdate()
	case domain.EventAbsorption:
		if err := b.store.AppendAbsorption(ctx, *ev.Absorption); err != nil {
			return errors.Wrap(err, "append absorption")
		}
		b.trigger.OnMarketDataUpdate()
	case domain.EventDom:
		return errors.Wrap(b.store.SetDomSnapshot(ctx, *ev.Dom), "save dom snapshot")
	case domain.EventSessionStart:
		return b.onSessionStart(ctx, *ev.Session)
	default:
		return errors.Errorf("unsupported event type %q", ev.Type)
	}
	return nil
}

func (b *TradingBot) onTrade(ctx context.Context, t domain.TimeAndSalesEntry) error {
	b.markOpen(t.Price)
	b.engine.AddTransaction(t.Price, t.Size, t.Side)
	b.vwap.Add(t.Price, t.Size, t.Timestamp)

	if err := b.store.AppendTimeAndSales(ctx, t); err != nil {
		return errors.Wrap(err, "append time and sales")
	}
	md := domain.MarketData{Symbol: b.cfg.Symbol, LastPrice: t.Price, Timestamp: t.Timestamp}
	if err := b.store.SetMarketData(ctx, md); err != nil {
		return errors.Wrap(err, "save market data")
	}
	if err := b.saveVWAP(ctx); err != nil {
		return err
	}

	b.metrics.RecordLastPrice(b.cfg.Symbol, t.Price)
	b.trigger.OnMarketDataUpdate()
	return nil
}

func (b *TradingBot) onBar(ctx context.Context, fb domain.FootprintBar) error {
	if err := b.store.AppendFootprint(ctx, fb); err != nil {
		return errors.Wrap(err, "append footprint")
	}
	if !b.cfg.ProfileFromBars {
		return nil
	}

	if err := b.engine.AddCandle(fb.Bar); err != nil {
		return errors.Wrap(err, "add bar to profile")
	}
	b.markOpen(fb.Bar.Open)
	b.vwap.AddBar(fb.Bar)
	md := domain.MarketData{Symbol: b.cfg.Symbol, LastPrice: fb.Bar.Close, Timestamp: fb.Bar.OpenTime}
	if err := b.store.SetMarketData(ctx, md); err != nil {
		return errors.Wrap(err, "save market data")
	}
	if err := b.saveVWAP(ctx); err != nil {
		return err
	}

	b.metrics.RecordLastPrice(b.cfg.Symbol, fb.Bar.Close)
	b.trigger.OnMarketDataUpdate()
	return nil
}

// markOpen takes the first print of a session as its open when the feed did not announce one.
func (b *TradingBot) markOpen(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session.OpenPrice == 0 {
		b.session.OpenPrice = price
	}
}

func (b *TradingBot) saveVWAP(ctx context.Context) error {
	v := b.vwap.Snapshot()
	if v == nil {
		return nil
	}
	return errors.Wrap(b.store.SetVWAP(ctx, *v), "save vwap")
}

// onSessionStart archives the finished session, rebuilds the composite and resets per-session state.
func (b *TradingBot) onSessionStart(ctx context.Context, next domain.Session) error {
	prev := b.Session()

	if p := b.engine.GetProfile(prev.Start, next.Start); p != nil {
		if err := b.store.AppendSessionProfile(ctx, *p); err != nil {
			return errors.Wrap(err, "archive session profile")
		}
	}

	sessions, err := b.store.RecentSessionProfiles(ctx, profile.DefaultCompositeSessions)
	if err != nil {
		return errors.Wrap(err, "load session profiles")
	}
	profiles := make([]*domain.VolumeProfile, 0, len(sessions))
	for i := range sessions {
		profiles = append(profiles, &sessions[i])
	}
	if cva := profile.BuildComposite(profiles, b.cfg.TickSize); cva != nil {
		if err := b.store.SetComposite(ctx, *cva); err != nil {
			return errors.Wrap(err, "save composite")
		}
	}

	b.engine.Clear()
	b.vwap.Reset()
	for _, r := range b.resetters {
		r.Reset()
	}

	st, err := b.store.GetSystemStatus(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		st = &domain.SystemStatus{AutoTradingEnabled: b.cfg.AutoTrading}
	case err != nil:
		return errors.Wrap(err, "load system status")
	}
	st.DailyPnL = decimal.Zero
	st.UpdatedAt = b.now()
	if err := b.store.SetSystemStatus(ctx, *st); err != nil {
		return errors.Wrap(err, "reset daily pnl")
	}

	b.mu.Lock()
	b.session = next
	b.mu.Unlock()

	b.logger.Info("session started",
		zap.Time("start", next.Start),
		zap.Float64("open", next.OpenPrice),
		zap.Int("composite_sessions", len(profiles)))
	return nil
}
