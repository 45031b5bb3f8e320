package internal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/config"
	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/metrics"
	"github.com/vadiminshakov/auction/internal/services/market/vwap"
	"github.com/vadiminshakov/auction/internal/services/profile"
	"github.com/vadiminshakov/auction/internal/storage"
	"github.com/vadiminshakov/auction/internal/storage/memstore"
)

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) OnMarketDataUpdate() { c.calls.Add(1) }

type expirerMock struct {
	mock.Mock
}

func (m *expirerMock) ExpireStaleOrders(ctx context.Context, maxAge time.Duration) (int, error) {
	args := m.Called(ctx, maxAge)
	return args.Int(0), args.Error(1)
}

type resetCounter struct {
	n int
}

func (r *resetCounter) Reset() { r.n++ }

type botEnv struct {
	bot     *TradingBot
	store   *storage.JSONStore
	engine  *profile.Engine
	vwap    *vwap.Calculator
	trigger *countingTrigger
	expirer *expirerMock
	reset   *resetCounter
}

func newBotEnv(t *testing.T, mutate func(*config.Config)) *botEnv {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	e := &botEnv{
		store:   memstore.New(),
		engine:  profile.NewEngine(cfg.TickSize),
		vwap:    vwap.NewCalculator(),
		trigger: &countingTrigger{},
		expirer: &expirerMock{},
		reset:   &resetCounter{},
	}
	e.bot = NewTradingBot(zap.NewNop(), cfg, e.store, e.engine, e.vwap, e.trigger, e.expirer, metrics.Nop{}, e.reset)
	e.bot.now = func() time.Time { return t0 }
	return e
}

func trade(price, size float64, side domain.Side, at time.Time) domain.MarketEvent {
	return domain.MarketEvent{
		Type:  domain.EventTrade,
		Trade: &domain.TimeAndSalesEntry{Price: price, Size: size, Side: side, Timestamp: at},
	}
}

func TestTradingBot_InitializeSeedsState(t *testing.T) {
	e := newBotEnv(t, func(c *config.Config) { c.AutoTrading = true })
	ctx := context.Background()

	require.NoError(t, e.bot.Initialize(ctx))

	pos, err := e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSideFlat, pos.Side)
	assert.Zero(t, pos.Contracts)

	st, err := e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.AutoTradingEnabled)
	assert.Equal(t, t0, e.bot.Session().Start)
}

func TestTradingBot_InitializeKeepsOpenPosition(t *testing.T) {
	e := newBotEnv(t, nil)
	ctx := context.Background()
	open := domain.Position{Contracts: 1, Side: domain.PositionSideLong, EntryPrice: decimal.NewFromInt(6000)}
	require.NoError(t, e.store.SetPosition(ctx, open))
	require.NoError(t, e.store.SetSystemStatus(ctx, domain.SystemStatus{AutoTradingEnabled: true, DailyPnL: decimal.NewFromInt(-120)}))

	require.NoError(t, e.bot.Initialize(ctx))

	pos, err := e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Contracts)

	st, err := e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.False(t, st.AutoTradingEnabled, "config decides auto trading on startup")
	assert.True(t, st.DailyPnL.Equal(decimal.NewFromInt(-120)))
}

func TestTradingBot_TradeUpdatesState(t *testing.T) {
	e := newBotEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.bot.Handle(ctx, trade(6000, 10, domain.SideBuy, t0)))
	require.NoError(t, e.bot.Handle(ctx, trade(6010, 10, domain.SideSell, t0.Add(time.Second))))

	md, err := e.store.GetMarketData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6010.0, md.LastPrice)
	assert.Equal(t, "ES", md.Symbol)

	v, err := e.store.GetVWAP(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 6005, v.VWAP, 1e-9)

	tape, err := e.store.RecentTimeAndSales(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, tape, 2)

	assert.Len(t, e.engine.Levels(), 2)
	assert.InDelta(t, 0, e.engine.CumulativeDelta(), 1e-9)
	assert.EqualValues(t, 2, e.trigger.calls.Load())
	assert.Equal(t, 6000.0, e.bot.Session().OpenPrice, "first print opens the session")
}

func TestTradingBot_IgnoresOtherSymbols(t *testing.T) {
	e := newBotEnv(t, nil)
	ev := trade(18000, 1, domain.SideBuy, t0)
	ev.Symbol = "NQ"

	require.NoError(t, e.bot.Handle(context.Background(), ev))

	_, err := e.store.GetMarketData(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, e.trigger.calls.Load())
}

func TestTradingBot_Bars(t *testing.T) {
	bar := domain.MarketEvent{
		Type: domain.EventBar,
		Bar: &domain.FootprintBar{
			Bar: domain.Bar{OpenTime: t0, Open: 6000, High: 6002, Low: 5999, Close: 6001,
				Volume: 300, BuyVolume: 200, SellVolume: 100},
			Delta: 100,
		},
	}

	t.Run("footprint only", func(t *testing.T) {
		e := newBotEnv(t, nil)
		ctx := context.Background()
		require.NoError(t, e.bot.Handle(ctx, bar))

		bars, err := e.store.RecentFootprints(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, bars, 1)
		assert.Empty(t, e.engine.Levels())
		assert.Zero(t, e.trigger.calls.Load())
	})

	t.Run("profile from bars", func(t *testing.T) {
		e := newBotEnv(t, func(c *config.Config) { c.ProfileFromBars = true })
		ctx := context.Background()
		require.NoError(t, e.bot.Handle(ctx, bar))

		assert.NotEmpty(t, e.engine.Levels())
		md, err := e.store.GetMarketData(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6001.0, md.LastPrice)
		assert.EqualValues(t, 1, e.trigger.calls.Load())
	})

	t.Run("oversized bar is refused", func(t *testing.T) {
		e := newBotEnv(t, func(c *config.Config) { c.ProfileFromBars = true })
		ctx := context.Background()
		wide := domain.MarketEvent{
			Type: domain.EventBar,
			Bar:  &domain.FootprintBar{Bar: domain.Bar{OpenTime: t0, Open: 6000, High: 1e9, Low: 5999, Close: 6001, Volume: 300}},
		}

		err := e.bot.Handle(ctx, wide)
		require.ErrorIs(t, err, profile.ErrCandleTooWide)
		assert.Empty(t, e.engine.Levels())
		assert.Zero(t, e.bot.Session().OpenPrice)
		assert.Zero(t, e.trigger.calls.Load())
		_, err = e.store.GetMarketData(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestTradingBot_OrderFlowTriggersCycle(t *testing.T) {
	e := newBotEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.bot.Handle(ctx, domain.MarketEvent{
		Type:   domain.EventOrderFlow,
		Signal: &domain.OrderFlowSignal{Direction: domain.BiasBullish, Confidence: 0.7, Timestamp: t0},
	}))
	require.NoError(t, e.bot.Handle(ctx, domain.MarketEvent{
		Type:       domain.EventAbsorption,
		Absorption: &domain.AbsorptionEvent{Price: 6000, Timestamp: t0},
	}))
	require.NoError(t, e.bot.Handle(ctx, domain.MarketEvent{
		Type: domain.EventDom,
		Dom:  &domain.DomSnapshot{Bids: []domain.DomLevel{{Price: 5999.75, Size: 40}}, Timestamp: t0},
	}))

	signals, err := e.store.RecentOrderFlowSignals(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
	dom, err := e.store.GetDomSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, dom.Bids, 1)
	assert.EqualValues(t, 2, e.trigger.calls.Load(), "dom snapshots do not wake the orchestrator")
}

func TestTradingBot_SessionStartRollsState(t *testing.T) {
	e := newBotEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, e.bot.Initialize(ctx))
	require.NoError(t, e.store.SetSystemStatus(ctx, domain.SystemStatus{DailyPnL: decimal.NewFromInt(250)}))

	require.NoError(t, e.bot.Handle(ctx, trade(6000, 100, domain.SideBuy, t0)))
	require.NoError(t, e.bot.Handle(ctx, trade(6000.25, 50, domain.SideSell, t0.Add(time.Minute))))

	next := domain.Session{Start: t0.Add(24 * time.Hour), OpenPrice: 6004, OvernightHigh: 6008, OvernightLow: 5996}
	require.NoError(t, e.bot.Handle(ctx, domain.MarketEvent{Type: domain.EventSessionStart, Session: &next}))

	sessions, err := e.store.RecentSessionProfiles(ctx, 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 6000.0, sessions[0].POC)
	assert.Equal(t, t0, sessions[0].PeriodStart)
	assert.Equal(t, next.Start, sessions[0].PeriodEnd)

	cva, err := e.store.GetComposite(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cva.Sessions)
	assert.Equal(t, 6000.0, cva.POC)

	assert.Empty(t, e.engine.Levels())
	assert.Nil(t, e.vwap.Snapshot())
	assert.Equal(t, 1, e.reset.n)
	assert.Equal(t, next, e.bot.Session())

	st, err := e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.DailyPnL.IsZero())
}

func TestTradingBot_RunStopsWhenFeedCloses(t *testing.T) {
	e := newBotEnv(t, nil)
	events := make(chan domain.MarketEvent, 2)
	events <- trade(6000, 1, domain.SideBuy, t0)
	close(events)

	require.NoError(t, e.bot.Run(context.Background(), events))
	assert.EqualValues(t, 1, e.trigger.calls.Load())
}

func TestTradingBot_RunSweepsStaleOrders(t *testing.T) {
	e := newBotEnv(t, func(c *config.Config) { c.OrderSweepInterval = 10 * time.Millisecond })
	var sweeps atomic.Int32
	e.expirer.On("ExpireStaleOrders", mock.Anything, 5*time.Minute).
		Run(func(mock.Arguments) { sweeps.Add(1) }).
		Return(1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.bot.Run(ctx, make(chan domain.MarketEvent)) }()

	require.Eventually(t, func() bool { return sweeps.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
