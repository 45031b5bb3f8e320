package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/metrics"
	"github.com/vadiminshakov/auction/internal/services/safety"
	"github.com/vadiminshakov/auction/internal/storage"
	"github.com/vadiminshakov/auction/internal/storage/memstore"
)

var t0 = time.Date(2026, 3, 2, 14, 45, 0, 0, time.UTC)

type durableBackend struct {
	*memstore.Backend
}

func (durableBackend) Durable() bool { return true }

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type env struct {
	paper  *Paper
	store  *storage.JSONStore
	safety *safety.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := storage.NewJSONStore(durableBackend{memstore.NewBackend()})
	mgr := safety.NewManager(zap.NewNop(), store, metrics.Nop{}, domain.DefaultSafetyConfig())
	require.NoError(t, mgr.Restore(context.Background()))

	p := NewPaper(zap.NewNop(), store, mgr, Config{})
	p.now = func() time.Time { return t0 }
	return &env{paper: p, store: store, safety: mgr}
}

// submit tracks and saves an order the way the orchestrator does.
func (e *env) submit(t *testing.T, action domain.Action, entry, stop, target string) (domain.PendingOrder, domain.TradeSignal) {
	t.Helper()
	ctx := context.Background()

	signal := domain.TradeSignal{
		Action:     action,
		Quantity:   1,
		EntryPrice: d(entry),
		StopLoss:   d(stop),
		Target1:    d(target),
		Target2:    d(target),
		SetupType:  domain.SetupVABreakoutLong,
		Reason:     "test " + entry,
	}
	order := domain.PendingOrder{
		ID:         "order-" + entry,
		SignalID:   signal.ID(),
		Action:     action,
		Quantity:   1,
		EntryPrice: signal.EntryPrice,
		StopLoss:   signal.StopLoss,
		Target1:    signal.Target1,
		Target2:    signal.Target2,
		Status:     domain.OrderStatusPending,
		CreatedAt:  t0,
	}
	require.NoError(t, e.safety.TrackOrder(ctx, order, signal))
	require.NoError(t, e.store.SavePendingOrder(ctx, order))
	return order, signal
}

func (e *env) quote(t *testing.T, last float64) {
	t.Helper()
	require.NoError(t, e.store.SetMarketData(context.Background(), domain.MarketData{Symbol: "ES", LastPrice: last, Timestamp: t0}))
}

func TestPaper_FillsPendingOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, _ := e.submit(t, domain.ActionBuy, "6010", "6000", "6025")
	e.quote(t, 6010.5)

	require.NoError(t, e.paper.Poll(ctx))

	tr, ok := e.safety.Tracking(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, tr.Status)
	assert.Equal(t, "6010.5", tr.FillPrice.String())

	pos, err := e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Contracts)
	assert.Equal(t, domain.PositionSideLong, pos.Side)
	assert.Equal(t, "6010.5", pos.EntryPrice.String())

	st, err := e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.BridgeConnected)

	trades, err := e.store.RecentTrades(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	// a second poll does not fill again
	require.NoError(t, e.paper.Poll(ctx))
	pos, err = e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Contracts)
}

func TestPaper_RejectsWhenPriceMovedAway(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, signal := e.submit(t, domain.ActionBuy, "6010", "6000", "6025")
	e.quote(t, 6020)

	require.NoError(t, e.paper.Poll(ctx))

	tr, ok := e.safety.Tracking(order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusRejected, tr.Status)
	assert.True(t, e.safety.IsRecentlyRejected(signal.ID()))

	_, err := e.store.GetPosition(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPaper_BracketTargetRealizesProfit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.submit(t, domain.ActionBuy, "6010", "6000", "6025")
	e.quote(t, 6010)
	require.NoError(t, e.paper.Poll(ctx))

	e.quote(t, 6018)
	require.NoError(t, e.paper.Poll(ctx))
	pos, err := e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.True(t, pos.IsOpen())

	e.quote(t, 6026)
	require.NoError(t, e.paper.Poll(ctx))

	pos, err = e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.False(t, pos.IsOpen())
	assert.Equal(t, domain.PositionSideFlat, pos.Side)
	assert.True(t, pos.RealizedPnL.Equal(d("750")), pos.RealizedPnL.String())

	st, err := e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.DailyPnL.Equal(d("750")))
}

func TestPaper_BracketStopOnShort(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.submit(t, domain.ActionSell, "5990", "5996", "5975")
	e.quote(t, 5990)
	require.NoError(t, e.paper.Poll(ctx))

	pos, err := e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, pos.Contracts)

	e.quote(t, 5997)
	require.NoError(t, e.paper.Poll(ctx))

	pos, err = e.store.GetPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, pos.Contracts)
	assert.True(t, pos.RealizedPnL.Equal(d("-300")), pos.RealizedPnL.String())
}

func TestPaper_NoQuoteOnlyReportsConnected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	order, _ := e.submit(t, domain.ActionBuy, "6010", "6000", "6025")

	require.NoError(t, e.paper.Poll(ctx))

	tr, _ := e.safety.Tracking(order.ID)
	assert.Equal(t, domain.OrderStatusPending, tr.Status)
	st, err := e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.BridgeConnected)
}

func TestPaper_RunMarksDisconnectedOnStop(t *testing.T) {
	e := newEnv(t)
	e.paper.cfg.PollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.paper.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := e.store.GetSystemStatus(context.Background())
		return err == nil && st.BridgeConnected
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	st, err := e.store.GetSystemStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, st.BridgeConnected)
}

func TestPaper_RestartClearsStaleDisconnect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.paper.cfg.PollInterval = 10 * time.Millisecond

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- e.paper.Run(runCtx) }()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	st, err := e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	require.False(t, st.BridgeConnected, "shutdown leaves the bridge disconnected")

	// a new process: no poll happens within the test, only the connect
	restarted := NewPaper(zap.NewNop(), e.store, e.safety, Config{PollInterval: time.Hour})
	restarted.now = func() time.Time { return t0 }
	require.NoError(t, restarted.Connect(ctx))

	st, err = e.store.GetSystemStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.BridgeConnected)

	signal := domain.TradeSignal{Action: domain.ActionBuy, Quantity: 1, EntryPrice: d("6010"), Reason: "first cycle"}
	status := e.safety.CanExecuteTrade(ctx, signal, &domain.Position{Side: domain.PositionSideFlat}, st.DailyPnL, st.BridgeConnected)
	assert.True(t, status.TradingAllowed, status.Summary())
	assert.False(t, e.safety.Fence().Active)
}

func TestPaper_RunConnectsBeforeFirstTick(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.store.SetSystemStatus(ctx, domain.SystemStatus{BridgeConnected: false}))
	e.paper.cfg.PollInterval = time.Hour

	done := make(chan error, 1)
	go func() { done <- e.paper.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := e.store.GetSystemStatus(context.Background())
		return err == nil && st.BridgeConnected
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPaper_PollReconcilesPosition(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.submit(t, domain.ActionBuy, "6010", "6000", "6025")
	e.quote(t, 6010)

	require.NoError(t, e.paper.Poll(ctx))
	assert.False(t, e.safety.Fence().Active, "recorded position matches the venue book")

	// the recorded position drifts away from what the venue holds
	require.NoError(t, e.store.SetPosition(ctx, domain.Position{Contracts: 3, Side: domain.PositionSideLong}))
	require.NoError(t, e.paper.Poll(ctx))

	fence := e.safety.Fence()
	assert.True(t, fence.Active)
	assert.Contains(t, fence.Reason, "position mismatch")

	status := e.safety.Status(&domain.Position{Contracts: 3}, decimal.Zero, true)
	assert.False(t, status.ReconciliationOK)
}

func TestApplyFill(t *testing.T) {
	pv := DefaultPointValue
	flat := domain.Position{Side: domain.PositionSideFlat}

	pos, realized := ApplyFill(flat, domain.ActionBuy, 1, d("6000"), pv)
	assert.Equal(t, 1, pos.Contracts)
	assert.True(t, realized.IsZero())

	pos, _ = ApplyFill(pos, domain.ActionBuy, 1, d("6010"), pv)
	assert.Equal(t, 2, pos.Contracts)
	assert.True(t, pos.EntryPrice.Equal(d("6005")), pos.EntryPrice.String())

	pos, realized = ApplyFill(pos, domain.ActionSell, 1, d("6015"), pv)
	assert.Equal(t, 1, pos.Contracts)
	assert.True(t, realized.Equal(d("500")), realized.String())
	assert.True(t, pos.EntryPrice.Equal(d("6005")))

	pos, realized = ApplyFill(pos, domain.ActionSell, 3, d("6000"), pv)
	assert.Equal(t, -2, pos.Contracts)
	assert.Equal(t, domain.PositionSideShort, pos.Side)
	assert.True(t, realized.Equal(d("-250")), realized.String())
	assert.True(t, pos.EntryPrice.Equal(d("6000")))
	assert.True(t, pos.RealizedPnL.Equal(d("250")), pos.RealizedPnL.String())
}
