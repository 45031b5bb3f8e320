package safety

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/metrics"
	"github.com/vadiminshakov/auction/internal/storage"
	"github.com/vadiminshakov/auction/internal/storage/memstore"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// durableBackend lets safety operations run against process memory in tests.
type durableBackend struct {
	*memstore.Backend
}

func (durableBackend) Durable() bool { return true }

func newTestStore() *storage.JSONStore {
	return storage.NewJSONStore(durableBackend{memstore.NewBackend()})
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, store safetyStore) (*Manager, *clock) {
	t.Helper()
	c := &clock{now: t0}
	m := NewManager(zap.NewNop(), store, metrics.Nop{}, domain.DefaultSafetyConfig())
	m.now = c.Now
	require.NoError(t, m.Restore(context.Background()))
	return m, c
}

func testSignal() domain.TradeSignal {
	return domain.TradeSignal{
		Action:      domain.ActionBuy,
		Quantity:    1,
		EntryPrice:  decimal.RequireFromString("6010.00"),
		StopLoss:    decimal.RequireFromString("6000.00"),
		Target1:     decimal.RequireFromString("6025.00"),
		Target2:     decimal.RequireFromString("6040.00"),
		SetupType:   domain.SetupVABreakoutLong,
		Confidence:  80,
		Reason:      "price 6010.00 cleared DVA edge 6000.00",
		GeneratedAt: t0,
	}
}

var flat = &domain.Position{Side: domain.PositionSideFlat}

func TestManager_AllowsCleanTrade(t *testing.T) {
	m, _ := newTestManager(t, newTestStore())

	status := m.CanExecuteTrade(context.Background(), testSignal(), flat, decimal.NewFromInt(-100), true)
	assert.True(t, status.TradingAllowed, status.Summary())
	assert.Empty(t, status.Violations)
	assert.True(t, status.ReconciliationOK)
	assert.False(t, status.FenceActive)
}

func TestManager_CircuitBreakerTripsAndFences(t *testing.T) {
	store := newTestStore()
	m, _ := newTestManager(t, store)
	ctx := context.Background()

	ok := m.CanExecuteTrade(ctx, testSignal(), flat, decimal.RequireFromString("-499.99"), true)
	require.True(t, ok.TradingAllowed)

	status := m.CanExecuteTrade(ctx, testSignal(), flat, decimal.NewFromInt(-500), true)
	assert.False(t, status.TradingAllowed)
	assert.True(t, status.CircuitBreakerTripped)
	assert.True(t, status.FenceActive)
	assert.True(t, m.Fence().Active)

	persisted, err := store.GetFenceState(ctx)
	require.NoError(t, err)
	assert.True(t, persisted.Active)

	// P&L recovering does not release the latch
	status = m.CanExecuteTrade(ctx, testSignal(), flat, decimal.Zero, true)
	assert.False(t, status.TradingAllowed)
	assert.True(t, status.FenceActive)
}

func TestManager_RejectReplayCooldown(t *testing.T) {
	m, c := newTestManager(t, newTestStore())
	ctx := context.Background()
	signal := testSignal()

	require.NoError(t, m.AddRejectedOrder(ctx, signal, "margin"))

	c.now = t0.Add(30*time.Minute - time.Second)
	status := m.CanExecuteTrade(ctx, signal, flat, decimal.Zero, true)
	assert.False(t, status.TradingAllowed)
	require.Len(t, status.Violations, 1)
	assert.Contains(t, status.Violations[0], signal.ID())

	c.now = t0.Add(30*time.Minute + time.Second)
	status = m.CanExecuteTrade(ctx, signal, flat, decimal.Zero, true)
	assert.True(t, status.TradingAllowed, status.Summary())
}

func TestManager_RejectedConfirmationFeedsCooldown(t *testing.T) {
	store := newTestStore()
	m, _ := newTestManager(t, store)
	ctx := context.Background()
	signal := testSignal()

	order := domain.PendingOrder{ID: "order-1", SignalID: signal.ID(), Status: domain.OrderStatusPending, CreatedAt: t0}
	require.NoError(t, m.TrackOrder(ctx, order, signal))
	require.NoError(t, store.SavePendingOrder(ctx, order))

	require.NoError(t, m.HandleConfirmation(ctx, domain.OrderConfirmation{
		OrderID: "order-1",
		Status:  domain.OrderStatusRejected,
		Reason:  "outside trading hours",
	}))

	assert.True(t, m.IsRecentlyRejected(signal.ID()))
	tr, ok := m.Tracking("order-1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusRejected, tr.Status)

	orders, err := store.ListPendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusRejected, orders[0].Status)

	rejected, err := store.ListRejectedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, signal.Reason, rejected[0].Signal.Reason)
	assert.Equal(t, 1, rejected[0].Signal.Quantity)

	// a late duplicate confirmation changes nothing
	require.NoError(t, m.HandleConfirmation(ctx, domain.OrderConfirmation{OrderID: "order-1", Status: domain.OrderStatusFilled}))
	tr, _ = m.Tracking("order-1")
	assert.Equal(t, domain.OrderStatusRejected, tr.Status)
}

func TestManager_FillRecordsTrade(t *testing.T) {
	store := newTestStore()
	m, _ := newTestManager(t, store)
	ctx := context.Background()
	signal := testSignal()

	require.NoError(t, m.TrackOrder(ctx, domain.PendingOrder{ID: "order-2", CreatedAt: t0}, signal))
	require.NoError(t, m.HandleConfirmation(ctx, domain.OrderConfirmation{
		OrderID:        "order-2",
		Status:         domain.OrderStatusFilled,
		FillPrice:      decimal.RequireFromString("6010.25"),
		FilledQuantity: 1,
		Timestamp:      t0.Add(time.Second),
	}))

	trades, err := store.RecentTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "order-2", trades[0].OrderID)
	assert.True(t, trades[0].Price.Equal(decimal.RequireFromString("6010.25")))
	assert.False(t, m.IsRecentlyRejected(signal.ID()))
}

func TestManager_OrderIDsAreNeverReused(t *testing.T) {
	m, _ := newTestManager(t, newTestStore())
	ctx := context.Background()

	require.NoError(t, m.TrackOrder(ctx, domain.PendingOrder{ID: "order-3"}, testSignal()))
	err := m.TrackOrder(ctx, domain.PendingOrder{ID: "order-3"}, testSignal())
	require.ErrorIs(t, err, ErrDuplicateOrder)

	err = m.HandleConfirmation(ctx, domain.OrderConfirmation{OrderID: "nope", Status: domain.OrderStatusFilled})
	require.ErrorIs(t, err, ErrUnknownOrder)
}

func TestManager_PositionSizeLimit(t *testing.T) {
	m, _ := newTestManager(t, newTestStore())
	ctx := context.Background()

	long2 := &domain.Position{Contracts: 2, Side: domain.PositionSideLong}
	status := m.CanExecuteTrade(ctx, testSignal(), long2, decimal.Zero, true)
	assert.False(t, status.TradingAllowed)
	assert.False(t, status.FenceActive, "size violations do not fence")

	short1 := &domain.Position{Contracts: -1, Side: domain.PositionSideShort}
	status = m.CanExecuteTrade(ctx, testSignal(), short1, decimal.Zero, true)
	assert.True(t, status.TradingAllowed, status.Summary())

	zero := testSignal()
	zero.Quantity = 0
	status = m.CanExecuteTrade(ctx, zero, flat, decimal.Zero, true)
	assert.False(t, status.TradingAllowed)
}

func TestManager_ReconciliationMismatchFencesUntilCleared(t *testing.T) {
	m, _ := newTestManager(t, newTestStore())
	ctx := context.Background()

	res := m.ReconcilePosition(ctx, 1, 1)
	require.True(t, res.OK)

	res = m.ReconcilePosition(ctx, 0, 1)
	require.False(t, res.OK)
	assert.Equal(t, 1, res.BrokerContracts)

	status := m.CanExecuteTrade(ctx, testSignal(), flat, decimal.Zero, true)
	assert.False(t, status.TradingAllowed)
	assert.False(t, status.ReconciliationOK)
	assert.True(t, status.FenceActive)

	require.NoError(t, m.ClearFence(ctx, "ops"))
	assert.Equal(t, "ops", m.Fence().ClearedBy)

	status = m.CanExecuteTrade(ctx, testSignal(), flat, decimal.Zero, true)
	assert.True(t, status.TradingAllowed, status.Summary())
}

func TestManager_BridgeDisconnectFences(t *testing.T) {
	m, _ := newTestManager(t, newTestStore())

	status := m.Status(flat, decimal.Zero, false)
	assert.False(t, status.TradingAllowed)
	assert.False(t, m.Fence().Active, "status has no side effects")

	status = m.CanExecuteTrade(context.Background(), testSignal(), flat, decimal.Zero, false)
	assert.False(t, status.TradingAllowed)
	assert.True(t, m.Fence().Active)
}

type fenceStoreMock struct {
	*storage.JSONStore
	mock.Mock
}

func (s *fenceStoreMock) SaveFenceState(ctx context.Context, f domain.FenceState) error {
	return s.Called(ctx, f).Error(0)
}

func TestManager_FenceStaysActiveWhenPersistenceFails(t *testing.T) {
	store := &fenceStoreMock{JSONStore: newTestStore()}
	store.On("SaveFenceState", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	m, _ := newTestManager(t, store)
	ctx := context.Background()

	m.ActivateFence(ctx, "manual")
	assert.True(t, m.Fence().Active)

	err := m.ClearFence(ctx, "ops")
	require.Error(t, err)
	assert.True(t, m.Fence().Active, "fence is kept when the clear cannot be persisted")
	store.AssertNumberOfCalls(t, "SaveFenceState", 2)
}

func TestManager_RestoreAfterRestart(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	m, _ := newTestManager(t, store)
	cfg := domain.DefaultSafetyConfig()
	cfg.MaxPositionSize = 3
	require.NoError(t, m.UpdateConfig(ctx, cfg))
	require.NoError(t, m.AddRejectedOrder(ctx, testSignal(), "margin"))
	require.NoError(t, m.TrackOrder(ctx, domain.PendingOrder{ID: "order-4"}, testSignal()))
	m.ActivateFence(ctx, "manual")

	restarted, _ := newTestManager(t, store)
	assert.True(t, restarted.Fence().Active)
	assert.Equal(t, 3, restarted.Config().MaxPositionSize)
	assert.True(t, restarted.IsRecentlyRejected(testSignal().ID()))
	_, ok := restarted.Tracking("order-4")
	assert.True(t, ok)
}

func TestManager_ExpireStaleOrders(t *testing.T) {
	store := newTestStore()
	m, c := newTestManager(t, store)
	ctx := context.Background()

	order := domain.PendingOrder{ID: "order-5", Status: domain.OrderStatusPending, CreatedAt: t0}
	require.NoError(t, m.TrackOrder(ctx, order, testSignal()))

	c.now = t0.Add(4 * time.Minute)
	n, err := m.ExpireStaleOrders(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.now = t0.Add(6 * time.Minute)
	n, err = m.ExpireStaleOrders(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tr, _ := m.Tracking("order-5")
	assert.Equal(t, domain.OrderStatusExpired, tr.Status)

	orders, err := store.ListPendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusExpired, orders[0].Status)
}

func TestManager_UpdateConfigValidates(t *testing.T) {
	m, _ := newTestManager(t, newTestStore())

	cfg := domain.DefaultSafetyConfig()
	cfg.MaxPositionSize = 0
	require.Error(t, m.UpdateConfig(context.Background(), cfg))
	assert.Equal(t, 2, m.Config().MaxPositionSize)
}

func TestManager_RefusesNonDurableStore(t *testing.T) {
	m := NewManager(zap.NewNop(), memstore.New(), metrics.Nop{}, domain.DefaultSafetyConfig())
	err := m.Restore(context.Background())
	require.ErrorIs(t, err, storage.ErrNotDurable)
}
