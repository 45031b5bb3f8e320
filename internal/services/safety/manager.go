// Package safety is the risk gate every trade signal passes before becoming an order.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/storage"
)

var (
	// ErrUnknownOrder is returned for confirmations of orders that were never tracked.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrDuplicateOrder is returned when an order id is tracked twice.
	ErrDuplicateOrder = errors.New("order id already tracked")
)

// Violation codes, also used as metric labels.
const (
	ViolationBridgeDisconnected = "bridge_disconnected"
	ViolationCircuitBreaker     = "circuit_breaker"
	ViolationReconciliation     = "reconciliation"
	ViolationFence              = "fence"
	ViolationRejectReplay       = "reject_replay"
	ViolationPositionSize       = "position_size"
)

type safetyStore interface {
	SaveOrderTracking(ctx context.Context, t domain.OrderTracking) error
	ListOrderTracking(ctx context.Context) ([]domain.OrderTracking, error)
	SavePendingOrder(ctx context.Context, o domain.PendingOrder) error
	ListPendingOrders(ctx context.Context) ([]domain.PendingOrder, error)
	AddRejectedOrder(ctx context.Context, r domain.RejectedOrderRecord) error
	ListRejectedOrders(ctx context.Context) ([]domain.RejectedOrderRecord, error)
	SaveFenceState(ctx context.Context, f domain.FenceState) error
	GetFenceState(ctx context.Context) (*domain.FenceState, error)
	SaveSafetyConfig(ctx context.Context, c domain.SafetyConfig) error
	GetSafetyConfig(ctx context.Context) (*domain.SafetyConfig, error)
	AppendTrade(ctx context.Context, t domain.ExecutedTrade) error
}

type recorder interface {
	RecordSafetyRejection(reason string)
	RecordOrderConfirmation(status string)
	SetFenceActive(active bool)
}

// Manager holds fence, reject cache and order tracking. Orchestrator cycles and
// bridge confirmations run on different goroutines, so all state is mutex guarded.
type Manager struct {
	mu      sync.Mutex
	logger  *zap.Logger
	store   safetyStore
	metrics recorder
	now     func() time.Time

	cfg            domain.SafetyConfig
	fence          domain.FenceState
	rejected       []domain.RejectedOrderRecord
	tracked        map[string]*domain.OrderTracking
	orders         map[string]*domain.PendingOrder
	reconciliation domain.ReconciliationResult
}

// NewManager creates a manager with the given config. Call Restore to load persisted state.
func NewManager(logger *zap.Logger, store safetyStore, metrics recorder, cfg domain.SafetyConfig) *Manager {
	return &Manager{
		logger:         logger,
		store:          store,
		metrics:        metrics,
		now:            time.Now,
		cfg:            cfg,
		tracked:        make(map[string]*domain.OrderTracking),
		orders:         make(map[string]*domain.PendingOrder),
		reconciliation: domain.ReconciliationResult{OK: true},
	}
}

// Restore loads config, fence, unexpired rejections and tracked orders from the store.
// A config missing from the store is seeded with the current one.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.store.GetSafetyConfig(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := m.store.SaveSafetyConfig(ctx, m.cfg); err != nil {
			return errors.Wrap(err, "seed safety config")
		}
	case err != nil:
		return errors.Wrap(err, "load safety config")
	default:
		m.cfg = *cfg
	}

	fence, err := m.store.GetFenceState(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return errors.Wrap(err, "load fence state")
	default:
		m.fence = *fence
	}

	rejected, err := m.store.ListRejectedOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "load rejected orders")
	}
	now := m.now()
	m.rejected = m.rejected[:0]
	for _, r := range rejected {
		if !r.Expired(now) {
			m.rejected = append(m.rejected, r)
		}
	}

	tracking, err := m.store.ListOrderTracking(ctx)
	if err != nil {
		return errors.Wrap(err, "load order tracking")
	}
	for i := range tracking {
		t := tracking[i]
		m.tracked[t.OrderID] = &t
	}

	orders, err := m.store.ListPendingOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "load pending orders")
	}
	for i := range orders {
		o := orders[i]
		m.orders[o.ID] = &o
	}

	m.metrics.SetFenceActive(m.fence.Active)
	m.logger.Info("safety state restored",
		zap.Bool("fence_active", m.fence.Active),
		zap.String("fence_reason", m.fence.Reason),
		zap.Int("rejected", len(m.rejected)),
		zap.Int("tracked_orders", len(m.tracked)))

	return nil
}

// CanExecuteTrade evaluates every check and aggregates the violations.
// Bridge disconnects and breaker trips latch the fence as a side effect.
func (m *Manager) CanExecuteTrade(ctx context.Context, signal domain.TradeSignal, position *domain.Position,
	dailyPnL decimal.Decimal, bridgeConnected bool) domain.SafetyStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, codes := m.evaluate(ctx, &signal, position, dailyPnL, bridgeConnected, true)
	for _, c := range codes {
		m.metrics.RecordSafetyRejection(c)
	}
	if !status.TradingAllowed {
		m.logger.Warn("trade blocked by safety checks",
			zap.String("signal_id", signal.ID()),
			zap.String("violations", status.Summary()))
	}
	return status
}

// Status reports the current safety state without a signal and without side effects.
func (m *Manager) Status(position *domain.Position, dailyPnL decimal.Decimal, bridgeConnected bool) domain.SafetyStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, _ := m.evaluate(context.Background(), nil, position, dailyPnL, bridgeConnected, false)
	return status
}

func (m *Manager) evaluate(ctx context.Context, signal *domain.TradeSignal, position *domain.Position,
	dailyPnL decimal.Decimal, bridgeConnected, latch bool) (domain.SafetyStatus, []string) {
	status := domain.SafetyStatus{
		BridgeConnected:  bridgeConnected,
		DailyPnL:         dailyPnL,
		ReconciliationOK: true,
		CheckedAt:        m.now(),
	}
	var codes []string
	violate := func(code, msg string) {
		codes = append(codes, code)
		status.Violations = append(status.Violations, msg)
	}

	if !bridgeConnected {
		violate(ViolationBridgeDisconnected, "broker bridge disconnected")
		if latch {
			m.activateFence(ctx, "broker bridge disconnected")
		}
	}

	if m.cfg.CircuitBreakerEnabled && dailyPnL.LessThanOrEqual(m.cfg.MaxDailyDrawdown) {
		status.CircuitBreakerTripped = true
		violate(ViolationCircuitBreaker, fmt.Sprintf("daily P&L %s breached drawdown limit %s",
			dailyPnL.StringFixed(2), m.cfg.MaxDailyDrawdown.StringFixed(2)))
		if latch {
			m.activateFence(ctx, "circuit breaker tripped")
		}
	}

	if m.cfg.PositionReconciliationEnabled && !m.reconciliation.OK {
		status.ReconciliationOK = false
		violate(ViolationReconciliation, "position reconciliation failed: "+m.reconciliation.Message)
	}

	if m.fence.Active {
		status.FenceActive = true
		status.FenceReason = m.fence.Reason
		violate(ViolationFence, "trading fence active: "+m.fence.Reason)
	}

	if signal != nil {
		id := signal.ID()
		if r, ok := m.recentRejection(id); ok {
			violate(ViolationRejectReplay, fmt.Sprintf("signal %s rejected at %s, cooldown until %s",
				id, r.RejectedAt.Format(time.RFC3339), r.ExpiresAt.Format(time.RFC3339)))
		}

		open := position.AbsContracts()
		switch {
		case signal.Quantity <= 0:
			violate(ViolationPositionSize, fmt.Sprintf("invalid quantity %d", signal.Quantity))
		case open+signal.Quantity > m.cfg.MaxPositionSize:
			violate(ViolationPositionSize, fmt.Sprintf("quantity %d with %d open exceeds max position size %d",
				signal.Quantity, open, m.cfg.MaxPositionSize))
		}
	}

	status.TradingAllowed = len(status.Violations) == 0
	return status, codes
}

// ActivateFence latches the fence. A persistence failure is logged; the fence stays active in memory.
func (m *Manager) ActivateFence(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activateFence(ctx, reason)
}

func (m *Manager) activateFence(ctx context.Context, reason string) {
	if m.fence.Active || !m.cfg.TradingFenceEnabled {
		return
	}

	m.fence = domain.FenceState{
		Active:      true,
		Reason:      reason,
		ActivatedAt: m.now(),
	}
	m.metrics.SetFenceActive(true)
	m.logger.Error("trading fence activated", zap.String("reason", reason))

	if err := m.store.SaveFenceState(ctx, m.fence); err != nil {
		m.logger.Error("failed to persist fence state", zap.Error(err))
	}
}

// ClearFence releases the fence. The fence stays active when the cleared state cannot be persisted.
func (m *Manager) ClearFence(ctx context.Context, operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fence.Active {
		return nil
	}

	cleared := m.fence
	cleared.Active = false
	cleared.ClearedAt = m.now()
	cleared.ClearedBy = operator
	if err := m.store.SaveFenceState(ctx, cleared); err != nil {
		return errors.Wrap(err, "persist cleared fence")
	}

	m.fence = cleared
	m.reconciliation = domain.ReconciliationResult{OK: true, Message: "reset by " + operator, ReconciledAt: cleared.ClearedAt}
	m.metrics.SetFenceActive(false)
	m.logger.Warn("trading fence cleared", zap.String("operator", operator), zap.String("reason", cleared.Reason))
	return nil
}

// Fence returns the current fence state.
func (m *Manager) Fence() domain.FenceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fence
}

// ReconcilePosition compares the locally recorded contract count with the broker's.
// The broker is the source of truth; a mismatch latches the fence.
func (m *Manager) ReconcilePosition(ctx context.Context, localContracts, brokerContracts int) domain.ReconciliationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := domain.ReconciliationResult{
		OK:              true,
		LocalContracts:  localContracts,
		BrokerContracts: brokerContracts,
		ReconciledAt:    m.now(),
	}
	if !m.cfg.PositionReconciliationEnabled {
		res.Message = "reconciliation disabled"
		m.reconciliation = res
		return res
	}

	if localContracts != brokerContracts {
		res.OK = false
		res.Message = fmt.Sprintf("local %d contracts, broker %d", localContracts, brokerContracts)
		m.activateFence(ctx, "position mismatch: "+res.Message)
	} else {
		res.Message = "positions match"
	}

	m.reconciliation = res
	return res
}

// AddRejectedOrder records a rejection with the original signal. The record is kept
// in memory even when persisting it fails.
func (m *Manager) AddRejectedOrder(ctx context.Context, signal domain.TradeSignal, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addRejected(ctx, signal, reason)
}

func (m *Manager) addRejected(ctx context.Context, signal domain.TradeSignal, reason string) error {
	now := m.now()
	r := domain.RejectedOrderRecord{
		SignalID:   signal.ID(),
		Signal:     signal,
		Reason:     reason,
		RejectedAt: now,
		ExpiresAt:  now.Add(m.cfg.RejectCooldown()),
	}
	m.rejected = append(m.rejected, r)
	m.pruneRejected(now)

	if err := m.store.AddRejectedOrder(ctx, r); err != nil {
		return errors.Wrapf(err, "persist rejected order %s", r.SignalID)
	}
	return nil
}

// IsRecentlyRejected reports whether the signal id is inside its reject cooldown.
func (m *Manager) IsRecentlyRejected(signalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recentRejection(signalID)
	return ok
}

func (m *Manager) recentRejection(signalID string) (domain.RejectedOrderRecord, bool) {
	now := m.now()
	for i := len(m.rejected) - 1; i >= 0; i-- {
		r := m.rejected[i]
		if r.SignalID == signalID && !r.Expired(now) {
			return r, true
		}
	}
	return domain.RejectedOrderRecord{}, false
}

func (m *Manager) pruneRejected(now time.Time) {
	kept := m.rejected[:0]
	for _, r := range m.rejected {
		if !r.Expired(now) {
			kept = append(kept, r)
		}
	}
	m.rejected = kept
}

// TrackOrder persists the tracking record of an admitted order before it is submitted.
func (m *Manager) TrackOrder(ctx context.Context, order domain.PendingOrder, signal domain.TradeSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracked[order.ID]; ok {
		return errors.Wrap(ErrDuplicateOrder, order.ID)
	}

	t := &domain.OrderTracking{
		OrderID:     order.ID,
		SignalID:    signal.ID(),
		Signal:      signal,
		Status:      domain.OrderStatusPending,
		SubmittedAt: m.now(),
	}
	if err := m.store.SaveOrderTracking(ctx, *t); err != nil {
		return errors.Wrapf(err, "persist tracking for order %s", order.ID)
	}

	m.tracked[order.ID] = t
	o := order
	m.orders[order.ID] = &o
	return nil
}

// HandleConfirmation applies a broker confirmation. Repeated confirmations of a
// terminal order are ignored. Rejections feed the reject-replay cooldown.
func (m *Manager) HandleConfirmation(ctx context.Context, c domain.OrderConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[c.OrderID]
	if !ok {
		return errors.Wrap(ErrUnknownOrder, c.OrderID)
	}
	if t.Status.Terminal() {
		m.logger.Debug("ignore confirmation for finished order",
			zap.String("order_id", c.OrderID), zap.String("status", string(t.Status)))
		return nil
	}

	at := c.Timestamp
	if at.IsZero() {
		at = m.now()
	}

	updated := *t
	updated.Status = c.Status
	updated.ConfirmedAt = at
	updated.FillPrice = c.FillPrice
	updated.FilledQuantity = c.FilledQuantity
	updated.Reason = c.Reason
	if err := m.store.SaveOrderTracking(ctx, updated); err != nil {
		return errors.Wrapf(err, "persist confirmation for order %s", c.OrderID)
	}
	*t = updated
	m.metrics.RecordOrderConfirmation(string(c.Status))

	if o, ok := m.orders[c.OrderID]; ok {
		o.Status = c.Status
		o.UpdatedAt = at
		if err := m.store.SavePendingOrder(ctx, *o); err != nil {
			m.logger.Error("failed to update pending order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	switch c.Status {
	case domain.OrderStatusRejected:
		m.logger.Warn("order rejected by broker", zap.String("order_id", c.OrderID), zap.String("reason", c.Reason))
		if err := m.addRejected(ctx, t.Signal, c.Reason); err != nil {
			return err
		}
	case domain.OrderStatusFilled:
		m.logger.Info("order filled",
			zap.String("order_id", c.OrderID),
			zap.String("price", c.FillPrice.String()),
			zap.Int("quantity", c.FilledQuantity))
		trade := domain.ExecutedTrade{
			OrderID:    c.OrderID,
			SignalID:   t.SignalID,
			Action:     t.Signal.Action,
			Quantity:   c.FilledQuantity,
			Price:      c.FillPrice,
			SetupType:  t.Signal.SetupType,
			ExecutedAt: at,
		}
		if err := m.store.AppendTrade(ctx, trade); err != nil {
			m.logger.Error("failed to record executed trade", zap.String("order_id", c.OrderID), zap.Error(err))
		}
	}

	return nil
}

// ExpireStaleOrders marks orders pending longer than maxAge as EXPIRED.
func (m *Manager) ExpireStaleOrders(ctx context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired int
	for id, t := range m.tracked {
		if t.Status != domain.OrderStatusPending || now.Sub(t.SubmittedAt) < maxAge {
			continue
		}

		updated := *t
		updated.Status = domain.OrderStatusExpired
		updated.ConfirmedAt = now
		updated.Reason = "no broker confirmation"
		if err := m.store.SaveOrderTracking(ctx, updated); err != nil {
			return expired, errors.Wrapf(err, "expire order %s", id)
		}
		*t = updated

		if o, ok := m.orders[id]; ok {
			o.Status = domain.OrderStatusExpired
			o.UpdatedAt = now
			if err := m.store.SavePendingOrder(ctx, *o); err != nil {
				return expired, errors.Wrapf(err, "expire pending order %s", id)
			}
		}
		expired++
		m.logger.Warn("pending order expired", zap.String("order_id", id), zap.Duration("age", now.Sub(t.SubmittedAt)))
	}

	return expired, nil
}

// Tracking returns the tracking record for an order.
func (m *Manager) Tracking(orderID string) (domain.OrderTracking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tracked[orderID]
	if !ok {
		return domain.OrderTracking{}, false
	}
	return *t, true
}

// UpdateConfig validates, persists and applies a new config.
func (m *Manager) UpdateConfig(ctx context.Context, cfg domain.SafetyConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid safety config")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveSafetyConfig(ctx, cfg); err != nil {
		return errors.Wrap(err, "persist safety config")
	}
	m.cfg = cfg
	m.logger.Info("safety config updated",
		zap.String("max_daily_drawdown", cfg.MaxDailyDrawdown.String()),
		zap.Int("max_position_size", cfg.MaxPositionSize),
		zap.Int("reject_cooldown_minutes", cfg.RejectCooldownMinutes))
	return nil
}

// Config returns the active config.
func (m *Manager) Config() domain.SafetyConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}
