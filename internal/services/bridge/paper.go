// Package bridge connects pending orders to an execution venue. Paper fills
// orders against the last quote and reports confirmations back to the safety manager.
package bridge

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/storage"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxSlippage  = 4.0
)

// DefaultPointValue is the dollar value of one index point for one contract.
var DefaultPointValue = decimal.NewFromInt(50)

type paperStore interface {
	GetMarketData(ctx context.Context) (*domain.MarketData, error)
	ListPendingOrders(ctx context.Context) ([]domain.PendingOrder, error)
	GetPosition(ctx context.Context) (*domain.Position, error)
	SetPosition(ctx context.Context, p domain.Position) error
	GetSystemStatus(ctx context.Context) (*domain.SystemStatus, error)
	SetSystemStatus(ctx context.Context, st domain.SystemStatus) error
}

// Confirmer receives broker confirmations and the venue's position report.
type Confirmer interface {
	HandleConfirmation(ctx context.Context, c domain.OrderConfirmation) error
	ReconcilePosition(ctx context.Context, localContracts, brokerContracts int) domain.ReconciliationResult
}

// Config tunes the paper venue.
type Config struct {
	PollInterval time.Duration
	// MaxSlippage orders whose entry is further than this from the last price are rejected.
	MaxSlippage float64
	PointValue  decimal.Decimal
}

// bracket exit levels of the open paper position.
type bracket struct {
	orderID string
	action  domain.Action
	stop    decimal.Decimal
	target  decimal.Decimal
}

// Paper simulated broker.
type Paper struct {
	mu        sync.Mutex
	logger    *zap.Logger
	store     paperStore
	confirmer Confirmer
	cfg       Config
	now       func() time.Time
	bracket   *bracket
	// book is the venue's own position, the broker side of reconciliation.
	book *domain.Position
}

// NewPaper creates a paper bridge.
func NewPaper(logger *zap.Logger, store paperStore, confirmer Confirmer, cfg Config) *Paper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxSlippage <= 0 {
		cfg.MaxSlippage = DefaultMaxSlippage
	}
	if !cfg.PointValue.IsPositive() {
		cfg.PointValue = DefaultPointValue
	}

	return &Paper{
		logger:    logger,
		store:     store,
		confirmer: confirmer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Connect opens the venue book from the recorded position and reports the bridge as connected.
// It clears the disconnected status a previous shutdown left behind.
func (p *Paper) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.openBook(ctx); err != nil {
		return err
	}
	return p.setConnected(ctx, true, decimal.Zero)
}

// Run connects, then polls pending orders until ctx is done and reports the bridge as disconnected.
func (p *Paper) Run(ctx context.Context) error {
	if err := p.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect paper bridge")
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("paper bridge started", zap.Duration("poll_interval", p.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			if err := p.setConnected(context.WithoutCancel(ctx), false, decimal.Zero); err != nil {
				p.logger.Warn("failed to mark bridge disconnected", zap.Error(err))
			}
			p.logger.Info("paper bridge stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.logger.Error("paper bridge poll failed", zap.Error(err))
			}
		}
	}
}

// Poll executes every PENDING order, checks the open position's bracket and
// reconciles the recorded position against the venue book.
func (p *Paper) Poll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.openBook(ctx); err != nil {
		return err
	}

	md, err := p.store.GetMarketData(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if err := p.reconcile(ctx); err != nil {
				return err
			}
			return p.setConnected(ctx, true, decimal.Zero)
		}
		return errors.Wrap(err, "get market data")
	}

	orders, err := p.store.ListPendingOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "list pending orders")
	}

	realized := decimal.Zero
	for _, o := range orders {
		if o.Status != domain.OrderStatusPending {
			continue
		}
		pnl, err := p.execute(ctx, o, md.LastPrice)
		if err != nil {
			return err
		}
		realized = realized.Add(pnl)
	}

	pnl, err := p.checkBracket(ctx, md.LastPrice)
	if err != nil {
		return err
	}
	realized = realized.Add(pnl)

	if err := p.reconcile(ctx); err != nil {
		return err
	}
	return p.setConnected(ctx, true, realized)
}

func (p *Paper) openBook(ctx context.Context) error {
	if p.book != nil {
		return nil
	}
	pos, err := p.position(ctx)
	if err != nil {
		return err
	}
	p.book = pos
	return nil
}

func (p *Paper) reconcile(ctx context.Context) error {
	local, err := p.position(ctx)
	if err != nil {
		return err
	}
	res := p.confirmer.ReconcilePosition(ctx, local.Contracts, p.book.Contracts)
	if !res.OK {
		p.logger.Error("position mismatch against paper book",
			zap.Int("local", res.LocalContracts),
			zap.Int("broker", res.BrokerContracts))
	}
	return nil
}

func (p *Paper) execute(ctx context.Context, o domain.PendingOrder, last float64) (decimal.Decimal, error) {
	l := p.logger.With(zap.String("order_id", o.ID), zap.String("action", o.Action.String()))

	if o.Quantity <= 0 {
		return decimal.Zero, p.reject(ctx, o, "invalid quantity")
	}
	if slip := math.Abs(last - o.EntryPrice.InexactFloat64()); slip > p.cfg.MaxSlippage {
		l.Info("paper order rejected, price moved away",
			zap.String("entry", o.EntryPrice.String()),
			zap.Float64("last", last))
		return decimal.Zero, p.reject(ctx, o, "price moved away from entry")
	}

	fill := decimal.NewFromFloat(last).Round(2)
	if err := p.confirmer.HandleConfirmation(ctx, domain.OrderConfirmation{
		OrderID:        o.ID,
		Status:         domain.OrderStatusFilled,
		FillPrice:      fill,
		FilledQuantity: o.Quantity,
		Timestamp:      p.now(),
	}); err != nil {
		return decimal.Zero, errors.Wrapf(err, "confirm fill of order %s", o.ID)
	}

	realized, err := p.fill(ctx, o.Action, o.Quantity, fill)
	if err != nil {
		return decimal.Zero, err
	}

	p.bracket = &bracket{orderID: o.ID, action: o.Action, stop: o.StopLoss, target: o.Target1}
	l.Info("paper order filled", zap.String("price", fill.String()), zap.Int("quantity", o.Quantity))
	return realized, nil
}

func (p *Paper) reject(ctx context.Context, o domain.PendingOrder, reason string) error {
	err := p.confirmer.HandleConfirmation(ctx, domain.OrderConfirmation{
		OrderID:   o.ID,
		Status:    domain.OrderStatusRejected,
		Reason:    reason,
		Timestamp: p.now(),
	})
	return errors.Wrapf(err, "confirm rejection of order %s", o.ID)
}

// checkBracket flattens the position when price reaches its stop or first target.
func (p *Paper) checkBracket(ctx context.Context, last float64) (decimal.Decimal, error) {
	b := p.bracket
	if b == nil {
		return decimal.Zero, nil
	}

	pos := p.book
	if !pos.IsOpen() {
		p.bracket = nil
		return decimal.Zero, nil
	}

	price := decimal.NewFromFloat(last)
	var exit decimal.Decimal
	switch b.action {
	case domain.ActionBuy:
		switch {
		case price.LessThanOrEqual(b.stop):
			exit = b.stop
		case price.GreaterThanOrEqual(b.target):
			exit = b.target
		}
	case domain.ActionSell:
		switch {
		case price.GreaterThanOrEqual(b.stop):
			exit = b.stop
		case price.LessThanOrEqual(b.target):
			exit = b.target
		}
	}
	if exit.IsZero() {
		return decimal.Zero, nil
	}

	closing := domain.ActionSell
	if pos.Contracts < 0 {
		closing = domain.ActionBuy
	}
	realized, err := p.fill(ctx, closing, pos.AbsContracts(), exit)
	if err != nil {
		return decimal.Zero, err
	}

	p.logger.Info("paper position closed",
		zap.String("order_id", b.orderID),
		zap.String("exit", exit.String()),
		zap.String("realized_pnl", realized.String()))
	p.bracket = nil
	return realized, nil
}

// fill books the execution at the venue first; a failed save then shows up as a reconciliation mismatch.
func (p *Paper) fill(ctx context.Context, action domain.Action, qty int, price decimal.Decimal) (decimal.Decimal, error) {
	next, realized := ApplyFill(*p.book, action, qty, price, p.cfg.PointValue)
	next.UpdatedAt = p.now()
	p.book = &next
	if err := p.store.SetPosition(ctx, next); err != nil {
		return decimal.Zero, errors.Wrap(err, "save position")
	}
	return realized, nil
}

func (p *Paper) position(ctx context.Context) (*domain.Position, error) {
	pos, err := p.store.GetPosition(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return &domain.Position{Side: domain.PositionSideFlat}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get position")
	}
	return pos, nil
}

func (p *Paper) setConnected(ctx context.Context, connected bool, realized decimal.Decimal) error {
	st, err := p.store.GetSystemStatus(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		st = &domain.SystemStatus{}
	} else if err != nil {
		return errors.Wrap(err, "get system status")
	}

	if st.BridgeConnected == connected && realized.IsZero() {
		return nil
	}
	st.BridgeConnected = connected
	st.DailyPnL = st.DailyPnL.Add(realized)
	st.UpdatedAt = p.now()
	return errors.Wrap(p.store.SetSystemStatus(ctx, *st), "save system status")
}

// ApplyFill returns the position after a fill and the P&L realized by it.
// Fills on the open side average the entry; opposite fills close first and may reverse.
func ApplyFill(pos domain.Position, action domain.Action, qty int, price, pointValue decimal.Decimal) (domain.Position, decimal.Decimal) {
	signed := qty
	if action == domain.ActionSell {
		signed = -qty
	}

	realized := decimal.Zero
	switch {
	case pos.Contracts == 0 || (pos.Contracts > 0) == (signed > 0):
		held := decimal.NewFromInt(int64(abs(pos.Contracts)))
		added := decimal.NewFromInt(int64(qty))
		pos.EntryPrice = pos.EntryPrice.Mul(held).Add(price.Mul(added)).Div(held.Add(added))
		pos.Contracts += signed
	default:
		closed := min(abs(signed), abs(pos.Contracts))
		direction := decimal.NewFromInt(1)
		if pos.Contracts < 0 {
			direction = decimal.NewFromInt(-1)
		}
		realized = price.Sub(pos.EntryPrice).Mul(direction).Mul(decimal.NewFromInt(int64(closed))).Mul(pointValue)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)

		wasLong := pos.Contracts > 0
		pos.Contracts += signed
		if pos.Contracts == 0 {
			pos.EntryPrice = decimal.Zero
		} else if (pos.Contracts > 0) != wasLong {
			pos.EntryPrice = price
		}
	}

	switch {
	case pos.Contracts > 0:
		pos.Side = domain.PositionSideLong
	case pos.Contracts < 0:
		pos.Side = domain.PositionSideShort
	default:
		pos.Side = domain.PositionSideFlat
	}
	pos.UnrealizedPnL = decimal.Zero
	return pos, realized
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
