// Package orchestrator runs the debounced decision cycle: it turns market
// updates into at most one admitted order per distinct signal.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/services/hypothesis"
	"github.com/vadiminshakov/auction/internal/services/market/indicators"
	"github.com/vadiminshakov/auction/internal/services/migration"
	"github.com/vadiminshakov/auction/internal/services/profile"
	"github.com/vadiminshakov/auction/internal/services/regime"
	"github.com/vadiminshakov/auction/internal/services/setup"
	"github.com/vadiminshakov/auction/internal/services/valueshift"
	"github.com/vadiminshakov/auction/internal/storage"
)

// ErrNoData means a cycle could not run because an input is still missing.
var ErrNoData = errors.New("no data found")

// Cycle outcomes, also used as metric labels.
const (
	OutcomeOrderCreated = "order_created"
	OutcomeSkipped      = "skipped"
	OutcomeNoSetup      = "no_setup"
	OutcomeVetoed       = "vetoed"
	OutcomeDuplicate    = "duplicate"
	OutcomeBlocked      = "blocked"
	OutcomeError        = "error"
)

const (
	DefaultDebounce       = time.Second
	DefaultQuantity       = 1
	DefaultSignalLookback = 5 * time.Minute
	DefaultBarHistory     = 60
	DefaultOrderFlowBoost = 15.0
	DefaultVetoConfidence = 0.5

	recentEvents = 20
)

// Config tunes the decision cycle.
type Config struct {
	Symbol   string
	Debounce time.Duration
	// Quantity contracts per order.
	Quantity int
	// CompositeSessions used when the composite has to be built from session profiles.
	CompositeSessions int
	TickSize          float64
	ATRPeriod         int
	BarHistory        int
	// SignalLookback drops order-flow signals older than this.
	SignalLookback time.Duration
	// OrderFlowBoost confidence points added at full signal confidence.
	OrderFlowBoost float64
	// VetoConfidence opposing signals above it cancel the cycle.
	VetoConfidence float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Debounce:          DefaultDebounce,
		Quantity:          DefaultQuantity,
		CompositeSessions: profile.DefaultCompositeSessions,
		TickSize:          profile.DefaultTickSize,
		ATRPeriod:         indicators.DefaultATRPeriod,
		BarHistory:        DefaultBarHistory,
		SignalLookback:    DefaultSignalLookback,
		OrderFlowBoost:    DefaultOrderFlowBoost,
		VetoConfidence:    DefaultVetoConfidence,
	}
}

type dataStore interface {
	GetMarketData(ctx context.Context) (*domain.MarketData, error)
	GetPosition(ctx context.Context) (*domain.Position, error)
	GetVWAP(ctx context.Context) (*domain.VWAPData, error)
	GetComposite(ctx context.Context) (*domain.CompositeProfile, error)
	GetSystemStatus(ctx context.Context) (*domain.SystemStatus, error)
	SetHypothesis(ctx context.Context, h domain.DailyHypothesis) error
	SetProfile(ctx context.Context, p domain.VolumeProfile) error
	RecentOrderFlowSignals(ctx context.Context, n int) ([]domain.OrderFlowSignal, error)
	RecentAbsorptions(ctx context.Context, n int) ([]domain.AbsorptionEvent, error)
	RecentFootprints(ctx context.Context, n int) ([]domain.FootprintBar, error)
	RecentSessionProfiles(ctx context.Context, n int) ([]domain.VolumeProfile, error)
	SavePendingOrder(ctx context.Context, o domain.PendingOrder) error
}

// ProfileSource exposes the developing session profile.
type ProfileSource interface {
	GetProfile(periodStart, periodEnd time.Time) *domain.VolumeProfile
	CumulativeDelta() float64
}

// SessionSource reports the session in progress.
type SessionSource interface {
	Session() domain.Session
}

type safetyGate interface {
	CanExecuteTrade(ctx context.Context, signal domain.TradeSignal, position *domain.Position,
		dailyPnL decimal.Decimal, bridgeConnected bool) domain.SafetyStatus
	TrackOrder(ctx context.Context, order domain.PendingOrder, signal domain.TradeSignal) error
}

type recorder interface {
	RecordCycle(outcome string, seconds float64)
	RecordOrderCreated(setup string)
	RecordError(kind string)
}

// Deps stateful collaborators of the orchestrator. Each is owned by the caller.
type Deps struct {
	Store      dataStore
	Profile    ProfileSource
	Session    SessionSource
	Regime     *regime.Classifier
	ValueShift *valueshift.Detector
	Setups     *setup.Recognizer
	Safety     safetyGate
	Metrics    recorder
}

// Result what a cycle did.
type Result struct {
	Outcome string
	Reason  string
	Signal  *domain.TradeSignal
	Order   *domain.PendingOrder
	Safety  *domain.SafetyStatus
}

func skipped(outcome, reason string) *Result {
	return &Result{Outcome: outcome, Reason: reason}
}

// Orchestrator coalesces market updates into single-flight decision cycles.
type Orchestrator struct {
	logger *zap.Logger
	cfg    Config
	deps   Deps
	now    func() time.Time

	timerMu sync.Mutex
	timer   *time.Timer
	ctx     context.Context
	stopped bool

	// cycleMu held for the whole cycle; a timer firing while it is held re-arms.
	cycleMu      sync.Mutex
	lastSignalID string
	excursion    migration.Excursion
	cycles       atomic.Int64
}

// NewOrchestrator creates an orchestrator. Zero config fields fall back to defaults.
func NewOrchestrator(logger *zap.Logger, cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = def.Quantity
	}
	if cfg.CompositeSessions <= 0 {
		cfg.CompositeSessions = def.CompositeSessions
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = def.TickSize
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.BarHistory <= 0 {
		cfg.BarHistory = def.BarHistory
	}
	if cfg.SignalLookback <= 0 {
		cfg.SignalLookback = def.SignalLookback
	}
	if cfg.OrderFlowBoost <= 0 {
		cfg.OrderFlowBoost = def.OrderFlowBoost
	}
	if cfg.VetoConfidence <= 0 {
		cfg.VetoConfidence = def.VetoConfidence
	}

	return &Orchestrator{
		logger: logger.With(zap.String("symbol", cfg.Symbol)),
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		ctx:    context.Background(),
	}
}

// OnMarketDataUpdate (re)arms the debounce timer. Bursts of updates collapse into one cycle.
func (o *Orchestrator) OnMarketDataUpdate() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()

	if o.stopped {
		return
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.cfg.Debounce, o.fire)
}

// Run binds cycles to ctx and blocks until it is done, then stops the timer.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.timerMu.Lock()
	o.ctx = ctx
	o.timerMu.Unlock()

	o.logger.Info("auto-trading orchestrator started", zap.Duration("debounce", o.cfg.Debounce))
	<-ctx.Done()
	o.Stop()
	o.logger.Info("auto-trading orchestrator stopped")
	return nil
}

// Stop cancels a pending cycle. A cycle already running completes.
func (o *Orchestrator) Stop() {
	o.timerMu.Lock()
	defer o.timerMu.Unlock()

	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
	}
}

// CycleCount number of analysis cycles entered.
func (o *Orchestrator) CycleCount() int64 {
	return o.cycles.Load()
}

func (o *Orchestrator) fire() {
	if !o.cycleMu.TryLock() {
		o.logger.Debug("cycle in flight, re-arming debounce")
		o.OnMarketDataUpdate()
		return
	}
	defer o.cycleMu.Unlock()

	o.timerMu.Lock()
	ctx := o.ctx
	o.timerMu.Unlock()

	o.runSafely(ctx)
}

// runSafely is the recover boundary around one cycle; nothing escapes the timer goroutine.
func (o *Orchestrator) runSafely(ctx context.Context) {
	start := time.Now()
	outcome := OutcomeError
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("analysis cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			o.deps.Metrics.RecordError("cycle_panic")
		}
		o.deps.Metrics.RecordCycle(outcome, time.Since(start).Seconds())
	}()

	res, err := o.runCycle(ctx)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			o.logger.Debug("analysis cycle skipped", zap.Error(err))
			outcome = OutcomeSkipped
			return
		}
		o.logger.Error("analysis cycle failed", zap.Error(err))
		o.deps.Metrics.RecordError("cycle")
		return
	}
	outcome = res.Outcome
}

// RunCycle runs one decision cycle immediately, bypassing the debounce.
// Missing inputs yield ErrNoData.
func (o *Orchestrator) RunCycle(ctx context.Context) (*Result, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	return o.runCycle(ctx)
}

func (o *Orchestrator) runCycle(ctx context.Context) (*Result, error) {
	o.cycles.Add(1)

	status, err := o.deps.Store.GetSystemStatus(ctx)
	if err != nil {
		return nil, o.missing(err, "system status")
	}
	if !status.AutoTradingEnabled {
		return skipped(OutcomeSkipped, "auto trading disabled"), nil
	}

	position, err := o.deps.Store.GetPosition(ctx)
	if err != nil {
		return nil, o.missing(err, "position")
	}
	if position.IsOpen() {
		return skipped(OutcomeSkipped, "position already open"), nil
	}

	mc, err := o.buildContext(ctx)
	if err != nil {
		return nil, err
	}

	recs := o.deps.Setups.GenerateRecommendations(mc)
	candidates := filterByBias(recs, mc.Hypothesis.Bias)
	if len(candidates) == 0 {
		o.logger.Debug("no setup agrees with hypothesis",
			zap.Int("found", len(recs)),
			zap.String("bias", string(mc.Hypothesis.Bias)))
		return skipped(OutcomeNoSetup, "no setup agrees with hypothesis"), nil
	}

	best := candidates[0]
	confidence, veto := o.adjustForOrderFlow(best, mc.OrderFlow)
	if veto != nil {
		o.logger.Info("setup vetoed by opposing order flow",
			zap.String("setup", string(best.SetupType)),
			zap.String("signal", string(veto.Type)),
			zap.Float64("signal_confidence", veto.Confidence))
		return skipped(OutcomeVetoed, "opposing "+string(veto.Type)), nil
	}

	signal := o.newSignal(best, confidence)
	id := signal.ID()
	if id == o.lastSignalID {
		o.logger.Debug("signal unchanged since previous cycle", zap.String("signal_id", id))
		return &Result{Outcome: OutcomeDuplicate, Reason: "signal already submitted", Signal: &signal}, nil
	}

	safety := o.deps.Safety.CanExecuteTrade(ctx, signal, position, status.DailyPnL, status.BridgeConnected)
	if !safety.TradingAllowed {
		return &Result{Outcome: OutcomeBlocked, Reason: safety.Summary(), Signal: &signal, Safety: &safety}, nil
	}

	order := domain.PendingOrder{
		ID:         uuid.NewString(),
		SignalID:   id,
		Symbol:     mc.Symbol,
		Action:     signal.Action,
		Quantity:   signal.Quantity,
		EntryPrice: signal.EntryPrice,
		StopLoss:   signal.StopLoss,
		Target1:    signal.Target1,
		Target2:    signal.Target2,
		SetupType:  signal.SetupType,
		Confidence: signal.Confidence,
		Reason:     signal.Reason,
		Status:     domain.OrderStatusPending,
		CreatedAt:  signal.GeneratedAt,
		UpdatedAt:  signal.GeneratedAt,
	}

	// tracked first: the bridge only sees saved orders and every confirmation must find its record
	if err := o.deps.Safety.TrackOrder(ctx, order, signal); err != nil {
		return nil, errors.Wrap(err, "track order")
	}
	if err := o.deps.Store.SavePendingOrder(ctx, order); err != nil {
		return nil, errors.Wrapf(err, "save pending order %s", order.ID)
	}
	o.lastSignalID = id
	o.deps.Metrics.RecordOrderCreated(string(order.SetupType))

	o.logger.Info("pending order created",
		zap.String("order_id", order.ID),
		zap.String("signal_id", id),
		zap.String("action", order.Action.String()),
		zap.String("setup", string(order.SetupType)),
		zap.String("entry", order.EntryPrice.String()),
		zap.String("stop", order.StopLoss.String()),
		zap.Float64("confidence", order.Confidence))

	return &Result{Outcome: OutcomeOrderCreated, Signal: &signal, Order: &order, Safety: &safety}, nil
}

// buildContext assembles the market context once per cycle.
func (o *Orchestrator) buildContext(ctx context.Context) (*domain.MarketContext, error) {
	md, err := o.deps.Store.GetMarketData(ctx)
	if err != nil {
		return nil, o.missing(err, "market data")
	}

	vwap, err := o.deps.Store.GetVWAP(ctx)
	if err != nil {
		return nil, o.missing(err, "vwap")
	}
	if !vwap.Complete() {
		return nil, errors.Wrap(ErrNoData, "vwap bands incomplete")
	}

	sessions, err := o.deps.Store.RecentSessionProfiles(ctx, o.cfg.CompositeSessions)
	if err != nil {
		return nil, errors.Wrap(err, "load session profiles")
	}

	cva, err := o.composite(ctx, sessions)
	if err != nil {
		return nil, err
	}

	session := o.deps.Session.Session()
	dva := o.deps.Profile.GetProfile(session.Start, md.Timestamp)
	if dva == nil {
		return nil, errors.Wrap(ErrNoData, "developing profile empty")
	}

	footprints, err := o.deps.Store.RecentFootprints(ctx, o.cfg.BarHistory)
	if err != nil {
		return nil, errors.Wrap(err, "load footprint bars")
	}
	bars := make([]domain.Bar, 0, len(footprints))
	for _, fb := range footprints {
		bars = append(bars, fb.Bar)
	}

	signals, err := o.deps.Store.RecentOrderFlowSignals(ctx, recentEvents)
	if err != nil {
		return nil, errors.Wrap(err, "load order flow signals")
	}
	absorptions, err := o.deps.Store.RecentAbsorptions(ctx, recentEvents)
	if err != nil {
		return nil, errors.Wrap(err, "load absorption events")
	}

	mc := &domain.MarketContext{
		Symbol:        md.Symbol,
		CurrentPrice:  md.LastPrice,
		OpenPrice:     session.OpenPrice,
		Timestamp:     o.now(),
		DVA:           dva,
		CVA:           cva,
		VWAP:          vwap,
		OrderFlow:     o.freshSignals(signals, md.Timestamp),
		Absorptions:   absorptions,
		RecentBars:    bars,
		OvernightHigh: session.OvernightHigh,
		OvernightLow:  session.OvernightLow,
	}
	if mc.Symbol == "" {
		mc.Symbol = o.cfg.Symbol
	}
	if n := len(sessions); n > 0 {
		mc.PriorDay = &sessions[n-1]
	}

	if atr, err := indicators.ATR(bars, o.cfg.ATRPeriod); err == nil {
		mc.ATR = atr
	} else if !errors.Is(err, indicators.ErrNotEnoughData) {
		o.logger.Warn("atr unavailable", zap.Error(err))
	}

	mc.Regime = o.deps.Regime.Update(o.deps.Profile.CumulativeDelta())
	mc.Migration = migration.Detect(dva, cva)
	at := md.Timestamp
	if at.IsZero() {
		at = o.now()
	}
	mc.Migration.Activity = o.excursion.Observe(md.LastPrice, cva, at)
	mc.ShiftSignals = o.deps.ValueShift.Evaluate(dva, cva, bars, mc.CurrentPrice)
	mc.Hypothesis = hypothesis.Generate(mc)

	if err := o.deps.Store.SetProfile(ctx, *dva); err != nil {
		return nil, errors.Wrap(err, "persist developing profile")
	}
	if err := o.deps.Store.SetHypothesis(ctx, *mc.Hypothesis); err != nil {
		return nil, errors.Wrap(err, "persist hypothesis")
	}

	o.logger.Debug("market context assembled",
		zap.Float64("price", mc.CurrentPrice),
		zap.Float64("dva_vah", dva.VAH),
		zap.Float64("dva_val", dva.VAL),
		zap.Float64("cva_vah", cva.VAH),
		zap.Float64("cva_val", cva.VAL),
		zap.String("regime", string(mc.Regime)),
		zap.String("activity", string(mc.Migration.Activity)),
		zap.String("hypothesis", string(mc.Hypothesis.Condition)),
		zap.Int("shift_signals", len(mc.ShiftSignals)))

	return mc, nil
}

// composite prefers the stored CVA and falls back to merging recent session profiles.
func (o *Orchestrator) composite(ctx context.Context, sessions []domain.VolumeProfile) (*domain.CompositeProfile, error) {
	cva, err := o.deps.Store.GetComposite(ctx)
	if err == nil {
		return cva, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, errors.Wrap(err, "load composite profile")
	}

	profiles := make([]*domain.VolumeProfile, 0, len(sessions))
	for i := range sessions {
		profiles = append(profiles, &sessions[i])
	}
	cva = profile.BuildComposite(profile.LatestSessions(profiles, o.cfg.CompositeSessions), o.cfg.TickSize)
	if cva == nil {
		return nil, errors.Wrap(ErrNoData, "composite profile")
	}
	return cva, nil
}

// freshSignals keeps signals within the lookback of the last quote, so replayed sessions age by market time.
func (o *Orchestrator) freshSignals(signals []domain.OrderFlowSignal, at time.Time) []domain.OrderFlowSignal {
	now := at
	if now.IsZero() {
		now = o.now()
	}
	fresh := signals[:0:0]
	for _, s := range signals {
		if s.Timestamp.IsZero() || now.Sub(s.Timestamp) <= o.cfg.SignalLookback {
			fresh = append(fresh, s)
		}
	}
	return fresh
}

// adjustForOrderFlow boosts confidence by the strongest confirming signal.
// A strong opposing signal vetoes the setup.
func (o *Orchestrator) adjustForOrderFlow(rec domain.TradeRecommendation, signals []domain.OrderFlowSignal) (float64, *domain.OrderFlowSignal) {
	var confirm float64
	for i, s := range signals {
		if s.Opposes(rec.Direction) && s.Confidence > o.cfg.VetoConfidence {
			return rec.Confidence, &signals[i]
		}
		if s.Supports(rec.Direction) && s.Confidence > confirm {
			confirm = s.Confidence
		}
	}

	confidence := rec.Confidence + o.cfg.OrderFlowBoost*confirm
	if confidence > 100 {
		confidence = 100
	}
	return confidence, nil
}

func (o *Orchestrator) newSignal(rec domain.TradeRecommendation, confidence float64) domain.TradeSignal {
	price := func(x float64) decimal.Decimal {
		return decimal.NewFromFloat(x).Round(2)
	}

	return domain.TradeSignal{
		Action:      domain.ActionForDirection(rec.Direction),
		Quantity:    o.cfg.Quantity,
		EntryPrice:  price(rec.Entry),
		StopLoss:    price(rec.Stop),
		Target1:     price(rec.Target1),
		Target2:     price(rec.Target2),
		SetupType:   rec.SetupType,
		Confidence:  confidence,
		Reason:      rec.Reason(),
		GeneratedAt: o.now(),
	}
}

func (o *Orchestrator) missing(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrap(ErrNoData, what)
	}
	return errors.Wrapf(err, "load %s", what)
}

// filterByBias drops setups trading against the hypothesis and sorts the rest by confidence.
func filterByBias(recs []domain.TradeRecommendation, bias domain.Bias) []domain.TradeRecommendation {
	out := make([]domain.TradeRecommendation, 0, len(recs))
	for _, r := range recs {
		if bias == domain.BiasBearish && r.Direction == domain.DirectionLong {
			continue
		}
		if bias == domain.BiasBullish && r.Direction == domain.DirectionShort {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
