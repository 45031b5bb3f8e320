// Package setup turns a market context into priced trade recommendations.
package setup

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
)

// ErrDetectorNotImplemented is returned by detectors that exist only as placeholders.
var ErrDetectorNotImplemented = errors.New("setup detector not implemented")

// Outcome result of running one detector.
type Outcome string

const (
	OutcomeFound          Outcome = "FOUND"
	OutcomeNone           Outcome = "NONE"
	OutcomeNotImplemented Outcome = "NOT_IMPLEMENTED"
)

const (
	DefaultLevelTolerance = 2.0
	DefaultStopBuffer     = 2.0
	DefaultDedupBand      = 0.25
	DefaultExpiry         = time.Hour

	atrToleranceShare = 0.25
)

// Config tunes level proximity and bookkeeping.
type Config struct {
	// LevelTolerance how close price must be to a level, in points.
	LevelTolerance float64
	// StopBuffer distance beyond the faded level for the stop.
	StopBuffer float64
	DedupBand  float64
	Expiry     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LevelTolerance: DefaultLevelTolerance,
		StopBuffer:     DefaultStopBuffer,
		DedupBand:      DefaultDedupBand,
		Expiry:         DefaultExpiry,
	}
}

// DetectorResult outcome of one detector for one context.
type DetectorResult struct {
	Detector       string
	Outcome        Outcome
	Recommendation *domain.TradeRecommendation
}

type detectFunc func(mc *domain.MarketContext, p params) (*domain.TradeRecommendation, error)

type detector struct {
	name string
	fn   detectFunc
}

// params derived per call from config and context.
type params struct {
	tolerance  float64
	stopBuffer float64
}

// Recognizer owns the list of recommendations and keeps it deduplicated.
type Recognizer struct {
	mu        sync.Mutex
	logger    *zap.Logger
	cfg       Config
	recs      []*domain.TradeRecommendation
	detectors []detector
	now       func() time.Time
}

// NewRecognizer creates a recognizer. Zero config fields fall back to defaults.
func NewRecognizer(logger *zap.Logger, cfg Config) *Recognizer {
	def := DefaultConfig()
	if cfg.LevelTolerance <= 0 {
		cfg.LevelTolerance = def.LevelTolerance
	}
	if cfg.StopBuffer <= 0 {
		cfg.StopBuffer = def.StopBuffer
	}
	if cfg.DedupBand <= 0 {
		cfg.DedupBand = def.DedupBand
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = def.Expiry
	}

	return &Recognizer{
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		detectors: []detector{
			{name: "va_fade", fn: detectValueAreaFade},
			{name: "va_breakout", fn: detectValueAreaBreakout},
			{name: "vwap_bounce", fn: detectVWAPBounce},
			{name: "eighty_percent_rule", fn: detectEightyPercentRule},
			{name: "opening_drive", fn: detectOpeningDrive},
		},
	}
}

// Detect runs every detector without touching the stored recommendations.
func (r *Recognizer) Detect(mc *domain.MarketContext) []DetectorResult {
	if mc == nil {
		return nil
	}
	p := params{
		tolerance:  math.Max(r.cfg.LevelTolerance, mc.ATR*atrToleranceShare),
		stopBuffer: r.cfg.StopBuffer,
	}
	now := r.now()

	results := make([]DetectorResult, 0, len(r.detectors))
	for _, d := range r.detectors {
		rec, err := d.fn(mc, p)
		switch {
		case errors.Is(err, ErrDetectorNotImplemented):
			results = append(results, DetectorResult{Detector: d.name, Outcome: OutcomeNotImplemented})
		case err != nil:
			r.logger.Warn("setup detector failed", zap.String("detector", d.name), zap.Error(err))
			results = append(results, DetectorResult{Detector: d.name, Outcome: OutcomeNone})
		case rec == nil:
			results = append(results, DetectorResult{Detector: d.name, Outcome: OutcomeNone})
		default:
			rec.ID = uuid.New().String()
			rec.CreatedAt = now
			rec.Active = true
			if risk := rec.Risk(); risk > 0 {
				rec.RiskReward = math.Abs(rec.Target1-rec.Entry) / risk
			}
			results = append(results, DetectorResult{Detector: d.name, Outcome: OutcomeFound, Recommendation: rec})
		}
	}
	return results
}

// GenerateRecommendations detects setups, stores the ones that are not duplicates,
// sweeps expired entries and invalidates against the current price.
// It returns this cycle's findings that are still active, highest confidence first.
func (r *Recognizer) GenerateRecommendations(mc *domain.MarketContext) []domain.TradeRecommendation {
	if mc == nil {
		return nil
	}
	results := r.Detect(mc)

	r.mu.Lock()
	defer r.mu.Unlock()

	var found []*domain.TradeRecommendation
	for _, res := range results {
		if res.Outcome != OutcomeFound {
			continue
		}
		if existing := r.duplicateOf(res.Recommendation); existing != nil {
			found = append(found, existing)
			continue
		}
		r.recs = append(r.recs, res.Recommendation)
		found = append(found, res.Recommendation)
		r.logger.Info("new recommendation",
			zap.String("setup", string(res.Recommendation.SetupType)),
			zap.String("direction", string(res.Recommendation.Direction)),
			zap.Float64("entry", res.Recommendation.Entry),
			zap.Float64("stop", res.Recommendation.Stop),
			zap.Float64("confidence", res.Recommendation.Confidence))
	}

	r.sweep()
	r.invalidate(mc.CurrentPrice)

	out := make([]domain.TradeRecommendation, 0, len(found))
	for _, rec := range found {
		if rec.Active {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// ActiveRecommendations returns copies of all active entries.
func (r *Recognizer) ActiveRecommendations() []domain.TradeRecommendation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.TradeRecommendation, 0, len(r.recs))
	for _, rec := range r.recs {
		if rec.Active {
			out = append(out, *rec)
		}
	}
	return out
}

// Clear drops every stored recommendation.
func (r *Recognizer) Clear() {
	r.mu.Lock()
	r.recs = nil
	r.mu.Unlock()
}

func (r *Recognizer) duplicateOf(rec *domain.TradeRecommendation) *domain.TradeRecommendation {
	for _, existing := range r.recs {
		if !existing.Active || existing.SetupType != rec.SetupType || existing.Direction != rec.Direction {
			continue
		}
		if math.Abs(existing.Entry-rec.Entry) <= r.cfg.DedupBand {
			return existing
		}
	}
	return nil
}

func (r *Recognizer) sweep() {
	cutoff := r.now().Add(-r.cfg.Expiry)
	kept := r.recs[:0]
	for _, rec := range r.recs {
		if rec.CreatedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	for i := len(kept); i < len(r.recs); i++ {
		r.recs[i] = nil
	}
	r.recs = kept
}

func (r *Recognizer) invalidate(price float64) {
	if price <= 0 {
		return
	}
	for _, rec := range r.recs {
		if rec.Active && rec.Invalidated(price) {
			rec.Active = false
			r.logger.Debug("recommendation invalidated",
				zap.String("id", rec.ID),
				zap.String("setup", string(rec.SetupType)),
				zap.Float64("price", price))
		}
	}
}
