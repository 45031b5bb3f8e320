// Package valueshift detects structural shifts of value from the developing and composite profiles.
package valueshift

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
	"github.com/vadiminshakov/auction/internal/services/migration"
)

const (
	balanceOverlapMin     = 70.0
	momentumCloses        = 3
	balanceConfidence     = 0.7
	buildingFullClearance = 0.5 // share of CVA range at which confidence reaches 1
	pocWindowBars         = 10
	pocMinTests           = 2
	pocMinRate            = 0.67
	pocHistoryCap         = 64
	migrationOverlapMax   = 50.0
	migrationConfidence   = 0.8
	rejectionWindowBars   = 5
	rejectionConfidence   = 0.65
)

type pocTest struct {
	barTime  time.Time
	held     bool
	rejected bool
}

// Detector remembers the previous DVA and recent POC tests between evaluations.
type Detector struct {
	mu       sync.Mutex
	logger   *zap.Logger
	prevDVA  *domain.VolumeProfile
	pocTests []pocTest
	now      func() time.Time
}

// NewDetector creates a detector with empty history.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate runs every condition independently and returns the ones that fired.
// Bars are ordered oldest first.
func (d *Detector) Evaluate(dva *domain.VolumeProfile, cva *domain.CompositeProfile, bars []domain.Bar, price float64) []domain.ShiftSignal {
	if dva == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var signals []domain.ShiftSignal
	add := func(s *domain.ShiftSignal) {
		if s == nil {
			return
		}
		s.DetectedAt = now
		signals = append(signals, *s)
	}

	d.recordPOCTests(dva.POC, bars)
	add(d.pocSignal(dva.POC, bars))

	if cva != nil {
		add(balanceBreakdown(dva, cva, bars, price))
		add(buildingOutsideValue(dva, cva))
		add(d.migrationConfirmed(dva, cva))
		add(valueRejection(cva, bars))
	}

	d.prevDVA = dva
	if len(signals) > 0 {
		d.logger.Debug("value shift signals", zap.Int("count", len(signals)), zap.Float64("price", price))
	}
	return signals
}

// Reset forgets the previous snapshot and POC history.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.prevDVA = nil
	d.pocTests = nil
	d.mu.Unlock()
}

func balanceBreakdown(dva *domain.VolumeProfile, cva *domain.CompositeProfile, bars []domain.Bar, price float64) *domain.ShiftSignal {
	if migration.OverlapPercent(dva.VAL, dva.VAH, cva.VAL, cva.VAH) < balanceOverlapMin {
		return nil
	}

	switch momentum(bars, momentumCloses) {
	case domain.BiasBullish:
		if price <= dva.VAH {
			return nil
		}
		return &domain.ShiftSignal{
			Type:        domain.ShiftBalanceBreakdown,
			Direction:   domain.BiasBullish,
			Confidence:  balanceConfidence,
			KeyLevel:    dva.VAH,
			Implication: "balance resolving higher, buy pullbacks to VAH",
		}
	case domain.BiasBearish:
		if price >= dva.VAL {
			return nil
		}
		return &domain.ShiftSignal{
			Type:        domain.ShiftBalanceBreakdown,
			Direction:   domain.BiasBearish,
			Confidence:  balanceConfidence,
			KeyLevel:    dva.VAL,
			Implication: "balance resolving lower, sell rallies to VAL",
		}
	}
	return nil
}

// momentum reports the direction of n consecutive closes each beyond the previous one.
func momentum(bars []domain.Bar, n int) domain.Bias {
	if len(bars) < n+1 {
		return domain.BiasNeutral
	}
	tail := bars[len(bars)-n-1:]

	up, down := true, true
	for i := 1; i < len(tail); i++ {
		if tail[i].Close <= tail[i-1].Close {
			up = false
		}
		if tail[i].Close >= tail[i-1].Close {
			down = false
		}
	}
	switch {
	case up:
		return domain.BiasBullish
	case down:
		return domain.BiasBearish
	default:
		return domain.BiasNeutral
	}
}

func buildingOutsideValue(dva *domain.VolumeProfile, cva *domain.CompositeProfile) *domain.ShiftSignal {
	full := cva.Range() * buildingFullClearance
	confidence := func(clearance float64) float64 {
		if full <= 0 {
			return 1
		}
		return math.Min(1, clearance/full)
	}

	switch {
	case dva.VAL > cva.VAH:
		return &domain.ShiftSignal{
			Type:        domain.ShiftBuildingAbove,
			Direction:   domain.BiasBullish,
			Confidence:  confidence(dva.VAL - cva.VAH),
			KeyLevel:    cva.VAH,
			Implication: "value building above composite, old VAH is support",
		}
	case dva.VAH < cva.VAL:
		return &domain.ShiftSignal{
			Type:        domain.ShiftBuildingBelow,
			Direction:   domain.BiasBearish,
			Confidence:  confidence(cva.VAL - dva.VAH),
			KeyLevel:    cva.VAL,
			Implication: "value building below composite, old VAL is resistance",
		}
	}
	return nil
}

// recordPOCTests appends tests from the last bars, one per bar time.
func (d *Detector) recordPOCTests(poc float64, bars []domain.Bar) {
	seen := make(map[time.Time]struct{}, len(d.pocTests))
	for _, t := range d.pocTests {
		seen[t.barTime] = struct{}{}
	}

	for _, b := range lastBars(bars, pocWindowBars) {
		if _, ok := seen[b.OpenTime]; ok {
			continue
		}
		if b.Low > poc || b.High < poc {
			continue
		}
		d.pocTests = append(d.pocTests, pocTest{
			barTime:  b.OpenTime,
			held:     b.Close > poc,
			rejected: b.Close < poc,
		})
	}

	if len(d.pocTests) > pocHistoryCap {
		d.pocTests = d.pocTests[len(d.pocTests)-pocHistoryCap:]
	}
}

func (d *Detector) pocSignal(poc float64, bars []domain.Bar) *domain.ShiftSignal {
	window := lastBars(bars, pocWindowBars)
	if len(window) == 0 {
		return nil
	}
	since := window[0].OpenTime

	var tests, held, rejected int
	for _, t := range d.pocTests {
		if t.barTime.Before(since) {
			continue
		}
		tests++
		if t.held {
			held++
		}
		if t.rejected {
			rejected++
		}
	}
	if tests < pocMinTests {
		return nil
	}

	holdRate := float64(held) / float64(tests)
	rejectRate := float64(rejected) / float64(tests)
	switch {
	case holdRate >= pocMinRate:
		return &domain.ShiftSignal{
			Type:        domain.ShiftPOCSupport,
			Direction:   domain.BiasBullish,
			Confidence:  holdRate,
			KeyLevel:    poc,
			Implication: "POC holding as support, look for longs on retest",
		}
	case rejectRate >= pocMinRate:
		return &domain.ShiftSignal{
			Type:        domain.ShiftPOCResistance,
			Direction:   domain.BiasBearish,
			Confidence:  rejectRate,
			KeyLevel:    poc,
			Implication: "POC acting as resistance, look for shorts on retest",
		}
	}
	return nil
}

func (d *Detector) migrationConfirmed(dva *domain.VolumeProfile, cva *domain.CompositeProfile) *domain.ShiftSignal {
	if d.prevDVA == nil {
		return nil
	}
	if migration.OverlapPercent(dva.VAL, dva.VAH, cva.VAL, cva.VAH) >= migrationOverlapMax {
		return nil
	}

	distance := dva.POC - cva.POC
	if math.Abs(distance) <= math.Abs(d.prevDVA.POC-cva.POC) {
		return nil
	}

	s := &domain.ShiftSignal{
		Type:       domain.ShiftMigrationConfirmed,
		Confidence: migrationConfidence,
		KeyLevel:   cva.POC,
	}
	if distance > 0 {
		s.Direction = domain.BiasBullish
		s.Implication = "value migrating higher, trade with the move"
	} else {
		s.Direction = domain.BiasBearish
		s.Implication = "value migrating lower, trade with the move"
	}
	return s
}

func valueRejection(cva *domain.CompositeProfile, bars []domain.Bar) *domain.ShiftSignal {
	window := lastBars(bars, rejectionWindowBars)
	if len(window) == 0 {
		return nil
	}
	last := window[len(window)-1].Close

	var side domain.Bias
	switch {
	case last > cva.VAH:
		side = domain.BiasBullish
	case last < cva.VAL:
		side = domain.BiasBearish
	default:
		return nil
	}

	for _, b := range window {
		entered := b.Low <= cva.VAH && b.High >= cva.VAL
		if !entered {
			continue
		}
		if side == domain.BiasBullish {
			return &domain.ShiftSignal{
				Type:        domain.ShiftValueRejection,
				Direction:   domain.BiasBullish,
				Confidence:  rejectionConfidence,
				KeyLevel:    cva.VAH,
				Implication: "probe into value rejected, buyers defending VAH",
			}
		}
		return &domain.ShiftSignal{
			Type:        domain.ShiftValueRejection,
			Direction:   domain.BiasBearish,
			Confidence:  rejectionConfidence,
			KeyLevel:    cva.VAL,
			Implication: "probe into value rejected, sellers defending VAL",
		}
	}
	return nil
}

func lastBars(bars []domain.Bar, n int) []domain.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}
