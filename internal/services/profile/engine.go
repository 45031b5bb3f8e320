// Package profile builds per-price volume histograms and derives POC, value area and shape.
package profile

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/auction/internal/domain"
)

const (
	// DefaultTickSize minimum price increment of the instrument.
	DefaultTickSize = 0.25

	valueAreaShare     = 0.70
	hvnMultiplier      = 1.5
	lvnMultiplier      = 0.5
	peakShareOfMax     = 0.5
	minLevelsForShape  = 3
	volumeEpsilonShare = 1e-9

	// MaxCandleTicks widest bar range, in ticks, AddCandle spreads volume over.
	MaxCandleTicks = 4000
)

var (
	ErrInvalidCandle = errors.New("invalid candle")
	ErrCandleTooWide = errors.New("candle range too wide")
)

// Engine accumulates traded volume per tick for one session.
type Engine struct {
	mu     sync.RWMutex
	tick   float64
	levels map[int64]*domain.PriceLevel
}

// NewEngine creates an empty engine. Non-positive tick falls back to DefaultTickSize.
func NewEngine(tick float64) *Engine {
	if tick <= 0 {
		tick = DefaultTickSize
	}
	return &Engine{
		tick:   tick,
		levels: make(map[int64]*domain.PriceLevel),
	}
}

// TickSize returns the quantization step.
func (e *Engine) TickSize() float64 {
	return e.tick
}

// AddTransaction accumulates a single print into the nearest tick.
func (e *Engine) AddTransaction(price, volume float64, side domain.Side) {
	if volume <= 0 || price <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.add(e.key(price), volume, side)
}

// AddCandle spreads the bar's buy and sell volume evenly across every tick of its range.
// It does not reconstruct intrabar sequencing. Bars wider than MaxCandleTicks are refused
// before anything is allocated; a bar without volume is a no-op.
func (e *Engine) AddCandle(bar domain.Bar) error {
	if bar.High < bar.Low || bar.Low <= 0 {
		return errors.Wrapf(ErrInvalidCandle, "low %v high %v", bar.Low, bar.High)
	}
	span := (bar.High - bar.Low) / e.tick
	// the negated form also refuses NaN and infinite ranges
	if !(span <= MaxCandleTicks) {
		return errors.Wrapf(ErrCandleTooWide, "%v ticks from %v to %v", span, bar.Low, bar.High)
	}

	buy, sell := bar.BuyVolume, bar.SellVolume
	if buy+sell <= 0 {
		buy, sell = bar.Volume/2, bar.Volume/2
	}
	if buy+sell <= 0 {
		return nil
	}

	n := int(math.Floor(span+volumeEpsilonShare)) + 1
	buyPerLevel := buy / float64(n)
	sellPerLevel := sell / float64(n)

	e.mu.Lock()
	defer e.mu.Unlock()

	low := e.key(bar.Low)
	for i := 0; i < n; i++ {
		k := low + int64(i)
		if buyPerLevel > 0 {
			e.add(k, buyPerLevel, domain.SideBuy)
		}
		if sellPerLevel > 0 {
			e.add(k, sellPerLevel, domain.SideSell)
		}
	}
	return nil
}

// GetProfile returns the current profile labelled with the given period, or nil when no volume was seen.
func (e *Engine) GetProfile(periodStart, periodEnd time.Time) *domain.VolumeProfile {
	p := Build(e.Levels())
	if p == nil {
		return nil
	}
	p.PeriodStart = periodStart
	p.PeriodEnd = periodEnd
	return p
}

// Levels returns a copy of the accumulated levels, price descending.
func (e *Engine) Levels() []domain.PriceLevel {
	e.mu.RLock()
	levels := make([]domain.PriceLevel, 0, len(e.levels))
	for _, l := range e.levels {
		levels = append(levels, *l)
	}
	e.mu.RUnlock()

	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}

// CumulativeDelta returns buy minus sell volume over all levels.
func (e *Engine) CumulativeDelta() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var delta float64
	for _, l := range e.levels {
		delta += l.Delta
	}
	return delta
}

// Clear resets the engine for a new session.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.levels = make(map[int64]*domain.PriceLevel)
}

func (e *Engine) key(price float64) int64 {
	return int64(math.Round(price / e.tick))
}

func (e *Engine) add(k int64, volume float64, side domain.Side) {
	l, ok := e.levels[k]
	if !ok {
		l = &domain.PriceLevel{Price: float64(k) * e.tick}
		e.levels[k] = l
	}
	l.TotalVolume += volume
	switch side {
	case domain.SideBuy:
		l.BuyVolume += volume
	case domain.SideSell:
		l.SellVolume += volume
	}
	l.Delta = l.BuyVolume - l.SellVolume
}

// Build derives a profile from unordered levels. It returns nil when there is no volume.
func Build(levels []domain.PriceLevel) *domain.VolumeProfile {
	sorted := make([]domain.PriceLevel, 0, len(levels))
	var total float64
	for _, l := range levels {
		if l.TotalVolume <= 0 {
			continue
		}
		sorted = append(sorted, l)
		total += l.TotalVolume
	}
	if len(sorted) == 0 || total <= 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price > sorted[j].Price })

	poc := pocIndex(sorted)
	hi, lo, vaVolume := valueArea(sorted, poc, total)
	hvn, lvn := volumeNodes(sorted, total)

	return &domain.VolumeProfile{
		Levels:          sorted,
		POC:             sorted[poc].Price,
		VAH:             sorted[hi].Price,
		VAL:             sorted[lo].Price,
		TotalVolume:     total,
		ValueAreaVolume: vaVolume,
		Shape:           classifyShape(sorted, poc),
		HVN:             hvn,
		LVN:             lvn,
	}
}

// pocIndex scans from the highest price; the first maximum wins.
func pocIndex(levels []domain.PriceLevel) int {
	poc := 0
	for i := 1; i < len(levels); i++ {
		if levels[i].TotalVolume > levels[poc].TotalVolume {
			poc = i
		}
	}
	return poc
}

// valueArea expands one level at a time from the POC towards the heavier neighbour
// until at least 70% of volume is enclosed. The upper side wins ties.
// Returned indexes refer to levels sorted by price descending.
func valueArea(levels []domain.PriceLevel, poc int, total float64) (hi, lo int, volume float64) {
	hi, lo = poc, poc
	volume = levels[poc].TotalVolume
	target := total*valueAreaShare - total*volumeEpsilonShare

	for volume < target && (hi > 0 || lo < len(levels)-1) {
		up, down := -1.0, -1.0
		if hi > 0 {
			up = levels[hi-1].TotalVolume
		}
		if lo < len(levels)-1 {
			down = levels[lo+1].TotalVolume
		}

		if up >= down {
			hi--
			volume += up
		} else {
			lo++
			volume += down
		}
	}

	return hi, lo, volume
}

func classifyShape(levels []domain.PriceLevel, poc int) domain.ProfileShape {
	n := len(levels)
	if n < minLevelsForShape {
		return domain.ShapeD
	}

	switch {
	case float64(poc) < float64(n)/3:
		return domain.ShapeP
	case float64(poc) >= 2*float64(n)/3:
		return domain.ShapeB
	case countPeaks(levels) >= 2:
		return domain.ShapeDouble
	default:
		return domain.ShapeD
	}
}

// countPeaks counts local maxima holding at least half of the global max.
// A run of equal volumes is one candidate, a peak when both neighbours of the run are lower.
func countPeaks(levels []domain.PriceLevel) int {
	max := 0.0
	for _, l := range levels {
		if l.TotalVolume > max {
			max = l.TotalVolume
		}
	}

	peaks := 0
	for i := 0; i < len(levels); {
		v := levels[i].TotalVolume
		j := i
		for j+1 < len(levels) && levels[j+1].TotalVolume == v {
			j++
		}

		if v >= max*peakShareOfMax &&
			(i == 0 || levels[i-1].TotalVolume < v) &&
			(j == len(levels)-1 || levels[j+1].TotalVolume < v) {
			peaks++
		}
		i = j + 1
	}
	return peaks
}

func volumeNodes(levels []domain.PriceLevel, total float64) (hvn, lvn []float64) {
	mean := total / float64(len(levels))
	hvn, lvn = []float64{}, []float64{}
	for _, l := range levels {
		switch {
		case l.TotalVolume >= mean*hvnMultiplier:
			hvn = append(hvn, l.Price)
		case l.TotalVolume <= mean*lvnMultiplier:
			lvn = append(lvn, l.Price)
		}
	}
	return hvn, lvn
}
