package profile

import (
	"math"

	"github.com/vadiminshakov/auction/internal/domain"
)

// DefaultCompositeSessions number of sessions merged into the composite value area.
const DefaultCompositeSessions = 5

// BuildComposite merges session profiles into one composite value area.
// Levels are re-quantized to tick before the value area is recomputed.
// Nil or empty profiles are skipped; nil is returned when nothing remains.
func BuildComposite(profiles []*domain.VolumeProfile, tick float64) *domain.CompositeProfile {
	if tick <= 0 {
		tick = DefaultTickSize
	}

	merged := make(map[int64]*domain.PriceLevel)
	composite := &domain.CompositeProfile{}
	for _, p := range profiles {
		if p == nil || p.TotalVolume <= 0 {
			continue
		}
		composite.Sessions++
		if composite.PeriodStart.IsZero() || p.PeriodStart.Before(composite.PeriodStart) {
			composite.PeriodStart = p.PeriodStart
		}
		if p.PeriodEnd.After(composite.PeriodEnd) {
			composite.PeriodEnd = p.PeriodEnd
		}

		for _, l := range p.Levels {
			k := int64(math.Round(l.Price / tick))
			m, ok := merged[k]
			if !ok {
				m = &domain.PriceLevel{Price: float64(k) * tick}
				merged[k] = m
			}
			m.TotalVolume += l.TotalVolume
			m.BuyVolume += l.BuyVolume
			m.SellVolume += l.SellVolume
			m.Delta = m.BuyVolume - m.SellVolume
		}
	}
	if composite.Sessions == 0 {
		return nil
	}

	levels := make([]domain.PriceLevel, 0, len(merged))
	for _, l := range merged {
		levels = append(levels, *l)
	}
	p := Build(levels)
	if p == nil {
		return nil
	}

	composite.POC = p.POC
	composite.VAH = p.VAH
	composite.VAL = p.VAL
	composite.TotalVolume = p.TotalVolume
	return composite
}

// LatestSessions keeps the n most recent profiles ordered oldest first.
func LatestSessions(profiles []*domain.VolumeProfile, n int) []*domain.VolumeProfile {
	if n <= 0 || len(profiles) <= n {
		return profiles
	}
	return profiles[len(profiles)-n:]
}
