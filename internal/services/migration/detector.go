// Package migration classifies drift of the developing value area against the composite.
package migration

import (
	"math"
	"time"

	"github.com/vadiminshakov/auction/internal/domain"
)

const (
	overlappingAbove      = 50.0
	neutralOverlapAbove   = 70.0
	compressionRatio      = 0.5
	separationStrengthMin = 60.0
	separationScale       = 80.0
	breakoutStrength      = 50.0
	transitioningStrength = 40.0

	// InitiativeAfter time outside value after which activity counts as initiative.
	InitiativeAfter = 30 * time.Minute
)

// Detect compares the developing value area against the composite one.
// It returns nil when either side is missing.
func Detect(dva *domain.VolumeProfile, cva *domain.CompositeProfile) *domain.ValueMigration {
	if dva == nil || cva == nil {
		return nil
	}

	m := &domain.ValueMigration{
		DVAHigh: dva.VAH,
		DVALow:  dva.VAL,
		DVAPOC:  dva.POC,
		CVAHigh: cva.VAH,
		CVALow:  cva.VAL,
		CVAPOC:  cva.POC,
	}
	m.OverlapPercent = OverlapPercent(dva.VAL, dva.VAH, cva.VAL, cva.VAH)
	m.Position = position(m)

	cvaRange := cva.Range()
	switch {
	case dva.VAL > cva.VAH:
		m.Type = domain.MigrationBullish
		m.Direction = domain.BiasBullish
		m.Strength = separationStrength(dva.VAL-cva.VAH, cvaRange)
	case dva.VAH < cva.VAL:
		m.Type = domain.MigrationBearish
		m.Direction = domain.BiasBearish
		m.Strength = separationStrength(cva.VAL-dva.VAH, cvaRange)
	case m.OverlapPercent > neutralOverlapAbove:
		m.Type = domain.MigrationNeutralOverlap
		m.Direction = domain.BiasNeutral
		m.Strength = 100 - m.OverlapPercent
	case cvaRange > 0 && dva.Range() < cvaRange*compressionRatio:
		m.Type = domain.MigrationBreakoutPending
		m.Direction = domain.BiasNeutral
		m.Strength = breakoutStrength
	default:
		m.Type = domain.MigrationTransitioning
		m.Strength = transitioningStrength
		switch {
		case dva.POC > cva.POC:
			m.Direction = domain.BiasBullish
		case dva.POC < cva.POC:
			m.Direction = domain.BiasBearish
		default:
			m.Direction = domain.BiasNeutral
		}
	}

	return m
}

// OverlapPercent share of the DVA range covered by the CVA range, 0..100.
// A zero-height DVA counts as fully overlapping when it sits inside the CVA.
func OverlapPercent(dvaLow, dvaHigh, cvaLow, cvaHigh float64) float64 {
	dvaRange := dvaHigh - dvaLow
	if dvaRange <= 0 {
		if dvaLow >= cvaLow && dvaHigh <= cvaHigh {
			return 100
		}
		return 0
	}

	intersection := math.Min(dvaHigh, cvaHigh) - math.Max(dvaLow, cvaLow)
	if intersection <= 0 {
		return 0
	}
	return math.Min(100, intersection/dvaRange*100)
}

// ClassifyExcursion labels trade outside value by how long price has stayed there.
func ClassifyExcursion(outsideFor time.Duration) domain.ActivityType {
	if outsideFor > InitiativeAfter {
		return domain.ActivityInitiative
	}
	return domain.ActivityResponsive
}

// Excursion tracks how long price has traded outside the composite value area.
// The zero value is ready to use; it is not safe for concurrent use.
type Excursion struct {
	since time.Time
}

// Observe records price at the given time and classifies the activity.
// It returns an empty type while price is inside value or no composite is known.
func (e *Excursion) Observe(price float64, cva *domain.CompositeProfile, at time.Time) domain.ActivityType {
	if cva == nil || (price >= cva.VAL && price <= cva.VAH) {
		e.since = time.Time{}
		return ""
	}
	if e.since.IsZero() || at.Before(e.since) {
		e.since = at
	}
	return ClassifyExcursion(at.Sub(e.since))
}

func position(m *domain.ValueMigration) domain.ValuePosition {
	switch {
	case m.OverlapPercent > overlappingAbove:
		return domain.ValueOverlapping
	case m.DVAHigh > m.CVAHigh:
		return domain.ValueAbove
	default:
		return domain.ValueBelow
	}
}

func separationStrength(separation, cvaRange float64) float64 {
	if cvaRange <= 0 {
		return 100
	}
	s := separationStrengthMin + separationScale*separation/cvaRange
	return math.Max(separationStrengthMin, math.Min(100, s))
}
