package setup

import (
	"fmt"
	"math"

	"github.com/vadiminshakov/auction/internal/domain"
)

const (
	fadeBaseConfidence      = 60.0
	fadeSignalWeight        = 25.0
	breakoutConfidence      = 70.0
	breakoutCompositeBonus  = 10.0
	breakoutTarget1R        = 1.5
	breakoutTarget2R        = 3.0
	bounceBaseConfidence    = 65.0
	bounceAbsorptionBonus   = 5.0
	bounceAgainstRegimeCost = 10.0
	maxConfidence           = 100.0
)

var (
	fadeSignals     = []domain.OrderFlowSignalType{domain.SignalExhaustion, domain.SignalLackOfParticipation}
	breakoutSignals = []domain.OrderFlowSignalType{domain.SignalInitiativeBuying, domain.SignalInitiativeSelling, domain.SignalImbalance}
	bounceSignals   = []domain.OrderFlowSignalType{domain.SignalAbsorption, domain.SignalResponsiveBuying, domain.SignalResponsiveSelling}
)

func near(price, level, tolerance float64) bool {
	return level > 0 && math.Abs(price-level) <= tolerance
}

// detectValueAreaFade looks for exhaustion at a DVA edge and targets a rotation back to POC.
func detectValueAreaFade(mc *domain.MarketContext, p params) (*domain.TradeRecommendation, error) {
	dva := mc.DVA
	if dva == nil || mc.CurrentPrice <= 0 {
		return nil, nil
	}
	price := mc.CurrentPrice

	if near(price, dva.VAL, p.tolerance) {
		sig, ok := mc.StrongestSignal(domain.DirectionLong, fadeSignals...)
		if !ok || dva.POC <= price {
			return nil, nil
		}
		target2 := dva.VAH
		if mc.VWAP != nil && mc.VWAP.VWAP > dva.POC {
			target2 = mc.VWAP.VWAP
		}
		return &domain.TradeRecommendation{
			SetupType:  domain.SetupVAFadeLong,
			Direction:  domain.DirectionLong,
			Entry:      price,
			Stop:       dva.VAL - p.stopBuffer,
			Target1:    dva.POC,
			Target2:    target2,
			Confidence: math.Min(maxConfidence, fadeBaseConfidence+fadeSignalWeight*sig.Confidence),
			Reasons: []string{
				fmt.Sprintf("price %.2f at DVA VAL %.2f", price, dva.VAL),
				fmt.Sprintf("%s from sellers", sig.Type),
			},
		}, nil
	}

	if near(price, dva.VAH, p.tolerance) {
		sig, ok := mc.StrongestSignal(domain.DirectionShort, fadeSignals...)
		if !ok || dva.POC >= price {
			return nil, nil
		}
		target2 := dva.VAL
		if mc.VWAP != nil && mc.VWAP.VWAP > 0 && mc.VWAP.VWAP < dva.POC {
			target2 = mc.VWAP.VWAP
		}
		return &domain.TradeRecommendation{
			SetupType:  domain.SetupVAFadeShort,
			Direction:  domain.DirectionShort,
			Entry:      price,
			Stop:       dva.VAH + p.stopBuffer,
			Target1:    dva.POC,
			Target2:    target2,
			Confidence: math.Min(maxConfidence, fadeBaseConfidence+fadeSignalWeight*sig.Confidence),
			Reasons: []string{
				fmt.Sprintf("price %.2f at DVA VAH %.2f", price, dva.VAH),
				fmt.Sprintf("%s from buyers", sig.Type),
			},
		}, nil
	}

	return nil, nil
}

// detectValueAreaBreakout looks for initiative flow carrying price out of the DVA.
// The broken edge is the stop; targets are 1.5R and 3R.
func detectValueAreaBreakout(mc *domain.MarketContext, p params) (*domain.TradeRecommendation, error) {
	dva := mc.DVA
	if dva == nil || mc.CurrentPrice <= 0 {
		return nil, nil
	}
	price := mc.CurrentPrice

	var (
		dir       domain.Direction
		setupType domain.SetupType
		edge      float64
	)
	switch {
	case price-dva.VAH >= p.tolerance:
		dir, setupType, edge = domain.DirectionLong, domain.SetupVABreakoutLong, dva.VAH
	case dva.VAL-price >= p.tolerance:
		dir, setupType, edge = domain.DirectionShort, domain.SetupVABreakoutShort, dva.VAL
	default:
		return nil, nil
	}

	sig, ok := mc.StrongestSignal(dir, breakoutSignals...)
	if !ok {
		return nil, nil
	}

	risk := math.Abs(price - edge)
	sign := 1.0
	if dir == domain.DirectionShort {
		sign = -1
	}

	rec := &domain.TradeRecommendation{
		SetupType:  setupType,
		Direction:  dir,
		Entry:      price,
		Stop:       edge,
		Target1:    price + sign*breakoutTarget1R*risk,
		Target2:    price + sign*breakoutTarget2R*risk,
		Confidence: breakoutConfidence,
		Reasons: []string{
			fmt.Sprintf("price %.2f cleared DVA edge %.2f", price, edge),
			fmt.Sprintf("%s confirms", sig.Type),
		},
	}

	if cva := mc.CVA; cva != nil {
		beyond := (dir == domain.DirectionLong && price > cva.VAH) || (dir == domain.DirectionShort && price < cva.VAL)
		if beyond {
			rec.Confidence += breakoutCompositeBonus
			rec.Reasons = append(rec.Reasons, "break also clears the composite value area")
		}
	}

	return rec, nil
}

// detectVWAPBounce looks for responsive activity at the first deviation band.
func detectVWAPBounce(mc *domain.MarketContext, p params) (*domain.TradeRecommendation, error) {
	v := mc.VWAP
	if !v.Complete() || mc.CurrentPrice <= 0 {
		return nil, nil
	}
	price := mc.CurrentPrice

	var rec *domain.TradeRecommendation
	switch {
	case near(price, v.Lower1, p.tolerance):
		if !mc.HasSignal(domain.DirectionLong, bounceSignals...) {
			return nil, nil
		}
		rec = &domain.TradeRecommendation{
			SetupType:  domain.SetupVWAPBounceLong,
			Direction:  domain.DirectionLong,
			Entry:      price,
			Stop:       v.Lower2,
			Target1:    v.VWAP,
			Target2:    v.Upper1,
			Confidence: bounceBaseConfidence,
			Reasons:    []string{fmt.Sprintf("price %.2f at VWAP -1SD %.2f with responsive buying", price, v.Lower1)},
		}
		if absorbedNear(mc.Absorptions, domain.SideSell, price, p.tolerance) {
			rec.Confidence += bounceAbsorptionBonus
			rec.Reasons = append(rec.Reasons, "sell aggression absorbed at the band")
		}
		if mc.Regime == domain.RegimeDirectionalBearish {
			rec.Confidence -= bounceAgainstRegimeCost
		}
	case near(price, v.Upper1, p.tolerance):
		if !mc.HasSignal(domain.DirectionShort, bounceSignals...) {
			return nil, nil
		}
		rec = &domain.TradeRecommendation{
			SetupType:  domain.SetupVWAPBounceShort,
			Direction:  domain.DirectionShort,
			Entry:      price,
			Stop:       v.Upper2,
			Target1:    v.VWAP,
			Target2:    v.Lower1,
			Confidence: bounceBaseConfidence,
			Reasons:    []string{fmt.Sprintf("price %.2f at VWAP +1SD %.2f with responsive selling", price, v.Upper1)},
		}
		if absorbedNear(mc.Absorptions, domain.SideBuy, price, p.tolerance) {
			rec.Confidence += bounceAbsorptionBonus
			rec.Reasons = append(rec.Reasons, "buy aggression absorbed at the band")
		}
		if mc.Regime == domain.RegimeDirectionalBullish {
			rec.Confidence -= bounceAgainstRegimeCost
		}
	}

	return rec, nil
}

func absorbedNear(events []domain.AbsorptionEvent, side domain.Side, price, tolerance float64) bool {
	for _, e := range events {
		if e.Side == side && math.Abs(e.Price-price) <= tolerance {
			return true
		}
	}
	return false
}

func detectEightyPercentRule(*domain.MarketContext, params) (*domain.TradeRecommendation, error) {
	return nil, ErrDetectorNotImplemented
}

func detectOpeningDrive(*domain.MarketContext, params) (*domain.TradeRecommendation, error) {
	return nil, ErrDetectorNotImplemented
}
