// Package hypothesis classifies the trading day from value area geometry.
package hypothesis

import (
	"fmt"

	"github.com/vadiminshakov/auction/internal/domain"
)

const (
	confidenceOpeningDrive = 75.0
	confidenceBreakout     = 60.0
	confidenceTrend        = 85.0
	confidenceBalance      = 70.0

	overnightCompression = 0.5
)

// Generate picks one market condition for the session. Priority: open outside the
// composite, compressed overnight range, agreeing prior-day and migration bias, balance.
// A missing composite yields an UNKNOWN hypothesis with zero confidence.
func Generate(mc *domain.MarketContext) *domain.DailyHypothesis {
	h := &domain.DailyHypothesis{
		Condition: domain.ConditionUnknown,
		Bias:      domain.BiasNeutral,
	}
	if mc == nil {
		return h
	}
	h.GeneratedAt = mc.Timestamp

	cva := mc.CVA
	if cva == nil {
		h.Plan = []string{"composite value area unavailable, stand aside"}
		return h
	}
	h.KeyLevels = keyLevels(cva, mc.VWAP)

	switch {
	case mc.OpenPrice > 0 && mc.OpenPrice > cva.VAH:
		h.Condition = domain.ConditionOpeningDrive
		h.Bias = domain.BiasBullish
		h.Confidence = confidenceOpeningDrive
		h.Plan = []string{
			fmt.Sprintf("open %.2f above composite VAH %.2f, look for drive continuation", mc.OpenPrice, cva.VAH),
			fmt.Sprintf("80%% rule: acceptance back inside value for two periods targets VAL %.2f", cva.VAL),
			fmt.Sprintf("hold above %.2f keeps longs toward %.2f", cva.VAH, h.KeyLevels.UpsideTarget),
		}
	case mc.OpenPrice > 0 && mc.OpenPrice < cva.VAL:
		h.Condition = domain.ConditionOpeningDrive
		h.Bias = domain.BiasBearish
		h.Confidence = confidenceOpeningDrive
		h.Plan = []string{
			fmt.Sprintf("open %.2f below composite VAL %.2f, look for drive continuation", mc.OpenPrice, cva.VAL),
			fmt.Sprintf("80%% rule: acceptance back inside value for two periods targets VAH %.2f", cva.VAH),
			fmt.Sprintf("hold below %.2f keeps shorts toward %.2f", cva.VAL, h.KeyLevels.DownsideTarget),
		}
	case overnightCompressed(mc, cva):
		h.Condition = domain.ConditionBreakoutPending
		h.Confidence = confidenceBreakout
		h.Plan = []string{
			fmt.Sprintf("overnight range %.2f is tight against composite range %.2f", mc.OvernightHigh-mc.OvernightLow, cva.Range()),
			fmt.Sprintf("trade the break of %.2f or %.2f with initiative flow", cva.VAH, cva.VAL),
		}
	default:
		yesterday := PriorDayBias(mc.PriorDay, cva)
		migrationBias := mc.Migration.Bias()
		switch {
		case yesterday == domain.BiasBullish && migrationBias == domain.BiasBullish:
			h.Condition = domain.ConditionTrendUp
			h.Bias = domain.BiasBullish
			h.Confidence = confidenceTrend
			h.Plan = []string{
				"prior session and value migration both higher",
				fmt.Sprintf("buy pullbacks toward pivot %.2f, target %.2f", h.KeyLevels.Pivot, h.KeyLevels.UpsideTarget),
			}
		case yesterday == domain.BiasBearish && migrationBias == domain.BiasBearish:
			h.Condition = domain.ConditionTrendDown
			h.Bias = domain.BiasBearish
			h.Confidence = confidenceTrend
			h.Plan = []string{
				"prior session and value migration both lower",
				fmt.Sprintf("sell rallies toward pivot %.2f, target %.2f", h.KeyLevels.Pivot, h.KeyLevels.DownsideTarget),
			}
		default:
			h.Condition = domain.ConditionBalance
			h.Confidence = confidenceBalance
			h.Plan = []string{
				fmt.Sprintf("fade the edges: sell near %.2f, buy near %.2f", cva.VAH, cva.VAL),
				fmt.Sprintf("POC %.2f is the rotation magnet", cva.POC),
			}
		}
	}

	return h
}

// PriorDayBias compares the prior session's value against the composite.
func PriorDayBias(prior *domain.VolumeProfile, cva *domain.CompositeProfile) domain.Bias {
	if prior == nil || cva == nil {
		return domain.BiasNeutral
	}
	switch {
	case prior.POC > cva.POC && prior.VAH > cva.VAH:
		return domain.BiasBullish
	case prior.POC < cva.POC && prior.VAL < cva.VAL:
		return domain.BiasBearish
	default:
		return domain.BiasNeutral
	}
}

func overnightCompressed(mc *domain.MarketContext, cva *domain.CompositeProfile) bool {
	if mc.OvernightHigh <= 0 || mc.OvernightLow <= 0 || mc.OvernightHigh < mc.OvernightLow {
		return false
	}
	return cva.Range() > 0 && mc.OvernightHigh-mc.OvernightLow < cva.Range()*overnightCompression
}

func keyLevels(cva *domain.CompositeProfile, vwap *domain.VWAPData) domain.KeyLevels {
	half := cva.Range() / 2
	pivot := cva.POC
	if vwap != nil && vwap.VWAP > 0 {
		pivot = vwap.VWAP
	}
	return domain.KeyLevels{
		Resistance:     cva.VAH,
		Support:        cva.VAL,
		Pivot:          pivot,
		UpsideTarget:   cva.VAH + half,
		DownsideTarget: cva.VAL - half,
	}
}
