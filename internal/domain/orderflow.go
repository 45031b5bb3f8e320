package domain

import "time"

// OrderFlowSignalType kind of order-flow observation.
type OrderFlowSignalType string

const (
	SignalExhaustion          OrderFlowSignalType = "EXHAUSTION"
	SignalLackOfParticipation OrderFlowSignalType = "LACK_OF_PARTICIPATION"
	SignalInitiativeBuying    OrderFlowSignalType = "INITIATIVE_BUYING"
	SignalInitiativeSelling   OrderFlowSignalType = "INITIATIVE_SELLING"
	SignalImbalance           OrderFlowSignalType = "IMBALANCE"
	SignalAbsorption          OrderFlowSignalType = "ABSORPTION"
	SignalResponsiveBuying    OrderFlowSignalType = "RESPONSIVE_BUYING"
	SignalResponsiveSelling   OrderFlowSignalType = "RESPONSIVE_SELLING"
)

// OrderFlowSignal directional observation produced by the order-flow collaborator.
// Confidence is in the 0..1 range.
type OrderFlowSignal struct {
	Type       OrderFlowSignalType `json:"type"`
	Direction  Bias                `json:"direction"`
	Confidence float64             `json:"confidence"`
	Price      float64             `json:"price"`
	Timestamp  time.Time           `json:"timestamp"`
	Details    string              `json:"details,omitempty"`
}

// Supports reports whether the signal points the same way as the setup direction.
func (s OrderFlowSignal) Supports(d Direction) bool {
	return (d == DirectionLong && s.Direction == BiasBullish) ||
		(d == DirectionShort && s.Direction == BiasBearish)
}

// Opposes reports whether the signal points against the setup direction.
func (s OrderFlowSignal) Opposes(d Direction) bool {
	return (d == DirectionLong && s.Direction == BiasBearish) ||
		(d == DirectionShort && s.Direction == BiasBullish)
}

// AbsorptionEvent large passive volume absorbing aggression at a price.
type AbsorptionEvent struct {
	Price          float64   `json:"price"`
	AbsorbedVolume float64   `json:"absorbed_volume"`
	Side           Side      `json:"side"`
	Timestamp      time.Time `json:"timestamp"`
}

// VWAPData session VWAP with standard deviation bands.
type VWAPData struct {
	VWAP      float64   `json:"vwap"`
	Upper1    float64   `json:"upper_1"`
	Lower1    float64   `json:"lower_1"`
	Upper2    float64   `json:"upper_2"`
	Lower2    float64   `json:"lower_2"`
	Upper3    float64   `json:"upper_3"`
	Lower3    float64   `json:"lower_3"`
	Timestamp time.Time `json:"timestamp"`
}

// Complete reports whether VWAP and every band are populated.
func (v *VWAPData) Complete() bool {
	if v == nil {
		return false
	}
	for _, x := range []float64{v.VWAP, v.Upper1, v.Lower1, v.Upper2, v.Lower2, v.Upper3, v.Lower3} {
		if x == 0 {
			return false
		}
	}
	return true
}
