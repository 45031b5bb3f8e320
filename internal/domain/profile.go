package domain

import "time"

// PriceLevel traded volume at one tick-quantized price.
type PriceLevel struct {
	Price       float64 `json:"price"`
	TotalVolume float64 `json:"total_volume"`
	BuyVolume   float64 `json:"buy_volume"`
	SellVolume  float64 `json:"sell_volume"`
	Delta       float64 `json:"delta"`
}

// ProfileShape classification of a volume distribution.
type ProfileShape string

const (
	ShapeP      ProfileShape = "P"
	ShapeB      ProfileShape = "b"
	ShapeD      ProfileShape = "D"
	ShapeDouble ProfileShape = "DOUBLE"
)

// VolumeProfile immutable snapshot of a volume histogram and its value area.
// Levels are ordered by price descending.
type VolumeProfile struct {
	Levels          []PriceLevel `json:"levels"`
	POC             float64      `json:"poc"`
	VAH             float64      `json:"vah"`
	VAL             float64      `json:"val"`
	TotalVolume     float64      `json:"total_volume"`
	ValueAreaVolume float64      `json:"value_area_volume"`
	Shape           ProfileShape `json:"shape"`
	HVN             []float64    `json:"hvn"`
	LVN             []float64    `json:"lvn"`
	PeriodStart     time.Time    `json:"period_start"`
	PeriodEnd       time.Time    `json:"period_end"`
}

// Range returns the height of the value area.
func (p *VolumeProfile) Range() float64 {
	if p == nil {
		return 0
	}
	return p.VAH - p.VAL
}

// CompositeProfile multi-session value area (CVA).
type CompositeProfile struct {
	POC         float64   `json:"poc"`
	VAH         float64   `json:"vah"`
	VAL         float64   `json:"val"`
	TotalVolume float64   `json:"total_volume"`
	Sessions    int       `json:"sessions"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Range returns the height of the composite value area.
func (c *CompositeProfile) Range() float64 {
	if c == nil {
		return 0
	}
	return c.VAH - c.VAL
}

// Contains reports whether price lies inside the composite value area.
func (c *CompositeProfile) Contains(price float64) bool {
	return c != nil && price >= c.VAL && price <= c.VAH
}

// RegimeState directional/rotational state derived from cumulative delta.
type RegimeState string

const (
	RegimeRotational         RegimeState = "ROTATIONAL"
	RegimeDirectionalBullish RegimeState = "DIRECTIONAL_BULLISH"
	RegimeDirectionalBearish RegimeState = "DIRECTIONAL_BEARISH"
)

// Bias maps the regime to a market bias.
func (r RegimeState) Bias() Bias {
	switch r {
	case RegimeDirectionalBullish:
		return BiasBullish
	case RegimeDirectionalBearish:
		return BiasBearish
	default:
		return BiasNeutral
	}
}
