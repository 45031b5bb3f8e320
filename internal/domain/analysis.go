package domain

import "time"

// ValuePosition location of the developing value area relative to the composite.
type ValuePosition string

const (
	ValueAbove       ValuePosition = "ABOVE"
	ValueBelow       ValuePosition = "BELOW"
	ValueOverlapping ValuePosition = "OVERLAPPING"
)

// MigrationType classification of value drift between DVA and CVA.
type MigrationType string

const (
	MigrationBullish         MigrationType = "BULLISH_MIGRATION"
	MigrationBearish         MigrationType = "BEARISH_MIGRATION"
	MigrationNeutralOverlap  MigrationType = "NEUTRAL_OVERLAP"
	MigrationBreakoutPending MigrationType = "BREAKOUT_PENDING"
	MigrationTransitioning   MigrationType = "TRANSITIONING"
)

// ValueMigration comparison of one DVA against one CVA.
type ValueMigration struct {
	Position       ValuePosition `json:"position"`
	OverlapPercent float64       `json:"overlap_percent"`
	Type           MigrationType `json:"type"`
	Strength       float64       `json:"strength"`
	Direction      Bias          `json:"direction"`
	DVAHigh        float64       `json:"dva_high"`
	DVALow         float64       `json:"dva_low"`
	DVAPOC         float64       `json:"dva_poc"`
	CVAHigh        float64       `json:"cva_high"`
	CVALow         float64       `json:"cva_low"`
	CVAPOC         float64       `json:"cva_poc"`
	// Activity labels trade outside the composite value area; empty while price is inside it.
	Activity ActivityType `json:"activity,omitempty"`
}

// Bias returns the directional bias implied by the migration type.
func (m *ValueMigration) Bias() Bias {
	if m == nil {
		return BiasNeutral
	}
	switch m.Type {
	case MigrationBullish:
		return BiasBullish
	case MigrationBearish:
		return BiasBearish
	default:
		return BiasNeutral
	}
}

// ActivityType initiative vs responsive trade outside value.
type ActivityType string

const (
	ActivityInitiative ActivityType = "INITIATIVE"
	ActivityResponsive ActivityType = "RESPONSIVE"
)

// ShiftSignalType structural value shift condition.
type ShiftSignalType string

const (
	ShiftBalanceBreakdown   ShiftSignalType = "BALANCE_BREAKDOWN"
	ShiftBuildingAbove      ShiftSignalType = "BUILDING_ABOVE_VALUE"
	ShiftBuildingBelow      ShiftSignalType = "BUILDING_BELOW_VALUE"
	ShiftPOCSupport         ShiftSignalType = "POC_SUPPORT"
	ShiftPOCResistance      ShiftSignalType = "POC_RESISTANCE"
	ShiftMigrationConfirmed ShiftSignalType = "MIGRATION_CONFIRMED"
	ShiftValueRejection     ShiftSignalType = "VALUE_REJECTION"
)

// ShiftSignal one positive value shift condition.
type ShiftSignal struct {
	Type        ShiftSignalType `json:"type"`
	Direction   Bias            `json:"direction"`
	Confidence  float64         `json:"confidence"`
	KeyLevel    float64         `json:"key_level"`
	Implication string          `json:"implication"`
	DetectedAt  time.Time       `json:"detected_at"`
}

// MarketCondition daily hypothesis classification.
type MarketCondition string

const (
	ConditionOpeningDrive    MarketCondition = "OPENING_DRIVE"
	ConditionBreakoutPending MarketCondition = "BREAKOUT_PENDING"
	ConditionTrendUp         MarketCondition = "TREND_UP"
	ConditionTrendDown       MarketCondition = "TREND_DOWN"
	ConditionBalance         MarketCondition = "BALANCE"
	ConditionUnknown         MarketCondition = "UNKNOWN"
)

// KeyLevels five reference prices of the daily plan.
type KeyLevels struct {
	Resistance     float64 `json:"resistance"`
	Support        float64 `json:"support"`
	Pivot          float64 `json:"pivot"`
	UpsideTarget   float64 `json:"upside_target"`
	DownsideTarget float64 `json:"downside_target"`
}

// DailyHypothesis session classification with its trade plan.
type DailyHypothesis struct {
	Condition   MarketCondition `json:"condition"`
	Confidence  float64         `json:"confidence"`
	Bias        Bias            `json:"bias"`
	KeyLevels   KeyLevels       `json:"key_levels"`
	Plan        []string        `json:"plan"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// MarketContext everything a decision cycle knows, built once per cycle.
type MarketContext struct {
	Symbol       string
	CurrentPrice float64
	OpenPrice    float64
	Timestamp    time.Time

	DVA       *VolumeProfile
	CVA       *CompositeProfile
	PriorDay  *VolumeProfile
	VWAP      *VWAPData
	Migration *ValueMigration

	Hypothesis   *DailyHypothesis
	Regime       RegimeState
	ShiftSignals []ShiftSignal

	OrderFlow   []OrderFlowSignal
	Absorptions []AbsorptionEvent
	RecentBars  []Bar

	OvernightHigh float64
	OvernightLow  float64

	// ATR of recent bars, zero when not enough history.
	ATR float64
}

// HasSignal reports whether any order-flow signal of one of the given types points the given way.
func (c *MarketContext) HasSignal(d Direction, types ...OrderFlowSignalType) bool {
	_, ok := c.StrongestSignal(d, types...)
	return ok
}

// StrongestSignal returns the highest-confidence signal of the given types supporting direction d.
func (c *MarketContext) StrongestSignal(d Direction, types ...OrderFlowSignalType) (OrderFlowSignal, bool) {
	var (
		best  OrderFlowSignal
		found bool
	)
	for _, s := range c.OrderFlow {
		if !s.Supports(d) || !containsType(types, s.Type) {
			continue
		}
		if !found || s.Confidence > best.Confidence {
			best, found = s, true
		}
	}
	return best, found
}

func containsType(types []OrderFlowSignalType, t OrderFlowSignalType) bool {
	if len(types) == 0 {
		return true
	}
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
