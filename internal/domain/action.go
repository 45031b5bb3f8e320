package domain

// Side is the aggressor side of a trade print.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction of a trade setup.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Bias qualitative market bias.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// Agrees reports whether a setup direction is compatible with the bias.
// A neutral bias accepts both directions.
func (b Bias) Agrees(d Direction) bool {
	switch b {
	case BiasBullish:
		return d == DirectionLong
	case BiasBearish:
		return d == DirectionShort
	default:
		return true
	}
}

// Action represents the order action sent to the broker bridge.
type Action int

const (
	ActionBuy Action = iota
	ActionSell
)

// action string constants to avoid magic strings
const (
	actionStringBuy  = "BUY"
	actionStringSell = "SELL"
)

// String returns the string representation of the action
func (a Action) String() string {
	switch a {
	case ActionBuy:
		return actionStringBuy
	case ActionSell:
		return actionStringSell
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	switch string(text) {
	case actionStringBuy:
		*a = ActionBuy
	case actionStringSell:
		*a = ActionSell
	default:
		return &InvalidActionError{Value: string(text)}
	}
	return nil
}

// InvalidActionError is returned when an action string cannot be parsed.
type InvalidActionError struct {
	Value string
}

func (e *InvalidActionError) Error() string {
	return "invalid action: " + e.Value
}

// ActionForDirection maps a setup direction to the opening order action.
func ActionForDirection(d Direction) Action {
	if d == DirectionShort {
		return ActionSell
	}
	return ActionBuy
}
