package domain

import "time"

// EventType kind of inbound market event.
type EventType string

const (
	EventTrade        EventType = "trade"
	EventBar          EventType = "bar"
	EventOrderFlow    EventType = "order_flow"
	EventAbsorption   EventType = "absorption"
	EventDom          EventType = "dom"
	EventSessionStart EventType = "session_start"
)

// MarketEvent one message of the market data feed. Exactly one payload matches Type.
type MarketEvent struct {
	Type       EventType          `json:"type"`
	Symbol     string             `json:"symbol,omitempty"`
	Trade      *TimeAndSalesEntry `json:"trade,omitempty"`
	Bar        *FootprintBar      `json:"bar,omitempty"`
	Signal     *OrderFlowSignal   `json:"signal,omitempty"`
	Absorption *AbsorptionEvent   `json:"absorption,omitempty"`
	Dom        *DomSnapshot       `json:"dom,omitempty"`
	Session    *Session           `json:"session,omitempty"`
}

// Time returns the event timestamp, zero when the payload has none.
func (e MarketEvent) Time() time.Time {
	switch {
	case e.Trade != nil:
		return e.Trade.Timestamp
	case e.Bar != nil:
		return e.Bar.Bar.OpenTime
	case e.Signal != nil:
		return e.Signal.Timestamp
	case e.Absorption != nil:
		return e.Absorption.Timestamp
	case e.Dom != nil:
		return e.Dom.Timestamp
	case e.Session != nil:
		return e.Session.Start
	}
	return time.Time{}
}
