// Package domain defines core data structures shared by the decision and safety pipeline.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketData last quote snapshot for the traded instrument.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Bar is a completed price bar with its volume split by aggressor side.
type Bar struct {
	OpenTime   time.Time `json:"open_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	BuyVolume  float64   `json:"buy_volume"`
	SellVolume float64   `json:"sell_volume"`
}

// TimeAndSalesEntry single print from the tape.
type TimeAndSalesEntry struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// DomLevel one resting level of the order book.
type DomLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// DomSnapshot depth of market snapshot.
type DomSnapshot struct {
	Bids      []DomLevel `json:"bids"`
	Asks      []DomLevel `json:"asks"`
	Timestamp time.Time  `json:"timestamp"`
}

// FootprintLevel bid/ask traded volume at a single price inside a footprint bar.
type FootprintLevel struct {
	Price     float64 `json:"price"`
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
}

// FootprintBar bar with per-price bid/ask volume.
type FootprintBar struct {
	Bar    Bar              `json:"bar"`
	Levels []FootprintLevel `json:"levels"`
	Delta  float64          `json:"delta"`
}

// SystemStatus operator-facing switches and broker connectivity.
type SystemStatus struct {
	AutoTradingEnabled bool            `json:"auto_trading_enabled"`
	BridgeConnected    bool            `json:"ibkr_connected"`
	DailyPnL           decimal.Decimal `json:"daily_pnl"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PositionSide side of an open position.
type PositionSide string

const (
	PositionSideFlat  PositionSide = "FLAT"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position current broker-side position in contracts.
type Position struct {
	Contracts     int             `json:"contracts"`
	Side          PositionSide    `json:"side"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsOpen returns true when the position holds any contracts.
func (p *Position) IsOpen() bool {
	return p != nil && p.Contracts != 0
}

// AbsContracts returns the unsigned contract count.
func (p *Position) AbsContracts() int {
	if p == nil {
		return 0
	}
	if p.Contracts < 0 {
		return -p.Contracts
	}
	return p.Contracts
}

// Session boundaries and opening levels of the trading session in progress.
type Session struct {
	Start         time.Time `json:"start"`
	OpenPrice     float64   `json:"open_price"`
	OvernightHigh float64   `json:"overnight_high"`
	OvernightLow  float64   `json:"overnight_low"`
}
