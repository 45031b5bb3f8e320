package domain

import (
	"math"
	"time"
)

// SetupType kind of trade setup.
type SetupType string

const (
	SetupVAFadeLong        SetupType = "VA_FADE_LONG"
	SetupVAFadeShort       SetupType = "VA_FADE_SHORT"
	SetupVABreakoutLong    SetupType = "VA_BREAKOUT_LONG"
	SetupVABreakoutShort   SetupType = "VA_BREAKOUT_SHORT"
	SetupVWAPBounceLong    SetupType = "VWAP_BOUNCE_LONG"
	SetupVWAPBounceShort   SetupType = "VWAP_BOUNCE_SHORT"
	SetupEightyPercentRule SetupType = "EIGHTY_PERCENT_RULE"
	SetupOpeningDrive      SetupType = "OPENING_DRIVE"
)

// TradeRecommendation priced trade idea produced by the setup recognizer.
type TradeRecommendation struct {
	ID         string    `json:"id"`
	SetupType  SetupType `json:"setup_type"`
	Direction  Direction `json:"direction"`
	Entry      float64   `json:"entry_price"`
	Stop       float64   `json:"stop_loss"`
	Target1    float64   `json:"target_1"`
	Target2    float64   `json:"target_2"`
	Confidence float64   `json:"confidence"`
	RiskReward float64   `json:"risk_reward"`
	Reasons    []string  `json:"reasons"`
	CreatedAt  time.Time `json:"created_at"`
	Active     bool      `json:"active"`
}

// Risk returns the absolute distance between entry and stop.
func (r *TradeRecommendation) Risk() float64 {
	return math.Abs(r.Entry - r.Stop)
}

// Invalidated reports whether price has crossed the stop or the final target.
func (r *TradeRecommendation) Invalidated(price float64) bool {
	if r.Direction == DirectionLong {
		return price <= r.Stop || price >= r.Target2
	}
	return price >= r.Stop || price <= r.Target2
}

// Reason returns the first reason or an empty string.
func (r *TradeRecommendation) Reason() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return r.Reasons[0]
}
