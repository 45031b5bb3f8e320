package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// signalReasonPrefixLen counts runes.
const signalReasonPrefixLen = 20

// TradeSignal candidate order submitted to the safety manager for admission.
type TradeSignal struct {
	Action      Action          `json:"action"`
	Quantity    int             `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	StopLoss    decimal.Decimal `json:"stop_loss"`
	Target1     decimal.Decimal `json:"target_1"`
	Target2     decimal.Decimal `json:"target_2"`
	SetupType   SetupType       `json:"setup_type"`
	Confidence  float64         `json:"confidence"`
	Reason      string          `json:"reason"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// ID returns the idempotency key of the signal.
func (s TradeSignal) ID() string {
	return NewSignalID(s.Action, s.EntryPrice, s.Reason)
}

// NewSignalID derives the idempotency key from action, entry price and reason prefix.
func NewSignalID(action Action, entry decimal.Decimal, reason string) string {
	prefix := reason
	if utf8.RuneCountInString(prefix) > signalReasonPrefixLen {
		prefix = string([]rune(prefix)[:signalReasonPrefixLen])
	}
	prefix = strings.ReplaceAll(strings.TrimSpace(prefix), " ", "-")
	return fmt.Sprintf("%s_%s_%s", action.String(), entry.StringFixed(2), prefix)
}

// SafetyConfig process-wide risk tunables.
type SafetyConfig struct {
	MaxDailyDrawdown              decimal.Decimal `json:"max_daily_drawdown"`
	MaxPositionSize               int             `json:"max_position_size"`
	TradingFenceEnabled           bool            `json:"trading_fence_enabled"`
	CircuitBreakerEnabled         bool            `json:"circuit_breaker_enabled"`
	PositionReconciliationEnabled bool            `json:"position_reconciliation_enabled"`
	RejectCooldownMinutes         int             `json:"reject_cooldown_minutes"`
}

// DefaultSafetyConfig returns the production defaults.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		MaxDailyDrawdown:              decimal.NewFromInt(-500),
		MaxPositionSize:               2,
		TradingFenceEnabled:           true,
		CircuitBreakerEnabled:         true,
		PositionReconciliationEnabled: true,
		RejectCooldownMinutes:         30,
	}
}

// RejectCooldown returns the reject-replay window as a duration.
func (c SafetyConfig) RejectCooldown() time.Duration {
	return time.Duration(c.RejectCooldownMinutes) * time.Minute
}

// Validate checks config consistency.
func (c SafetyConfig) Validate() error {
	if c.MaxDailyDrawdown.IsPositive() {
		return fmt.Errorf("max daily drawdown must be zero or negative, got %s", c.MaxDailyDrawdown.String())
	}
	if c.MaxPositionSize < 1 {
		return fmt.Errorf("max position size must be at least 1, got %d", c.MaxPositionSize)
	}
	if c.RejectCooldownMinutes < 0 {
		return fmt.Errorf("reject cooldown must not be negative, got %d", c.RejectCooldownMinutes)
	}
	return nil
}

// SafetyStatus aggregated answer to "can a trade happen right now".
type SafetyStatus struct {
	TradingAllowed        bool            `json:"trading_allowed"`
	FenceActive           bool            `json:"fence_active"`
	FenceReason           string          `json:"fence_reason,omitempty"`
	CircuitBreakerTripped bool            `json:"circuit_breaker_tripped"`
	ReconciliationOK      bool            `json:"reconciliation_ok"`
	BridgeConnected       bool            `json:"bridge_connected"`
	DailyPnL              decimal.Decimal `json:"daily_pnl"`
	Violations            []string        `json:"violations"`
	CheckedAt             time.Time       `json:"checked_at"`
}

// Summary joins all violations into one line.
func (s SafetyStatus) Summary() string {
	if len(s.Violations) == 0 {
		return "ok"
	}
	return strings.Join(s.Violations, "; ")
}

// FenceState persisted trading fence latch.
type FenceState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activated_at"`
	ClearedAt   time.Time `json:"cleared_at,omitempty"`
	ClearedBy   string    `json:"cleared_by,omitempty"`
}

// RejectedOrderRecord audit row consulted by the reject-replay cooldown.
type RejectedOrderRecord struct {
	SignalID   string      `json:"signal_id"`
	Signal     TradeSignal `json:"signal"`
	Reason     string      `json:"reason"`
	RejectedAt time.Time   `json:"rejected_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Expired reports whether the record no longer blocks its signal.
func (r RejectedOrderRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ReconciliationResult outcome of comparing local and broker positions.
type ReconciliationResult struct {
	OK              bool      `json:"ok"`
	LocalContracts  int       `json:"local_contracts"`
	BrokerContracts int       `json:"broker_contracts"`
	Message         string    `json:"message"`
	ReconciledAt    time.Time `json:"reconciled_at"`
}
