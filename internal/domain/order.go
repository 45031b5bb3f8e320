package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// PendingOrder order handed to the broker bridge.
type PendingOrder struct {
	ID         string          `json:"id"`
	SignalID   string          `json:"signal_id"`
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Quantity   int             `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	Target1    decimal.Decimal `json:"target_1"`
	Target2    decimal.Decimal `json:"target_2"`
	SetupType  SetupType       `json:"setup_type"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// OrderTracking persisted record of an admitted order and its broker confirmation.
type OrderTracking struct {
	OrderID        string          `json:"order_id"`
	SignalID       string          `json:"signal_id"`
	Signal         TradeSignal     `json:"signal"`
	Status         OrderStatus     `json:"status"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	ConfirmedAt    time.Time       `json:"confirmed_at,omitempty"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	FilledQuantity int             `json:"filled_quantity"`
	Reason         string          `json:"reason,omitempty"`
}

// OrderConfirmation broker bridge report for one order.
type OrderConfirmation struct {
	OrderID        string          `json:"order_id"`
	Status         OrderStatus     `json:"status"`
	FillPrice      decimal.Decimal `json:"fill_price"`
	FilledQuantity int             `json:"filled_quantity"`
	Reason         string          `json:"reason,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ExecutedTrade fill recorded once the broker confirms an order.
type ExecutedTrade struct {
	OrderID    string          `json:"order_id"`
	SignalID   string          `json:"signal_id"`
	Action     Action          `json:"action"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	SetupType  SetupType       `json:"setup_type"`
	ExecutedAt time.Time       `json:"executed_at"`
}
