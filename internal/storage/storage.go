// Package storage defines the persistence boundary of the decision pipeline.
package storage

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/auction/internal/domain"
)

var (
	// ErrNotFound is returned when a snapshot or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotDurable is returned by non-persistent stores for operations that require durability.
	ErrNotDurable = errors.New("store is not durable")
)

// Retention caps for time series, most recent items kept.
const (
	TradesLimit          = 100
	TimeAndSalesLimit    = 1000
	AbsorptionLimit      = 100
	FootprintLimit       = 500
	OrderFlowLimit       = 100
	SessionProfilesLimit = 20
)

// SnapshotStore holds the latest value of each market snapshot entity.
type SnapshotStore interface {
	GetMarketData(ctx context.Context) (*domain.MarketData, error)
	SetMarketData(ctx context.Context, md domain.MarketData) error
	GetPosition(ctx context.Context) (*domain.Position, error)
	SetPosition(ctx context.Context, p domain.Position) error
	GetVWAP(ctx context.Context) (*domain.VWAPData, error)
	SetVWAP(ctx context.Context, v domain.VWAPData) error
	GetComposite(ctx context.Context) (*domain.CompositeProfile, error)
	SetComposite(ctx context.Context, c domain.CompositeProfile) error
	GetSystemStatus(ctx context.Context) (*domain.SystemStatus, error)
	SetSystemStatus(ctx context.Context, s domain.SystemStatus) error
	GetDomSnapshot(ctx context.Context) (*domain.DomSnapshot, error)
	SetDomSnapshot(ctx context.Context, d domain.DomSnapshot) error
	GetHypothesis(ctx context.Context) (*domain.DailyHypothesis, error)
	SetHypothesis(ctx context.Context, h domain.DailyHypothesis) error
	GetProfile(ctx context.Context) (*domain.VolumeProfile, error)
	SetProfile(ctx context.Context, p domain.VolumeProfile) error
}

// SeriesStore appends time series with a retention cap and reads the most recent items oldest first.
type SeriesStore interface {
	AppendTrade(ctx context.Context, t domain.ExecutedTrade) error
	RecentTrades(ctx context.Context, n int) ([]domain.ExecutedTrade, error)
	AppendTimeAndSales(ctx context.Context, e domain.TimeAndSalesEntry) error
	RecentTimeAndSales(ctx context.Context, n int) ([]domain.TimeAndSalesEntry, error)
	AppendAbsorption(ctx context.Context, e domain.AbsorptionEvent) error
	RecentAbsorptions(ctx context.Context, n int) ([]domain.AbsorptionEvent, error)
	AppendFootprint(ctx context.Context, b domain.FootprintBar) error
	RecentFootprints(ctx context.Context, n int) ([]domain.FootprintBar, error)
	AppendOrderFlowSignal(ctx context.Context, s domain.OrderFlowSignal) error
	RecentOrderFlowSignals(ctx context.Context, n int) ([]domain.OrderFlowSignal, error)
	AppendSessionProfile(ctx context.Context, p domain.VolumeProfile) error
	RecentSessionProfiles(ctx context.Context, n int) ([]domain.VolumeProfile, error)
}

// SafetyStore persists the state the safety manager needs across restarts.
type SafetyStore interface {
	SaveOrderTracking(ctx context.Context, t domain.OrderTracking) error
	GetOrderTracking(ctx context.Context, orderID string) (*domain.OrderTracking, error)
	ListOrderTracking(ctx context.Context) ([]domain.OrderTracking, error)
	SavePendingOrder(ctx context.Context, o domain.PendingOrder) error
	ListPendingOrders(ctx context.Context) ([]domain.PendingOrder, error)
	AddRejectedOrder(ctx context.Context, r domain.RejectedOrderRecord) error
	ListRejectedOrders(ctx context.Context) ([]domain.RejectedOrderRecord, error)
	SaveFenceState(ctx context.Context, f domain.FenceState) error
	GetFenceState(ctx context.Context) (*domain.FenceState, error)
	SaveSafetyConfig(ctx context.Context, c domain.SafetyConfig) error
	GetSafetyConfig(ctx context.Context) (*domain.SafetyConfig, error)
}

// Store is the full persistence boundary.
type Store interface {
	SnapshotStore
	SeriesStore
	SafetyStore
	Close() error
}

// Backend raw keyed storage the JSON store is built on.
// Range returns at most n most recent items of a list, oldest first; n <= 0 means all.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Append(ctx context.Context, key string, value []byte, limit int) error
	Range(ctx context.Context, key string, n int) ([][]byte, error)
	PutField(ctx context.Context, key, field string, value []byte) error
	Fields(ctx context.Context, key string) (map[string][]byte, error)
	// Durable reports whether writes survive a process restart.
	Durable() bool
	Close() error
}

// Retained reports whether key holds state that must never be dropped by log
// retention: safety records and the position.
func Retained(key string) bool {
	return strings.HasPrefix(key, safetyKeyPrefix) || key == keyPosition
}
