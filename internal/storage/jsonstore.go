package storage

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/auction/internal/domain"
)

const (
	keyMarketData      = "snapshot:market_data"
	keyPosition        = "snapshot:position"
	keyVWAP            = "snapshot:vwap"
	keyComposite       = "snapshot:composite"
	keySystemStatus    = "snapshot:system_status"
	keyDom             = "snapshot:dom"
	keyHypothesis      = "snapshot:hypothesis"
	keyProfile         = "snapshot:profile"
	keyTrades          = "series:trades"
	keyTimeAndSales    = "series:time_and_sales"
	keyAbsorptions     = "series:absorptions"
	keyFootprints      = "series:footprints"
	keyOrderFlow       = "series:order_flow"
	keySessionProfiles = "series:session_profiles"
	keyOrderTracking   = safetyKeyPrefix + "order_tracking"
	keyPendingOrders   = safetyKeyPrefix + "pending_orders"
	keyRejectedOrders  = safetyKeyPrefix + "rejected_orders"
	keyFence           = safetyKeyPrefix + "fence"
	keySafetyConfig    = safetyKeyPrefix + "config"

	safetyKeyPrefix = "safety:"
)

// rejected orders are consulted within the cooldown window only, older ones can be trimmed.
const rejectedOrdersLimit = 1000

// JSONStore implements Store on top of a Backend, encoding values as JSON.
type JSONStore struct {
	b Backend
}

var _ Store = (*JSONStore)(nil)

// NewJSONStore wraps a backend.
func NewJSONStore(b Backend) *JSONStore {
	return &JSONStore{b: b}
}

// Durable reports whether the backend persists writes.
func (s *JSONStore) Durable() bool {
	return s.b.Durable()
}

// Close closes the backend.
func (s *JSONStore) Close() error {
	return s.b.Close()
}

func put(ctx context.Context, b Backend, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	return errors.Wrapf(b.Put(ctx, key, payload), "put %s", key)
}

func get[T any](ctx context.Context, b Backend, key string) (*T, error) {
	payload, err := b.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get %s", key)
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return &v, nil
}

func appendItem(ctx context.Context, b Backend, key string, v any, limit int) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	return errors.Wrapf(b.Append(ctx, key, payload, limit), "append %s", key)
}

func recent[T any](ctx context.Context, b Backend, key string, n int) ([]T, error) {
	items, err := b.Range(ctx, key, n)
	if err != nil {
		return nil, errors.Wrapf(err, "range %s", key)
	}
	out := make([]T, 0, len(items))
	for _, payload := range items {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, errors.Wrapf(err, "decode %s item", key)
		}
		out = append(out, v)
	}
	return out, nil
}

func fields[T any](ctx context.Context, b Backend, key string) (map[string]T, error) {
	raw, err := b.Fields(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "fields %s", key)
	}
	out := make(map[string]T, len(raw))
	for f, payload := range raw {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, errors.Wrapf(err, "decode %s/%s", key, f)
		}
		out[f] = v
	}
	return out, nil
}

func putField(ctx context.Context, b Backend, key, field string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s/%s", key, field)
	}
	return errors.Wrapf(b.PutField(ctx, key, field, payload), "put %s/%s", key, field)
}

func (s *JSONStore) durable() error {
	if !s.b.Durable() {
		return ErrNotDurable
	}
	return nil
}

func (s *JSONStore) GetMarketData(ctx context.Context) (*domain.MarketData, error) {
	return get[domain.MarketData](ctx, s.b, keyMarketData)
}

func (s *JSONStore) SetMarketData(ctx context.Context, md domain.MarketData) error {
	return put(ctx, s.b, keyMarketData, md)
}

func (s *JSONStore) GetPosition(ctx context.Context) (*domain.Position, error) {
	return get[domain.Position](ctx, s.b, keyPosition)
}

func (s *JSONStore) SetPosition(ctx context.Context, p domain.Position) error {
	return put(ctx, s.b, keyPosition, p)
}

func (s *JSONStore) GetVWAP(ctx context.Context) (*domain.VWAPData, error) {
	return get[domain.VWAPData](ctx, s.b, keyVWAP)
}

func (s *JSONStore) SetVWAP(ctx context.Context, v domain.VWAPData) error {
	return put(ctx, s.b, keyVWAP, v)
}

func (s *JSONStore) GetComposite(ctx context.Context) (*domain.CompositeProfile, error) {
	return get[domain.CompositeProfile](ctx, s.b, keyComposite)
}

func (s *JSONStore) SetComposite(ctx context.Context, c domain.CompositeProfile) error {
	return put(ctx, s.b, keyComposite, c)
}

func (s *JSONStore) GetSystemStatus(ctx context.Context) (*domain.SystemStatus, error) {
	return get[domain.SystemStatus](ctx, s.b, keySystemStatus)
}

func (s *JSONStore) SetSystemStatus(ctx context.Context, st domain.SystemStatus) error {
	return put(ctx, s.b, keySystemStatus, st)
}

func (s *JSONStore) GetDomSnapshot(ctx context.Context) (*domain.DomSnapshot, error) {
	return get[domain.DomSnapshot](ctx, s.b, keyDom)
}

func (s *JSONStore) SetDomSnapshot(ctx context.Context, d domain.DomSnapshot) error {
	return put(ctx, s.b, keyDom, d)
}

func (s *JSONStore) GetHypothesis(ctx context.Context) (*domain.DailyHypothesis, error) {
	return get[domain.DailyHypothesis](ctx, s.b, keyHypothesis)
}

func (s *JSONStore) SetHypothesis(ctx context.Context, h domain.DailyHypothesis) error {
	return put(ctx, s.b, keyHypothesis, h)
}

func (s *JSONStore) GetProfile(ctx context.Context) (*domain.VolumeProfile, error) {
	return get[domain.VolumeProfile](ctx, s.b, keyProfile)
}

func (s *JSONStore) SetProfile(ctx context.Context, p domain.VolumeProfile) error {
	return put(ctx, s.b, keyProfile, p)
}

func (s *JSONStore) AppendTrade(ctx context.Context, t domain.ExecutedTrade) error {
	return appendItem(ctx, s.b, keyTrades, t, TradesLimit)
}

func (s *JSONStore) RecentTrades(ctx context.Context, n int) ([]domain.ExecutedTrade, error) {
	return recent[domain.ExecutedTrade](ctx, s.b, keyTrades, n)
}

func (s *JSONStore) AppendTimeAndSales(ctx context.Context, e domain.TimeAndSalesEntry) error {
	return appendItem(ctx, s.b, keyTimeAndSales, e, TimeAndSalesLimit)
}

func (s *JSONStore) RecentTimeAndSales(ctx context.Context, n int) ([]domain.TimeAndSalesEntry, error) {
	return recent[domain.TimeAndSalesEntry](ctx, s.b, keyTimeAndSales, n)
}

func (s *JSONStore) AppendAbsorption(ctx context.Context, e domain.AbsorptionEvent) error {
	return appendItem(ctx, s.b, keyAbsorptions, e, AbsorptionLimit)
}

func (s *JSONStore) RecentAbsorptions(ctx context.Context, n int) ([]domain.AbsorptionEvent, error) {
	return recent[domain.AbsorptionEvent](ctx, s.b, keyAbsorptions, n)
}

func (s *JSONStore) AppendFootprint(ctx context.Context, fb domain.FootprintBar) error {
	return appendItem(ctx, s.b, keyFootprints, fb, FootprintLimit)
}

func (s *JSONStore) RecentFootprints(ctx context.Context, n int) ([]domain.FootprintBar, error) {
	return recent[domain.FootprintBar](ctx, s.b, keyFootprints, n)
}

func (s *JSONStore) AppendOrderFlowSignal(ctx context.Context, sig domain.OrderFlowSignal) error {
	return appendItem(ctx, s.b, keyOrderFlow, sig, OrderFlowLimit)
}

func (s *JSONStore) RecentOrderFlowSignals(ctx context.Context, n int) ([]domain.OrderFlowSignal, error) {
	return recent[domain.OrderFlowSignal](ctx, s.b, keyOrderFlow, n)
}

func (s *JSONStore) AppendSessionProfile(ctx context.Context, p domain.VolumeProfile) error {
	return appendItem(ctx, s.b, keySessionProfiles, p, SessionProfilesLimit)
}

func (s *JSONStore) RecentSessionProfiles(ctx context.Context, n int) ([]domain.VolumeProfile, error) {
	return recent[domain.VolumeProfile](ctx, s.b, keySessionProfiles, n)
}

func (s *JSONStore) SaveOrderTracking(ctx context.Context, t domain.OrderTracking) error {
	if err := s.durable(); err != nil {
		return err
	}
	return putField(ctx, s.b, keyOrderTracking, t.OrderID, t)
}

func (s *JSONStore) GetOrderTracking(ctx context.Context, orderID string) (*domain.OrderTracking, error) {
	if err := s.durable(); err != nil {
		return nil, err
	}
	all, err := fields[domain.OrderTracking](ctx, s.b, keyOrderTracking)
	if err != nil {
		return nil, err
	}
	t, ok := all[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *JSONStore) ListOrderTracking(ctx context.Context) ([]domain.OrderTracking, error) {
	if err := s.durable(); err != nil {
		return nil, err
	}
	all, err := fields[domain.OrderTracking](ctx, s.b, keyOrderTracking)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderTracking, 0, len(all))
	for _, t := range all {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *JSONStore) SavePendingOrder(ctx context.Context, o domain.PendingOrder) error {
	if err := s.durable(); err != nil {
		return err
	}
	return putField(ctx, s.b, keyPendingOrders, o.ID, o)
}

func (s *JSONStore) ListPendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	if err := s.durable(); err != nil {
		return nil, err
	}
	all, err := fields[domain.PendingOrder](ctx, s.b, keyPendingOrders)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PendingOrder, 0, len(all))
	for _, o := range all {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *JSONStore) AddRejectedOrder(ctx context.Context, r domain.RejectedOrderRecord) error {
	if err := s.durable(); err != nil {
		return err
	}
	return appendItem(ctx, s.b, keyRejectedOrders, r, rejectedOrdersLimit)
}

func (s *JSONStore) ListRejectedOrders(ctx context.Context) ([]domain.RejectedOrderRecord, error) {
	if err := s.durable(); err != nil {
		return nil, err
	}
	return recent[domain.RejectedOrderRecord](ctx, s.b, keyRejectedOrders, 0)
}

func (s *JSONStore) SaveFenceState(ctx context.Context, f domain.FenceState) error {
	if err := s.durable(); err != nil {
		return err
	}
	return put(ctx, s.b, keyFence, f)
}

func (s *JSONStore) GetFenceState(ctx context.Context) (*domain.FenceState, error) {
	if err := s.durable(); err != nil {
		return nil, err
	}
	return get[domain.FenceState](ctx, s.b, keyFence)
}

func (s *JSONStore) SaveSafetyConfig(ctx context.Context, c domain.SafetyConfig) error {
	if err := s.durable(); err != nil {
		return err
	}
	return put(ctx, s.b, keySafetyConfig, c)
}

func (s *JSONStore) GetSafetyConfig(ctx context.Context) (*domain.SafetyConfig, error) {
	if err := s.durable(); err != nil {
		return nil, err
	}
	return get[domain.SafetyConfig](ctx, s.b, keySafetyConfig)
}
