// Package feed decodes market events from external sources and pushes them to the trading bot.
package feed

import (
	"context"
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/auction/internal/domain"
)

// ErrInvalidEvent is returned for events whose payload does not match the type.
var ErrInvalidEvent = errors.New("invalid market event")

// maxBarRangeShare bar ranges above this share of the bar's low are feed errors.
const maxBarRangeShare = 0.5

// Source pushes events into out until the input ends or ctx is done.
type Source interface {
	Run(ctx context.Context, out chan<- domain.MarketEvent) error
}

// Decode parses one JSON encoded event and checks its payload.
func Decode(payload []byte) (domain.MarketEvent, error) {
	var ev domain.MarketEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, errors.Wrap(err, "decode market event")
	}

	var ok bool
	switch ev.Type {
	case domain.EventTrade:
		ok = ev.Trade != nil && validPrice(ev.Trade.Price) && ev.Trade.Size > 0
	case domain.EventBar:
		ok = ev.Bar != nil && validBar(ev.Bar.Bar)
	case domain.EventOrderFlow:
		ok = ev.Signal != nil
	case domain.EventAbsorption:
		ok = ev.Absorption != nil
	case domain.EventDom:
		ok = ev.Dom != nil
	case domain.EventSessionStart:
		ok = ev.Session != nil && !ev.Session.Start.IsZero()
	default:
		return ev, errors.Wrapf(ErrInvalidEvent, "unknown type %q", ev.Type)
	}
	if !ok {
		return ev, errors.Wrapf(ErrInvalidEvent, "missing or malformed %s payload", ev.Type)
	}
	return ev, nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 1)
}

func validBar(b domain.Bar) bool {
	if !validPrice(b.Low) || !validPrice(b.High) || b.High < b.Low {
		return false
	}
	return b.High-b.Low <= b.Low*maxBarRangeShare
}

func send(ctx context.Context, out chan<- domain.MarketEvent, ev domain.MarketEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- ev:
		return nil
	}
}
