// Package indicators computes technical indicators over completed bars.
// It uses the cinar/indicator library for the calculations.
package indicators

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/auction/internal/domain"
)

// DefaultATRPeriod is the lookback used for level tolerance.
const DefaultATRPeriod = 14

// ErrNotEnoughData is returned when the bar history is shorter than the indicator needs.
var ErrNotEnoughData = errors.New("not enough data points")

// ATRSeries calculates the Average True Range for the given period.
// The first value corresponds to bar period+1.
func ATRSeries(bars []domain.Bar, period int) ([]float64, error) {
	if period < 1 {
		return nil, errors.Errorf("invalid ATR period %d", period)
	}
	if len(bars) < period+1 {
		return nil, errors.Wrapf(ErrNotEnoughData, "ATR: need %d, got %d", period+1, len(bars))
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	out := atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	)

	values := helper.ChanToSlice(out)
	if len(values) == 0 {
		return nil, errors.Wrapf(ErrNotEnoughData, "ATR: no output for %d bars", len(bars))
	}
	return values, nil
}

// ATR returns the latest Average True Range value.
func ATR(bars []domain.Bar, period int) (float64, error) {
	values, err := ATRSeries(bars, period)
	if err != nil {
		return 0, err
	}
	return values[len(values)-1], nil
}
