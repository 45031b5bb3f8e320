package hypothesis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/auction/internal/domain"
)

var (
	now = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	cva = &domain.CompositeProfile{VAL: 5980, POC: 5990, VAH: 6000}
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		mc         domain.MarketContext
		condition  domain.MarketCondition
		bias       domain.Bias
		confidence float64
	}{
		{
			name:      "open above composite",
			mc:        domain.MarketContext{OpenPrice: 6010, CVA: cva},
			condition: domain.ConditionOpeningDrive, bias: domain.BiasBullish, confidence: 75,
		},
		{
			name:      "open below composite",
			mc:        domain.MarketContext{OpenPrice: 5970, CVA: cva},
			condition: domain.ConditionOpeningDrive, bias: domain.BiasBearish, confidence: 75,
		},
		{
			name:      "tight overnight range",
			mc:        domain.MarketContext{OpenPrice: 5990, CVA: cva, OvernightHigh: 5994, OvernightLow: 5986},
			condition: domain.ConditionBreakoutPending, bias: domain.BiasNeutral, confidence: 60,
		},
		{
			name: "trend up",
			mc: domain.MarketContext{
				OpenPrice: 5995,
				CVA:       cva,
				PriorDay:  &domain.VolumeProfile{VAL: 5990, POC: 5998, VAH: 6004},
				Migration: &domain.ValueMigration{Type: domain.MigrationBullish},
			},
			condition: domain.ConditionTrendUp, bias: domain.BiasBullish, confidence: 85,
		},
		{
			name: "trend down",
			mc: domain.MarketContext{
				OpenPrice: 5985,
				CVA:       cva,
				PriorDay:  &domain.VolumeProfile{VAL: 5975, POC: 5982, VAH: 5990},
				Migration: &domain.ValueMigration{Type: domain.MigrationBearish},
			},
			condition: domain.ConditionTrendDown, bias: domain.BiasBearish, confidence: 85,
		},
		{
			name: "prior day bullish but migration neutral is balance",
			mc: domain.MarketContext{
				OpenPrice: 5995,
				CVA:       cva,
				PriorDay:  &domain.VolumeProfile{VAL: 5990, POC: 5998, VAH: 6004},
				Migration: &domain.ValueMigration{Type: domain.MigrationNeutralOverlap},
			},
			condition: domain.ConditionBalance, bias: domain.BiasNeutral, confidence: 70,
		},
		{
			name:      "missing composite",
			mc:        domain.MarketContext{OpenPrice: 6010},
			condition: domain.ConditionUnknown, bias: domain.BiasNeutral, confidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := tt.mc
			mc.Timestamp = now
			h := Generate(&mc)
			require.NotNil(t, h)
			assert.Equal(t, tt.condition, h.Condition)
			assert.Equal(t, tt.bias, h.Bias)
			assert.InDelta(t, tt.confidence, h.Confidence, 1e-9)
			assert.Equal(t, now, h.GeneratedAt)
			assert.NotEmpty(t, h.Plan)
		})
	}
}

func TestGenerate_KeyLevels(t *testing.T) {
	h := Generate(&domain.MarketContext{OpenPrice: 5990, CVA: cva})
	assert.Equal(t, domain.KeyLevels{
		Resistance:     6000,
		Support:        5980,
		Pivot:          5990,
		UpsideTarget:   6010,
		DownsideTarget: 5970,
	}, h.KeyLevels)

	h = Generate(&domain.MarketContext{OpenPrice: 5990, CVA: cva, VWAP: &domain.VWAPData{VWAP: 5992.5}})
	assert.Equal(t, 5992.5, h.KeyLevels.Pivot)
}

func TestPriorDayBias(t *testing.T) {
	assert.Equal(t, domain.BiasNeutral, PriorDayBias(nil, cva))
	assert.Equal(t, domain.BiasBullish, PriorDayBias(&domain.VolumeProfile{POC: 5995, VAH: 6002, VAL: 5985}, cva))
	assert.Equal(t, domain.BiasBearish, PriorDayBias(&domain.VolumeProfile{POC: 5985, VAH: 5995, VAL: 5975}, cva))
	assert.Equal(t, domain.BiasNeutral, PriorDayBias(&domain.VolumeProfile{POC: 5995, VAH: 5998, VAL: 5985}, cva))
}
