package valueshift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/auction/internal/domain"
)

var sessionOpen = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func bar(minute int, low, high, close float64) domain.Bar {
	return domain.Bar{
		OpenTime: sessionOpen.Add(time.Duration(minute) * time.Minute),
		Open:     close,
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   100,
	}
}

func findSignal(signals []domain.ShiftSignal, typ domain.ShiftSignalType) (domain.ShiftSignal, bool) {
	for _, s := range signals {
		if s.Type == typ {
			return s, true
		}
	}
	return domain.ShiftSignal{}, false
}

func newTestDetector() *Detector {
	d := NewDetector(zap.NewNop())
	d.now = func() time.Time { return sessionOpen.Add(time.Hour) }
	return d
}

var composite = &domain.CompositeProfile{VAL: 5980, POC: 5990, VAH: 6000}

func TestDetector_BuildingAboveValue(t *testing.T) {
	d := newTestDetector()
	dva := &domain.VolumeProfile{VAL: 6010, POC: 6015, VAH: 6020}

	signals := d.Evaluate(dva, composite, nil, 6015)
	require.Len(t, signals, 1)

	s := signals[0]
	assert.Equal(t, domain.ShiftBuildingAbove, s.Type)
	assert.Equal(t, domain.BiasBullish, s.Direction)
	assert.InDelta(t, 1.0, s.Confidence, 1e-9)
	assert.Equal(t, 6000.0, s.KeyLevel)
	assert.Equal(t, sessionOpen.Add(time.Hour), s.DetectedAt)
}

func TestDetector_BuildingBelowValueScalesConfidence(t *testing.T) {
	d := newTestDetector()
	dva := &domain.VolumeProfile{VAL: 5965, POC: 5970, VAH: 5975}

	s, ok := findSignal(d.Evaluate(dva, composite, nil, 5970), domain.ShiftBuildingBelow)
	require.True(t, ok)
	assert.Equal(t, domain.BiasBearish, s.Direction)
	assert.InDelta(t, 0.5, s.Confidence, 1e-9)
}

func TestDetector_MigrationConfirmedNeedsGrowingDistance(t *testing.T) {
	d := newTestDetector()

	first := d.Evaluate(&domain.VolumeProfile{VAL: 6005, POC: 6010, VAH: 6015}, composite, nil, 6010)
	_, ok := findSignal(first, domain.ShiftMigrationConfirmed)
	require.False(t, ok, "no previous snapshot yet")

	second := d.Evaluate(&domain.VolumeProfile{VAL: 6008, POC: 6014, VAH: 6018}, composite, nil, 6014)
	s, ok := findSignal(second, domain.ShiftMigrationConfirmed)
	require.True(t, ok)
	assert.Equal(t, domain.BiasBullish, s.Direction)
	assert.Equal(t, 5990.0, s.KeyLevel)

	third := d.Evaluate(&domain.VolumeProfile{VAL: 6006, POC: 6012, VAH: 6016}, composite, nil, 6012)
	_, ok = findSignal(third, domain.ShiftMigrationConfirmed)
	assert.False(t, ok, "distance shrank")
}

func TestDetector_POCSupport(t *testing.T) {
	d := newTestDetector()
	dva := &domain.VolumeProfile{VAL: 5995, POC: 6000, VAH: 6005}

	bars := []domain.Bar{
		bar(0, 6005, 6010, 6008),
		bar(1, 5999, 6003, 6002),
		bar(2, 6004, 6008, 6006),
		bar(3, 5998, 6004, 6003),
		bar(4, 5999.5, 6002, 6001),
	}

	s, ok := findSignal(d.Evaluate(dva, nil, bars, 6001), domain.ShiftPOCSupport)
	require.True(t, ok)
	assert.Equal(t, domain.BiasBullish, s.Direction)
	assert.InDelta(t, 1.0, s.Confidence, 1e-9)
	assert.Equal(t, 6000.0, s.KeyLevel)

	// re-evaluating the same bars does not duplicate history
	d.Evaluate(dva, nil, bars, 6001)
	assert.Len(t, d.pocTests, 3)
}

func TestDetector_POCResistance(t *testing.T) {
	d := newTestDetector()
	dva := &domain.VolumeProfile{VAL: 5995, POC: 6000, VAH: 6005}

	bars := []domain.Bar{
		bar(0, 5997, 6001, 5998),
		bar(1, 5990, 5995, 5992),
		bar(2, 5996, 6002, 5997),
	}

	s, ok := findSignal(d.Evaluate(dva, nil, bars, 5997), domain.ShiftPOCResistance)
	require.True(t, ok)
	assert.Equal(t, domain.BiasBearish, s.Direction)
}

func TestDetector_POCSingleTestIsNotEnough(t *testing.T) {
	d := newTestDetector()
	dva := &domain.VolumeProfile{VAL: 5995, POC: 6000, VAH: 6005}

	signals := d.Evaluate(dva, nil, []domain.Bar{bar(0, 5999, 6002, 6001)}, 6001)
	assert.Empty(t, signals)
}

func TestDetector_BalanceBreakdown(t *testing.T) {
	d := newTestDetector()
	dva := &domain.VolumeProfile{VAL: 5985, POC: 5990, VAH: 5995}

	bars := []domain.Bar{
		bar(0, 5989.5, 5990.5, 5990),
		bar(1, 5991.5, 5992.5, 5992),
		bar(2, 5993.5, 5994.5, 5994),
		bar(3, 5996.5, 5997.5, 5997),
	}

	s, ok := findSignal(d.Evaluate(dva, composite, bars, 5997), domain.ShiftBalanceBreakdown)
	require.True(t, ok)
	assert.Equal(t, domain.BiasBullish, s.Direction)
	assert.InDelta(t, 0.7, s.Confidence, 1e-9)
	assert.Equal(t, 5995.0, s.KeyLevel)

	// momentum without price leaving the DVA does not count
	_, ok = findSignal(d.Evaluate(dva, composite, bars, 5994), domain.ShiftBalanceBreakdown)
	assert.False(t, ok)
}

func TestDetector_ValueRejection(t *testing.T) {
	d := newTestDetector()
	dva := &domain.VolumeProfile{VAL: 6002, POC: 6005, VAH: 6008}

	bars := []domain.Bar{
		bar(0, 6003, 6008, 6006),
		bar(1, 5997, 6004, 6001),
		bar(2, 6002, 6007, 6005),
	}

	s, ok := findSignal(d.Evaluate(dva, composite, bars, 6005), domain.ShiftValueRejection)
	require.True(t, ok)
	assert.Equal(t, domain.BiasBullish, s.Direction)
	assert.Equal(t, 6000.0, s.KeyLevel)
	assert.InDelta(t, 0.65, s.Confidence, 1e-9)
}

func TestDetector_NilDVA(t *testing.T) {
	d := newTestDetector()
	assert.Nil(t, d.Evaluate(nil, composite, nil, 6000))
}
