package domain

import (
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewSignalID(t *testing.T) {
	entry := decimal.RequireFromString("6010.25")

	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"short reason", "VA breakout", "BUY_6010.25_VA-breakout"},
		{"ascii cut at 20", "VA breakout long above 6000", "BUY_6010.25_VA-breakout-long-abo"},
		{"multibyte cut on rune boundary", "пробой зоны стоимости вверх", "BUY_6010.25_пробой-зоны-стоимост"},
		{"emoji", "🚀🚀 breakout above value area", "BUY_6010.25_🚀🚀-breakout-above-va"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewSignalID(ActionBuy, entry, tt.reason)
			assert.True(t, utf8.ValidString(id))
			assert.Equal(t, tt.want, id)
		})
	}
}
