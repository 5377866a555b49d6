package trading

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ksred/klear-options/internal/types"
)

func TestDetermineResult(t *testing.T) {
	entry := decimal.RequireFromString("40.000")

	tests := []struct {
		name      string
		direction types.Direction
		exit      string
		want      types.OrderStatus
	}{
		{"call rises", types.DirectionCall, "40.500", types.StatusWon},
		{"call falls", types.DirectionCall, "39.900", types.StatusLost},
		{"call tie", types.DirectionCall, "40", types.StatusLost},
		{"put falls", types.DirectionPut, "39.900", types.StatusWon},
		{"put rises", types.DirectionPut, "40.500", types.StatusLost},
		{"put tie", types.DirectionPut, "40.00000000", types.StatusLost},
		{"smallest tick up", types.DirectionCall, "40.00000001", types.StatusWon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineResult(tt.direction, entry, decimal.RequireFromString(tt.exit))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateProfit(t *testing.T) {
	tests := []struct {
		name   string
		status types.OrderStatus
		amount int64
		rate   string
		want   int64
	}{
		{"won at 85 percent", types.StatusWon, 1000, "85", 850},
		{"won with fractional rate", types.StatusWon, 1000, "82.5", 825},
		{"rounds half away from zero", types.StatusWon, 1, "50", 1},
		{"rounds down below half", types.StatusWon, 333, "85", 283},
		{"lost forfeits stake", types.StatusLost, 1000, "85", -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateProfit(tt.status, tt.amount, decimal.RequireFromString(tt.rate)))
		})
	}
}

func TestSettlementCredit(t *testing.T) {
	assert.Equal(t, int64(1850), SettlementCredit(types.StatusWon, 1000, 850))
	assert.Zero(t, SettlementCredit(types.StatusLost, 1000, -1000))
}

func TestDurations(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3, 4, 5, 15, 30, 45, 60}, AllowedDurations())
	assert.True(t, IsAllowedDuration(15))
	assert.False(t, IsAllowedDuration(7))
	assert.False(t, IsAllowedDuration(0))

	d := AllowedDurations()
	d[0] = 7
	assert.False(t, IsAllowedDuration(7), "callers must not mutate the allow-list")

	entry := time.Date(2024, 12, 31, 23, 59, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC), ExitTimeFor(entry, 60))
}
