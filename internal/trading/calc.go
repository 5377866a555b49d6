package trading

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/klear-options/internal/types"
)

var allowedMinutes = []int{1, 2, 3, 4, 5, 15, 30, 45, 60}

var hundred = decimal.NewFromInt(100)

// AllowedDurations returns the order durations in minutes a client may request
func AllowedDurations() []int {
	return slices.Clone(allowedMinutes)
}

func IsAllowedDuration(minutes int) bool {
	return slices.Contains(allowedMinutes, minutes)
}

// ExitTimeFor returns the scheduled expiry: plain duration arithmetic, no calendar rules
func ExitTimeFor(entry time.Time, durationSeconds int) time.Time {
	return entry.Add(time.Duration(durationSeconds) * time.Second)
}

// DetermineResult resolves a bet. CALL wins on a strictly higher exit price and
// PUT on a strictly lower one; an unchanged price loses in both directions.
func DetermineResult(direction types.Direction, entryPrice, exitPrice decimal.Decimal) types.OrderStatus {
	switch {
	case direction == types.DirectionCall && exitPrice.GreaterThan(entryPrice):
		return types.StatusWon
	case direction == types.DirectionPut && exitPrice.LessThan(entryPrice):
		return types.StatusWon
	default:
		return types.StatusLost
	}
}

// CalculateProfit returns the signed profit of a resolved order in minor units.
// A win pays amount * rate / 100 rounded half away from zero; a loss forfeits the stake.
func CalculateProfit(status types.OrderStatus, amount int64, profitRate decimal.Decimal) int64 {
	if status != types.StatusWon {
		return -amount
	}
	return decimal.NewFromInt(amount).Mul(profitRate).Div(hundred).Round(0).IntPart()
}

// SettlementCredit is the amount returned to the balance on settlement:
// stake plus profit for a win, nothing for a loss.
func SettlementCredit(status types.OrderStatus, amount, profit int64) int64 {
	if status != types.StatusWon {
		return 0
	}
	return amount + profit
}
