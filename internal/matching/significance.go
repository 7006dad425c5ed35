package matching

import (
	"github.com/shopspring/decimal"

	"ticketwatch/internal/types"
)

// percentScale is the number of decimal places kept for percentages and
// money before any comparison.
const percentScale = 2

var hundred = decimal.NewFromInt(100)

// Evaluate compares a newly observed price against the previously observed
// one and reports whether the move crosses the preference's drop or increase
// threshold.
//
// A missing or zero previous price yields Computable=false with both flags
// cleared. A zero threshold disables that direction. Savings are measured
// against the preference's max price, independent of history.
func Evaluate(oldPrice decimal.NullDecimal, newPrice decimal.Decimal, pref *types.PricePreference) types.SignificanceResult {
	res := types.SignificanceResult{
		Savings: Savings(newPrice, pref),
	}
	if !oldPrice.Valid || oldPrice.Decimal.IsZero() {
		return res
	}

	res.Computable = true
	res.PercentChange = PercentChange(oldPrice.Decimal, newPrice)

	if drop := pref.PriceDropThreshold; drop.IsPositive() {
		res.IsDrop = res.PercentChange.LessThanOrEqual(drop.Neg())
	}
	if inc := pref.PriceIncreaseThreshold; inc.IsPositive() {
		res.IsIncrease = res.PercentChange.GreaterThanOrEqual(inc)
	}
	return res
}

// PercentChange returns (new-old)/old*100 rounded half away from zero to two
// places. The caller guarantees old is non-zero.
func PercentChange(oldPrice, newPrice decimal.Decimal) decimal.Decimal {
	return newPrice.Sub(oldPrice).Mul(hundred).Div(oldPrice).Round(percentScale)
}

// Savings returns max(0, max_price - price) rounded to cents. A preference
// without a max price yields zero.
func Savings(price decimal.Decimal, pref *types.PricePreference) decimal.Decimal {
	if pref == nil || !pref.MaxPrice.Valid {
		return decimal.Zero
	}
	s := pref.MaxPrice.Decimal.Sub(price)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s.Round(percentScale)
}
