package shared

import "github.com/shopspring/decimal"

// MoneyScale is the canonical scale for persisted monetary amounts and
// quantities. Intermediate arithmetic stays at full precision; rounding
// happens exactly once, at write time.
const MoneyScale = 4

// BalanceTolerance is the accepted drift between total debits and credits.
var BalanceTolerance = decimal.New(1, -MoneyScale) // 0.0001

// RoundMoney applies the single canonical rounding rule: MoneyScale decimal
// places, round half up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// WithinTolerance reports whether a and b differ by at most BalanceTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(BalanceTolerance) <= 0
}
