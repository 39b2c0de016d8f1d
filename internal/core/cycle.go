package core

import "github.com/shopspring/decimal"

var (
	days30   = decimal.NewFromInt(30)
	weeks52  = decimal.NewFromInt(52)
	months12 = decimal.NewFromInt(12)
	months3  = decimal.NewFromInt(3)
	months6  = decimal.NewFromInt(6)
)

// MonthlyEquivalent normalizes an amount charged on the given cycle to a
// common monthly basis. It is total: unrecognized cycles are treated as
// already monthly, and LIFETIME always normalizes to zero since a one-time
// cost is not recurring spend.
func MonthlyEquivalent(amount decimal.Decimal, cycle BillingCycle) decimal.Decimal {
	switch cycle {
	case CycleDaily:
		return amount.Mul(days30)
	case CycleWeekly:
		// 52 weeks / 12 months ≈ 4.333 charges per month.
		return amount.Mul(weeks52).Div(months12)
	case CycleMonthly:
		return amount
	case CycleQuarterly:
		return amount.Div(months3)
	case CycleSemiAnnual:
		return amount.Div(months6)
	case CycleYearly:
		return amount.Div(months12)
	case CycleLifetime:
		return decimal.Zero
	case CycleCustom:
		// No custom-interval field is modeled; treated as monthly.
		return amount
	default:
		return amount
	}
}

// YearlyEquivalent normalizes an amount to a yearly basis. For every cycle it
// equals MonthlyEquivalent × 12, so LIFETIME stays zero.
func YearlyEquivalent(amount decimal.Decimal, cycle BillingCycle) decimal.Decimal {
	return MonthlyEquivalent(amount, cycle).Mul(months12)
}
