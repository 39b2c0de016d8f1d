package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// upcomingWindowDays bounds the upcoming-payments list to the next 30 days.
const upcomingWindowDays = 30

// CategoryAmount is a summed monthly-equivalent amount for one category.
type CategoryAmount struct {
	Category Category
	Monthly  decimal.Decimal
}

// Stats is the derived dashboard summary for one user's subscriptions. It is
// recomputed on demand and never persisted.
type Stats struct {
	ActiveCount  int
	TotalCount   int
	MonthlyTotal decimal.Decimal
	YearlyTotal  decimal.Decimal
	// CategoryBreakdown covers active subscriptions only; categories with no
	// subscription are absent. Order is first-encountered; callers re-sort for
	// display if they care.
	CategoryBreakdown []CategoryAmount
	// UpcomingPayments holds active subscriptions due within the next 30 days
	// (today included), ascending by days until billing.
	UpcomingPayments []Subscription
}

// TotalMonthlyAmount sums the monthly-equivalent cost of the collection. With
// activeOnly set, cancelled subscriptions are skipped.
func TotalMonthlyAmount(subs []Subscription, activeOnly bool) decimal.Decimal {
	total := decimal.Zero
	for _, s := range subs {
		if activeOnly && !s.IsActive {
			continue
		}
		total = total.Add(MonthlyEquivalent(s.Amount, s.Cycle))
	}
	return total
}

// ComputeStats derives the dashboard summary from a user's subscriptions.
// Summation keeps full decimal precision; rounding happens only when amounts
// are formatted for display.
func ComputeStats(subs []Subscription, now time.Time) Stats {
	stats := Stats{
		TotalCount:   len(subs),
		MonthlyTotal: decimal.Zero,
	}

	sums := make(map[Category]decimal.Decimal)
	var order []Category

	for _, s := range subs {
		if !s.IsActive {
			continue
		}
		stats.ActiveCount++

		monthly := MonthlyEquivalent(s.Amount, s.Cycle)
		stats.MonthlyTotal = stats.MonthlyTotal.Add(monthly)

		if _, seen := sums[s.Category]; !seen {
			order = append(order, s.Category)
		}
		sums[s.Category] = sums[s.Category].Add(monthly)

		if days := DaysUntil(s.NextBillingDate, now); days >= 0 && days <= upcomingWindowDays {
			stats.UpcomingPayments = append(stats.UpcomingPayments, s)
		}
	}

	stats.YearlyTotal = stats.MonthlyTotal.Mul(months12)

	for _, cat := range order {
		stats.CategoryBreakdown = append(stats.CategoryBreakdown, CategoryAmount{
			Category: cat,
			Monthly:  sums[cat],
		})
	}

	sort.SliceStable(stats.UpcomingPayments, func(i, j int) bool {
		return DaysUntil(stats.UpcomingPayments[i].NextBillingDate, now) <
			DaysUntil(stats.UpcomingPayments[j].NextBillingDate, now)
	})

	return stats
}
