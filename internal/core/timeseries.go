package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthBucket is one trailing-month entry of the trend series. Each bucket
// carries both the spend total and the subscription count, so one pass serves
// both charts.
type MonthBucket struct {
	Year  int
	Month time.Month
	// Total is the summed monthly-equivalent spend of subscriptions that
	// existed as of the end of this month.
	Total decimal.Decimal
	// Count is how many of the input subscriptions existed as of the end of
	// this month.
	Count int
}

// MonthlySpendSeries builds the trailing spend and count series for the last
// windowMonths months, the current month included. A subscription contributes
// to every bucket from its creation month onward; cancellation is not
// subtracted out of historical buckets. Callers that want active-only buckets
// filter the input first.
func MonthlySpendSeries(subs []Subscription, windowMonths int, now time.Time) []MonthBucket {
	if windowMonths <= 0 {
		return nil
	}

	buckets := make([]MonthBucket, windowMonths)
	for i := 0; i < windowMonths; i++ {
		m := addMonthsClamped(now, i-windowMonths+1)
		buckets[i] = MonthBucket{
			Year:  m.Year(),
			Month: m.Month(),
			Total: decimal.Zero,
		}
	}

	for _, s := range subs {
		monthly := MonthlyEquivalent(s.Amount, s.Cycle)
		for i := range buckets {
			end := endOfMonth(buckets[i].Year, buckets[i].Month)
			if !s.CreatedAt.After(end) {
				buckets[i].Total = buckets[i].Total.Add(monthly)
				buckets[i].Count++
			}
		}
	}

	return buckets
}

func endOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
}
