package core

import "time"

// lifetimeYears pushes a one-time purchase far enough into the future that it
// never surfaces in due-date sorting. Sorting code expects a concrete date, so
// a sentinel offset is used instead of an optional value.
const lifetimeYears = 100

// NextOccurrence advances a billing date by one period. Month-based cycles use
// calendar-aware addition with day-of-month clamping, so Jan 31 + 1 month is
// Feb 28 (or 29), not Mar 2. Unrecognized cycles advance by one month.
func NextOccurrence(current time.Time, cycle BillingCycle) time.Time {
	switch cycle {
	case CycleDaily:
		return current.AddDate(0, 0, 1)
	case CycleWeekly:
		return current.AddDate(0, 0, 7)
	case CycleMonthly:
		return addMonthsClamped(current, 1)
	case CycleQuarterly:
		return addMonthsClamped(current, 3)
	case CycleSemiAnnual:
		return addMonthsClamped(current, 6)
	case CycleYearly:
		return addMonthsClamped(current, 12)
	case CycleLifetime:
		return addMonthsClamped(current, 12*lifetimeYears)
	case CycleCustom:
		return addMonthsClamped(current, 1)
	default:
		return addMonthsClamped(current, 1)
	}
}

// addMonthsClamped adds n calendar months, clamping the day to the last day of
// the target month. time.Time.AddDate normalizes overflow days into the next
// month instead, which would drift billing anchored at month-end.
func addMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	m := int(month) + n
	year += (m - 1) / 12
	m = (m-1)%12 + 1
	if m < 1 {
		m += 12
		year--
	}
	if last := lastDayOfMonth(year, time.Month(m)); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(year, time.Month(m), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DaysUntil returns the calendar-day difference between next and now, with
// both times truncated to midnight first. A charge due anytime today yields 0,
// tomorrow yields 1, and overdue dates are negative.
func DaysUntil(next, now time.Time) int {
	a := dateOnly(next)
	b := dateOnly(now)
	return int(a.Sub(b).Hours() / 24)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Urgency classifies how soon a subscription charges next.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// UrgencyLevel maps days-until-billing to the 3/7-day urgency convention used
// by reminder scheduling.
func UrgencyLevel(days int) Urgency {
	switch {
	case days <= 3:
		return UrgencyHigh
	case days <= 7:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// DueTier is the 7/14-day display convention used by subscription list badges.
// It coexists with UrgencyLevel on purpose: the two conventions serve
// different surfaces and must not be unified.
type DueTier string

const (
	TierRed    DueTier = "red"
	TierYellow DueTier = "yellow"
	TierGreen  DueTier = "green"
)

// BillingDueTier maps days-until-billing to the red/yellow/green badge tier.
func BillingDueTier(days int) DueTier {
	switch {
	case days <= 7:
		return TierRed
	case days <= 14:
		return TierYellow
	default:
		return TierGreen
	}
}
