// Package core holds the billing domain: subscription records, billing-cycle
// normalization, next-charge projection and aggregate statistics. Everything in
// this package is pure — no I/O, no clocks, no shared state. Callers pass "now"
// explicitly where date arithmetic is involved.
package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is the recurrence period at which a subscription charges.
type BillingCycle string

const (
	CycleDaily      BillingCycle = "DAILY"
	CycleWeekly     BillingCycle = "WEEKLY"
	CycleMonthly    BillingCycle = "MONTHLY"
	CycleQuarterly  BillingCycle = "QUARTERLY"
	CycleSemiAnnual BillingCycle = "SEMI_ANNUAL"
	CycleYearly     BillingCycle = "YEARLY"
	CycleLifetime   BillingCycle = "LIFETIME"
	CycleCustom     BillingCycle = "CUSTOM"
)

// Category groups subscriptions for breakdown views. It carries no behavior
// besides label lookup.
type Category string

const (
	CategoryEntertainment Category = "ENTERTAINMENT"
	CategoryProductivity  Category = "PRODUCTIVITY"
	CategoryEducation     Category = "EDUCATION"
	CategoryCloudStorage  Category = "CLOUD_STORAGE"
	CategoryMusic         Category = "MUSIC"
	CategoryVideo         Category = "VIDEO"
	CategoryNews          Category = "NEWS"
	CategoryFinance       Category = "FINANCE"
	CategoryHealth        Category = "HEALTH"
	CategoryShopping      Category = "SHOPPING"
	CategoryGaming        Category = "GAMING"
	CategorySoftware      Category = "SOFTWARE"
	CategoryCommunication Category = "COMMUNICATION"
	CategoryTravel        Category = "TRAVEL"
	CategoryFood          Category = "FOOD"
	CategoryOther         Category = "OTHER"
)

var cycleLabels = map[BillingCycle]string{
	CycleDaily:      "日",
	CycleWeekly:     "週",
	CycleMonthly:    "月",
	CycleQuarterly:  "四半期",
	CycleSemiAnnual: "半年",
	CycleYearly:     "年",
	CycleLifetime:   "買い切り",
	CycleCustom:     "カスタム",
}

var categoryLabels = map[Category]string{
	CategoryEntertainment: "エンターテインメント",
	CategoryProductivity:  "生産性・仕事",
	CategoryEducation:     "教育・学習",
	CategoryCloudStorage:  "クラウドストレージ",
	CategoryMusic:         "音楽",
	CategoryVideo:         "動画・映像",
	CategoryNews:          "ニュース・情報",
	CategoryFinance:       "金融・投資",
	CategoryHealth:        "健康・フィットネス",
	CategoryShopping:      "ショッピング・EC",
	CategoryGaming:        "ゲーム",
	CategorySoftware:      "ソフトウェア・ツール",
	CategoryCommunication: "コミュニケーション",
	CategoryTravel:        "旅行・移動",
	CategoryFood:          "フード・デリバリー",
	CategoryOther:         "その他",
}

// Label returns the display label for the cycle, falling back to the raw value
// for unrecognized cycles.
func (c BillingCycle) Label() string {
	if l, ok := cycleLabels[c]; ok {
		return l
	}
	return string(c)
}

// IsValid reports whether the cycle is one of the known enumeration values.
func (c BillingCycle) IsValid() bool {
	_, ok := cycleLabels[c]
	return ok
}

// Label returns the display label for the category, falling back to the raw
// value for unrecognized categories.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// IsValid reports whether the category is one of the known enumeration values.
func (c Category) IsValid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Categories returns all known categories in a stable order.
func Categories() []Category {
	return []Category{
		CategoryEntertainment, CategoryProductivity, CategoryEducation,
		CategoryCloudStorage, CategoryMusic, CategoryVideo, CategoryNews,
		CategoryFinance, CategoryHealth, CategoryShopping, CategoryGaming,
		CategorySoftware, CategoryCommunication, CategoryTravel, CategoryFood,
		CategoryOther,
	}
}

// BillingCycles returns all known billing cycles in a stable order.
func BillingCycles() []BillingCycle {
	return []BillingCycle{
		CycleDaily, CycleWeekly, CycleMonthly, CycleQuarterly,
		CycleSemiAnnual, CycleYearly, CycleLifetime, CycleCustom,
	}
}

// Subscription is a recurring expense owned by exactly one user. Cancelled
// subscriptions are retained with IsActive=false rather than deleted.
type Subscription struct {
	ID              string
	UserID          string
	Name            string
	Amount          decimal.Decimal // in the subscription's own currency
	Currency        string          // ISO-like 3-letter code, JPY when empty
	Cycle           BillingCycle
	NextBillingDate time.Time
	Category        Category
	IsActive        bool
	Notes           string
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var (
	ErrEmptyName       = errors.New("empty name")
	ErrNameTooLong     = errors.New("name too long (max 100 characters)")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidCycle    = errors.New("invalid billing cycle")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidDate     = errors.New("next billing date cannot be zero")
	ErrNotesTooLong    = errors.New("notes too long (max 500 characters)")
)

// ParseAmount parses a user-supplied amount string into a decimal. Anything
// that does not parse, including the empty string, maps to ErrInvalidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// Validate checks the record before it is persisted. The normalization
// functions themselves remain total and never reject a record; validation
// guards only the write path.
func (s Subscription) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return ErrEmptyName
	}
	if len([]rune(s.Name)) > 100 {
		return ErrNameTooLong
	}
	if !s.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !s.Cycle.IsValid() {
		return ErrInvalidCycle
	}
	if !s.Category.IsValid() {
		return ErrInvalidCategory
	}
	if s.NextBillingDate.IsZero() {
		return ErrInvalidDate
	}
	if len([]rune(s.Notes)) > 500 {
		return ErrNotesTooLong
	}
	return nil
}
