package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"JPY": "¥",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// CurrencySymbol returns the symbol for a currency code. Unrecognized codes
// are used as the symbol themselves, so formatting never fails.
func CurrencySymbol(currency string) string {
	if sym, ok := currencySymbols[currency]; ok {
		return sym
	}
	return currency
}

// FormatAmount renders an amount for display. JPY (the default when currency
// is empty) formats as a whole number with thousands separators; fractional
// yen are rounded half-up. Other currencies keep exactly two fraction digits.
// This is the only place amounts are rounded.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "JPY"
	}
	sym := CurrencySymbol(currency)

	if currency == "JPY" {
		return sym + groupThousands(amount.Round(0).StringFixed(0))
	}

	fixed := amount.Round(2).StringFixed(2)
	intPart, fracPart, _ := strings.Cut(fixed, ".")
	return sym + groupThousands(intPart) + "." + fracPart
}

// groupThousands inserts comma separators into a decimal integer string,
// preserving a leading minus sign.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	n := len(s)
	if n > 3 {
		var b strings.Builder
		first := n % 3
		if first > 0 {
			b.WriteString(s[:first])
		}
		for i := first; i < n; i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}

	if neg {
		return "-" + s
	}
	return s
}
