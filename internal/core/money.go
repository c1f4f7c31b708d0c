// Package core provides the receipt, aggregate and session types shared
// by every layer, plus money and date formatting.
package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

type currencyFormat struct {
	symbol string
	places int32
	label  string
}

// Supported currencies in the order they are offered to members.
var currencyOrder = []string{"USD", "EUR", "GBP", "CAD", "MXN", "BRL", "JPY", "CHF", "AUD", "INR"}

var currencies = map[string]currencyFormat{
	"USD": {"$", 2, "USD - US Dollar"},
	"EUR": {"€", 2, "EUR - Euro"},
	"GBP": {"£", 2, "GBP - British Pound"},
	"CAD": {"CA$", 2, "CAD - Canadian Dollar"},
	"MXN": {"MX$", 2, "MXN - Mexican Peso"},
	"BRL": {"R$", 2, "BRL - Brazilian Real"},
	"JPY": {"¥", 0, "JPY - Japanese Yen"},
	"CHF": {"CHF ", 2, "CHF - Swiss Franc"},
	"AUD": {"A$", 2, "AUD - Australian Dollar"},
	"INR": {"₹", 2, "INR - Indian Rupee"},
}

type CurrencyOption struct {
	Code  string
	Label string
}

func CurrencyOptions() []CurrencyOption {
	out := make([]CurrencyOption, 0, len(currencyOrder))
	for _, code := range currencyOrder {
		out = append(out, CurrencyOption{Code: code, Label: currencies[code].label})
	}
	return out
}

func IsSupportedCurrency(code string) bool {
	_, ok := currencies[code]
	return ok
}

// NormalizeCurrency upper-cases a currency code, defaulting to USD when blank.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}

// ParseAmount parses a positive amount typed by a member.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted.
// Zero, negative and malformed values return ErrInvalidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatMoney renders a nullable amount; null values render as "-".
func FormatMoney(v decimal.NullDecimal, currency string) string {
	if !v.Valid {
		return "-"
	}
	return FormatAmount(v.Decimal, currency)
}

// FormatAmount renders an amount in en-US currency style, e.g. "$1,234.50".
// Unknown codes fall back to "XYZ 1,234.50".
func FormatAmount(v decimal.Decimal, currency string) string {
	code := NormalizeCurrency(currency)
	f, ok := currencies[code]
	if !ok {
		f = currencyFormat{symbol: code + " ", places: 2}
	}

	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	fixed := v.StringFixed(f.places)
	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(f.symbol)
	b.WriteString(groupThousands(intPart))
	if fracPart != "" {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// FormatDate renders an ISO date as "Jan 02, 2006". Values that cannot be
// parsed are returned unchanged.
func FormatDate(value string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(DisplayDateLayout)
		}
	}
	return value
}

const DisplayDateLayout = "Jan 02, 2006"
