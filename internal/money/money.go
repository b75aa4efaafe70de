// Package money converts catalog price strings to integer minor units.
// Amounts are never handled as floats.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseMinor turns a display price such as "₹2,400.00" or "2400" into minor
// units (paise). More than two fractional digits is an error rather than a
// silent rounding.
func ParseMinor(price string) (int64, error) {
	cleaned := strings.TrimSpace(price)
	for _, prefix := range []string{"₹", "Rs.", "Rs", "INR"} {
		cleaned = strings.TrimPrefix(cleaned, prefix)
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return 0, fmt.Errorf("parse price %q: empty", price)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", price, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("parse price %q: negative amount", price)
	}

	minor := d.Mul(hundred)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("parse price %q: more than two decimal places", price)
	}
	return minor.IntPart(), nil
}

// Format renders minor units as a two-decimal string, e.g. 240000 -> "2400.00".
func Format(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func FormatWithCurrency(minor int64, currency string) string {
	if strings.EqualFold(currency, "INR") {
		return "₹" + Format(minor)
	}
	return Format(minor) + " " + strings.ToUpper(currency)
}
