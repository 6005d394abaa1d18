// Package utils provides shared utility functions.
package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatDecimal formats d with the given number of decimal places and
// thousands separators.
func FormatDecimal(d decimal.Decimal, places int32) string {
	negative := d.IsNegative()
	if negative {
		d = d.Neg()
	}

	str := d.StringFixed(places)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := groupThousands(intPart)
	if places > 0 {
		result += "." + decPart
	}
	if negative {
		result = "-" + result
	}
	return result
}

// FormatMoney formats an amount with two decimal places and a dollar sign.
func FormatMoney(d decimal.Decimal) string {
	s := FormatDecimal(d, 2)
	if strings.HasPrefix(s, "-") {
		return "-$" + s[1:]
	}
	return "$" + s
}

// FormatQuantity formats a signed quantity, dropping trailing zeros.
func FormatQuantity(q decimal.Decimal) string {
	places := -q.Exponent()
	if places < 0 {
		places = 0
	}
	s := FormatDecimal(q, places)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	if q.IsPositive() {
		s = "+" + s
	}
	return s
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 3 {
			result = s[len(s)-3:] + "," + result
			s = s[:len(s)-3]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}
