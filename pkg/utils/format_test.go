package utils

import (
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func TestFormatDecimal(t *testing.T) {
	tests := []struct {
		in     string
		places int32
		want   string
	}{
		{"0", 2, "0.00"},
		{"999", 0, "999"},
		{"1000", 0, "1,000"},
		{"1234567.891", 2, "1,234,567.89"},
		{"-45000.5", 2, "-45,000.50"},
	}
	for _, tt := range tests {
		if got := FormatDecimal(decimal.RequireFromString(tt.in), tt.places); got != tt.want {
			t.Errorf("FormatDecimal(%s, %d) = %q, want %q", tt.in, tt.places, got, tt.want)
		}
	}
}

func TestFormatMoneyAndQuantity(t *testing.T) {
	if got := FormatMoney(decimal.RequireFromString("-3.25")); got != "-$3.25" {
		t.Errorf("FormatMoney = %q", got)
	}
	if got := FormatMoney(decimal.RequireFromString("45010")); got != "$45,010.00" {
		t.Errorf("FormatMoney = %q", got)
	}
	if got := FormatQuantity(decimal.NewFromInt(100)); got != "+100" {
		t.Errorf("FormatQuantity = %q", got)
	}
	if got := FormatQuantity(decimal.NewFromInt(-2)); got != "-2" {
		t.Errorf("FormatQuantity = %q", got)
	}
	if got := FormatQuantity(decimal.RequireFromString("0.50")); got != "+0.5" {
		t.Errorf("FormatQuantity = %q", got)
	}
}

// Grouping never changes the value: stripping the commas gives back the
// plain fixed-point string.
func TestFormatDecimalGroupingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	grouped := regexp.MustCompile(`^-?\d{1,3}(,\d{3})*\.\d{2}$`)

	properties.Property("grouping preserves digits", prop.ForAll(
		func(cents int64) bool {
			d := decimal.New(cents, -2)
			s := FormatDecimal(d, 2)
			if !grouped.MatchString(s) {
				t.Logf("bad grouping for %s: %s", d, s)
				return false
			}
			return strings.ReplaceAll(s, ",", "") == d.StringFixed(2)
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.TestingRun(t)
}
