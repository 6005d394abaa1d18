package cli

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tradeshare/internal/conflict"
	"tradeshare/internal/models"
)

// For any string and limit, TruncateString never exceeds the limit and
// leaves short strings untouched.
func TestTruncateStringProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("TruncateString respects the limit", prop.ForAll(
		func(s string, max int) bool {
			out := TruncateString(s, max)
			n := utf8.RuneCountInString(out)
			if n > max {
				t.Logf("%q truncated to %d runes, limit %d", out, n, max)
				return false
			}
			if utf8.RuneCountInString(s) <= max && out != s {
				return false
			}
			return true
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

func TestFormatLeg(t *testing.T) {
	exp := time.Date(2024, 8, 16, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		leg      models.Leg
		expected string
	}{
		{
			models.Leg{AssetType: models.AssetStock, Symbol: "SPY", Quantity: decimal.NewFromInt(100), Premium: decimal.RequireFromString("450.10")},
			"+100 SPY @ $450.10",
		},
		{
			models.Leg{AssetType: models.AssetOption, Symbol: "SPY", OptionType: models.OptionCall, Strike: decimal.NewFromInt(460), Expiration: &exp, Quantity: decimal.NewFromInt(-1), Premium: decimal.RequireFromString("3.25")},
			"-1 SPY 460.00 CALL 2024-08-16 @ $3.25",
		},
		{
			models.Leg{AssetType: models.AssetOption, Symbol: "QQQ", OptionType: models.OptionPut, Strike: decimal.NewFromInt(400), Quantity: decimal.NewFromInt(2)},
			"+2 QQQ 400.00 PUT",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatLeg(tc.leg); got != tc.expected {
				t.Errorf("FormatLeg = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestFormatDiffSummary(t *testing.T) {
	var d conflict.Diff
	if got := FormatDiffSummary(d); got != "no conflicts" {
		t.Errorf("empty diff = %q", got)
	}
	d.Tags.Added = []string{"a"}
	d.Tags.Removed = []string{"b"}
	d.Comments.Added = []models.Comment{{ID: "c"}}
	d.Details.Changed = true
	if got := FormatDiffSummary(d); got != "2 tags, 1 comment, details" {
		t.Errorf("diff = %q", got)
	}
}

func TestFormatLastSynced(t *testing.T) {
	if got := FormatLastSynced(nil); got != "never" {
		t.Errorf("nil = %q", got)
	}
	if got := FormatTime(time.Time{}); got != "-" {
		t.Errorf("zero = %q", got)
	}
}
