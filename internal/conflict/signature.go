package conflict

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"tradeshare/internal/models"
)

var (
	smallLot  = decimal.NewFromInt(10)
	mediumLot = decimal.NewFromInt(100)
	largeLot  = decimal.NewFromInt(1000)
)

// Signature fingerprints the structure of a position's legs. Quantities and
// prices are left out for option legs and bucketed for stock legs, so fills
// and partial closes do not change it. Positions without legs have an empty
// signature.
func Signature(symbol, account string, legs []models.Leg) string {
	if len(legs) == 0 {
		return ""
	}

	sorted := models.CloneLegs(legs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AssetType != b.AssetType {
			return a.AssetType < b.AssetType
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if !a.Strike.Equal(b.Strike) {
			return a.Strike.LessThan(b.Strike)
		}
		return expiry(a) < expiry(b)
	})

	parts := []string{"symbol:" + symbol, "account:" + account}
	for _, l := range sorted {
		var b strings.Builder
		b.WriteString("leg:")
		b.WriteString(string(l.AssetType))
		b.WriteString(":")
		b.WriteString(l.Symbol)
		b.WriteString(":")
		if l.AssetType == models.AssetOption {
			b.WriteString(string(l.OptionType))
			b.WriteString(":")
			b.WriteString(l.Strike.String())
			b.WriteString(":")
			b.WriteString(expiry(l))
		} else {
			b.WriteString("qty_range:")
			b.WriteString(lotSize(l.Quantity))
		}
		parts = append(parts, b.String())
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// SignaturesMatch reports whether two non-empty signatures are equal.
func SignaturesMatch(a, b string) bool {
	return a != "" && b != "" && a == b
}

func expiry(l models.Leg) string {
	if l.Expiration == nil {
		return ""
	}
	return l.Expiration.Format("2006-01-02")
}

func lotSize(qty decimal.Decimal) string {
	q := qty.Abs()
	switch {
	case q.LessThan(smallLot):
		return "tiny"
	case q.LessThan(mediumLot):
		return "small"
	case q.LessThan(largeLot):
		return "medium"
	default:
		return "large"
	}
}
