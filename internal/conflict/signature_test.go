package conflict

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradeshare/internal/models"
)

func TestSignatureIgnoresLegOrderAndPrice(t *testing.T) {
	p := canonicalPosition()
	sig := Signature(p.Symbol, p.Account, p.Legs)
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}

	reordered := []models.Leg{p.Legs[1], p.Legs[0]}
	reordered[0].Premium = decimal.RequireFromString("9.99")
	if got := Signature(p.Symbol, p.Account, reordered); got != sig {
		t.Error("signature should not depend on leg order or premium")
	}
}

func TestSignatureBucketsStockQuantity(t *testing.T) {
	p := canonicalPosition()
	sig := Signature(p.Symbol, p.Account, p.Legs)

	legs := models.CloneLegs(p.Legs)
	legs[0].Quantity = decimal.NewFromInt(150)
	if Signature(p.Symbol, p.Account, legs) != sig {
		t.Error("quantity within the same lot bucket changed the signature")
	}

	legs[0].Quantity = decimal.NewFromInt(1500)
	if Signature(p.Symbol, p.Account, legs) == sig {
		t.Error("quantity in a different lot bucket should change the signature")
	}
}

func TestSignaturesMatch(t *testing.T) {
	if SignaturesMatch("", "") {
		t.Error("empty signatures never match")
	}
	if Signature("SPY", "A", nil) != "" {
		t.Error("no legs should give an empty signature")
	}
	if !SignaturesMatch("abc", "abc") {
		t.Error("equal signatures should match")
	}
}
