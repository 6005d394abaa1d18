package positions

import (
	"strings"
	"testing"

	"tradeshare/internal/errors"
)

func TestValidateSymbol(t *testing.T) {
	valid := map[string]string{
		" spy ": "SPY",
		"brk.b": "BRK.B",
		"M&M":   "M&M",
		"BF/B":  "BF/B",
	}
	for in, want := range valid {
		got, err := validateSymbol(in)
		if err != nil || got != want {
			t.Errorf("validateSymbol(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	for _, in := range []string{"", "   ", "SP Y", ".SPY", "SPY;DROP", strings.Repeat("A", 21)} {
		if _, err := validateSymbol(in); !errors.Is(err, errors.ErrValidation) {
			t.Errorf("validateSymbol(%q) error = %v, want validation error", in, err)
		}
	}
}

func TestValidateTagAndComment(t *testing.T) {
	if got, err := validateTag("  earnings\x00 "); err != nil || got != "earnings" {
		t.Errorf("validateTag = %q, %v", got, err)
	}
	for _, in := range []string{"", " ", "a,b", strings.Repeat("x", 41)} {
		if _, err := validateTag(in); !errors.Is(err, errors.ErrValidation) {
			t.Errorf("validateTag(%q) error = %v", in, err)
		}
	}

	if got, err := validateComment("line one\nline two\a"); err != nil || got != "line one\nline two" {
		t.Errorf("validateComment = %q, %v", got, err)
	}
	if _, err := validateComment(strings.Repeat("é", maxCommentLen+1)); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("long comment error = %v", err)
	}
	if _, err := validateComment(strings.Repeat("é", maxCommentLen)); err != nil {
		t.Errorf("comment at limit: %v", err)
	}
}

func TestValidateAccount(t *testing.T) {
	if got, err := validateAccount(""); err != nil || got != "" {
		t.Errorf("empty account = %q, %v", got, err)
	}
	if _, err := validateAccount(strings.Repeat("a", maxAccountLen+1)); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("long account error = %v", err)
	}
}
