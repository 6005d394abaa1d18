package positions

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"tradeshare/internal/errors"
)

// Input limits
const (
	maxSymbolLen  = 20
	maxAccountLen = 64
	maxTagLen     = 40
	maxCommentLen = 2000
)

var (
	// Symbol pattern: uppercase letters, digits and share-class separators
	symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.&/-]*$`)

	// Tag pattern: no commas so tag lists stay unambiguous on the command line
	tagPattern = regexp.MustCompile(`^[^,]+$`)
)

// validateSymbol normalizes and checks an underlying symbol.
func validateSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if symbol == "" {
		return "", errors.NewValidationError("symbol", symbol, "symbol cannot be empty")
	}
	if len(symbol) > maxSymbolLen {
		return "", errors.NewValidationError("symbol", symbol, "symbol too long (max 20 characters)")
	}
	if !symbolPattern.MatchString(symbol) {
		return "", errors.NewValidationError("symbol", symbol, "invalid symbol format")
	}
	return symbol, nil
}

// validateAccount trims an account name. Empty is allowed.
func validateAccount(account string) (string, error) {
	account = sanitizeText(strings.TrimSpace(account))
	if utf8.RuneCountInString(account) > maxAccountLen {
		return "", errors.NewValidationError("account", account, "account name too long (max 64 characters)")
	}
	return account, nil
}

// validateTag trims a tag and checks its format.
func validateTag(tag string) (string, error) {
	tag = sanitizeText(strings.TrimSpace(tag))

	if tag == "" {
		return "", errors.NewValidationError("tag", tag, "tag is empty")
	}
	if utf8.RuneCountInString(tag) > maxTagLen {
		return "", errors.NewValidationError("tag", tag, "tag too long (max 40 characters)")
	}
	if !tagPattern.MatchString(tag) {
		return "", errors.NewValidationError("tag", tag, "tag cannot contain commas")
	}
	return tag, nil
}

// validateComment trims comment text and checks its length.
func validateComment(text string) (string, error) {
	text = sanitizeText(strings.TrimSpace(text))

	if text == "" {
		return "", errors.NewValidationError("text", text, "comment is empty")
	}
	if n := utf8.RuneCountInString(text); n > maxCommentLen {
		return "", errors.NewValidationError("text", string([]rune(text)[:50])+"...", "comment too long (max 2000 characters)")
	}
	return text, nil
}

// sanitizeText drops control characters other than newlines and tabs.
func sanitizeText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
