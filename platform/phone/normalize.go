// Package phone provides phone number normalization for the Brazilian
// numbering plan. This is part of the platform layer and contains no
// business logic.
package phone

import (
	"regexp"
	"strings"
)

const (
	// CountryCode is the Brazilian country calling code.
	CountryCode = "55"
	// CountryPrefix is the canonical international prefix.
	CountryPrefix = "+" + CountryCode
)

var canonicalRe = regexp.MustCompile(`^\+55\d{10,11}$`)

// Normalize converts an arbitrary phone-like string into the canonical
// +55<national> form. The national number is an area code plus subscriber
// number, 10 digits for fixed lines and 11 for mobile. Returns false when
// no valid interpretation exists; an 8-9 digit subscriber number without an
// area code is rejected rather than guessed.
//
// Rules are tried in order, first match wins. The prefixed forms must be
// checked before the bare 10/11-digit fallback, otherwise a prefixed number
// would be misread as a bare national number.
func Normalize(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	// Already canonical once cosmetic characters are stripped.
	cleaned := stripCosmetic(trimmed)
	if canonicalRe.MatchString(cleaned) {
		return cleaned, true
	}

	digits := digitsOnly(trimmed)

	// International trunk prefix: 0055 + national.
	if strings.HasPrefix(digits, "00"+CountryCode) && (len(digits) == 14 || len(digits) == 15) {
		if rest := digits[4:]; isNationalLength(rest) {
			return CountryPrefix + rest, true
		}
	}

	// Bare country code: 55 + national.
	if strings.HasPrefix(digits, CountryCode) && (len(digits) == 12 || len(digits) == 13) {
		if rest := digits[2:]; isNationalLength(rest) {
			return CountryPrefix + rest, true
		}
	}

	// Domestic trunk prefix: 0 + national.
	if strings.HasPrefix(digits, "0") && (len(digits) == 11 || len(digits) == 12) {
		if rest := strings.TrimLeft(digits, "0"); isNationalLength(rest) {
			return CountryPrefix + rest, true
		}
	}

	// Bare national number: area code + subscriber.
	if isNationalLength(digits) {
		return CountryPrefix + digits, true
	}

	return "", false
}

func isNationalLength(digits string) bool {
	return len(digits) == 10 || len(digits) == 11
}

// stripCosmetic removes parentheses, hyphens and whitespace, preserving a
// single leading +.
func stripCosmetic(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i, r := range value {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '(' || r == ')' || r == '-' || r == ' ' || r == '\t':
			// cosmetic, dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOnly(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
