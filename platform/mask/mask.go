// Package mask provides masking utilities for values that must not be
// persisted in cleartext alongside event diagnostics.
package mask

import "strings"

// Digits replaces every decimal digit in s with '*'. Used for the inbound
// webhook secret before it is stored with request metadata.
func Digits(s string) string {
	if s == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return '*'
		}
		return r
	}, s)
}

// Secret masks a presented credential for storage: digits are replaced and
// everything past the first four characters is dropped.
func Secret(s string) string {
	masked := Digits(s)
	if len(masked) <= 4 {
		return masked
	}
	return masked[:4] + "…"
}
