package group

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize trims, upper-cases and strips diacritics so "Mãe " and "MAE"
// compare equal.
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(folded), " ")
}

// DigitsOnly strips every non-digit, turning "111.222.333-44" into
// "11122233344".
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SameIdentity compares two CPFs/CNPJs ignoring punctuation.
func SameIdentity(a, b string) bool {
	da, db := DigitsOnly(a), DigitsOnly(b)
	return da != "" && da == db
}
