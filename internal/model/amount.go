package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Amount is a monetary value in centavos.
type Amount int64

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a == 0
}

// String formats the amount the way the portal expects it: "1234,56".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d,%02d", sign, v/100, v%100)
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(b []byte) error {
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAmount parses spreadsheet money values. It accepts plain numbers from
// XLSX cells ("50", "50.5"), Brazilian notation ("50,00", "1.234,56") and a
// leading "R$". Empty input is zero.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || s == "-" {
		return 0, nil
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()

	hasComma := strings.Contains(clean, ",")
	hasDot := strings.Contains(clean, ".")
	switch {
	case hasComma && hasDot:
		// 1.234,56
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	case hasComma:
		clean = strings.Replace(clean, ",", ".", 1)
	}

	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "amount: parse %q", s)
	}
	cents := Amount(f*100 + 0.5)
	if neg {
		cents = -cents
	}
	return cents, nil
}

// MustParseAmount is ParseAmount for fixtures; invalid input yields zero.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		return 0
	}
	return a
}
