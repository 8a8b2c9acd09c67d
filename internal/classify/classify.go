// Package classify sorts text scraped from the portal after an action into
// "nothing wrong", "generic error" and "already filed".
package classify

import (
	"strings"

	"github.com/efdreinf/reinf-cli/internal/group"
)

// Class is the classifier verdict.
type Class string

const (
	None                Class = "none"
	GenericError        Class = "generic_error"
	DuplicateSubmission Class = "duplicate_submission"
)

// duplicatePhrases must all appear in a single fragment. Together they form
// the portal's "an active event already exists for this period" message.
var duplicatePhrases = []string{
	"INCLUSAO NAO PERMITIDA",
	"EVENTO ATIVO",
}

// genericKeywords mark any other validation or processing failure.
var genericKeywords = []string{
	"JA FOI LANCADO",
	"DUPLICADO",
	"INVALIDO",
	"ERRO",
	"NAO ENCONTRADO",
	"CAMPO OBRIGATORIO",
	"INCLUSAO NAO PERMITIDA",
	"EXISTE UM EVENTO ATIVO",
	"CPF DO BENEFICIARIO",
	"MESMO PERIODO DE APURACAO",
}

// Classify inspects scraped fragments. Matching is case and accent
// insensitive.
func Classify(fragments []string) Class {
	normalized := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if n := group.Normalize(f); n != "" {
			normalized = append(normalized, n)
		}
	}

	for _, f := range normalized {
		if IsDuplicate(f) {
			return DuplicateSubmission
		}
	}
	for _, f := range normalized {
		for _, kw := range genericKeywords {
			if strings.Contains(f, kw) {
				return GenericError
			}
		}
	}
	return None
}

// IsDuplicate reports whether a single fragment carries the duplicate
// submission signature.
func IsDuplicate(fragment string) bool {
	f := group.Normalize(fragment)
	for _, p := range duplicatePhrases {
		if !strings.Contains(f, p) {
			return false
		}
	}
	return true
}

// Errors returns the fragments that matched any keyword, for event notes.
func Errors(fragments []string) []string {
	var out []string
	for _, f := range fragments {
		n := group.Normalize(f)
		for _, kw := range genericKeywords {
			if strings.Contains(n, kw) {
				out = append(out, strings.TrimSpace(f))
				break
			}
		}
	}
	return out
}
