package group

import (
	"strings"

	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/model"
)

// MatchKind records how a label was resolved.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchPartial MatchKind = "partial"
	MatchDefault MatchKind = "default"
)

type relationshipEntry struct {
	label string
	code  model.RelationshipCode
}

// relationshipTable is scanned in order for partial matches, so the order is
// part of the mapping's behavior. Keys are already normalized.
var relationshipTable = []relationshipEntry{
	{"ESPOSA", model.RelationshipSpouse},
	{"ESPOSO", model.RelationshipSpouse},
	{"COMPANHEIRO(A)", model.RelationshipPartner},
	{"COMPANHEIRO", model.RelationshipPartner},
	{"COMPANHEIRA", model.RelationshipPartner},
	{"FILHA", model.RelationshipChild},
	{"FILHO", model.RelationshipChild},
	{"ENTEADA", model.RelationshipChild},
	{"ENTEADO", model.RelationshipChild},
	{"MAE", model.RelationshipParent},
	{"MAMAE", model.RelationshipParent},
	{"PAI", model.RelationshipParent},
	{"AGREGADO", model.RelationshipOther},
	{"OUTRA DEPENDENCIA", model.RelationshipOther},
	{"SOGRO", model.RelationshipOther},
	{"SOGRA", model.RelationshipOther},
}

var relationshipIndex = func() map[string]model.RelationshipCode {
	m := make(map[string]model.RelationshipCode, len(relationshipTable))
	for _, e := range relationshipTable {
		m[e.label] = e.code
	}
	return m
}()

// Relationship is the mapped form of a free-text dependency label.
type Relationship struct {
	Code model.RelationshipCode
	// Description carries the original label when Code is "other", since the
	// portal then requires a free-text description.
	Description string
	Match       MatchKind
}

// MapRelationship resolves a free-text label to a relationship code: exact
// match first, then the first table key that contains or is contained by the
// label, else "other" with a warning.
func MapRelationship(label string) Relationship {
	key := Normalize(label)
	out := Relationship{Code: model.RelationshipOther, Match: MatchDefault}

	if code, ok := relationshipIndex[key]; ok {
		out.Code, out.Match = code, MatchExact
	} else if key != "" {
		for _, e := range relationshipTable {
			if strings.Contains(key, e.label) || strings.Contains(e.label, key) {
				out.Code, out.Match = e.code, MatchPartial
				break
			}
		}
	}

	if out.Match == MatchDefault {
		zap.L().Warn("relationship: unmapped label, using other",
			zap.String("label", label),
			zap.String("code", string(model.RelationshipOther)),
		)
	}
	if out.Code == model.RelationshipOther {
		out.Description = strings.TrimSpace(label)
	}
	return out
}
