package group

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/efdreinf/reinf-cli/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" mãe ", "MAE"},
		{"MAMÃE", "MAMAE"},
		{"Outra  Dependência", "OUTRA DEPENDENCIA"},
		{"filho(a)", "FILHO(A)"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "11122233344", DigitsOnly("111.222.333-44"))
	assert.Equal(t, "", DigitsOnly("abc"))
	assert.True(t, SameIdentity("111.222.333-44", "11122233344"))
	assert.False(t, SameIdentity("", ""))
}

func TestMapRelationship(t *testing.T) {
	tests := []struct {
		label string
		code  model.RelationshipCode
		match MatchKind
	}{
		{"ESPOSA", model.RelationshipSpouse, MatchExact},
		{"esposo", model.RelationshipSpouse, MatchExact},
		{"Companheira", model.RelationshipPartner, MatchExact},
		{"COMPANHEIRO(A)", model.RelationshipPartner, MatchExact},
		{"FILHA", model.RelationshipChild, MatchExact},
		{"Enteado", model.RelationshipChild, MatchExact},
		{"MÃE", model.RelationshipParent, MatchExact},
		{"MAMÃE", model.RelationshipParent, MatchExact},
		{"PAI", model.RelationshipParent, MatchExact},
		{"SOGRA", model.RelationshipOther, MatchExact},
		{"OUTRA DEPENDÊNCIA", model.RelationshipOther, MatchExact},
		{"FILHO(A)", model.RelationshipChild, MatchPartial},
		{"ESPOSA ATUAL", model.RelationshipSpouse, MatchPartial},
		{"TIO", model.RelationshipOther, MatchDefault},
		{"", model.RelationshipOther, MatchDefault},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got := MapRelationship(tt.label)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.match, got.Match)
		})
	}
}

func TestMapRelationship_OtherCarriesDescription(t *testing.T) {
	got := MapRelationship(" Tio ")
	assert.Equal(t, model.RelationshipOther, got.Code)
	assert.Equal(t, "Tio", got.Description)

	got = MapRelationship("SOGRO")
	assert.Equal(t, "SOGRO", got.Description)

	got = MapRelationship("FILHO")
	assert.Empty(t, got.Description)
}

func TestMapRelationship_PartialFollowsTableOrder(t *testing.T) {
	got := MapRelationship("COMPANHEIRO DE LONGA DATA")
	assert.Equal(t, model.RelationshipPartner, got.Code)
	assert.Equal(t, MatchPartial, got.Match)
}

func TestMapRelationship_Deterministic(t *testing.T) {
	first := MapRelationship("AVÓ PATERNA")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, MapRelationship("AVÓ PATERNA"))
	}
}
