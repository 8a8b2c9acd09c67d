package model

// RelationshipCode is the portal's closed taxonomy for dependent relationships.
type RelationshipCode string

const (
	RelationshipSpouse  RelationshipCode = "1"  // Cônjuge
	RelationshipPartner RelationshipCode = "2"  // Companheiro(a)
	RelationshipChild   RelationshipCode = "3"  // Filho(a) ou enteado(a)
	RelationshipParent  RelationshipCode = "9"  // Pais, avós e bisavós
	RelationshipOther   RelationshipCode = "99" // Agregado/Outros
)

// Row is one spreadsheet row keyed by trimmed column header.
type Row map[string]string

// Get returns the trimmed value for a column, or "" when absent.
func (r Row) Get(col string) string {
	if r == nil {
		return ""
	}
	return r[col]
}

// Head is the principal identity of a group (the "titular").
type Head struct {
	IdentityID  string            `json:"identity_id" yaml:"identity_id"`
	DisplayName string            `json:"display_name" yaml:"display_name"`
	Amount      Amount            `json:"head_amount" yaml:"head_amount"`
	OperatorID  string            `json:"operator_id" yaml:"operator_id"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Dependent is a record attached to a head within the same group.
type Dependent struct {
	IdentityID        string `json:"identity_id" yaml:"identity_id"`
	DisplayName       string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	RelationshipLabel string `json:"relationship_label" yaml:"relationship_label"`
	Amount            Amount `json:"amount" yaml:"amount"`
}

// Participates reports whether the dependent should be submitted at all.
// A zero amount means the dependent no longer participates in the plan.
func (d Dependent) Participates() bool {
	return !d.Amount.IsZero()
}

// TaxpayerGroup is one head plus its dependents: the unit of work for one
// form submission. Groups are built once per run and never mutated.
type TaxpayerGroup struct {
	GroupID    string      `json:"group_id" yaml:"group_id"`
	Ordinal    int         `json:"ordinal" yaml:"ordinal"`
	Head       Head        `json:"head" yaml:"head"`
	Dependents []Dependent `json:"dependents" yaml:"dependents"`
}

// IdentityID is a shorthand for the head's identity.
func (g TaxpayerGroup) IdentityID() string {
	return g.Head.IdentityID
}

// ParticipatingDependents returns the dependents with a non-zero amount, in
// source order.
func (g TaxpayerGroup) ParticipatingDependents() []Dependent {
	out := make([]Dependent, 0, len(g.Dependents))
	for _, d := range g.Dependents {
		if d.Participates() {
			out = append(out, d)
		}
	}
	return out
}
