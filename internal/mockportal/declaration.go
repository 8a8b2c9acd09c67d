package mockportal

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/portal"
)

var periodRe = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{4}$`)

var relationCodes = map[string]bool{"1": true, "2": true, "3": true, "9": true, "99": true}

// Detail is a declaration with the head's plan value and each dependent's
// value resolved, all formatted as "0,00".
type Detail struct {
	portal.Declaration
	HeadAmount string            `json:"valor_titular"`
	Summary    []DependentDetail `json:"resumo_dependentes"`
}

// DependentDetail is one dependent with its declared value.
type DependentDetail struct {
	CPF      string `json:"cpf"`
	Relation string `json:"relacao"`
	Amount   string `json:"valor"`
}

// NewDetail resolves a declaration's values. The head value is the first
// plan's; a dependent without a value line reads "0,00".
func NewDetail(decl portal.Declaration) Detail {
	d := Detail{Declaration: decl, HeadAmount: "0,00", Summary: []DependentDetail{}}
	if len(decl.Plans) > 0 {
		d.HeadAmount = FormatValue(decl.Plans[0].Amount)
	}
	for _, dep := range decl.Dependents {
		amount := "0,00"
		for _, v := range decl.DependentValues {
			if v.CPF == dep.CPF {
				amount = FormatValue(v.Amount)
				break
			}
		}
		d.Summary = append(d.Summary, DependentDetail{CPF: dep.CPF, Relation: dep.Relation, Amount: amount})
	}
	return d
}

// FormatValue renders a money string with two decimals and a comma.
// Unparseable input renders as "0,00".
func FormatValue(s string) string {
	a, err := model.ParseAmount(s)
	if err != nil {
		return "0,00"
	}
	return a.String()
}

// decodeDeclaration reads a JSON body or the HTML form's fields. The form
// carries the three lists as JSON strings.
func decodeDeclaration(r *http.Request) (portal.Declaration, bool, error) {
	var decl portal.Declaration
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&decl); err != nil {
			return decl, false, eris.Wrap(err, "decode json")
		}
		normalizeDeclaration(&decl)
		return decl, false, nil
	}

	if err := r.ParseForm(); err != nil {
		return decl, true, eris.Wrap(err, "parse form")
	}
	decl.Period = firstOf(r.PostForm.Get("periodo"), r.PostForm.Get("data"))
	decl.EstablishmentCNPJ = r.PostForm.Get("cnpj")
	decl.BeneficiaryCPF = r.PostForm.Get("cpf")
	for field, dst := range map[string]any{
		"dependentes":        &decl.Dependents,
		"planos_saude":       &decl.Plans,
		"dependentes_planos": &decl.DependentValues,
	} {
		raw := r.PostForm.Get(field)
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return decl, true, eris.Wrapf(err, "decode %s", field)
		}
	}
	normalizeDeclaration(&decl)
	return decl, true, nil
}

func normalizeDeclaration(d *portal.Declaration) {
	d.EstablishmentCNPJ = group.DigitsOnly(d.EstablishmentCNPJ)
	d.BeneficiaryCPF = group.DigitsOnly(d.BeneficiaryCPF)
	for i := range d.Dependents {
		d.Dependents[i].CPF = group.DigitsOnly(d.Dependents[i].CPF)
	}
	for i := range d.Plans {
		d.Plans[i].OperatorCNPJ = group.DigitsOnly(d.Plans[i].OperatorCNPJ)
	}
	for i := range d.DependentValues {
		d.DependentValues[i].CPF = group.DigitsOnly(d.DependentValues[i].CPF)
	}
}

func validateHeader(period, cnpj, cpf string) []string {
	var msgs []string
	if !periodRe.MatchString(period) {
		msgs = append(msgs, "Período de apuração inválido")
	}
	if len(group.DigitsOnly(cnpj)) != 14 {
		msgs = append(msgs, "CNPJ do estabelecimento inválido")
	}
	if len(group.DigitsOnly(cpf)) != 11 {
		msgs = append(msgs, "CPF do beneficiário inválido")
	}
	return msgs
}

func validateDeclaration(d portal.Declaration) []string {
	msgs := validateHeader(d.Period, d.EstablishmentCNPJ, d.BeneficiaryCPF)
	known := make(map[string]bool, len(d.Dependents))
	for i, dep := range d.Dependents {
		if len(dep.CPF) != 11 {
			msgs = append(msgs, fmt.Sprintf("Dependente %d: CPF inválido", i+1))
		}
		if !relationCodes[dep.Relation] {
			msgs = append(msgs, fmt.Sprintf("Dependente %d: relação de dependência inválida", i+1))
		}
		if dep.Relation == string(model.RelationshipOther) && dep.Description == "" {
			msgs = append(msgs, fmt.Sprintf("Dependente %d: campo obrigatório descrição da dependência", i+1))
		}
		known[dep.CPF] = true
	}
	for i, p := range d.Plans {
		if len(p.OperatorCNPJ) != 14 {
			msgs = append(msgs, fmt.Sprintf("Plano %d: CNPJ da operadora inválido", i+1))
		}
		if _, err := model.ParseAmount(p.Amount); err != nil {
			msgs = append(msgs, fmt.Sprintf("Plano %d: valor inválido", i+1))
		}
	}
	for _, v := range d.DependentValues {
		if !known[v.CPF] {
			msgs = append(msgs, fmt.Sprintf("Dependente %s não encontrado na declaração", v.CPF))
		}
		if _, err := model.ParseAmount(v.Amount); err != nil {
			msgs = append(msgs, fmt.Sprintf("Dependente %s: valor inválido", v.CPF))
		}
	}
	return msgs
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
