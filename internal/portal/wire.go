package portal

import "time"

// Declaration statuses reported by the mock portal.
const (
	StatusPending = "pendente"
	StatusSigned  = "assinada"
)

// Declaration is the JSON form of one filed declaration.
type Declaration struct {
	ID                int64                    `json:"id,omitempty"`
	Period            string                   `json:"periodo"`
	EstablishmentCNPJ string                   `json:"cnpj_estabelecimento"`
	BeneficiaryCPF    string                   `json:"cpf_beneficiario"`
	Dependents        []DeclaredDependent      `json:"dependentes"`
	Plans             []DeclaredPlan           `json:"planos"`
	DependentValues   []DeclaredDependentValue `json:"valores_dependentes"`
	Status            string                   `json:"status,omitempty"`
	SignMethod        string                   `json:"metodo_assinatura,omitempty"`
	CreatedAt         time.Time                `json:"created_at,omitempty"`
}

// DeclaredDependent is one dependent line of a declaration.
type DeclaredDependent struct {
	CPF         string `json:"cpf"`
	Relation    string `json:"relacao"`
	Description string `json:"descricao,omitempty"`
}

// DeclaredPlan is one health-plan line of a declaration.
type DeclaredPlan struct {
	OperatorCNPJ string `json:"cnpj_operadora"`
	Amount       string `json:"valor"`
}

// DeclaredDependentValue is one per-dependent amount of a declaration.
type DeclaredDependentValue struct {
	CPF    string `json:"cpf_dependente"`
	Amount string `json:"valor"`
}

// Reply is the mock portal's response envelope.
type Reply struct {
	OK       bool     `json:"ok"`
	Messages []string `json:"mensagens,omitempty"`
	ID       int64    `json:"id,omitempty"`
	Status   string   `json:"status,omitempty"`
}

// CheckRequest asks whether a declaration may be opened.
type CheckRequest struct {
	Period            string `json:"periodo"`
	EstablishmentCNPJ string `json:"cnpj_estabelecimento"`
	BeneficiaryCPF    string `json:"cpf_beneficiario"`
}

// SignRequest confirms a pending declaration.
type SignRequest struct {
	Method string `json:"metodo"`
}

// DuplicateMessage is the portal's text for an already-filed period.
const DuplicateMessage = "Inclusão não permitida: existe um evento ativo para o CPF do beneficiário no mesmo período de apuração."
