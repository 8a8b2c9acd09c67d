package portal

// Selectors are the CSS selectors of the declaration form. The mock portal
// renders the same ids so the browser driver can run against either.
type Selectors struct {
	Period        string
	Establishment string
	Beneficiary   string
	Continue      string

	DetailMarker string

	AddDependent       string
	DependentCPF       string
	DependentRelation  string
	DependentOtherDesc string
	SaveDependent      string

	AddPlan      string
	PlanOperator string
	PlanAmount   string
	SavePlan     string

	AddDependentValue   string
	DependentValueCPF   string
	DependentValueInput string
	SaveDependentValue  string

	Submit     string
	SignButton string

	Alert            string
	AlertDescription string
	ErrorContainers  string
}

// DefaultSelectors returns the selectors of the production form.
func DefaultSelectors() Selectors {
	return Selectors{
		Period:        "#periodo_apuracao",
		Establishment: "#insc_estabelecimento",
		Beneficiary:   "#cpf_beneficiario",
		Continue:      `[data-testid="botao_continuar"]`,

		DetailMarker: "#BotaoInclusaoDiv_ideDep",

		AddDependent:       "#BotaoInclusaoDiv_ideDep",
		DependentCPF:       "#cpf_dependente",
		DependentRelation:  "#relacao_dependencia",
		DependentOtherDesc: "#descricao_dependencia",
		SaveDependent:      `[data-testid="botao_salvar_modal_ide_dep"]`,

		AddPlan:      "#BotaoInclusaoDiv_ideOpSaude",
		PlanOperator: "#cnpj_operadora",
		PlanAmount:   "#valor_saude",
		SavePlan:     `[data-testid="botao_salvar_modal_ide_op_saude"]`,

		AddDependentValue:   "#BotaoInclusaoDiv_infoDependPl_0",
		DependentValueCPF:   "#c_p_f_do_dependente",
		DependentValueInput: "#valor_saude_plano",
		SaveDependentValue:  `[data-testid="botao_salvar_modal_info_depend_pl"]`,

		Submit:     `[data-testid="botao_enviar"]`,
		SignButton: `[data-testid="botao_assinar"]`,

		Alert:            "app-reinf-mensagens-alerta div.message.alert",
		AlertDescription: `[data-testid*="mensagem_descricao"]`,
		ErrorContainers:  `span[class*="erro"], span[class*="error"], span[class*="aviso"], span[class*="warning"], span[class*="alert"], div[class*="erro"], div[class*="error"], div[class*="aviso"], div[class*="warning"]`,
	}
}
