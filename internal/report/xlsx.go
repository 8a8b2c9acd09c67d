package report

import (
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/efdreinf/reinf-cli/internal/model"
)

// Sheet names, in workbook order.
const (
	SheetSummary         = "Resumo"
	SheetProgress        = "Progresso"
	SheetDependents      = "Dependentes"
	SheetPlans           = "Planos"
	SheetDependentValues = "InfoDependentes"
	SheetStats           = "Estatisticas"
)

const timeLayout = "2006-01-02 15:04:05"

// WriteXLSX writes r as a workbook with one sheet per ledger table plus a
// summary and a statistics sheet.
func WriteXLSX(w io.Writer, r *Report) error {
	f := xlsx.NewFile()

	summary := [][]string{{
		"CPF_Titular", "Nome_Titular", "Status_Final", "Etapa_Atual",
		"Total_Dependentes", "Dependentes_Sucesso", "Total_Planos", "Planos_Sucesso",
		"Total_Info_Dependentes", "Info_Sucesso", "Ultima_Atualizacao", "Observacoes",
	}}
	for _, g := range r.Summaries {
		summary = append(summary, []string{
			g.IdentityID, g.DisplayName, string(g.Outcome), g.Stage,
			itoa(g.Dependents), itoa(g.DependentsOK), itoa(g.Plans), itoa(g.PlansOK),
			itoa(g.DependentValues), itoa(g.DependentValueOK), formatTime(g.UpdatedAt), g.Notes,
		})
	}

	progress := [][]string{{"ID", "CPF_Titular", "Nome_Titular", "Etapa", "Status", "Observacoes", "Registrado_Em"}}
	for _, e := range r.Events {
		progress = append(progress, []string{
			strconv.FormatInt(e.ID, 10), e.IdentityID, e.DisplayName, e.Stage,
			string(e.Outcome), e.Notes, formatTime(e.RecordedAt),
		})
	}

	stats := [][]string{{"Metrica", "Valor"}}
	if s := r.Stats; s != nil {
		stats = append(stats,
			[]string{"Total de CPFs", itoa(s.Identities)},
			[]string{"CPFs com Sucesso", itoa(s.ByOutcome[model.OutcomeSuccess])},
			[]string{"CPFs Pulados", itoa(s.ByOutcome[model.OutcomeSkipped])},
			[]string{"CPFs com Erro", itoa(s.ByOutcome[model.OutcomeError])},
			[]string{"Total de Eventos", itoa(s.Events)},
			[]string{"Total de Dependentes", itoa(s.Dependents)},
			[]string{"Total de Planos", itoa(s.Plans)},
			[]string{"Total de Info Dependentes", itoa(s.DependentValues)},
		)
		if s.Ordinal != nil {
			stats = append(stats, []string{"Ultimo Grupo Processado", itoa(*s.Ordinal)})
		}
	}

	sheets := []struct {
		name string
		rows [][]string
	}{
		{SheetSummary, summary},
		{SheetProgress, progress},
		{SheetDependents, subEntityRows("CPF_Dependente", r.Dependents)},
		{SheetPlans, subEntityRows("CNPJ_Operadora", r.Plans)},
		{SheetDependentValues, subEntityRows("CPF_Dependente", r.DependentValues)},
		{SheetStats, stats},
	}
	for _, s := range sheets {
		if err := addSheet(f, s.name, s.rows); err != nil {
			return err
		}
	}

	return eris.Wrap(f.Write(w), "report: write xlsx")
}

func subEntityRows(keyHeader string, recs []model.SubEntityRecord) [][]string {
	rows := [][]string{{"ID", "CPF_Titular", keyHeader, "Codigo", "Descricao", "Valor", "Status", "Registrado_Em"}}
	for _, rec := range recs {
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10), rec.IdentityID, rec.Key, rec.Code,
			rec.Description, rec.Amount, string(rec.Outcome), formatTime(rec.RecordedAt),
		})
	}
	return rows
}

func addSheet(f *xlsx.File, name string, rows [][]string) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %s", name)
	}
	for _, data := range rows {
		row := sheet.AddRow()
		for _, v := range data {
			row.AddCell().SetString(v)
		}
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}
