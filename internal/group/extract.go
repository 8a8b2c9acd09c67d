// Package group turns spreadsheet rows into taxpayer groups: one head
// ("titular") followed by its dependents.
package group

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/config"
	"github.com/efdreinf/reinf-cli/internal/model"
)

// groupNamespace seeds the v5 group IDs.
var groupNamespace = uuid.MustParse("6f1d2a8e-3c4b-5e6f-8a9b-0c1d2e3f4a5b")

// Options names the source columns and defaults used while extracting.
type Options struct {
	NameColumn        string
	IdentityColumn    string
	RelationColumn    string
	OperatorColumn    string
	HeadAmountColumns []string
	DepAmountColumns  []string
	HeadLabel         string
	DefaultOperator   string
}

// OptionsFromConfig builds extractor options from the sheet and filing
// sections.
func OptionsFromConfig(sheet config.SheetConfig, filing config.FilingConfig) Options {
	return Options{
		NameColumn:        sheet.NameColumn,
		IdentityColumn:    sheet.IdentityColumn,
		RelationColumn:    sheet.RelationColumn,
		OperatorColumn:    sheet.OperatorColumn,
		HeadAmountColumns: sheet.HeadAmountColumns,
		DepAmountColumns:  sheet.DepAmountColumns,
		HeadLabel:         sheet.HeadLabel,
		DefaultOperator:   filing.OperatorCNPJ,
	}
}

func (o Options) withDefaults() Options {
	if o.NameColumn == "" {
		o.NameColumn = "NOME"
	}
	if o.IdentityColumn == "" {
		o.IdentityColumn = "CPF"
	}
	if o.RelationColumn == "" {
		o.RelationColumn = "DEPENDENCIA"
	}
	if o.OperatorColumn == "" {
		o.OperatorColumn = "CNPJ_OPERADORA"
	}
	if len(o.HeadAmountColumns) == 0 {
		o.HeadAmountColumns = []string{"VALOR_PLANO", "TOTAL"}
	}
	if len(o.DepAmountColumns) == 0 {
		o.DepAmountColumns = []string{"VALOR_DEPENDENTE", "TOTAL"}
	}
	if o.HeadLabel == "" {
		o.HeadLabel = "TITULAR"
	}
	o.HeadLabel = Normalize(o.HeadLabel)
	return o
}

// Stats counts what extraction kept and dropped.
type Stats struct {
	Rows       int                `json:"rows"`
	Groups     int                `json:"groups"`
	Dependents int                `json:"dependents"`
	Dropped    int                `json:"dropped"`
	Orphans    int                `json:"orphans"`
	Zeroed     int                `json:"zeroed_amounts"`
	Invalid    []*ValidationError `json:"-"`
	Amounts    []*ValidationError `json:"-"`
}

// Extract groups rows in order. A row whose relationship label is the head
// label opens a new group; any other row is appended to the open group, or
// dropped when no group is open. Rows missing a name, identity or label are
// dropped. An unparseable amount is kept as zero so the group and every later
// ordinal survive. Identities are reduced to their digits. Extract never fails.
func Extract(rows []model.Row, opts Options) ([]model.TaxpayerGroup, Stats) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "extract"))

	var (
		groups []model.TaxpayerGroup
		open   *model.TaxpayerGroup
		stats  = Stats{Rows: len(rows)}
	)

	flush := func() {
		if open == nil {
			return
		}
		groups = append(groups, *open)
		open = nil
	}

	for i, row := range rows {
		// Row numbers in logs are 1-based data rows.
		rowNum := i + 1
		name := row.Get(opts.NameColumn)
		identity := row.Get(opts.IdentityColumn)
		label := row.Get(opts.RelationColumn)

		if missing := missingField(opts, name, identity, label); missing != "" {
			stats.drop(&ValidationError{Row: rowNum, Field: missing, Reason: "required field is empty"})
			continue
		}

		if digits := DigitsOnly(identity); digits != "" {
			identity = digits
		}

		if Normalize(label) == opts.HeadLabel {
			flush()
			amount := stats.amount(row, rowNum, opts.HeadAmountColumns)
			operator := row.Get(opts.OperatorColumn)
			if operator == "" {
				operator = opts.DefaultOperator
			}
			ordinal := len(groups)
			open = &model.TaxpayerGroup{
				GroupID: GroupID(ordinal, identity),
				Ordinal: ordinal,
				Head: model.Head{
					IdentityID:  identity,
					DisplayName: name,
					Amount:      amount,
					OperatorID:  operator,
					Attributes:  copyRow(row),
				},
			}
			continue
		}

		if open == nil {
			stats.Orphans++
			log.Warn("extract: dependent row without a head, dropped",
				zap.Int("row", rowNum), zap.String("identity_id", identity))
			continue
		}

		amount := stats.amount(row, rowNum, opts.DepAmountColumns)
		open.Dependents = append(open.Dependents, model.Dependent{
			IdentityID:        identity,
			DisplayName:       name,
			RelationshipLabel: label,
			Amount:            amount,
		})
		stats.Dependents++
	}
	flush()

	stats.Groups = len(groups)
	for _, v := range stats.Invalid {
		log.Warn("extract: row dropped", zap.Error(v))
	}
	for _, v := range stats.Amounts {
		log.Warn("extract: amount unreadable, using 0,00", zap.Error(v))
	}
	log.Info("extract: groups built",
		zap.Int("rows", stats.Rows),
		zap.Int("groups", stats.Groups),
		zap.Int("dependents", stats.Dependents),
		zap.Int("dropped", stats.Dropped),
		zap.Int("orphans", stats.Orphans),
		zap.Int("zeroed_amounts", stats.Zeroed),
	)
	return groups, stats
}

func (s *Stats) drop(v *ValidationError) {
	s.Dropped++
	s.Invalid = append(s.Invalid, v)
}

// amount resolves a row amount, falling back to zero when it does not parse.
func (s *Stats) amount(row model.Row, rowNum int, cols []string) model.Amount {
	amount, err := resolveAmount(row, cols)
	if err != nil {
		s.Zeroed++
		s.Amounts = append(s.Amounts, &ValidationError{Row: rowNum, Field: "amount", Reason: err.Error()})
		return 0
	}
	return amount
}

func missingField(opts Options, name, identity, label string) string {
	switch {
	case name == "":
		return opts.NameColumn
	case identity == "":
		return opts.IdentityColumn
	case label == "":
		return opts.RelationColumn
	}
	return ""
}

// resolveAmount reads the first non-empty column in preference order. No
// value at all is a zero amount.
func resolveAmount(row model.Row, cols []string) (model.Amount, error) {
	for _, col := range cols {
		if v := row.Get(col); v != "" {
			return model.ParseAmount(v)
		}
	}
	return 0, nil
}

func copyRow(row model.Row) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// GroupID derives a stable identifier for the group at ordinal.
func GroupID(ordinal int, identity string) string {
	return uuid.NewSHA1(groupNamespace, []byte(fmt.Sprintf("%d:%s", ordinal, DigitsOnly(identity)))).String()
}

// FindByIdentity returns the group whose head matches identity, ignoring
// punctuation.
func FindByIdentity(groups []model.TaxpayerGroup, identity string) (model.TaxpayerGroup, bool) {
	for _, g := range groups {
		if SameIdentity(g.Head.IdentityID, identity) {
			return g, true
		}
	}
	return model.TaxpayerGroup{}, false
}
