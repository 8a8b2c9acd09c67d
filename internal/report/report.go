// Package report flattens the checkpoint ledger into a workbook or a JSON
// document for operators reviewing a batch.
package report

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/store"
)

// Formats accepted by Write.
const (
	FormatXLSX = "xlsx"
	FormatJSON = "json"
)

// Report is a snapshot of every ledger table.
type Report struct {
	GeneratedAt     time.Time               `json:"generated_at"`
	Summaries       []model.GroupSummary    `json:"summaries"`
	Events          []model.ProgressEvent   `json:"events"`
	Dependents      []model.SubEntityRecord `json:"dependents"`
	Plans           []model.SubEntityRecord `json:"plans"`
	DependentValues []model.SubEntityRecord `json:"dependent_values"`
	Stats           *model.LedgerStats      `json:"stats"`
}

// Collect reads the whole ledger.
func Collect(ctx context.Context, st store.Store, now time.Time) (*Report, error) {
	r := &Report{GeneratedAt: now}

	var err error
	if r.Summaries, err = st.GroupSummaries(ctx); err != nil {
		return nil, eris.Wrap(err, "report: group summaries")
	}
	if r.Events, err = st.ListEvents(ctx, store.EventFilter{}); err != nil {
		return nil, eris.Wrap(err, "report: events")
	}
	for kind, dst := range map[model.SubEntityKind]*[]model.SubEntityRecord{
		model.SubEntityDependent:      &r.Dependents,
		model.SubEntityPlan:           &r.Plans,
		model.SubEntityDependentValue: &r.DependentValues,
	} {
		if *dst, err = st.ListSubEntities(ctx, kind, ""); err != nil {
			return nil, eris.Wrapf(err, "report: %s rows", kind)
		}
	}
	if r.Stats, err = st.Stats(ctx); err != nil {
		return nil, eris.Wrap(err, "report: stats")
	}
	return r, nil
}

// DefaultFilename names an export after its generation time.
func DefaultFilename(now time.Time, format string) string {
	return "visualizacao_checkpoint_" + now.Format("20060102_150405") + "." + format
}

// FormatFor infers the format from a file extension, defaulting to XLSX.
func FormatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatXLSX
}

// Write encodes r in the given format.
func Write(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(r), "report: encode json")
}
