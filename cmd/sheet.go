package main

import (
	"github.com/rotisserie/eris"

	"github.com/efdreinf/reinf-cli/internal/fetcher"
	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/model"
)

// loadGroups reads the sheet at path (or the configured one) and extracts
// the ordered group list. Dropped rows are counted in the stats, never fatal.
func loadGroups(path string) ([]model.TaxpayerGroup, group.Stats, error) {
	if path == "" {
		path = cfg.Sheet.Path
	}
	rows, err := fetcher.LoadRows(path, fetcher.SheetOptions{
		SheetName: cfg.Sheet.SheetName,
		SkipRows:  cfg.Sheet.SkipRows,
		Encoding:  cfg.Sheet.Encoding,
	})
	if err != nil {
		return nil, group.Stats{}, eris.Wrapf(err, "load sheet %s", path)
	}

	groups, stats := group.Extract(rows, group.OptionsFromConfig(cfg.Sheet, cfg.Filing))
	return groups, stats, nil
}
