package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/report"
)

var (
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the checkpoint ledger as a workbook or JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("ledger"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		now := time.Now()
		format := exportFormat
		if format == "" {
			format = report.FormatXLSX
			if exportOutput != "" {
				format = report.FormatFor(exportOutput)
			}
		}
		path := exportOutput
		if path == "" {
			path = report.DefaultFilename(now, format)
		}

		r, err := report.Collect(ctx, st, now)
		if err != nil {
			return err
		}

		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", path)
		}
		if err := report.Write(f, r, format); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "export: close %s", path)
		}

		zap.L().Info("export: report written",
			zap.String("path", path),
			zap.String("format", format),
			zap.Int("identities", len(r.Summaries)),
			zap.Int("events", len(r.Events)),
		)
		fmt.Printf("Report written to %s (%d CPFs, %d events)\n", path, len(r.Summaries), len(r.Events))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default visualizacao_checkpoint_<timestamp>.<format>)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "xlsx or json (default from the output extension)")
	rootCmd.AddCommand(exportCmd)
}
