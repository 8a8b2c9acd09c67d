package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/pipeline"
	"github.com/efdreinf/reinf-cli/internal/portal"
)

var (
	runSheet  string
	runLimit  int
	runFrom   int
	runDriver string
	runReview bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "File declarations for every group in the sheet",
	Long: "Walks the groups from the checkpoint pointer, fills and signs one declaration per head, " +
		"and records every step in the checkpoint ledger. Ctrl-C stops between steps; the next run resumes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runSheet != "" {
			cfg.Sheet.Path = runSheet
		}
		if runDriver != "" {
			cfg.Portal.Driver = runDriver
		}
		if cmd.Flags().Changed("review") {
			cfg.Batch.ManualReview = runReview
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		dopts, err := driverOptions(cmd.Flags().Changed("from"), runFrom, runLimit)
		if err != nil {
			return err
		}

		groups, _, err := loadGroups(cfg.Sheet.Path)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			return eris.New("run: the sheet has no usable groups")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts, err := pipeline.PlannerOptionsFromConfig(cfg)
		if err != nil {
			return err
		}

		page, err := portal.New(ctx, cfg.Portal)
		if err != nil {
			return eris.Wrap(err, "run: open portal")
		}
		defer page.Close() //nolint:errcheck

		var reviewer pipeline.Reviewer
		if cfg.Batch.ManualReview {
			reviewer = pipeline.NewPromptReviewer(cmd.InOrStdin(), cmd.OutOrStdout())
		}
		planner := pipeline.NewPlanner(st, page, reviewer, opts)

		zap.L().Info("run: starting",
			zap.String("period", opts.Period),
			zap.String("driver", cfg.Portal.Driver),
			zap.Int("groups", len(groups)),
			zap.String("confirmation_policy", opts.ConfirmationPolicy),
		)

		summary, runErr := pipeline.NewDriver(st, planner, dopts).Run(ctx, groups)
		if summary != nil {
			printSummary(cmd.OutOrStdout(), summary)
		}
		if runErr != nil {
			return eris.Wrap(runErr, "run: batch aborted")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "source spreadsheet (default from config)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "stop after this many groups (0 = all)")
	runCmd.Flags().IntVar(&runFrom, "from", 0, "start at this group ordinal, ignoring the checkpoint")
	runCmd.Flags().StringVar(&runDriver, "driver", "", "portal driver: chrome, http or stub (default from config)")
	runCmd.Flags().BoolVar(&runReview, "review", false, "pause for confirmation before each submit")
	rootCmd.AddCommand(runCmd)
}

// driverOptions checks the batch bounds given on the command line.
func driverOptions(fromSet bool, from, limit int) (pipeline.DriverOptions, error) {
	if limit < 0 {
		return pipeline.DriverOptions{}, eris.Errorf("run: --limit must be >= 0, got %d", limit)
	}
	opts := pipeline.DriverOptions{Limit: limit, Pause: cfg.Batch.PauseBetweenGroups}
	if fromSet {
		if from < 0 {
			return pipeline.DriverOptions{}, eris.Errorf("run: --from must be >= 0, got %d", from)
		}
		opts.From = &from
	}
	return opts, nil
}

// printSummary writes the end-of-batch tally and the lists an operator
// has to act on.
func printSummary(out io.Writer, s *model.BatchSummary) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	_, _ = bold.Fprintln(out, "\nBatch summary")
	_, _ = fmt.Fprintf(out, "  groups:     %d (started at %d)\n", s.Total, s.StartOrdinal)
	_, _ = fmt.Fprintf(out, "  processed:  %d\n", s.Processed)
	_, _ = fmt.Fprintf(out, "  succeeded:  %s\n", green.Sprint(s.Succeeded))
	_, _ = fmt.Fprintf(out, "  skipped:    %s\n", yellow.Sprint(s.Skipped))
	_, _ = fmt.Fprintf(out, "  failed:     %s\n", red.Sprint(s.Failed))
	if s.Interrupted {
		_, _ = yellow.Fprintln(out, "  interrupted: run again to resume")
	}

	if len(s.ManualReview) > 0 {
		_, _ = red.Fprintln(out, "\nCheck these on the portal before re-running (submitted, confirmation unknown):")
		for _, id := range s.ManualReview {
			_, _ = fmt.Fprintf(out, "  - %s\n", id)
		}
	}
	if len(s.NavigationFix) > 0 {
		_, _ = yellow.Fprintln(out, "\nFiled, but the form did not reset afterwards:")
		for _, id := range s.NavigationFix {
			_, _ = fmt.Fprintf(out, "  - %s\n", id)
		}
	}
}
