package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/model"
	"github.com/efdreinf/reinf-cli/internal/store"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and alter the checkpoint ledger",
	Long:  "Commands for the group pointer, per-CPF progress, ledger statistics and purges.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("ledger")
	},
}

// -- checkpoint show --

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the last processed group ordinal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ordinal, ok, err := st.GetCheckpointOrdinal(ctx)
		if err != nil {
			return eris.Wrap(err, "checkpoint show")
		}
		if !ok {
			fmt.Println("No checkpoint: the next run starts at group 0.")
			return nil
		}
		fmt.Printf("Last processed group: %d (next run starts at %d)\n", ordinal, ordinal+1)
		return nil
	},
}

// -- checkpoint set --

var checkpointSetCmd = &cobra.Command{
	Use:   "set <ordinal>",
	Short: "Set the last processed group ordinal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ordinal, err := strconv.Atoi(args[0])
		if err != nil || ordinal < 0 {
			return eris.Errorf("checkpoint set: invalid ordinal %q", args[0])
		}
		return setOrdinal(cmd, ordinal)
	},
}

// -- checkpoint set-by-cpf --

var checkpointSetByCPFCmd = &cobra.Command{
	Use:   "set-by-cpf <cpf>",
	Short: "Point the checkpoint just before the group of a head CPF",
	Long:  "Finds the head in the sheet and stores the ordinal before it, so the next run starts at that group.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sheet, _ := cmd.Flags().GetString("sheet")
		groups, _, err := loadGroups(sheet)
		if err != nil {
			return err
		}
		g, ok := group.FindByIdentity(groups, args[0])
		if !ok {
			return eris.Errorf("checkpoint set-by-cpf: head %s not found in the sheet", args[0])
		}
		if g.Ordinal == 0 {
			return resetOrdinal(cmd)
		}
		return setOrdinal(cmd, g.Ordinal-1)
	},
}

// -- checkpoint reset --

var checkpointResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the group pointer so the next run starts at group 0",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return resetOrdinal(cmd)
	},
}

// -- checkpoint status --

var checkpointStatusCmd = &cobra.Command{
	Use:   "status <cpf>",
	Short: "Show the events and processed sub-entities of one CPF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		asJSON, _ := cmd.Flags().GetBool("json")
		status, err := loadIdentityStatus(cmd, st, args[0])
		if err != nil {
			return err
		}
		if status == nil {
			fmt.Fprintf(os.Stderr, "No ledger entries for %s.\n", args[0])
			return nil
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		formatIdentityStatus(os.Stdout, status)
		return nil
	},
}

// -- checkpoint stats --

var checkpointStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals per outcome and per table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "checkpoint stats")
		}
		formatLedgerStats(os.Stdout, stats)
		return nil
	},
}

// -- checkpoint purge --

var checkpointPurgeCmd = &cobra.Command{
	Use:   "purge [cpf]",
	Short: "Delete a CPF's in-flight progress, or the whole ledger with --all",
	Long: "Without --all, removes the CPF's sub-entity rows and non-terminal events so its group is " +
		"refilled from scratch. With --all, empties every table and clears the pointer.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		yes, _ := cmd.Flags().GetBool("yes")
		if all == (len(args) == 1) {
			return eris.New("checkpoint purge: pass either a CPF or --all")
		}
		if all && !yes {
			return eris.New("checkpoint purge --all deletes the whole ledger; confirm with --yes")
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if all {
			if err := st.PurgeAll(ctx); err != nil {
				return eris.Wrap(err, "checkpoint purge all")
			}
			zap.L().Info("checkpoint: ledger purged")
			fmt.Println("Ledger emptied.")
			return nil
		}

		id, err := resolveIdentity(cmd, st, args[0])
		if err != nil {
			return err
		}
		if err := st.PurgeGroup(ctx, id); err != nil {
			return eris.Wrapf(err, "checkpoint purge %s", id)
		}
		zap.L().Info("checkpoint: group purged", zap.String("identity_id", id))
		fmt.Printf("Purged in-flight progress of %s.\n", id)
		return nil
	},
}

func init() {
	checkpointSetByCPFCmd.Flags().String("sheet", "", "source spreadsheet (default from config)")
	checkpointStatusCmd.Flags().Bool("json", false, "print as JSON")
	checkpointPurgeCmd.Flags().Bool("all", false, "purge every table and the pointer")
	checkpointPurgeCmd.Flags().Bool("yes", false, "confirm a destructive purge")

	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointSetCmd)
	checkpointCmd.AddCommand(checkpointSetByCPFCmd)
	checkpointCmd.AddCommand(checkpointResetCmd)
	checkpointCmd.AddCommand(checkpointStatusCmd)
	checkpointCmd.AddCommand(checkpointStatsCmd)
	checkpointCmd.AddCommand(checkpointPurgeCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func setOrdinal(cmd *cobra.Command, ordinal int) error {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.SetCheckpointOrdinal(ctx, ordinal); err != nil {
		return eris.Wrap(err, "checkpoint set")
	}
	zap.L().Info("checkpoint: pointer set", zap.Int("ordinal", ordinal))
	fmt.Printf("Checkpoint set to %d; the next run starts at group %d.\n", ordinal, ordinal+1)
	return nil
}

func resetOrdinal(cmd *cobra.Command) error {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.ClearCheckpointOrdinal(ctx); err != nil {
		return eris.Wrap(err, "checkpoint reset")
	}
	zap.L().Info("checkpoint: pointer cleared")
	fmt.Println("Checkpoint cleared; the next run starts at group 0.")
	return nil
}

// identityStatus is everything the ledger knows about one head.
type identityStatus struct {
	IdentityID      string                  `json:"identity_id"`
	Latest          *model.ProgressEvent    `json:"latest"`
	Complete        bool                    `json:"complete"`
	Skipped         bool                    `json:"skipped"`
	Events          []model.ProgressEvent   `json:"events"`
	Dependents      []model.SubEntityRecord `json:"dependents"`
	Plans           []model.SubEntityRecord `json:"plans"`
	DependentValues []model.SubEntityRecord `json:"dependent_values"`
}

// resolveIdentity maps a CPF as typed by the operator to the identity the
// ledger recorded, which keeps the sheet's punctuation.
func resolveIdentity(cmd *cobra.Command, st store.Store, cpf string) (string, error) {
	summaries, err := st.GroupSummaries(cmd.Context())
	if err != nil {
		return "", eris.Wrap(err, "resolve identity")
	}
	for _, s := range summaries {
		if group.SameIdentity(s.IdentityID, cpf) {
			return s.IdentityID, nil
		}
	}
	return cpf, nil
}

func loadIdentityStatus(cmd *cobra.Command, st store.Store, cpf string) (*identityStatus, error) {
	ctx := cmd.Context()
	id, err := resolveIdentity(cmd, st, cpf)
	if err != nil {
		return nil, err
	}
	latest, err := st.LatestEvent(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint status")
	}
	if latest == nil {
		return nil, nil
	}

	s := &identityStatus{IdentityID: id, Latest: latest, Complete: latest.IsGroupComplete(), Skipped: latest.Outcome == model.OutcomeSkipped}
	if s.Events, err = st.ListEvents(ctx, store.EventFilter{IdentityID: id}); err != nil {
		return nil, eris.Wrap(err, "checkpoint status events")
	}
	for kind, dst := range map[model.SubEntityKind]*[]model.SubEntityRecord{
		model.SubEntityDependent:      &s.Dependents,
		model.SubEntityPlan:           &s.Plans,
		model.SubEntityDependentValue: &s.DependentValues,
	} {
		if *dst, err = st.ListSubEntities(ctx, kind, id); err != nil {
			return nil, eris.Wrapf(err, "checkpoint status %s", kind)
		}
	}
	return s, nil
}

// formatIdentityStatus writes the latest state, the event log and the
// sub-entity rows of one head.
func formatIdentityStatus(out io.Writer, s *identityStatus) {
	state := color.New(color.FgYellow).Sprint("pending")
	switch {
	case s.Complete:
		state = color.New(color.FgGreen).Sprint("complete")
	case s.Skipped:
		state = color.New(color.FgCyan).Sprint("skipped")
	case s.Latest.Outcome == model.OutcomeError:
		state = color.New(color.FgRed).Sprint("error")
	}
	_, _ = fmt.Fprintf(out, "%s  %s  %s\n", s.IdentityID, s.Latest.DisplayName, state)
	_, _ = fmt.Fprintf(out, "Latest: %s / %s", s.Latest.Stage, s.Latest.Outcome)
	if s.Latest.Notes != "" {
		_, _ = fmt.Fprintf(out, " (%s)", s.Latest.Notes)
	}
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nRECORDED\tSTAGE\tOUTCOME\tNOTES")
	for _, e := range s.Events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.RecordedAt.Local().Format(time.DateTime), e.Stage, e.Outcome, e.Notes)
	}
	_ = w.Flush()

	for _, part := range []struct {
		title string
		recs  []model.SubEntityRecord
	}{
		{"Dependents", s.Dependents},
		{"Plans", s.Plans},
		{"Dependent values", s.DependentValues},
	} {
		if len(part.recs) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s:\n", part.title)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, r := range part.recs {
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", r.Key, r.Code, r.Amount, r.Outcome)
		}
		_ = w.Flush()
	}
}

// formatLedgerStats writes ledger totals to w.
func formatLedgerStats(out io.Writer, s *model.LedgerStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Identities:\t%d\n", s.Identities)
	for _, o := range []model.Outcome{model.OutcomeSuccess, model.OutcomeSkipped, model.OutcomeError, model.OutcomeInProgress, model.OutcomeStarting} {
		if n := s.ByOutcome[o]; n > 0 {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", o, n)
		}
	}
	_, _ = fmt.Fprintf(w, "Events:\t%d\n", s.Events)
	_, _ = fmt.Fprintf(w, "Dependents:\t%d\n", s.Dependents)
	_, _ = fmt.Fprintf(w, "Plans:\t%d\n", s.Plans)
	_, _ = fmt.Fprintf(w, "Dependent values:\t%d\n", s.DependentValues)
	if s.Ordinal != nil {
		_, _ = fmt.Fprintf(w, "Last group:\t%d\n", *s.Ordinal)
	} else {
		_, _ = fmt.Fprintln(w, "Last group:\tnone")
	}
	_ = w.Flush()
}
