package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/model"
)

var (
	groupsSheet  string
	groupsFormat string
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Parse the sheet and print the groups a run would file",
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, stats, err := loadGroups(groupsSheet)
		if err != nil {
			return err
		}
		return writeGroups(os.Stdout, groups, stats, groupsFormat)
	},
}

func init() {
	groupsCmd.Flags().StringVar(&groupsSheet, "sheet", "", "source spreadsheet (default from config)")
	groupsCmd.Flags().StringVar(&groupsFormat, "format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(groupsCmd)
}

func writeGroups(out io.Writer, groups []model.TaxpayerGroup, stats group.Stats, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(groups); err != nil {
			return eris.Wrap(err, "groups: encode yaml")
		}
		return enc.Close()
	case "table":
		formatGroupsTable(out, groups, stats)
		return nil
	default:
		return eris.Errorf("groups: unknown format %q", format)
	}
}

// formatGroupsTable writes one line per head followed by its dependents.
// Dependents that will not be declared are marked.
func formatGroupsTable(out io.Writer, groups []model.TaxpayerGroup, stats group.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tCPF\tNAME\tRELATION\tCODE\tAMOUNT\tOPERATOR")
	_, _ = fmt.Fprintln(w, "-\t---\t----\t--------\t----\t------\t--------")
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t\t%s\t%s\n",
			g.Ordinal, g.Head.IdentityID, g.Head.DisplayName, "TITULAR", g.Head.Amount, g.Head.OperatorID)
		for _, d := range g.Dependents {
			rel := group.MapRelationship(d.RelationshipLabel)
			amount := d.Amount.String()
			if !d.Participates() {
				amount += " (excluded)"
			}
			_, _ = fmt.Fprintf(w, "\t%s\t%s\t%s\t%s\t%s\t\n",
				d.IdentityID, d.DisplayName, d.RelationshipLabel, rel.Code, amount)
		}
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d groups, %d dependents from %d rows (%d dropped, %d orphans, %d unreadable amounts)\n",
		stats.Groups, stats.Dependents, stats.Rows, stats.Dropped, stats.Orphans, stats.Zeroed)
}
