package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/spf13/cobra"
)

func newDecisionsCmd(rc *RootConfig) *cobra.Command {
	var (
		asJSON  bool
		csvPath string
	)

	cmd := &cobra.Command{
		Use:   "decisions <task-id>",
		Short: "List what the oracle decided at each timestamp of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			decs, err := a.store.ListDecisions(ctx, args[0])
			if err != nil {
				return err
			}

			switch {
			case csvPath != "":
				if err := writeDecisions(csvPath, decs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d decisions to %s\n", len(decs), csvPath)
				return nil
			case asJSON:
				if decs == nil {
					decs = []journal.DecisionRecord{}
				}
				return printJSON(cmd.OutOrStdout(), decs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tPRICE\tACTION\tQUANTITY\tCONF\tTREND\tTRIES\tOUTCOME\tREASON")
			for _, d := range decs {
				reason := d.Reasoning
				if d.Error != "" {
					reason = d.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%d\t%s\t%s\n",
					d.Timestamp.Format(time.RFC3339), d.Price, orDash(string(d.Action)), d.Quantity,
					d.Confidence, orDash(d.LastDayTrend), d.Attempts, d.Outcome, reason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write the decisions to this CSV file instead")
	return cmd
}

func writeDecisions(path string, decs []journal.DecisionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := journal.WriteDecisionsCSV(f, decs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
