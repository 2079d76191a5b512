package cli

import (
	"fmt"

	"github.com/rustyeddy/tradesim/backtest"
	"github.com/rustyeddy/tradesim/journal"
	"github.com/spf13/cobra"
)

func newStatsCmd(rc *RootConfig) *cobra.Command {
	var (
		recompute bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "stats <task-id>",
		Short: "Print a task's statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.manager.Stats(ctx, args[0], recompute)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			t, err := a.store.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			backtest.PrintReport(cmd.OutOrStdout(), t, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&recompute, "recompute", false, "Recompute from the journal instead of using cached values")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of the report")
	return cmd
}

func newExportCmd(rc *RootConfig) *cobra.Command {
	var tradesPath, snapshotsPath, decisionsPath string

	cmd := &cobra.Command{
		Use:   "export <task-id>",
		Short: "Write a task's trades and snapshots, and optionally its decisions, to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			trades, err := a.store.ListTrades(ctx, args[0])
			if err != nil {
				return err
			}
			snaps, err := a.store.ListSnapshots(ctx, args[0])
			if err != nil {
				return err
			}

			j, err := journal.NewCSV(tradesPath, snapshotsPath)
			if err != nil {
				return err
			}
			if err := journal.Export(j, trades, snaps); err != nil {
				j.Close()
				return err
			}
			if err := j.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d trades to %s and %d snapshots to %s\n",
				len(trades), tradesPath, len(snaps), snapshotsPath)

			if decisionsPath == "" {
				return nil
			}
			decs, err := a.store.ListDecisions(ctx, args[0])
			if err != nil {
				return err
			}
			if err := writeDecisions(decisionsPath, decs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d decisions to %s\n", len(decs), decisionsPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&tradesPath, "trades", "trades.csv", "Trades CSV output")
	cmd.Flags().StringVar(&snapshotsPath, "snapshots", "snapshots.csv", "Snapshots CSV output")
	cmd.Flags().StringVar(&decisionsPath, "decisions", "", "Decisions CSV output; skipped when empty")
	return cmd
}
