package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/rustyeddy/tradesim/backtest"
	"github.com/spf13/cobra"
)

func newTaskCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and control backtest tasks",
	}
	cmd.AddCommand(
		newTaskCreateCmd(rc),
		newTaskRunCmd(rc, "start", "Start a pending task (or restart a failed one) and wait for it",
			func(ctx context.Context, m *backtest.Manager, id string) error { return m.Start(ctx, id) }),
		newTaskRunCmd(rc, "resume", "Resume a paused task from its checkpoint and wait for it",
			func(ctx context.Context, m *backtest.Manager, id string) error { return m.Resume(ctx, id) }),
		newTaskControlCmd(rc, "pause", "Pause a running task at its next timestamp",
			func(ctx context.Context, m *backtest.Manager, id string) error { return m.Pause(ctx, id) }),
		newTaskControlCmd(rc, "cancel", "Cancel a task for good",
			func(ctx context.Context, m *backtest.Manager, id string) error { return m.Cancel(ctx, id) }),
		newTaskStatusCmd(rc),
		newTaskListCmd(rc),
	)
	return cmd
}

func newTaskCreateCmd(rc *RootConfig) *cobra.Command {
	var (
		accountID   string
		symbol      string
		start       string
		end         string
		granularity string
		interval    int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending task; unset flags come from the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			tc := a.cfg.Task
			if symbol != "" {
				tc.Symbol = symbol
			}
			if start != "" {
				tc.Start = start
			}
			if end != "" {
				tc.End = end
			}
			if granularity != "" {
				tc.Granularity = granularity
			}
			if interval > 0 {
				tc.DecisionInterval = interval
			}
			a.cfg.Task = tc

			acct, err := a.store.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}
			// Default the symbol to the account's, not the config's.
			if symbol == "" {
				a.cfg.Task.Symbol = acct.Symbol
			}
			spec, err := a.cfg.TaskSpec(acct.ID)
			if err != nil {
				return err
			}
			taskID, err := a.manager.CreateTask(ctx, spec)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), taskID)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (required)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol (default: the account's)")
	cmd.Flags().StringVar(&start, "start", "", "Start date, YYYY-MM-DD or RFC3339")
	cmd.Flags().StringVar(&end, "end", "", "End date, YYYY-MM-DD or RFC3339")
	cmd.Flags().StringVar(&granularity, "granularity", "", "daily|hourly|minute")
	cmd.Flags().IntVar(&interval, "interval", 0, "Decision interval in bars")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

type taskOp func(ctx context.Context, m *backtest.Manager, id string) error

// newTaskRunCmd builds a command that launches a worker in this process
// and follows it until the task stops.
func newTaskRunCmd(rc *RootConfig, use, short string, op taskOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := op(ctx, a.manager, args[0]); err != nil {
				return err
			}
			return a.follow(ctx, cmd.OutOrStdout(), args[0])
		},
	}
}

// newTaskControlCmd builds a command that only changes the stored status.
// A worker in another process sees the change at its next timestamp.
func newTaskControlCmd(rc *RootConfig, use, short string, op taskOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := op(ctx, a.manager, args[0]); err != nil {
				return err
			}
			p, err := a.manager.Progress(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s is %s\n", p.TaskID, p.Status)
			return nil
		},
	}
}

func newTaskStatusCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Print a task's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.manager.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func newTaskListCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			tasks, err := a.store.ListTasks(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACCOUNT\tSYMBOL\tSTATUS\tPROGRESS\tSTART\tEND")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					t.ID, t.AccountID, t.Symbol, t.Status, t.ProcessedItems, t.TotalItems,
					t.StartDate.Format("2006-01-02"), t.EndDate.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}
