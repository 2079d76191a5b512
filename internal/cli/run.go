package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/tradesim/backtest"
	"github.com/spf13/cobra"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(rc *RootConfig) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create the configured account and task, run it and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Listen
			}
			if metricsAddr != "" {
				shutdown := a.serveMetrics(metricsAddr)
				defer shutdown()
			}

			acct, err := a.manager.CreateAccount(ctx, backtest.AccountSpec{
				ID:             a.cfg.Account.ID,
				Symbol:         a.cfg.Account.Symbol,
				InitialBalance: a.cfg.Account.InitialBalance,
				Fees:           a.cfg.Account.Fees,
			})
			if err != nil {
				return err
			}
			spec, err := a.cfg.TaskSpec(acct.ID)
			if err != nil {
				return err
			}
			taskID, err := a.manager.CreateTask(ctx, spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s, task %s\n", acct.ID, taskID)

			if err := a.manager.Start(ctx, taskID); err != nil {
				return err
			}
			return a.follow(ctx, cmd.OutOrStdout(), taskID)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}
