package cli

import (
	"fmt"

	"github.com/rustyeddy/tradesim/backtest"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newAccountCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage simulated accounts",
	}
	cmd.AddCommand(newAccountCreateCmd(rc), newAccountShowCmd(rc))
	return cmd
}

func newAccountCreateCmd(rc *RootConfig) *cobra.Command {
	var (
		id      string
		symbol  string
		balance string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account; fees come from the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := rc.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			spec := backtest.AccountSpec{
				ID:             id,
				Symbol:         a.cfg.Account.Symbol,
				InitialBalance: a.cfg.Account.InitialBalance,
				Fees:           a.cfg.Account.Fees,
			}
			if symbol != "" {
				spec.Symbol = symbol
			}
			if balance != "" {
				b, err := decimal.NewFromString(balance)
				if err != nil {
					return fmt.Errorf("bad --balance %q: %w", balance, err)
				}
				spec.InitialBalance = b
			}

			acct, err := a.manager.CreateAccount(ctx, spec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Account ID (generated when empty)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Traded symbol (default from config)")
	cmd.Flags().StringVar(&balance, "balance", "", "Initial balance (default from config)")
	return cmd
}

func newAccountShowCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show <account-id>",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			acct, err := a.store.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), acct)
		},
	}
}
