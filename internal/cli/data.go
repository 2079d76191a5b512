package cli

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/market"
	"github.com/spf13/cobra"
)

func newDataCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Market data tooling",
	}
	cmd.AddCommand(newDataFetchCmd(rc), newDataListCmd(rc))
	return cmd
}

// newDataFetchCmd downloads bars from Alpaca into the CSV data directory
// so later runs can use the csv source offline.
func newDataFetchCmd(rc *RootConfig) *cobra.Command {
	var (
		symbol      string
		granularity string
		start       string
		end         string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download bars from Alpaca into the CSV data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.loadConfig()
			if err != nil {
				return err
			}
			if symbol == "" {
				symbol = cfg.Account.Symbol
			}
			g, err := market.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			from, err := config.ParseDate(start)
			if err != nil {
				return fmt.Errorf("bad --start: %w", err)
			}
			to, err := config.ParseDate(end)
			if err != nil {
				return fmt.Errorf("bad --end: %w", err)
			}
			if to.Before(from) {
				return fmt.Errorf("--end must not be before --start")
			}

			bars, err := newAlpaca(cfg.Market).Bars(cmd.Context(), strings.ToUpper(symbol), g, from, g.EndOfRange(to))
			if err != nil {
				return err
			}
			dst := market.NewCSVProvider(cfg.Market.DataDir)
			if err := dst.Write(strings.ToUpper(symbol), g, bars); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bars to %s\n", len(bars), dst.Path(strings.ToUpper(symbol), g))
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol (default from config)")
	cmd.Flags().StringVar(&granularity, "granularity", "daily", "daily|hourly|minute")
	cmd.Flags().StringVar(&start, "start", "", "Start date, YYYY-MM-DD or RFC3339")
	cmd.Flags().StringVar(&end, "end", "", "End date, YYYY-MM-DD or RFC3339")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newDataListCmd(rc *RootConfig) *cobra.Command {
	var granularity string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List symbols available in the CSV data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.loadConfig()
			if err != nil {
				return err
			}
			g, err := market.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			symbols, err := market.NewCSVProvider(cfg.Market.DataDir).Symbols(g)
			if err != nil {
				return err
			}
			for _, s := range symbols {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&granularity, "granularity", "daily", "daily|hourly|minute")
	return cmd
}
