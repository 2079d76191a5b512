package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/task"
)

// PrintReport writes a plain-text summary of a task and its statistics.
func PrintReport(w io.Writer, t *task.Task, st stats.Stats) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Task ID:       %s\n", t.ID)
	fmt.Fprintf(w, "Account:       %s\n", t.AccountID)
	fmt.Fprintf(w, "Symbol:        %s\n", t.Symbol)
	fmt.Fprintf(w, "Granularity:   %s (every %d)\n", t.Granularity, t.DecisionInterval)
	fmt.Fprintf(w, "Status:        %s\n", t.Status)
	if t.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:         %s\n", t.ErrorMessage)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", t.StartDate.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", t.EndDate.Format(time.RFC3339))
	fmt.Fprintf(w, "Progress:      %d/%d\n", t.ProcessedItems, t.TotalItems)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", st.TotalTrades)
	fmt.Fprintf(w, "Closing:       %d\n", st.ClosingTrades)
	fmt.Fprintf(w, "Wins:          %d\n", st.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", st.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", st.WinRate*100)
	if st.ClosingTrades > 0 {
		fmt.Fprintf(w, "Avg Profit:    %.2f%%\n", st.AvgProfit*100)
		fmt.Fprintf(w, "Avg Loss:      %.2f%%\n", st.AvgLoss*100)
		fmt.Fprintf(w, "Best Trade:    %.2f%%\n", st.MaxSingleProfit*100)
	}
	if st.ProfitLossRatio > 0 {
		fmt.Fprintf(w, "P/L Ratio:     %.2f\n", st.ProfitLossRatio)
	}
	fmt.Fprintf(w, "Trades/Day:    %.2f\n", st.TradesPerDay)
	if st.AvgHoldDays > 0 {
		fmt.Fprintf(w, "Avg Hold:      %.2f days\n", st.AvgHoldDays)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %.2f\n", st.InitialBalance)
	fmt.Fprintf(w, "Final Cash:    %.2f\n", st.FinalCash)
	fmt.Fprintf(w, "Final Value:   %.2f\n", st.FinalTotalValue)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", st.FinalTotalValue-st.InitialBalance)
	fmt.Fprintf(w, "Return:        %.2f%%\n", st.CumulativeReturn*100)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", st.MaxDrawdown*100)
	fmt.Fprintf(w, "Sharpe:        %.3f\n", st.SharpeRatio)
	fmt.Fprintf(w, "Fees:          %.2f\n", st.TotalFees)
	if st.FeesToProfitRatio != 0 {
		fmt.Fprintf(w, "Fees/Profit:   %.2f\n", st.FeesToProfitRatio)
	}

	fmt.Fprintln(w)
}
