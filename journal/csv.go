package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Journal receives trades and snapshots as they are exported.
type Journal interface {
	RecordTrade(TradeRecord) error
	RecordSnapshot(Snapshot) error
	Close() error
}

var (
	tradeHeader = []string{
		"id", "task_id", "seq", "timestamp", "symbol", "action", "side",
		"quantity", "price", "amount", "commission", "tax", "total_fees",
		"realized_pl", "open_id", "decision_id", "cash", "position", "total_value",
	}
	snapshotHeader = []string{
		"timestamp", "price", "cash", "quantity", "side", "market_value",
		"total_value", "margin_used", "available_cash", "cumulative_fees",
		"profit_loss", "profit_loss_percent", "floating_pl",
	}
	decisionHeader = []string{
		"id", "timestamp", "symbol", "price", "action", "quantity", "confidence",
		"lastday_trend", "attempts", "outcome", "elapsed_ms", "error", "reasoning",
	}
)

// CSVJournal writes trades and snapshots to two CSV files.
type CSVJournal struct {
	trades    *csv.Writer
	snapshots *csv.Writer
	tf, sf    *os.File
}

func NewCSV(tradesPath, snapshotsPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	sf, err := os.Create(snapshotsPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	j := &CSVJournal{
		trades:    csv.NewWriter(tf),
		snapshots: csv.NewWriter(sf),
		tf:        tf,
		sf:        sf,
	}
	if err := j.write(j.trades, tradeHeader); err != nil {
		j.Close()
		return nil, err
	}
	if err := j.write(j.snapshots, snapshotHeader); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	return j.write(j.trades, []string{
		t.ID,
		t.TaskID,
		fmt.Sprint(t.Seq),
		t.Timestamp.UTC().Format(time.RFC3339),
		t.Symbol,
		string(t.Action),
		string(t.Side),
		t.Quantity.String(),
		t.Price.String(),
		t.Amount.String(),
		t.Commission.String(),
		t.Tax.String(),
		t.TotalFees.String(),
		t.RealizedPL.String(),
		t.OpenID,
		t.DecisionID,
		t.Cash.String(),
		t.Position.String(),
		t.TotalValue.String(),
	})
}

func (j *CSVJournal) RecordSnapshot(s Snapshot) error {
	return j.write(j.snapshots, []string{
		s.Timestamp.UTC().Format(time.RFC3339),
		s.Price.String(),
		s.Cash.String(),
		s.Quantity.String(),
		string(s.Side),
		s.MarketValue.String(),
		s.TotalValue.String(),
		s.MarginUsed.String(),
		s.AvailableCash.String(),
		s.CumulativeFees.String(),
		s.ProfitLoss.String(),
		s.ProfitLossPercent.String(),
		s.FloatingPL.String(),
	})
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	j.snapshots.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	if err := j.snapshots.Error(); err != nil {
		return err
	}
	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.sf.Close()
}

// Export writes every trade and snapshot to j in order.
func Export(j Journal, trades []TradeRecord, snapshots []Snapshot) error {
	for _, t := range trades {
		if err := j.RecordTrade(t); err != nil {
			return fmt.Errorf("export trade %s: %w", t.ID, err)
		}
	}
	for _, s := range snapshots {
		if err := j.RecordSnapshot(s); err != nil {
			return fmt.Errorf("export snapshot %s: %w", s.Timestamp.Format(time.RFC3339), err)
		}
	}
	return nil
}

// WriteDecisionsCSV writes decision records with a header row.
func WriteDecisionsCSV(w io.Writer, decisions []DecisionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(decisionHeader); err != nil {
		return err
	}
	for _, d := range decisions {
		err := cw.Write([]string{
			d.ID,
			d.Timestamp.UTC().Format(time.RFC3339),
			d.Symbol,
			d.Price.String(),
			string(d.Action),
			d.Quantity.String(),
			strconv.FormatFloat(d.Confidence, 'f', -1, 64),
			d.LastDayTrend,
			strconv.Itoa(d.Attempts),
			d.Outcome,
			strconv.FormatInt(d.ElapsedMS, 10),
			d.Error,
			d.Reasoning,
		})
		if err != nil {
			return fmt.Errorf("export decision %s: %w", d.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
