package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/store"
)

const tradeColumns = `id, task_id, account_id, symbol, seq, action, side, quantity, price,
	amount, commission, tax, total_fees, realized_pl, open_id, decision_id, cash, position,
	market_value, total_value, margin_used, avg_price, timestamp`

func insertTrade(ctx context.Context, tx *sql.Tx, t *journal.TradeRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TaskID, t.AccountID, t.Symbol, t.Seq, string(t.Action), string(t.Side),
		t.Quantity.String(), t.Price.String(), t.Amount.String(), t.Commission.String(),
		t.Tax.String(), t.TotalFees.String(), t.RealizedPL.String(), t.OpenID, t.DecisionID,
		t.Cash.String(), t.Position.String(), t.MarketValue.String(), t.TotalValue.String(),
		t.MarginUsed.String(), t.AvgPrice.String(), t.Timestamp.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("trade %s: %w", t.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func scanTrade(sc scanner) (journal.TradeRecord, error) {
	var (
		t                                   journal.TradeRecord
		action, side                        string
		qty, price, amount, comm, tax, fees string
		pl, cash, pos, mv, tv, margin, avg  string
	)
	err := sc.Scan(&t.ID, &t.TaskID, &t.AccountID, &t.Symbol, &t.Seq, &action, &side,
		&qty, &price, &amount, &comm, &tax, &fees, &pl, &t.OpenID, &t.DecisionID,
		&cash, &pos, &mv, &tv, &margin, &avg, &t.Timestamp)
	if err != nil {
		return t, err
	}
	t.Action = ledger.Action(action)
	t.Side = ledger.Side(side)
	t.Timestamp = t.Timestamp.UTC()

	var d store.Decimals
	d.Parse(&t.Quantity, "quantity", qty)
	d.Parse(&t.Price, "price", price)
	d.Parse(&t.Amount, "amount", amount)
	d.Parse(&t.Commission, "commission", comm)
	d.Parse(&t.Tax, "tax", tax)
	d.Parse(&t.TotalFees, "total_fees", fees)
	d.Parse(&t.RealizedPL, "realized_pl", pl)
	d.Parse(&t.Cash, "cash", cash)
	d.Parse(&t.Position, "position", pos)
	d.Parse(&t.MarketValue, "market_value", mv)
	d.Parse(&t.TotalValue, "total_value", tv)
	d.Parse(&t.MarginUsed, "margin_used", margin)
	d.Parse(&t.AvgPrice, "avg_price", avg)
	return t, d.Err()
}

// ListTrades returns a task's trades ordered by sequence number.
func (s *Store) ListTrades(ctx context.Context, taskID string) ([]journal.TradeRecord, error) {
	if _, err := getTask(ctx, s.db, taskID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeColumns+`
		FROM trades WHERE task_id = ? ORDER BY seq ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []journal.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const snapshotColumns = `id, task_id, account_id, timestamp, price, cash, quantity, side,
	market_value, total_value, margin_used, available_cash, cumulative_fees,
	initial_balance, profit_loss, profit_loss_percent, floating_pl, long_lots, short_lots`

// upsertSnapshot writes one snapshot per (task, timestamp); a second write
// at the same timestamp replaces the first.
func upsertSnapshot(ctx context.Context, tx *sql.Tx, sn *journal.Snapshot) error {
	longs, err := store.EncodeJSON(sn.LongLots)
	if err != nil {
		return err
	}
	shorts, err := store.EncodeJSON(sn.ShortLots)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sn.ID, sn.TaskID, sn.AccountID, sn.Timestamp.UTC(), sn.Price.String(), sn.Cash.String(),
		sn.Quantity.String(), string(sn.Side), sn.MarketValue.String(), sn.TotalValue.String(),
		sn.MarginUsed.String(), sn.AvailableCash.String(), sn.CumulativeFees.String(),
		sn.InitialBalance.String(), sn.ProfitLoss.String(), sn.ProfitLossPercent.String(),
		sn.FloatingPL.String(), longs, shorts,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(sc scanner) (journal.Snapshot, error) {
	var (
		sn                                      journal.Snapshot
		side                                    string
		price, cash, qty, mv, tv, margin, avail string
		cumFees, initial, pl, plPct, floating   string
		longs, shorts                           string
	)
	err := sc.Scan(&sn.ID, &sn.TaskID, &sn.AccountID, &sn.Timestamp, &price, &cash, &qty, &side,
		&mv, &tv, &margin, &avail, &cumFees, &initial, &pl, &plPct, &floating, &longs, &shorts)
	if err != nil {
		return sn, err
	}
	sn.Side = ledger.Side(side)
	sn.Timestamp = sn.Timestamp.UTC()

	var d store.Decimals
	d.Parse(&sn.Price, "price", price)
	d.Parse(&sn.Cash, "cash", cash)
	d.Parse(&sn.Quantity, "quantity", qty)
	d.Parse(&sn.MarketValue, "market_value", mv)
	d.Parse(&sn.TotalValue, "total_value", tv)
	d.Parse(&sn.MarginUsed, "margin_used", margin)
	d.Parse(&sn.AvailableCash, "available_cash", avail)
	d.Parse(&sn.CumulativeFees, "cumulative_fees", cumFees)
	d.Parse(&sn.InitialBalance, "initial_balance", initial)
	d.Parse(&sn.ProfitLoss, "profit_loss", pl)
	d.Parse(&sn.ProfitLossPercent, "profit_loss_percent", plPct)
	d.Parse(&sn.FloatingPL, "floating_pl", floating)
	if err := d.Err(); err != nil {
		return sn, err
	}
	if err := store.DecodeJSON(longs, &sn.LongLots); err != nil {
		return sn, fmt.Errorf("decode long lots: %w", err)
	}
	if err := store.DecodeJSON(shorts, &sn.ShortLots); err != nil {
		return sn, fmt.Errorf("decode short lots: %w", err)
	}
	return sn, nil
}

// ListSnapshots returns a task's snapshots ordered by timestamp.
func (s *Store) ListSnapshots(ctx context.Context, taskID string) ([]journal.Snapshot, error) {
	if _, err := getTask(ctx, s.db, taskID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotColumns+`
		FROM snapshots WHERE task_id = ? ORDER BY timestamp ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []journal.Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const decisionColumns = `id, task_id, account_id, symbol, timestamp, price, action, quantity,
	confidence, reasoning, lastday_trend, attempts, outcome, error, elapsed_ms`

// upsertDecision keeps one decision per (task, timestamp).
func upsertDecision(ctx context.Context, tx *sql.Tx, d *journal.DecisionRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TaskID, d.AccountID, d.Symbol, d.Timestamp.UTC(), d.Price.String(),
		string(d.Action), d.Quantity.String(), d.Confidence, d.Reasoning, d.LastDayTrend,
		d.Attempts, d.Outcome, d.Error, d.ElapsedMS,
	)
	if err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}
	return nil
}

func scanDecision(sc scanner) (journal.DecisionRecord, error) {
	var (
		d          journal.DecisionRecord
		action     string
		price, qty string
	)
	err := sc.Scan(&d.ID, &d.TaskID, &d.AccountID, &d.Symbol, &d.Timestamp, &price, &action, &qty,
		&d.Confidence, &d.Reasoning, &d.LastDayTrend, &d.Attempts, &d.Outcome, &d.Error, &d.ElapsedMS)
	if err != nil {
		return d, err
	}
	d.Action = ledger.Action(action)
	d.Timestamp = d.Timestamp.UTC()

	var dec store.Decimals
	dec.Parse(&d.Price, "price", price)
	dec.Parse(&d.Quantity, "quantity", qty)
	return d, dec.Err()
}

// ListDecisions returns a task's decision records ordered by timestamp.
func (s *Store) ListDecisions(ctx context.Context, taskID string) ([]journal.DecisionRecord, error) {
	if _, err := getTask(ctx, s.db, taskID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+decisionColumns+`
		FROM decisions WHERE task_id = ? ORDER BY timestamp ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []journal.DecisionRecord
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
