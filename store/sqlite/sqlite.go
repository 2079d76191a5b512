// Package sqlite is a store.Store backed by a SQLite file through
// mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/task"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Writers take the lock up front and wait on a busy database so
// another process can share the file.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases coherent and serializes
	// writers within the process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func isDuplicateKey(err error) bool {
	var e sqlite3.Error
	if errors.As(err, &e) {
		return e.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			e.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNull(n sql.NullTime) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return n.Time.UTC()
}

// ---- accounts ----

const accountColumns = `id, symbol, initial_balance, cash, quantity, last_price,
	cumulative_fees, fees, long_lots, short_lots, updated_at`

func accountArgs(a *ledger.Account) ([]any, error) {
	fees, err := store.EncodeJSON(a.Fees)
	if err != nil {
		return nil, err
	}
	longs, err := store.EncodeJSON(a.LongLots)
	if err != nil {
		return nil, err
	}
	shorts, err := store.EncodeJSON(a.ShortLots)
	if err != nil {
		return nil, err
	}
	return []any{
		a.ID, a.Symbol, a.InitialBalance.String(), a.Cash.String(), a.Quantity.String(),
		a.LastPrice.String(), a.CumulativeFees.String(), fees, longs, shorts, a.UpdatedAt.UTC(),
	}, nil
}

func scanAccount(sc scanner) (*ledger.Account, error) {
	var (
		a                                 ledger.Account
		initial, cash, qty, last, cumFees string
		fees, longs, shorts               string
	)
	if err := sc.Scan(&a.ID, &a.Symbol, &initial, &cash, &qty, &last, &cumFees, &fees, &longs, &shorts, &a.UpdatedAt); err != nil {
		return nil, err
	}

	var d store.Decimals
	d.Parse(&a.InitialBalance, "initial_balance", initial)
	d.Parse(&a.Cash, "cash", cash)
	d.Parse(&a.Quantity, "quantity", qty)
	d.Parse(&a.LastPrice, "last_price", last)
	d.Parse(&a.CumulativeFees, "cumulative_fees", cumFees)
	if err := d.Err(); err != nil {
		return nil, err
	}
	if err := store.DecodeJSON(fees, &a.Fees); err != nil {
		return nil, fmt.Errorf("decode fees: %w", err)
	}
	if err := store.DecodeJSON(longs, &a.LongLots); err != nil {
		return nil, fmt.Errorf("decode long lots: %w", err)
	}
	if err := store.DecodeJSON(shorts, &a.ShortLots); err != nil {
		return nil, fmt.Errorf("decode short lots: %w", err)
	}
	a.UpdatedAt = a.UpdatedAt.UTC()

	// Derived fields are not stored.
	a.Mark(a.LastPrice, time.Time{})
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	if a == nil || a.ID == "" {
		return store.ErrInvalidInput
	}
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("account %s: %w", a.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func saveAccount(ctx context.Context, tx *sql.Tx, a *ledger.Account) error {
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET symbol = ?, initial_balance = ?, cash = ?, quantity = ?,
			last_price = ?, cumulative_fees = ?, fees = ?, long_lots = ?, short_lots = ?,
			updated_at = ?
		WHERE id = ?`, append(args[1:], a.ID)...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", a.ID, store.ErrNotFound)
	}
	return nil
}

// ---- tasks ----

const taskColumns = `id, account_id, symbol, start_date, end_date, granularity,
	decision_interval, status, total_items, processed_items, error_message, stats,
	created_at, started_at, resumed_at, completed_at`

func scanTask(sc scanner) (*task.Task, error) {
	var (
		t                           task.Task
		gran, status                string
		statsJSON                   sql.NullString
		started, resumed, completed sql.NullTime
	)
	err := sc.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.StartDate, &t.EndDate, &gran,
		&t.DecisionInterval, &status, &t.TotalItems, &t.ProcessedItems, &t.ErrorMessage, &statsJSON,
		&t.CreatedAt, &started, &resumed, &completed)
	if err != nil {
		return nil, err
	}
	t.Granularity = market.Granularity(gran)
	t.Status = task.Status(status)
	t.StartDate = t.StartDate.UTC()
	t.EndDate = t.EndDate.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.StartedAt = fromNull(started)
	t.ResumedAt = fromNull(resumed)
	t.CompletedAt = fromNull(completed)
	if statsJSON.Valid && statsJSON.String != "" {
		var st stats.Stats
		if err := store.DecodeJSON(statsJSON.String, &st); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		t.Stats = &st
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, t.AccountID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account %s: %w", t.AccountID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}

	var statsJSON sql.NullString
	if t.Stats != nil {
		js, err := store.EncodeJSON(t.Stats)
		if err != nil {
			return err
		}
		statsJSON = sql.NullString{String: js, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Symbol, t.StartDate.UTC(), t.EndDate.UTC(), string(t.Granularity),
		t.DecisionInterval, string(t.Status), t.TotalItems, t.ProcessedItems, t.ErrorMessage, statsJSON,
		t.CreatedAt.UTC(), nullTime(t.StartedAt), nullTime(t.ResumedAt), nullTime(t.CompletedAt))
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("task %s: %w", t.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func getTask(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (*task.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionTask reads, checks and writes inside one immediate
// transaction; the UPDATE is also guarded on the old status.
func (s *Store) TransitionTask(ctx context.Context, id string, from []task.Status, to task.Status, errMsg string) (*task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	old := t.Status
	if err := store.Transition(t, from, to, errMsg, s.now()); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error_message = ?, started_at = ?, resumed_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(t.Status), t.ErrorMessage, nullTime(t.StartedAt), nullTime(t.ResumedAt), nullTime(t.CompletedAt),
		id, string(old))
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: task %s changed concurrently", store.ErrConflict, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *Store) ResetTask(ctx context.Context, r store.Reset) error {
	if r.Account == nil {
		return fmt.Errorf("%w: reset account is required", store.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t, err := getTask(ctx, tx, r.TaskID)
	if err != nil {
		return err
	}
	if t.Status != task.Running && t.Status != task.Paused {
		return fmt.Errorf("%w: reset of task %s in status %s", store.ErrConflict, t.ID, t.Status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE task_id = ?`, r.TaskID); err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE task_id = ?`, r.TaskID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE task_id = ?`, r.TaskID); err != nil {
		return fmt.Errorf("delete decisions: %w", err)
	}
	if err := saveAccount(ctx, tx, r.Account); err != nil {
		return err
	}
	if err := upsertSnapshot(ctx, tx, &r.Snapshot); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET processed_items = 0, total_items = ?, stats = NULL WHERE id = ?`,
		r.TotalItems, r.TaskID); err != nil {
		return fmt.Errorf("reset task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CommitStep writes the account, trades, snapshot and checkpoint in a
// single transaction.
func (s *Store) CommitStep(ctx context.Context, st store.Step) error {
	if err := store.ValidateStep(st); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET processed_items = ? WHERE id = ?`, st.Processed, st.TaskID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", st.TaskID, store.ErrNotFound)
	}

	if st.Account != nil {
		if err := saveAccount(ctx, tx, st.Account); err != nil {
			return err
		}
	}
	for i := range st.Trades {
		if err := insertTrade(ctx, tx, &st.Trades[i]); err != nil {
			return err
		}
	}
	if st.Snapshot != nil {
		if err := upsertSnapshot(ctx, tx, st.Snapshot); err != nil {
			return err
		}
	}
	if st.Decision != nil {
		if err := upsertDecision(ctx, tx, st.Decision); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) SaveStats(ctx context.Context, taskID string, st stats.Stats) error {
	js, err := store.EncodeJSON(st)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET stats = ? WHERE id = ?`, js, taskID)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	return nil
}
