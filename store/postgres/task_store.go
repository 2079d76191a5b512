package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/task"
)

const taskColumns = `id, account_id, symbol, start_date, end_date, granularity,
	decision_interval, status, total_items, processed_items, error_message, stats,
	created_at, started_at, resumed_at, completed_at`

func scanTask(sc scanner) (*task.Task, error) {
	var (
		t                           task.Task
		gran, status                string
		statsJSON                   *string
		started, resumed, completed *time.Time
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
	if statsJSON != nil && *statsJSON != "" {
		var st stats.Stats
		if err := store.DecodeJSON(*statsJSON, &st); err != nil {
			return nil, fmt.Errorf("decode stats: %w", err)
		}
		t.Stats = &st
	}
	return &t, nil
}

func getTask(ctx context.Context, q querier, id string, forUpdate bool) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTask(q.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// CreateTask inserts t. The account must already exist.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return store.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM accounts WHERE id = $1`, t.AccountID).Scan(&exists)
	if isNotFoundError(err) {
		return fmt.Errorf("account %s: %w", t.AccountID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}

	var statsJSON *string
	if t.Stats != nil {
		js, err := store.EncodeJSON(t.Stats)
		if err != nil {
			return err
		}
		statsJSON = &js
	}

	_, err = tx.Exec(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.AccountID, t.Symbol, t.StartDate.UTC(), t.EndDate.UTC(), string(t.Granularity),
		t.DecisionInterval, string(t.Status), t.TotalItems, t.ProcessedItems, t.ErrorMessage, statsJSON,
		t.CreatedAt.UTC(), nullTime(t.StartedAt), nullTime(t.ResumedAt), nullTime(t.CompletedAt))
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("task %s: %w", t.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return getTask(ctx, s.pool, id, false)
}

// ListTasks returns every task ordered by creation time.
func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
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

// TransitionTask locks the task row for the duration of the check.
func (s *Store) TransitionTask(ctx context.Context, id string, from []task.Status, to task.Status, errMsg string) (*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := getTask(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := store.Transition(t, from, to, errMsg, s.now()); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE tasks SET status = $2, error_message = $3, started_at = $4, resumed_at = $5, completed_at = $6
		WHERE id = $1`,
		id, string(t.Status), t.ErrorMessage, nullTime(t.StartedAt), nullTime(t.ResumedAt), nullTime(t.CompletedAt))
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *Store) ResetTask(ctx context.Context, r store.Reset) error {
	if r.Account == nil {
		return fmt.Errorf("%w: reset account is required", store.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := getTask(ctx, tx, r.TaskID, true)
	if err != nil {
		return err
	}
	if t.Status != task.Running && t.Status != task.Paused {
		return fmt.Errorf("%w: reset of task %s in status %s", store.ErrConflict, t.ID, t.Status)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE task_id = $1`, r.TaskID); err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE task_id = $1`, r.TaskID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM decisions WHERE task_id = $1`, r.TaskID); err != nil {
		return fmt.Errorf("delete decisions: %w", err)
	}
	if err := saveAccount(ctx, tx, r.Account); err != nil {
		return err
	}
	if err := upsertSnapshot(ctx, tx, &r.Snapshot); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET processed_items = 0, total_items = $2, stats = NULL WHERE id = $1`,
		r.TaskID, r.TotalItems); err != nil {
		return fmt.Errorf("reset task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CommitStep writes the account, trades, snapshot and checkpoint
// atomically. Fails the entire step on any duplicate trade id.
func (s *Store) CommitStep(ctx context.Context, st store.Step) error {
	if err := store.ValidateStep(st); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE tasks SET processed_items = $2 WHERE id = $1`, st.TaskID, st.Processed)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) SaveStats(ctx context.Context, taskID string, st stats.Stats) error {
	js, err := store.EncodeJSON(st)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE tasks SET stats = $2 WHERE id = $1`, taskID, js)
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	return nil
}
