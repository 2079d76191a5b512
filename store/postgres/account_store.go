package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/store"
)

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
	a.Mark(a.LastPrice, time.Time{})
	return &a, nil
}

// CreateAccount inserts a. Returns ErrDuplicateKey if the id exists.
func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	if a == nil || a.ID == "" {
		return store.ErrInvalidInput
	}
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, args...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("account %s: %w", a.ID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount returns ErrNotFound if the account does not exist.
func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func saveAccount(ctx context.Context, tx pgx.Tx, a *ledger.Account) error {
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET symbol = $2, initial_balance = $3, cash = $4, quantity = $5,
			last_price = $6, cumulative_fees = $7, fees = $8, long_lots = $9, short_lots = $10,
			updated_at = $11
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", a.ID, store.ErrNotFound)
	}
	return nil
}
