package postgres

import (
	"errors"
	"fmt"

	"context"

	"github.com/jackc/pgx/v5"

	"github.com/flowsend/flowsend/internal/apperrors"
	"github.com/flowsend/flowsend/internal/models"
)

type AccountRepo struct {
	DB DBTX
}

// Create account with zero balance on first touch, return it as is otherwise
const getOrCreateAccount = `-- name: GetOrCreateAccount
WITH insert_account AS (
	INSERT INTO tip_accounts (id, balance)
	VALUES ($1, 0)
	ON CONFLICT DO NOTHING
	RETURNING id, created_at, balance
)
SELECT * FROM insert_account
UNION
SELECT id, created_at, balance FROM tip_accounts WHERE id = $1
`

func (r *AccountRepo) GetOrCreate(ctx context.Context, id string) (models.TipAccount, error) {
	rows, _ := r.DB.Query(ctx, getOrCreateAccount, id)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccount = `-- name: GetAccount
SELECT id, created_at, balance FROM tip_accounts
WHERE id = $1
`

func (r *AccountRepo) Get(ctx context.Context, id string) (models.TipAccount, error) {
	rows, _ := r.DB.Query(ctx, getAccount, id)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

const adjustBalance = `-- name: AdjustBalance
UPDATE tip_accounts
SET balance = balance + $2
WHERE id = $1
RETURNING id, created_at, balance
`

func (r *AccountRepo) AdjustBalance(ctx context.Context, id string, delta int64) (models.TipAccount, error) {
	rows, _ := r.DB.Query(ctx, adjustBalance, id, delta)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

// Guarded decrement: the balance check and the write are one statement,
// so two concurrent spends of the same account can't both pass a stale
// check
const withdrawIfSufficient = `-- name: WithdrawIfSufficient
UPDATE tip_accounts
SET balance = balance - $2
WHERE id = $1 AND balance >= $2
RETURNING id, created_at, balance
`

func (r *AccountRepo) WithdrawIfSufficient(ctx context.Context, id string, amount int64) (models.TipAccount, error) {
	rows, _ := r.DB.Query(ctx, withdrawIfSufficient, id, amount)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return account, fmt.Errorf("db error: %w", err)
	}

	// No row updated: either the account is missing or the guard failed
	_, err = r.Get(ctx, id)
	if err != nil {
		return account, err
	}

	return account, apperrors.ErrInsufficientTipBalance
}

func rowToAccount(row pgx.CollectableRow) (models.TipAccount, error) {
	var a models.TipAccount
	err := row.Scan(&a.ID, &a.CreatedAt, &a.Balance)
	return a, err
}
