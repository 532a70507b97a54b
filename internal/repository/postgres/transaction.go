package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flowsend/flowsend/internal/apperrors"
	"github.com/flowsend/flowsend/internal/models"
)

const defaultHistoryLimit = 10

type TransactionRepo struct {
	DB DBTX
}

const recordTransaction = `-- name: RecordTransaction
INSERT INTO tip_transactions (id, user_id, recipient_count, amount)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at, user_id, recipient_count, amount
`

func (r *TransactionRepo) Record(ctx context.Context, userID string, recipientCount int, amount int64) (models.TipTransaction, error) {
	rows, _ := r.DB.Query(ctx, recordTransaction, uuid.New(), userID, recipientCount, amount)
	tr, err := pgx.CollectOneRow(rows, rowToTransaction)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return tr, apperrors.ErrAccountNotFound
		}

		return tr, fmt.Errorf("db error: %w", err)
	}

	return tr, nil
}

const recentHistory = `-- name: RecentHistory
SELECT id, created_at, user_id, recipient_count, amount FROM tip_transactions
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`

func (r *TransactionRepo) RecentHistory(ctx context.Context, userID string, limit int) ([]models.TipTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, _ := r.DB.Query(ctx, recentHistory, userID, limit)
	history, err := pgx.CollectRows(rows, rowToTransaction)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return history, nil
}

func rowToTransaction(row pgx.CollectableRow) (models.TipTransaction, error) {
	var t models.TipTransaction
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UserID, &t.RecipientCount, &t.Amount)
	return t, err
}
