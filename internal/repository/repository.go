package repository

import (
	"context"

	"github.com/flowsend/flowsend/internal/models"
)

// Tip account repository interface
type AccountRepo interface {
	// Get account by id, creating it with zero balance on first touch
	GetOrCreate(ctx context.Context, id string) (models.TipAccount, error)

	// Get account by id
	// If account not found must return apperrors.ErrAccountNotFound
	Get(ctx context.Context, id string) (models.TipAccount, error)

	// Unconditionally add delta (may be negative) to the account balance
	// The account must exist already
	AdjustBalance(ctx context.Context, id string, delta int64) (models.TipAccount, error)

	// Subtract amount only if the remaining balance stays non negative.
	// Single conditional UPDATE, so concurrent spenders can't interleave
	// a stale read with the write.
	// If the guard fails must return apperrors.ErrInsufficientTipBalance
	WithdrawIfSufficient(ctx context.Context, id string, amount int64) (models.TipAccount, error)
}

// Bulk tip audit log repository interface
type TransactionRepo interface {
	// Append one audit row for a completed bulk tip
	Record(ctx context.Context, userID string, recipientCount int, amount int64) (models.TipTransaction, error)

	// Return at most limit rows for the user, newest first
	RecentHistory(ctx context.Context, userID string, limit int) ([]models.TipTransaction, error)
}

type Storage interface {
	Account() AccountRepo
	Transaction() TransactionRepo

	// Run fn within a database transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
