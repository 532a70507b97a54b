package tipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/flowsend/flowsend/internal/apperrors"
	"github.com/flowsend/flowsend/internal/ledger"
	"github.com/flowsend/flowsend/internal/logger"
	"github.com/flowsend/flowsend/internal/metrics"
	"github.com/flowsend/flowsend/internal/models"
	"github.com/flowsend/flowsend/internal/repository"
	"github.com/flowsend/flowsend/internal/service/pendingbatch"
)

type ledgerClient interface {
	// Read the authoritative external balance, errors normalized to *ledger.Error
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// Apply a signed delta, failure is tagged in the outcome instead of returned
	UpdateBalance(ctx context.Context, userID string, tokens int64) ledger.Outcome

	// One delta per entry, concurrently; partial failure lands in the report
	BatchUpdateBalance(ctx context.Context, entries []ledger.Entry) (ledger.BatchReport, error)
}

var validate = validator.New()

// Service orchestrates the external ledger, the local tip ledger and the
// pending broadcast state.
type Service struct {
	ledger  ledgerClient
	storage repository.Storage
	pending *pendingbatch.Store
	logger  logger.Logger
}

func NewService(client ledgerClient, storage repository.Storage, pending *pendingbatch.Store, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		ledger:  client,
		storage: storage,
		pending: pending,
		logger:  l,
	}
}

// BalanceView pairs the external point balance with the local tip balance.
type BalanceView struct {
	External   decimal.Decimal
	TipBalance int64
}

// Balance reads both balances, lazily creating the local tip account.
func (s *Service) Balance(ctx context.Context, userID string) (BalanceView, error) {
	var view BalanceView

	external, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return view, fmt.Errorf("can't read external balance. Err: %w", err)
	}

	account, err := s.storage.Account().GetOrCreate(ctx, userID)
	if err != nil {
		return view, fmt.Errorf("can't read tip account. Err: %w", err)
	}

	return BalanceView{External: external, TipBalance: account.Balance}, nil
}

// Deposit moves points from the external balance into the tip balance.
// The external delta is negative on deposit, the sign convention of the
// ledger API.
func (s *Service) Deposit(ctx context.Context, userID string, amount int64) (BalanceView, error) {
	var view BalanceView

	if amount <= 0 {
		return view, apperrors.ErrAmountNotPositive
	}

	if _, err := s.storage.Account().GetOrCreate(ctx, userID); err != nil {
		return view, fmt.Errorf("can't prepare tip account. Err: %w", err)
	}

	outcome := s.ledger.UpdateBalance(ctx, userID, -amount)
	if !outcome.Success {
		return view, fmt.Errorf("external debit failed: %w", &ledger.Error{Status: outcome.Status, Message: outcome.Message})
	}

	if _, err := s.storage.Account().AdjustBalance(ctx, userID, amount); err != nil {
		// Undo the external debit so the two ledgers stay consistent
		s.compensate(ctx, userID, amount)
		return view, fmt.Errorf("can't credit tip balance. Err: %w", err)
	}

	return s.Balance(ctx, userID)
}

// Withdraw moves points from the tip balance back to the external
// balance. The local debit is guarded, then the external credit is a
// positive delta; a failed credit re-credits the tip balance.
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64) (BalanceView, error) {
	var view BalanceView

	if amount <= 0 {
		return view, apperrors.ErrAmountNotPositive
	}

	if _, err := s.storage.Account().GetOrCreate(ctx, userID); err != nil {
		return view, fmt.Errorf("can't prepare tip account. Err: %w", err)
	}

	if _, err := s.storage.Account().WithdrawIfSufficient(ctx, userID, amount); err != nil {
		return view, err
	}

	outcome := s.ledger.UpdateBalance(ctx, userID, amount)
	if !outcome.Success {
		if _, err := s.storage.Account().AdjustBalance(ctx, userID, amount); err != nil {
			s.logger.Error("Failed to roll back tip debit after external credit failure",
				"user_id", userID, "amount", amount, "error", err)
		}
		return view, fmt.Errorf("external credit failed: %w", &ledger.Error{Status: outcome.Status, Message: outcome.Message})
	}

	return s.Balance(ctx, userID)
}

// BulkTipResult is what the presenter needs after a bulk tip: the
// pending broadcast record and the per-recipient report.
type BulkTipResult struct {
	Batch  pendingbatch.Batch
	Report ledger.BatchReport
	Total  int64
}

// BulkTip distributes points to the recipients in entries:
//  1. the initiator's tip balance is debited for the full total with a
//     guarded decrement, so an insufficient balance makes zero external
//     calls,
//  2. the external credits fan out, partial failures stay in the report,
//  3. exactly one audit row is recorded,
//  4. the batch is parked for the broadcast decision.
func (s *Service) BulkTip(ctx context.Context, userID string, entries []models.TipEntry) (BulkTipResult, error) {
	var result BulkTipResult

	if len(entries) == 0 {
		return result, apperrors.ErrBatchEmpty
	}
	for i, entry := range entries {
		if err := validate.Struct(entry); err != nil {
			return result, fmt.Errorf("invalid tip entry %d (%s): %w", i+1, entry.UserID, err)
		}
	}
	total := models.Total(entries)

	if _, err := s.storage.Account().GetOrCreate(ctx, userID); err != nil {
		return result, fmt.Errorf("can't prepare tip account. Err: %w", err)
	}

	if _, err := s.storage.Account().WithdrawIfSufficient(ctx, userID, total); err != nil {
		if errors.Is(err, apperrors.ErrInsufficientTipBalance) {
			metrics.BulkTipsTotal.WithLabelValues("insufficient").Inc()
		}
		return result, err
	}

	batchEntries := make([]ledger.Entry, 0, len(entries))
	for _, entry := range entries {
		batchEntries = append(batchEntries, ledger.Entry{UserID: entry.UserID, Amount: entry.Amount})
	}

	report, err := s.ledger.BatchUpdateBalance(ctx, batchEntries)
	if err != nil {
		// The batch never started, give the debit back
		s.refund(ctx, userID, total)
		metrics.BulkTipsTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("batch update failed: %w", err)
	}

	for _, o := range report.Outcomes {
		if o.Success {
			metrics.TipEntriesTotal.WithLabelValues("ok").Inc()
		} else {
			metrics.TipEntriesTotal.WithLabelValues("error").Inc()
		}
	}

	if _, err := s.storage.Transaction().Record(ctx, userID, len(entries), total); err != nil {
		// Audit failures are fatal to the operation, the external
		// credits already happened though, so log loudly
		s.logger.Error("Bulk tip done but audit row failed", "user_id", userID, "error", err)
		metrics.BulkTipsTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("can't record transaction. Err: %w", err)
	}

	batch := s.pending.Put(userID, entries)

	if report.AllSucceeded() {
		metrics.BulkTipsTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.BulkTipsTotal.WithLabelValues("partial").Inc()
		s.logger.Warn("Bulk tip partially failed",
			"user_id", userID, "succeeded", report.Succeeded, "failed", report.Failed)
	}

	return BulkTipResult{Batch: batch, Report: report, Total: total}, nil
}

// PendingBroadcast peeks at the user's unconfirmed batch, if any.
func (s *Service) PendingBroadcast(userID string) (pendingbatch.Batch, error) {
	return s.pending.Get(userID)
}

// ConfirmBroadcast hands out the pending batch exactly once. A stale or
// foreign confirmation gets apperrors.ErrBatchNotFound.
func (s *Service) ConfirmBroadcast(userID string) (pendingbatch.Batch, error) {
	return s.pending.Take(userID)
}

// DeclineBroadcast drops the pending batch.
func (s *Service) DeclineBroadcast(userID string) error {
	return s.pending.Decline(userID)
}

// History returns the newest-first audit rows, at most limit (default 10).
func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.TipTransaction, error) {
	return s.storage.Transaction().RecentHistory(ctx, userID, limit)
}

// refund gives a debited total back to the initiator's tip balance
func (s *Service) refund(ctx context.Context, userID string, total int64) {
	if _, err := s.storage.Account().AdjustBalance(ctx, userID, total); err != nil {
		s.logger.Error("Failed to refund tip balance", "user_id", userID, "amount", total, "error", err)
	}
}

// compensate undoes an external debit after a local failure
func (s *Service) compensate(ctx context.Context, userID string, amount int64) {
	outcome := s.ledger.UpdateBalance(ctx, userID, amount)
	if !outcome.Success {
		s.logger.Error("Failed to compensate external debit",
			"user_id", userID, "amount", amount, "status", outcome.Status, "message", outcome.Message)
	}
}
