package tipping

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flowsend/flowsend/internal/apperrors"
	"github.com/flowsend/flowsend/internal/ledger"
	"github.com/flowsend/flowsend/internal/models"
	"github.com/flowsend/flowsend/internal/repository"
	"github.com/flowsend/flowsend/internal/repository/postgres"
	"github.com/flowsend/flowsend/internal/service/pendingbatch"
	"github.com/flowsend/flowsend/internal/testutil"
)

// fakeLedger records every update call and fails selected users
type fakeLedger struct {
	mu          sync.Mutex
	external    decimal.Decimal
	updateCalls []ledger.Entry
	failUsers   map[string]ledger.Outcome
	getErr      error
}

func (f *fakeLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if f.getErr != nil {
		return decimal.Decimal{}, f.getErr
	}
	return f.external, nil
}

func (f *fakeLedger) UpdateBalance(ctx context.Context, userID string, tokens int64) ledger.Outcome {
	f.mu.Lock()
	f.updateCalls = append(f.updateCalls, ledger.Entry{UserID: userID, Amount: tokens})
	f.mu.Unlock()

	if outcome, ok := f.failUsers[userID]; ok {
		outcome.UserID = userID
		return outcome
	}
	return ledger.Outcome{UserID: userID, Success: true, Status: http.StatusOK}
}

func (f *fakeLedger) BatchUpdateBalance(ctx context.Context, entries []ledger.Entry) (ledger.BatchReport, error) {
	if len(entries) == 0 {
		return ledger.BatchReport{}, errors.New("entries must be a non-empty list")
	}

	report := ledger.BatchReport{Outcomes: make([]ledger.Outcome, len(entries))}
	for i, e := range entries {
		report.Outcomes[i] = f.UpdateBalance(ctx, e.UserID, e.Amount)
		if report.Outcomes[i].Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

func (f *fakeLedger) calls() []ledger.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Entry(nil), f.updateCalls...)
}

func TestTipping(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	entries := []models.TipEntry{
		{UserID: "recipient-a", Amount: 10, Note: "hi"},
		{UserID: "recipient-b", Amount: 5},
	}

	// Run fn with a fresh service on a rolled-back transaction
	inTx := func(t *testing.T, fake *fakeLedger, fn func(s *Service, storage repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			service := NewService(fake, storage, pendingbatch.NewStore(pendingbatch.DefaultTTL, nil), nil)
			fn(service, storage)
		})
	}

	fund := func(t *testing.T, storage repository.Storage, userID string, balance int64) {
		_, err := storage.Account().GetOrCreate(t.Context(), userID)
		require.NoError(t, err)
		_, err = storage.Account().AdjustBalance(t.Context(), userID, balance)
		require.NoError(t, err)
	}

	t.Run("BulkTip", func(t *testing.T) {
		t.Run("happy path", func(t *testing.T) {
			fake := &fakeLedger{external: decimal.NewFromInt(100)}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 20)

				result, err := s.BulkTip(t.Context(), "tipper", entries)

				require.NoError(t, err)
				require.EqualValues(t, 15, result.Total)
				require.True(t, result.Report.AllSucceeded())
				require.Equal(t, "tipper", result.Batch.OwnerID)
				require.Equal(t, pendingbatch.StatePending, result.Batch.State)

				// Initiator debited once for the whole batch
				account, err := storage.Account().Get(t.Context(), "tipper")
				require.NoError(t, err)
				require.EqualValues(t, 5, account.Balance)

				// Exactly one audit row with count and total
				history, err := s.History(t.Context(), "tipper", 10)
				require.NoError(t, err)
				require.Len(t, history, 1)
				require.Equal(t, 2, history[0].RecipientCount)
				require.EqualValues(t, 15, history[0].Amount)

				// One positive external credit per recipient
				calls := fake.calls()
				require.Len(t, calls, 2)
				require.Equal(t, ledger.Entry{UserID: "recipient-a", Amount: 10}, calls[0])
				require.Equal(t, ledger.Entry{UserID: "recipient-b", Amount: 5}, calls[1])
			})
		})

		t.Run("insufficient balance makes zero external calls", func(t *testing.T) {
			fake := &fakeLedger{}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 14)

				_, err := s.BulkTip(t.Context(), "tipper", entries)

				require.ErrorIs(t, err, apperrors.ErrInsufficientTipBalance)
				require.Empty(t, fake.calls(), "no external call on insufficient balance")

				account, err := storage.Account().Get(t.Context(), "tipper")
				require.NoError(t, err)
				require.EqualValues(t, 14, account.Balance, "balance untouched")

				history, err := s.History(t.Context(), "tipper", 10)
				require.NoError(t, err)
				require.Empty(t, history, "no audit row for a rejected bulk tip")
			})
		})

		t.Run("empty batch fail", func(t *testing.T) {
			fake := &fakeLedger{}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				_, err := s.BulkTip(t.Context(), "tipper", nil)

				require.ErrorIs(t, err, apperrors.ErrBatchEmpty)
				require.Empty(t, fake.calls())
			})
		})

		t.Run("invalid entry fail before debit", func(t *testing.T) {
			fake := &fakeLedger{}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 100)

				_, err := s.BulkTip(t.Context(), "tipper", []models.TipEntry{
					{UserID: "recipient-a", Amount: 10},
					{UserID: "recipient-b", Amount: 0}, // zero amount is invalid
				})

				require.Error(t, err)
				require.Empty(t, fake.calls())

				account, err := storage.Account().Get(t.Context(), "tipper")
				require.NoError(t, err)
				require.EqualValues(t, 100, account.Balance, "no debit on validation failure")
			})
		})

		t.Run("partial failure surfaced and audited", func(t *testing.T) {
			fake := &fakeLedger{failUsers: map[string]ledger.Outcome{
				"recipient-b": {Success: false, Status: http.StatusNotFound, Message: "member not found"},
			}}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 20)

				result, err := s.BulkTip(t.Context(), "tipper", entries)

				require.NoError(t, err, "partial failure is a report, not an error")
				require.Equal(t, 1, result.Report.Succeeded)
				require.Equal(t, 1, result.Report.Failed)
				require.Equal(t, "recipient-b", result.Report.FailedOutcomes()[0].UserID)

				history, err := s.History(t.Context(), "tipper", 10)
				require.NoError(t, err)
				require.Len(t, history, 1, "audit row still recorded")
			})
		})
	})

	t.Run("Broadcast", func(t *testing.T) {
		t.Run("confirm is single shot", func(t *testing.T) {
			fake := &fakeLedger{}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 20)
				_, err := s.BulkTip(t.Context(), "tipper", entries)
				require.NoError(t, err)

				batch, err := s.ConfirmBroadcast("tipper")
				require.NoError(t, err)
				require.Equal(t, entries, batch.Entries)

				_, err = s.ConfirmBroadcast("tipper")
				require.ErrorIs(t, err, apperrors.ErrBatchNotFound, "second confirm finds nothing")
			})
		})

		t.Run("decline clears the batch", func(t *testing.T) {
			fake := &fakeLedger{}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 20)
				_, err := s.BulkTip(t.Context(), "tipper", entries)
				require.NoError(t, err)

				require.NoError(t, s.DeclineBroadcast("tipper"))

				_, err = s.ConfirmBroadcast("tipper")
				require.ErrorIs(t, err, apperrors.ErrBatchNotFound, "declined batch is gone")
			})
		})
	})

	t.Run("Deposit", func(t *testing.T) {
		t.Run("sends negative external delta", func(t *testing.T) {
			fake := &fakeLedger{external: decimal.NewFromInt(50)}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				view, err := s.Deposit(t.Context(), "tipper", 30)

				require.NoError(t, err)
				require.EqualValues(t, 30, view.TipBalance)

				calls := fake.calls()
				require.Len(t, calls, 1)
				require.EqualValues(t, -30, calls[0].Amount, "deposit debits the external balance")
			})
		})

		t.Run("non positive amount fail", func(t *testing.T) {
			fake := &fakeLedger{}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				_, err := s.Deposit(t.Context(), "tipper", 0)

				require.ErrorIs(t, err, apperrors.ErrAmountNotPositive)
				require.Empty(t, fake.calls())
			})
		})

		t.Run("external failure leaves tip balance untouched", func(t *testing.T) {
			fake := &fakeLedger{failUsers: map[string]ledger.Outcome{
				"tipper": {Success: false, Status: http.StatusPaymentRequired, Message: "not enough tokens"},
			}}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				_, err := s.Deposit(t.Context(), "tipper", 30)

				require.Error(t, err)
				var lerr *ledger.Error
				require.ErrorAs(t, err, &lerr)
				require.Equal(t, http.StatusPaymentRequired, lerr.Status)

				account, err := storage.Account().Get(t.Context(), "tipper")
				require.NoError(t, err)
				require.Zero(t, account.Balance)
			})
		})
	})

	t.Run("Withdraw", func(t *testing.T) {
		t.Run("sends positive external delta", func(t *testing.T) {
			fake := &fakeLedger{external: decimal.NewFromInt(50)}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 40)

				view, err := s.Withdraw(t.Context(), "tipper", 25)

				require.NoError(t, err)
				require.EqualValues(t, 15, view.TipBalance)

				calls := fake.calls()
				require.Len(t, calls, 1)
				require.EqualValues(t, 25, calls[0].Amount, "withdraw credits the external balance")
			})
		})

		t.Run("insufficient tip balance makes no external call", func(t *testing.T) {
			fake := &fakeLedger{}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 10)

				_, err := s.Withdraw(t.Context(), "tipper", 25)

				require.ErrorIs(t, err, apperrors.ErrInsufficientTipBalance)
				require.Empty(t, fake.calls())
			})
		})

		t.Run("external failure refunds the tip debit", func(t *testing.T) {
			fake := &fakeLedger{failUsers: map[string]ledger.Outcome{
				"tipper": {Success: false, Status: http.StatusBadGateway, Message: "upstream down"},
			}}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				fund(t, storage, "tipper", 40)

				_, err := s.Withdraw(t.Context(), "tipper", 25)

				require.Error(t, err)

				account, err := storage.Account().Get(t.Context(), "tipper")
				require.NoError(t, err)
				require.EqualValues(t, 40, account.Balance, "debit must be rolled back")
			})
		})
	})

	t.Run("Balance", func(t *testing.T) {
		t.Run("creates account lazily", func(t *testing.T) {
			fake := &fakeLedger{external: decimal.NewFromInt(77)}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				view, err := s.Balance(t.Context(), "newcomer")

				require.NoError(t, err)
				require.Equal(t, "77", view.External.String())
				require.Zero(t, view.TipBalance)

				account, err := storage.Account().Get(t.Context(), "newcomer")
				require.NoError(t, err)
				require.Zero(t, account.Balance)
			})
		})

		t.Run("external read failure propagates", func(t *testing.T) {
			fake := &fakeLedger{getErr: &ledger.Error{Status: http.StatusNotFound, Message: "member not found"}}
			inTx(t, fake, func(s *Service, storage repository.Storage) {
				_, err := s.Balance(t.Context(), "tipper")

				var lerr *ledger.Error
				require.ErrorAs(t, err, &lerr)
			})
		})
	})
}
