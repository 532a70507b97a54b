package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/flowsend/flowsend/internal/apperrors"
	"github.com/flowsend/flowsend/internal/repository"
	"github.com/flowsend/flowsend/internal/testutil"
)

func TestAccount(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	inTx := func(t *testing.T, outerTx DBTX, fn func(pgx.Tx, repository.Storage)) {
		testutil.WithTx(outerTx, t, func(innerTx pgx.Tx) {
			storage := NewStorage(innerTx)
			fn(innerTx, storage)
		})
	}

	t.Run("GetOrCreate", func(t *testing.T) {
		t.Run("creates with zero balance", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				account, err := storage.Account().GetOrCreate(t.Context(), "user-1")

				require.NoError(t, err, "lazy account creation should be ok")
				require.Equal(t, "user-1", account.ID)
				require.Zero(t, account.Balance, "fresh account balance should be zero")
				require.NotZero(t, account.CreatedAt, "created at should be set")
			})
		})

		t.Run("returns existing account as is", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				_, err := storage.Account().GetOrCreate(t.Context(), "user-1")
				require.NoError(t, err)
				_, err = storage.Account().AdjustBalance(t.Context(), "user-1", 42)
				require.NoError(t, err)

				account, err := storage.Account().GetOrCreate(t.Context(), "user-1")

				require.NoError(t, err, "second GetOrCreate should not fail")
				require.EqualValues(t, 42, account.Balance, "existing balance must not be reset")
			})
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("missing account", func(t *testing.T) {
			inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
				_, err := storage.Account().Get(t.Context(), "nobody")

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrAccountNotFound, "should return well known error")
			})
		})
	})

	t.Run("AdjustBalance", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Account().GetOrCreate(t.Context(), "user-1")
			require.NoError(t, err)

			t.Run("sequence of deltas is additive", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().AdjustBalance(t.Context(), "user-1", 100)
					require.NoError(t, err)

					account, err := storage.Account().AdjustBalance(t.Context(), "user-1", -30)

					require.NoError(t, err)
					require.EqualValues(t, 70, account.Balance, "balance should be sum of applied deltas")
				})
			})

			t.Run("order of deltas does not matter", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().AdjustBalance(t.Context(), "user-1", -30)
					require.NoError(t, err)

					account, err := storage.Account().AdjustBalance(t.Context(), "user-1", 100)

					require.NoError(t, err)
					require.EqualValues(t, 70, account.Balance, "deltas commute")
				})
			})

			t.Run("unknown account fail", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().AdjustBalance(t.Context(), "nobody", 10)

					require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
				})
			})

			// The guard below is why AdjustBalance alone is not used for
			// spending: it applies the delta unconditionally and may
			// drive the balance negative.
			t.Run("may go negative", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					account, err := storage.Account().AdjustBalance(t.Context(), "user-1", -10)

					require.NoError(t, err)
					require.EqualValues(t, -10, account.Balance)
				})
			})
		})
	})

	t.Run("WithdrawIfSufficient", func(t *testing.T) {
		inTx(t, pg.Pool, func(tx pgx.Tx, storage repository.Storage) {
			_, err := storage.Account().GetOrCreate(t.Context(), "user-1")
			require.NoError(t, err)
			_, err = storage.Account().AdjustBalance(t.Context(), "user-1", 100)
			require.NoError(t, err)

			t.Run("withdraw ok", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					account, err := storage.Account().WithdrawIfSufficient(t.Context(), "user-1", 60)

					require.NoError(t, err)
					require.EqualValues(t, 40, account.Balance)
				})
			})

			t.Run("exact balance ok", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					account, err := storage.Account().WithdrawIfSufficient(t.Context(), "user-1", 100)

					require.NoError(t, err)
					require.Zero(t, account.Balance)
				})
			})

			t.Run("insufficient funds fail", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().WithdrawIfSufficient(t.Context(), "user-1", 101)

					require.ErrorIs(t, err, apperrors.ErrInsufficientTipBalance)

					account, err := storage.Account().Get(t.Context(), "user-1")
					require.NoError(t, err)
					require.EqualValues(t, 100, account.Balance, "failed withdraw must not touch the balance")
				})
			})

			t.Run("unknown account fail", func(t *testing.T) {
				inTx(t, tx, func(ttx pgx.Tx, storage repository.Storage) {
					_, err := storage.Account().WithdrawIfSufficient(t.Context(), "nobody", 10)

					require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
				})
			})
		})
	})
}
