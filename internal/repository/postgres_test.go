package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv-haver/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, Postgres), mock
}

func obligationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "original_value", "outstanding_balance", "status", "due_date", "linkage_note", "created_at", "updated_at"})
}

func TestPostgres_GetForUpdateLocksRow(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + obligationColumns + ` FROM obligations WHERE id = $1 FOR UPDATE`)).
		WithArgs("ob-1").
		WillReturnRows(obligationRows().AddRow("ob-1", "8.00", "8.00", "pending", time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC), "", now, now))
	mock.ExpectCommit()

	err := store.WithinTx(ctx, func(tx *Store) error {
		o, err := tx.Obligations().GetForUpdate(ctx, "ob-1")
		if err != nil {
			return err
		}
		assert.True(t, dec("8").Equal(o.OutstandingBalance))
		assert.Equal(t, domain.StatusPending, o.Status)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMapsNoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM obligations WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Obligations().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ApplyDeltaUsesNumberedPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM obligations WHERE id = $1 FOR UPDATE`)).
		WithArgs("ob-1").
		WillReturnRows(obligationRows().AddRow("ob-1", "25.00", "25.00", "pending", now, "", now, now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE obligations SET outstanding_balance = $1, status = $2, updated_at = $3 WHERE id = $4 AND status <> $5`)).
		WithArgs("15.00", "partial", sqlmock.AnyArg(), "ob-1", "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Obligations().ApplyDelta(context.Background(), "ob-1", dec("15"), domain.StatusPartial)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipts`)).
		WillReturnError(&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})

	_, err := store.Receipts().Record(context.Background(), "missing", dec("1"), "cash", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FailedUpdateRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipts`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WillReturnRows(obligationRows().AddRow("ob-1", "25.00", "25.00", "pending", now, "", now, now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE obligations`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.WithinTx(ctx, func(tx *Store) error {
		if _, err := tx.Receipts().Record(ctx, "ob-1", dec("10"), "cash", ""); err != nil {
			return err
		}
		return tx.Obligations().ApplyDelta(ctx, "ob-1", dec("15"), domain.StatusPartial)
	})
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
