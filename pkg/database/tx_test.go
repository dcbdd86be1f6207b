package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTxMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestRunInTxCommits(t *testing.T) {
	db, mock := newTxMock(t)
	runner := NewTxRunner(db, TxConfig{Timeout: time.Second}, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE offered_sections").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := runner.RunInTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		_, err := tx.ExecContext(ctx, "UPDATE offered_sections SET filled = filled + 1 WHERE id = $1", "sec-1")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	db, mock := newTxMock(t)
	runner := NewTxRunner(db, TxConfig{MaxRetries: 3}, nil)
	sentinel := errors.New("section full")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := runner.RunInTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRetriesSerializationFailure(t *testing.T) {
	db, mock := newTxMock(t)
	runner := NewTxRunner(db, TxConfig{MaxRetries: 1}, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := runner.RunInTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		calls++
		if calls == 1 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxGivesUpAfterMaxRetries(t *testing.T) {
	db, mock := newTxMock(t)
	runner := NewTxRunner(db, TxConfig{MaxRetries: 1}, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := runner.RunInTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		calls++
		return fmt.Errorf("insert line: %w", &pq.Error{Code: "40P01"})
	})
	require.Error(t, err)
	assert.True(t, IsSerializationFailure(err))
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorClassification(t *testing.T) {
	constraint, ok := IsUniqueViolation(fmt.Errorf("wrap: %w", &pq.Error{Code: "23505", Constraint: "registration_lines_registration_id_section_id_key"}))
	assert.True(t, ok)
	assert.Equal(t, "registration_lines_registration_id_section_id_key", constraint)

	_, ok = IsCheckViolation(&pq.Error{Code: "23514", Constraint: "offered_sections_filled_check"})
	assert.True(t, ok)

	_, ok = IsUniqueViolation(errors.New("boom"))
	assert.False(t, ok)

	assert.True(t, IsTimeout(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.True(t, IsTimeout(&pq.Error{Code: "57014"}))
	assert.False(t, IsSerializationFailure(&pq.Error{Code: "23505"}))
}
