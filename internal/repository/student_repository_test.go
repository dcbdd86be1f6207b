package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var studentRowColumns = []string{"id", "nim", "full_name", "password_hash", "gpa", "previous_gpa", "cumulative_credits",
	"current_term", "credit_allowance", "status", "payment_status", "curriculum_id", "created_at", "updated_at"}

func TestStudentRepositoryFindByNIM(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows(studentRowColumns).
		AddRow("stu-1", "2210511001", "Siti Rahma", "hash", 3.52, 3.4, 84, 5, 24, "ACTIVE", "PAID", "cur-1", time.Now(), time.Now())
	mock.ExpectQuery("(?s)SELECT (.+) FROM students WHERE nim = \\$1").
		WithArgs("2210511001").
		WillReturnRows(rows)

	student, err := repo.FindByNIM(context.Background(), nil, "2210511001")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", student.ID)
	assert.Equal(t, models.StudentStatusActive, student.Status)
	assert.Equal(t, models.PaymentStatusPaid, student.PaymentStatus)
	assert.Equal(t, 24, student.CreditAllowance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByNIMMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("(?s)SELECT (.+) FROM students WHERE nim = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByNIM(context.Background(), nil, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "academic_year", "term_kind", "is_active", "enrollment_starts_on", "enrollment_ends_on", "daily_start_minute", "daily_end_minute", "created_at"}).
		AddRow("per-1", "2025/2026", "ODD", true, start, start.AddDate(0, 0, 14), 480, 900, time.Now())
	mock.ExpectQuery("FROM academic_periods WHERE is_active = TRUE LIMIT 1").WillReturnRows(rows)

	period, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.TermKindOdd, period.TermKind)
	assert.Equal(t, 480, period.DailyStartMinute)
	assert.NoError(t, mock.ExpectationsWereMet())
}
