package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// PeriodRepository reads academic periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs a PeriodRepository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// FindActive returns the single active period or sql.ErrNoRows.
func (r *PeriodRepository) FindActive(ctx context.Context) (*models.AcademicPeriod, error) {
	const query = `SELECT id, academic_year, term_kind, is_active, enrollment_starts_on, enrollment_ends_on,
        daily_start_minute, daily_end_minute, created_at
        FROM academic_periods WHERE is_active = TRUE LIMIT 1`
	var period models.AcademicPeriod
	if err := r.db.GetContext(ctx, &period, query); err != nil {
		return nil, err
	}
	return &period, nil
}
