package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

const studentColumns = `id, nim, full_name, password_hash, gpa, previous_gpa, cumulative_credits, current_term,
        credit_allowance, status, payment_status, curriculum_id, created_at, updated_at`

// StudentRepository reads student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByNIM returns the student with the given registration number. Pass a
// transaction as exec to read inside it; nil reads from the pool. A missing
// student yields sql.ErrNoRows.
func (r *StudentRepository) FindByNIM(ctx context.Context, exec sqlx.ExtContext, nim string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE nim = $1", studentColumns)
	var student models.Student
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &student, query, nim); err != nil {
		return nil, err
	}
	return &student, nil
}
