package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/krs-api/internal/models"
)

// Constraint names the enrollment workflow maps to domain errors.
const (
	ConstraintRegistrationUnique = "registrations_student_period_key"
	ConstraintLineUnique         = "registration_lines_registration_section_key"
)

const registrationColumns = "id, student_id, period_id, total_credits, created_at, updated_at"

// RegistrationRepository persists KRS headers and their lines.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// FindByStudentPeriod returns the student's KRS for the period or sql.ErrNoRows.
func (r *RegistrationRepository) FindByStudentPeriod(ctx context.Context, exec sqlx.ExtContext, studentID, periodID string) (*models.Registration, error) {
	query := fmt.Sprintf("SELECT %s FROM registrations WHERE student_id = $1 AND period_id = $2", registrationColumns)
	var reg models.Registration
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &reg, query, studentID, periodID); err != nil {
		return nil, err
	}
	return &reg, nil
}

// AddCredits creates the student's KRS for the period with credits, or adds
// credits to the existing one, in a single statement.
func (r *RegistrationRepository) AddCredits(ctx context.Context, exec sqlx.ExtContext, studentID, periodID string, credits int) (*models.Registration, error) {
	query := fmt.Sprintf(`INSERT INTO registrations (id, student_id, period_id, total_credits, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        ON CONFLICT (student_id, period_id)
        DO UPDATE SET total_credits = registrations.total_credits + EXCLUDED.total_credits, updated_at = NOW()
        RETURNING %s`, registrationColumns)
	var reg models.Registration
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &reg, query, uuid.NewString(), studentID, periodID, credits); err != nil {
		return nil, fmt.Errorf("upsert registration: %w", err)
	}
	return &reg, nil
}

// SubtractCredits lowers the claimed credits without going below zero and
// returns the new total.
func (r *RegistrationRepository) SubtractCredits(ctx context.Context, exec sqlx.ExtContext, registrationID string, credits int) (int, error) {
	const query = `UPDATE registrations SET total_credits = GREATEST(total_credits - $2, 0), updated_at = NOW()
        WHERE id = $1 RETURNING total_credits`
	var total int
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &total, query, registrationID, credits); err != nil {
		return 0, fmt.Errorf("subtract credits: %w", err)
	}
	return total, nil
}

// InsertLine adds a section to a KRS. The unique (registration_id, section_id)
// constraint rejects duplicates.
func (r *RegistrationRepository) InsertLine(ctx context.Context, exec sqlx.ExtContext, registrationID, sectionID string) (*models.RegistrationLine, error) {
	const query = `INSERT INTO registration_lines (id, registration_id, section_id, created_at)
        VALUES ($1, $2, $3, NOW()) RETURNING id, registration_id, section_id, created_at`
	var line models.RegistrationLine
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &line, query, uuid.NewString(), registrationID, sectionID); err != nil {
		return nil, err
	}
	return &line, nil
}

// FindLine returns the line linking the KRS to the section or sql.ErrNoRows.
func (r *RegistrationRepository) FindLine(ctx context.Context, exec sqlx.ExtContext, registrationID, sectionID string) (*models.RegistrationLine, error) {
	const query = `SELECT id, registration_id, section_id, created_at
        FROM registration_lines WHERE registration_id = $1 AND section_id = $2`
	var line models.RegistrationLine
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &line, query, registrationID, sectionID); err != nil {
		return nil, err
	}
	return &line, nil
}

// HasLine reports whether the student already holds the section in the period.
func (r *RegistrationRepository) HasLine(ctx context.Context, exec sqlx.ExtContext, studentID, periodID, sectionID string) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM registration_lines l JOIN registrations r ON r.id = l.registration_id
        WHERE r.student_id = $1 AND r.period_id = $2 AND l.section_id = $3)`
	var exists bool
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &exists, query, studentID, periodID, sectionID); err != nil {
		return false, fmt.Errorf("check line: %w", err)
	}
	return exists, nil
}

// DeleteLine removes a line. It reports false when the line was already gone.
func (r *RegistrationRepository) DeleteLine(ctx context.Context, exec sqlx.ExtContext, lineID string) (bool, error) {
	res, err := pick(r.db, exec).ExecContext(ctx, `DELETE FROM registration_lines WHERE id = $1`, lineID)
	if err != nil {
		return false, fmt.Errorf("delete line: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListSectionIDs returns the sections held by the student in the period, in
// the order they were added.
func (r *RegistrationRepository) ListSectionIDs(ctx context.Context, exec sqlx.ExtContext, studentID, periodID string) ([]string, error) {
	const query = `SELECT l.section_id FROM registration_lines l
        JOIN registrations r ON r.id = l.registration_id
        WHERE r.student_id = $1 AND r.period_id = $2
        ORDER BY l.created_at, l.id`
	var ids []string
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &ids, query, studentID, periodID); err != nil {
		return nil, fmt.Errorf("list registered sections: %w", err)
	}
	return ids, nil
}

// ListRegistered returns the student's sections in the period with their
// placement in curriculumID, ordered by when they were added.
func (r *RegistrationRepository) ListRegistered(ctx context.Context, studentID, periodID, curriculumID string) ([]models.RegisteredSection, error) {
	const query = `SELECT s.id, s.course_id, s.period_id, s.name, s.quota, s.filled,
        c.credits, c.code AS course_code, c.name AS course_name,
        COALESCE(cu.code, '') AS curriculum_code, COALESCE(cc.kind, '') AS kind,
        COALESCE(cc.packaged_term, 0) AS packaged_term, l.created_at AS registered_at
        FROM registrations r
        JOIN registration_lines l ON l.registration_id = r.id
        JOIN offered_sections s ON s.id = l.section_id
        JOIN courses c ON c.id = s.course_id
        LEFT JOIN course_curricula cc ON cc.course_id = c.id AND cc.curriculum_id = $3
        LEFT JOIN curricula cu ON cu.id = cc.curriculum_id
        WHERE r.student_id = $1 AND r.period_id = $2
        ORDER BY l.created_at, l.id`
	var sections []models.RegisteredSection
	if err := r.db.SelectContext(ctx, &sections, query, studentID, periodID, curriculumID); err != nil {
		return nil, fmt.Errorf("list registered: %w", err)
	}
	return sections, nil
}

// JoinedSections returns which of sectionIDs the student holds in the period.
func (r *RegistrationRepository) JoinedSections(ctx context.Context, studentID, periodID string, sectionIDs []string) (map[string]bool, error) {
	joined := make(map[string]bool)
	if len(sectionIDs) == 0 {
		return joined, nil
	}
	const query = `SELECT l.section_id FROM registration_lines l
        JOIN registrations r ON r.id = l.registration_id
        WHERE r.student_id = $1 AND r.period_id = $2 AND l.section_id = ANY($3)`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, studentID, periodID, pq.Array(sectionIDs)); err != nil {
		return nil, fmt.Errorf("list joined sections: %w", err)
	}
	for _, id := range ids {
		joined[id] = true
	}
	return joined, nil
}

// TotalCredits returns the credits claimed in the period, zero without a KRS.
func (r *RegistrationRepository) TotalCredits(ctx context.Context, studentID, periodID string) (int, error) {
	reg, err := r.FindByStudentPeriod(ctx, nil, studentID, periodID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("total credits: %w", err)
	}
	return reg.TotalCredits, nil
}
