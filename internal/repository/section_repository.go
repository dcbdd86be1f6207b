package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/krs-api/internal/models"
)

// ConstraintSectionFilled keeps filled within [0, quota].
const ConstraintSectionFilled = "offered_sections_filled_check"

const sectionSelect = `SELECT s.id, s.course_id, s.period_id, s.name, s.quota, s.filled,
        c.credits, c.code AS course_code, c.name AS course_name
        FROM offered_sections s JOIN courses c ON c.id = s.course_id`

// SectionRepository manages offered sections and their seat counters.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs a SectionRepository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// FindByID returns a section with its course credits. Meetings and lecturers
// are not loaded. A missing section yields sql.ErrNoRows.
func (r *SectionRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.OfferedSection, error) {
	var section models.OfferedSection
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &section, sectionSelect+" WHERE s.id = $1", id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListByIDs returns the sections that exist among ids, with live counters.
func (r *SectionRepository) ListByIDs(ctx context.Context, ids []string) ([]models.OfferedSection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var sections []models.OfferedSection
	if err := r.db.SelectContext(ctx, &sections, sectionSelect+" WHERE s.id = ANY($1)", pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// ListMeetings returns the weekly meetings of the given sections keyed by section id.
func (r *SectionRepository) ListMeetings(ctx context.Context, exec sqlx.ExtContext, sectionIDs []string) (map[string][]models.Meeting, error) {
	result := make(map[string][]models.Meeting, len(sectionIDs))
	if len(sectionIDs) == 0 {
		return result, nil
	}
	const query = `SELECT id, section_id, day, start_minute, end_minute, room
        FROM section_meetings WHERE section_id = ANY($1) ORDER BY section_id, start_minute`
	var meetings []models.Meeting
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &meetings, query, pq.Array(sectionIDs)); err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	for _, m := range meetings {
		result[m.SectionID] = append(result[m.SectionID], m)
	}
	return result, nil
}

// ListLecturers returns the lecturers of the given sections keyed by section id.
func (r *SectionRepository) ListLecturers(ctx context.Context, sectionIDs []string) (map[string][]models.Lecturer, error) {
	result := make(map[string][]models.Lecturer, len(sectionIDs))
	if len(sectionIDs) == 0 {
		return result, nil
	}
	const query = `SELECT l.id, sl.section_id, l.nip, l.full_name
        FROM section_lecturers sl JOIN lecturers l ON l.id = sl.lecturer_id
        WHERE sl.section_id = ANY($1) ORDER BY l.full_name`
	var lecturers []models.Lecturer
	if err := r.db.SelectContext(ctx, &lecturers, query, pq.Array(sectionIDs)); err != nil {
		return nil, fmt.Errorf("list lecturers: %w", err)
	}
	for _, l := range lecturers {
		result[l.SectionID] = append(result[l.SectionID], l)
	}
	return result, nil
}

// ListCatalog returns the sections of a period whose course belongs to the
// curriculum, optionally limited to one packaged term.
func (r *SectionRepository) ListCatalog(ctx context.Context, periodID, curriculumID string, term *int) ([]models.CatalogEntry, error) {
	query := `SELECT s.id, s.course_id, s.period_id, s.name, s.quota, s.filled,
        c.credits, c.code AS course_code, c.name AS course_name,
        cu.code AS curriculum_code, cc.kind, cc.packaged_term
        FROM offered_sections s
        JOIN courses c ON c.id = s.course_id
        JOIN course_curricula cc ON cc.course_id = c.id AND cc.curriculum_id = $2
        JOIN curricula cu ON cu.id = cc.curriculum_id
        WHERE s.period_id = $1`
	args := []interface{}{periodID, curriculumID}
	if term != nil {
		query += " AND cc.packaged_term = $3"
		args = append(args, *term)
	}
	query += " ORDER BY cc.packaged_term, c.code, s.name"

	var entries []models.CatalogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return entries, nil
}

// IncrementFilled takes one seat. It reports false when the section was
// already full, in which case nothing changed.
func (r *SectionRepository) IncrementFilled(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	const query = `UPDATE offered_sections SET filled = filled + 1 WHERE id = $1 AND filled < quota`
	res, err := pick(r.db, exec).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("increment filled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DecrementFilled frees one seat without going below zero.
func (r *SectionRepository) DecrementFilled(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE offered_sections SET filled = GREATEST(filled - 1, 0) WHERE id = $1`
	if _, err := pick(r.db, exec).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("decrement filled: %w", err)
	}
	return nil
}
