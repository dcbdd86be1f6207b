package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/timeofday"
)

// OfferedCachePattern matches every cached catalog page.
const OfferedCachePattern = "krs:offered:*"

const generalCourseKind = "GENERAL"

type queryRegistrationRepository interface {
	ListRegistered(ctx context.Context, studentID, periodID, curriculumID string) ([]models.RegisteredSection, error)
	JoinedSections(ctx context.Context, studentID, periodID string, sectionIDs []string) (map[string]bool, error)
}

type querySectionRepository interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.OfferedSection, error)
	ListMeetings(ctx context.Context, exec sqlx.ExtContext, sectionIDs []string) (map[string][]models.Meeting, error)
	ListLecturers(ctx context.Context, sectionIDs []string) (map[string][]models.Lecturer, error)
	ListCatalog(ctx context.Context, periodID, curriculumID string, term *int) ([]models.CatalogEntry, error)
}

type eligibilityEvaluator interface {
	Evaluate(ctx context.Context, nim string) (*dto.EligibilityReport, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RegistrationQueryService serves read-only KRS views. None of its reads
// take part in an enrollment transaction.
type RegistrationQueryService struct {
	students      studentReader
	periods       periodResolver
	eligibility   eligibilityEvaluator
	registrations queryRegistrationRepository
	sections      querySectionRepository
	cache         catalogCache
	catalogTTL    time.Duration
	logger        *zap.Logger
}

// NewRegistrationQueryService constructs RegistrationQueryService. cache may be nil.
func NewRegistrationQueryService(
	students studentReader,
	periods periodResolver,
	eligibility eligibilityEvaluator,
	registrations queryRegistrationRepository,
	sections querySectionRepository,
	cache catalogCache,
	catalogTTL time.Duration,
	logger *zap.Logger,
) *RegistrationQueryService {
	if catalogTTL <= 0 {
		catalogTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationQueryService{
		students:      students,
		periods:       periods,
		eligibility:   eligibility,
		registrations: registrations,
		sections:      sections,
		cache:         cache,
		catalogTTL:    catalogTTL,
		logger:        logger,
	}
}

// GetRequirements returns the eligibility report for display.
func (s *RegistrationQueryService) GetRequirements(ctx context.Context, nim string) (*dto.EligibilityReport, error) {
	return s.eligibility.Evaluate(ctx, nim)
}

// GetRegisteredSections lists the student's sections in the active period in
// the order they were added.
func (s *RegistrationQueryService) GetRegisteredSections(ctx context.Context, nim string) ([]dto.RegisteredSection, error) {
	student, err := s.loadStudent(ctx, nim)
	if err != nil {
		return nil, err
	}
	period, err := s.periods.Current(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.registrations.ListRegistered(ctx, student.ID, period.ID, student.CurriculumID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registered sections")
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	meetings, lecturers, err := s.details(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := make([]dto.RegisteredSection, 0, len(rows))
	for _, row := range rows {
		result = append(result, dto.RegisteredSection{
			SectionView:  toSectionView(row.CatalogEntry, meetings[row.ID], lecturers[row.ID]),
			RegisteredAt: row.RegisteredAt,
		})
	}
	return result, nil
}

// GetOfferedSectionsForStudent lists the catalog of the student's own curriculum.
func (s *RegistrationQueryService) GetOfferedSectionsForStudent(ctx context.Context, nim string, term *int) (*dto.OfferedSectionGroups, error) {
	student, err := s.loadStudent(ctx, nim)
	if err != nil {
		return nil, err
	}
	return s.GetOfferedSections(ctx, student.CurriculumID, term)
}

// GetOfferedSections groups the active period's sections linked to
// curriculumID by packaged term. Sections without a link are left out.
// Seat counters are not part of the result.
func (s *RegistrationQueryService) GetOfferedSections(ctx context.Context, curriculumID string, term *int) (*dto.OfferedSectionGroups, error) {
	period, err := s.periods.Current(ctx)
	if err != nil {
		return nil, err
	}

	key := offeredCacheKey(period.ID, curriculumID, term)
	if s.cache != nil {
		var cached dto.OfferedSectionGroups
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit && cached.ByTerm != nil {
			return &cached, nil
		}
	}

	entries, err := s.sections.ListCatalog(ctx, period.ID, curriculumID, term)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list offered sections")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	meetings, lecturers, err := s.details(ctx, ids)
	if err != nil {
		return nil, err
	}

	groups := &dto.OfferedSectionGroups{ByTerm: make(map[string][]dto.SectionView)}
	for _, e := range entries {
		termKey := strconv.Itoa(e.PackagedTerm)
		groups.ByTerm[termKey] = append(groups.ByTerm[termKey], toSectionView(e, meetings[e.ID], lecturers[e.ID]))
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, groups, s.catalogTTL); err != nil {
			s.logger.Warn("failed to cache offered sections", zap.String("key", key), zap.Error(err))
		}
	}
	return groups, nil
}

// GetSectionStatus reports live counters for the given sections. Ids that do
// not resolve to a section of the active period are absent from the result.
func (s *RegistrationQueryService) GetSectionStatus(ctx context.Context, sectionIDs []string, nim string) (map[string]dto.SectionStatus, error) {
	student, err := s.loadStudent(ctx, nim)
	if err != nil {
		return nil, err
	}
	period, err := s.periods.Current(ctx)
	if err != nil {
		return nil, err
	}

	ids := uniqueIDs(sectionIDs)
	sections, err := s.sections.ListByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sections")
	}
	joined, err := s.registrations.JoinedSections(ctx, student.ID, period.ID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registrations")
	}

	result := make(map[string]dto.SectionStatus, len(sections))
	for _, section := range sections {
		if section.PeriodID != period.ID {
			continue
		}
		result[section.ID] = dto.SectionStatus{
			IsFull:   section.IsFull(),
			IsJoined: joined[section.ID],
			Quota:    section.Quota,
			Filled:   section.Filled,
		}
	}
	return result, nil
}

func (s *RegistrationQueryService) loadStudent(ctx context.Context, nim string) (*models.Student, error) {
	student, err := s.students.FindByNIM(ctx, nil, nim)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *RegistrationQueryService) details(ctx context.Context, ids []string) (map[string][]models.Meeting, map[string][]models.Lecturer, error) {
	meetings, err := s.sections.ListMeetings(ctx, nil, ids)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meetings")
	}
	lecturers, err := s.sections.ListLecturers(ctx, ids)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecturers")
	}
	return meetings, lecturers, nil
}

func offeredCacheKey(periodID, curriculumID string, term *int) string {
	termPart := "all"
	if term != nil {
		termPart = strconv.Itoa(*term)
	}
	return fmt.Sprintf("krs:offered:%s:%s:%s", periodID, curriculumID, termPart)
}

func toSectionView(entry models.CatalogEntry, meetings []models.Meeting, lecturers []models.Lecturer) dto.SectionView {
	kind := string(entry.Kind)
	if kind == "" {
		kind = generalCourseKind
	}
	view := dto.SectionView{
		SectionID:      entry.ID,
		CourseCode:     entry.CourseCode,
		CurriculumCode: entry.CurriculumCode,
		CourseName:     entry.CourseName,
		CourseKind:     kind,
		Credits:        entry.Credits,
		PackagedTerm:   entry.PackagedTerm,
		SectionName:    entry.Name,
		Lecturers:      make([]dto.LecturerView, 0, len(lecturers)),
		Meetings:       make([]dto.MeetingView, 0, len(meetings)),
	}
	for _, l := range lecturers {
		view.Lecturers = append(view.Lecturers, dto.LecturerView{NIP: l.NIP, FullName: l.FullName})
	}
	for _, m := range meetings {
		view.Meetings = append(view.Meetings, dto.MeetingView{
			Day:   string(m.Day),
			Start: timeofday.FromMinutes(m.StartMinute),
			End:   timeofday.FromMinutes(m.EndMinute),
			Room:  m.Room,
		})
	}
	return view
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
