package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	"github.com/noah-isme/krs-api/pkg/database"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/lock"
)

const (
	operationAdd  = "add"
	operationDrop = "drop"

	sectionLockPrefix = "krs:lock:section:"
)

var tracer = otel.Tracer("github.com/noah-isme/krs-api/internal/service")

// SectionLockKey is the lease key guarding add/drop on one section.
func SectionLockKey(sectionID string) string {
	return sectionLockPrefix + sectionID
}

type enrollmentSectionStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.OfferedSection, error)
	ListMeetings(ctx context.Context, exec sqlx.ExtContext, sectionIDs []string) (map[string][]models.Meeting, error)
	IncrementFilled(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	DecrementFilled(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type enrollmentRegistrationStore interface {
	FindByStudentPeriod(ctx context.Context, exec sqlx.ExtContext, studentID, periodID string) (*models.Registration, error)
	AddCredits(ctx context.Context, exec sqlx.ExtContext, studentID, periodID string, credits int) (*models.Registration, error)
	SubtractCredits(ctx context.Context, exec sqlx.ExtContext, registrationID string, credits int) (int, error)
	InsertLine(ctx context.Context, exec sqlx.ExtContext, registrationID, sectionID string) (*models.RegistrationLine, error)
	FindLine(ctx context.Context, exec sqlx.ExtContext, registrationID, sectionID string) (*models.RegistrationLine, error)
	HasLine(ctx context.Context, exec sqlx.ExtContext, studentID, periodID, sectionID string) (bool, error)
	DeleteLine(ctx context.Context, exec sqlx.ExtContext, lineID string) (bool, error)
	ListSectionIDs(ctx context.Context, exec sqlx.ExtContext, studentID, periodID string) ([]string, error)
}

type txRunner interface {
	RunInTx(ctx context.Context, fn database.TxFunc) error
}

type sectionLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error, opts ...lock.Option) error
}

// EnrollmentConfig controls the optional section lease taken before the
// transaction starts. With LockAutoExtend the lease is renewed for as long as
// the transaction and its retries run.
type EnrollmentConfig struct {
	LockEnabled    bool
	LockTTL        time.Duration
	LockAutoExtend bool
	LockOptions    []lock.Option
}

// EnrollmentService adds and drops sections on a student's KRS. Every check
// and every write of one operation runs in a single serializable transaction.
type EnrollmentService struct {
	students      studentReader
	sections      enrollmentSectionStore
	registrations enrollmentRegistrationStore
	periods       periodResolver
	tx            txRunner
	locker        sectionLocker
	metrics       *MetricsService
	cfg           EnrollmentConfig
	logger        *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. locker and metrics may be nil.
func NewEnrollmentService(
	students studentReader,
	sections enrollmentSectionStore,
	registrations enrollmentRegistrationStore,
	periods periodResolver,
	tx txRunner,
	locker sectionLocker,
	metrics *MetricsService,
	cfg EnrollmentConfig,
	logger *zap.Logger,
) *EnrollmentService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.LockAutoExtend {
		cfg.LockOptions = append([]lock.Option{lock.WithAutoExtend()}, cfg.LockOptions...)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		students:      students,
		sections:      sections,
		registrations: registrations,
		periods:       periods,
		tx:            tx,
		locker:        locker,
		metrics:       metrics,
		cfg:           cfg,
		logger:        logger,
	}
}

// AddRegistration puts sectionID on the student's KRS for the active period.
func (s *EnrollmentService) AddRegistration(ctx context.Context, nim, sectionID string) (result *dto.EnrollmentResult, err error) {
	ctx, span := s.start(ctx, operationAdd, nim, sectionID)
	started := time.Now()
	defer func() { s.finish(span, operationAdd, started, err) }()

	period, err := s.periods.Current(ctx)
	if err != nil {
		return nil, err
	}

	err = s.guard(ctx, sectionID, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
			res, err := s.add(ctx, tx, period, nim, sectionID)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("krs section added",
		zap.String("nim", nim),
		zap.String("section_id", sectionID),
		zap.String("period_id", period.ID),
		zap.Int("total_credits", result.TotalCredits),
	)
	return result, nil
}

func (s *EnrollmentService) add(ctx context.Context, tx sqlx.ExtContext, period *models.AcademicPeriod, nim, sectionID string) (*dto.EnrollmentResult, error) {
	student, err := s.students.FindByNIM(ctx, tx, nim)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	section, err := s.sections.FindByID(ctx, tx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSectionNotFound
		}
		return nil, fmt.Errorf("load section: %w", err)
	}
	if section.PeriodID != period.ID {
		return nil, appErrors.ErrSectionNotFound
	}

	if err := checkEligible(period, student); err != nil {
		return nil, err
	}

	held, err := s.registrations.HasLine(ctx, tx, student.ID, period.ID, sectionID)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, appErrors.ErrAlreadyRegistered
	}

	if section.IsFull() {
		return nil, appErrors.WithDetails(appErrors.ErrSectionFull, "", map[string]interface{}{
			"quota":  section.Quota,
			"filled": section.Filled,
		})
	}

	current := 0
	reg, err := s.registrations.FindByStudentPeriod(ctx, tx, student.ID, period.ID)
	switch {
	case err == nil:
		current = reg.TotalCredits
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("load registration: %w", err)
	}
	if current+section.Credits > student.CreditAllowance {
		return nil, appErrors.WithDetails(appErrors.ErrCreditLimitExceeded,
			fmt.Sprintf("credit limit exceeded: %d taken + %d > %d allowed", current, section.Credits, student.CreditAllowance),
			map[string]interface{}{
				"current":   current,
				"adding":    section.Credits,
				"allowance": student.CreditAllowance,
			})
	}

	if err := s.checkSchedule(ctx, tx, student.ID, period.ID, section); err != nil {
		return nil, err
	}

	reg, err = s.registrations.AddCredits(ctx, tx, student.ID, period.ID, section.Credits)
	if err != nil {
		return nil, err
	}
	if _, err := s.registrations.InsertLine(ctx, tx, reg.ID, sectionID); err != nil {
		return nil, err
	}
	taken, err := s.sections.IncrementFilled(ctx, tx, sectionID)
	if err != nil {
		return nil, err
	}
	if !taken {
		return nil, appErrors.ErrSectionFull
	}

	return &dto.EnrollmentResult{
		RegistrationID: reg.ID,
		SectionID:      sectionID,
		TotalCredits:   reg.TotalCredits,
		Filled:         section.Filled + 1,
		Quota:          section.Quota,
	}, nil
}

// checkSchedule fails when any meeting of target overlaps a meeting of a
// section the student already holds in the period.
func (s *EnrollmentService) checkSchedule(ctx context.Context, tx sqlx.ExtContext, studentID, periodID string, target *models.OfferedSection) error {
	heldIDs, err := s.registrations.ListSectionIDs(ctx, tx, studentID, periodID)
	if err != nil {
		return err
	}
	if len(heldIDs) == 0 {
		return nil
	}

	meetings, err := s.sections.ListMeetings(ctx, tx, append(heldIDs, target.ID))
	if err != nil {
		return err
	}
	candidate := models.OfferedSection{ID: target.ID, Meetings: meetings[target.ID]}
	for _, id := range heldIDs {
		held := models.OfferedSection{ID: id, Meetings: meetings[id]}
		if !candidate.ConflictsWith(held) {
			continue
		}
		name := id
		if other, err := s.sections.FindByID(ctx, tx, id); err == nil {
			name = fmt.Sprintf("%s %s", other.CourseName, other.Name)
		}
		return appErrors.WithDetails(appErrors.ErrScheduleConflict,
			fmt.Sprintf("schedule conflicts with %s", name),
			map[string]interface{}{"section_id": id, "section_name": name})
	}
	return nil
}

// DropRegistration removes sectionID from the student's KRS for the active period.
func (s *EnrollmentService) DropRegistration(ctx context.Context, nim, sectionID string) (result *dto.EnrollmentResult, err error) {
	ctx, span := s.start(ctx, operationDrop, nim, sectionID)
	started := time.Now()
	defer func() { s.finish(span, operationDrop, started, err) }()

	period, err := s.periods.Current(ctx)
	if err != nil && !errors.Is(err, appErrors.ErrNoActivePeriod) {
		return nil, err
	}

	err = s.guard(ctx, sectionID, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
			res, err := s.drop(ctx, tx, period, nim, sectionID)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("krs section dropped",
		zap.String("nim", nim),
		zap.String("section_id", sectionID),
		zap.String("period_id", period.ID),
		zap.Int("total_credits", result.TotalCredits),
	)
	return result, nil
}

func (s *EnrollmentService) drop(ctx context.Context, tx sqlx.ExtContext, period *models.AcademicPeriod, nim, sectionID string) (*dto.EnrollmentResult, error) {
	student, err := s.students.FindByNIM(ctx, tx, nim)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "student not found")
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	if period == nil {
		return nil, appErrors.ErrRegistrationNotFound
	}
	reg, err := s.registrations.FindByStudentPeriod(ctx, tx, student.ID, period.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("load registration: %w", err)
	}

	if err := checkEligible(period, student); err != nil {
		return nil, err
	}

	line, err := s.registrations.FindLine(ctx, tx, reg.ID, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrLineNotFound
		}
		return nil, fmt.Errorf("load registration line: %w", err)
	}

	section, err := s.sections.FindByID(ctx, tx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("load section: %w", err)
	}

	removed, err := s.registrations.DeleteLine(ctx, tx, line.ID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, appErrors.ErrLineNotFound
	}
	if err := s.sections.DecrementFilled(ctx, tx, sectionID); err != nil {
		return nil, err
	}
	total, err := s.registrations.SubtractCredits(ctx, tx, reg.ID, section.Credits)
	if err != nil {
		return nil, err
	}

	filled := section.Filled - 1
	if filled < 0 {
		filled = 0
	}
	return &dto.EnrollmentResult{
		RegistrationID: reg.ID,
		SectionID:      sectionID,
		TotalCredits:   total,
		Filled:         filled,
		Quota:          section.Quota,
	}, nil
}

func checkEligible(period *models.AcademicPeriod, student *models.Student) error {
	report := EvaluateStudent(period, student)
	if report.AllEligible {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrNotEligible, "", map[string]interface{}{
		"unmet": report.Unmet(),
	})
}

// guard runs fn under the section lease when leasing is enabled.
func (s *EnrollmentService) guard(ctx context.Context, sectionID string, fn func(ctx context.Context) error) error {
	if !s.cfg.LockEnabled || s.locker == nil {
		return fn(ctx)
	}

	acquired := false
	err := s.locker.WithLock(ctx, SectionLockKey(sectionID), s.cfg.LockTTL, func(ctx context.Context) error {
		acquired = true
		return fn(ctx)
	}, s.cfg.LockOptions...)
	s.metrics.RecordLockOutcome(acquired)

	if err != nil && !acquired {
		if errors.Is(err, lock.ErrNotAcquired) {
			return appErrors.ErrLockUnavailable
		}
		return appErrors.Wrap(err, appErrors.ErrLockUnavailable.Code, appErrors.ErrLockUnavailable.Status, appErrors.ErrLockUnavailable.Message)
	}
	return err
}

// translate maps storage failures that raced past the application checks
// onto domain errors. Domain errors pass through unchanged.
func translate(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if constraint, ok := database.IsUniqueViolation(err); ok {
		if constraint == repository.ConstraintLineUnique {
			return appErrors.ErrAlreadyRegistered
		}
		return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
	}
	if constraint, ok := database.IsCheckViolation(err); ok && constraint == repository.ConstraintSectionFilled {
		return appErrors.ErrSectionFull
	}
	if database.IsSerializationFailure(err) || database.IsTimeout(err) {
		return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update KRS")
}

func (s *EnrollmentService) start(ctx context.Context, operation, nim, sectionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "krs."+operation, trace.WithAttributes(
		attribute.String("krs.nim", nim),
		attribute.String("krs.section_id", sectionID),
		attribute.Bool("krs.lock_enabled", s.cfg.LockEnabled),
	))
}

func (s *EnrollmentService) finish(span trace.Span, operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = appErrors.FromError(err).Code
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if outcome == appErrors.ErrInternal.Code {
			s.logger.Error("krs operation failed", zap.String("operation", operation), zap.Error(err))
		}
	}
	span.SetAttributes(attribute.String("krs.outcome", outcome))
	s.metrics.ObserveEnrollment(operation, outcome, time.Since(started))
	span.End()
}
