package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// Terms in which a student may fill a KRS, inclusive.
const (
	MinEnrollmentTerm = 3
	MaxEnrollmentTerm = 14
)

const eligibilityTitle = "KRS filling requirements"

type studentReader interface {
	FindByNIM(ctx context.Context, exec sqlx.ExtContext, nim string) (*models.Student, error)
}

type periodResolver interface {
	Current(ctx context.Context) (*models.AcademicPeriod, error)
}

// EligibilityService decides whether a student may change their KRS.
type EligibilityService struct {
	students studentReader
	periods  periodResolver
	logger   *zap.Logger
}

// NewEligibilityService constructs an EligibilityService.
func NewEligibilityService(students studentReader, periods periodResolver, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{students: students, periods: periods, logger: logger}
}

// Evaluate loads the student and the active period and reports every
// requirement. A missing period is reported before a missing student.
func (s *EligibilityService) Evaluate(ctx context.Context, nim string) (*dto.EligibilityReport, error) {
	var (
		student               *models.Student
		period                *models.AcademicPeriod
		studentErr, periodErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		period, periodErr = s.periods.Current(ctx)
		return nil
	})
	g.Go(func() error {
		student, studentErr = s.students.FindByNIM(ctx, nil, nim)
		return nil
	})
	_ = g.Wait()

	if periodErr != nil {
		return nil, periodErr
	}
	if studentErr != nil {
		if errors.Is(studentErr, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(studentErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	report := EvaluateStudent(period, student)
	return &report, nil
}

// EvaluateStudent checks payment, term and status. Every requirement is
// reported, not only the first failing one.
func EvaluateStudent(period *models.AcademicPeriod, student *models.Student) dto.EligibilityReport {
	paid := student.PaymentStatus == models.PaymentStatusPaid
	paymentValue := "Unpaid"
	if paid {
		paymentValue = "Paid"
	}

	requirements := []dto.Requirement{
		{
			Name:        fmt.Sprintf("Tuition payment for %s term %s = Paid", period.TermKind.Label(), period.AcademicYear),
			ActualValue: paymentValue,
			Satisfied:   paid,
		},
		{
			Name:        fmt.Sprintf("Student term = %d..%d", MinEnrollmentTerm, MaxEnrollmentTerm),
			ActualValue: strconv.Itoa(student.CurrentTerm),
			Satisfied:   student.CurrentTerm >= MinEnrollmentTerm && student.CurrentTerm <= MaxEnrollmentTerm,
		},
		{
			Name:        "Student status = Active",
			ActualValue: student.Status.Label(),
			Satisfied:   student.Status == models.StudentStatusActive,
		},
	}

	all := true
	for _, r := range requirements {
		all = all && r.Satisfied
	}
	return dto.EligibilityReport{Title: eligibilityTitle, Requirements: requirements, AllEligible: all}
}
