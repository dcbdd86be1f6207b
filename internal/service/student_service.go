package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type creditReader interface {
	TotalCredits(ctx context.Context, studentID, periodID string) (int, error)
}

// StudentService builds the academic overview of a student.
type StudentService struct {
	students studentReader
	periods  periodResolver
	credits  creditReader
	logger   *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(students studentReader, periods periodResolver, credits creditReader, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{students: students, periods: periods, credits: credits, logger: logger}
}

// Summary returns GPA, credit allowance and credits taken in the active period.
func (s *StudentService) Summary(ctx context.Context, nim string) (*dto.StudentSummary, error) {
	var (
		student               *models.Student
		period                *models.AcademicPeriod
		studentErr, periodErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		student, studentErr = s.students.FindByNIM(ctx, nil, nim)
		return nil
	})
	g.Go(func() error {
		period, periodErr = s.periods.Current(ctx)
		return nil
	})
	_ = g.Wait()

	if studentErr != nil {
		if errors.Is(studentErr, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(studentErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if periodErr != nil {
		return nil, periodErr
	}

	taken, err := s.credits.TotalCredits(ctx, student.ID, period.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credits")
	}

	return &dto.StudentSummary{
		NIM:               student.NIM,
		FullName:          student.FullName,
		GPA:               student.GPA,
		PreviousGPA:       student.PreviousGPA,
		CreditAllowance:   student.CreditAllowance,
		CurrentTerm:       strconv.Itoa(student.CurrentTerm),
		CreditsTaken:      taken,
		CreditsRemaining:  student.CreditAllowance - taken,
		CumulativeCredits: student.CumulativeCredits,
		AcademicYear:      period.AcademicYear,
	}, nil
}
