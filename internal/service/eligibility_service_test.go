package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

func TestEvaluateStudentReportsEveryRequirement(t *testing.T) {
	period := testPeriod()
	period.TermKind = models.TermKindEven
	st := eligibleStudent("stu-1", eligibleNIM)
	st.Status = models.StudentStatusDispensation
	st.PaymentStatus = models.PaymentStatusUnpaid
	st.CurrentTerm = 15

	report := EvaluateStudent(period, &st)
	require.Len(t, report.Requirements, 3)
	assert.False(t, report.AllEligible)
	assert.Equal(t, "KRS filling requirements", report.Title)

	assert.Equal(t, "Tuition payment for Even term 2025/2026 = Paid", report.Requirements[0].Name)
	assert.Equal(t, "Unpaid", report.Requirements[0].ActualValue)
	assert.False(t, report.Requirements[0].Satisfied)

	assert.Equal(t, "Student term = 3..14", report.Requirements[1].Name)
	assert.Equal(t, "15", report.Requirements[1].ActualValue)
	assert.False(t, report.Requirements[1].Satisfied)

	assert.Equal(t, "Student status = Active", report.Requirements[2].Name)
	assert.Equal(t, "Dispensation", report.Requirements[2].ActualValue)
	assert.False(t, report.Requirements[2].Satisfied)
}

func TestEvaluateStudentTermBounds(t *testing.T) {
	cases := map[int]bool{1: false, 2: false, 3: true, 8: true, 14: true, 15: false}
	for term, want := range cases {
		st := eligibleStudent("stu-1", eligibleNIM)
		st.CurrentTerm = term
		report := EvaluateStudent(testPeriod(), &st)
		assert.Equal(t, want, report.Requirements[1].Satisfied, "term %d", term)
		assert.Equal(t, want, report.AllEligible, "term %d", term)
	}
}

func TestEligibilityServiceEvaluate(t *testing.T) {
	store := newMemStore()
	store.addStudent(eligibleStudent("stu-1", eligibleNIM))
	periods := &fakePeriods{period: testPeriod()}
	svc := NewEligibilityService(store, periods, nil)

	report, err := svc.Evaluate(context.Background(), eligibleNIM)
	require.NoError(t, err)
	assert.True(t, report.AllEligible)
	assert.Empty(t, report.Unmet())
	assert.Equal(t, "Paid", report.Requirements[0].ActualValue)
	assert.Equal(t, "Active", report.Requirements[2].ActualValue)

	_, err = svc.Evaluate(context.Background(), "unknown")
	assert.ErrorIs(t, err, appErrors.ErrStudentNotFound)

	periods.err = appErrors.ErrNoActivePeriod
	_, err = svc.Evaluate(context.Background(), eligibleNIM)
	assert.ErrorIs(t, err, appErrors.ErrNoActivePeriod)
}

func TestEligibilityServiceMissingPeriodWinsOverMissingStudent(t *testing.T) {
	svc := NewEligibilityService(newMemStore(), &fakePeriods{err: appErrors.ErrNoActivePeriod}, nil)

	for i := 0; i < 50; i++ {
		_, err := svc.Evaluate(context.Background(), "unknown")
		require.ErrorIs(t, err, appErrors.ErrNoActivePeriod)
	}
}
