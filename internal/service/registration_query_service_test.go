package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type queryFixture struct {
	store   *memStore
	periods *fakePeriods
	cache   *mapCache
	svc     *RegistrationQueryService
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	store := newMemStore()
	store.addStudent(eligibleStudent("stu-1", eligibleNIM))
	periods := &fakePeriods{period: testPeriod()}
	cache := newMapCache()
	eligibility := NewEligibilityService(store, periods, nil)
	svc := NewRegistrationQueryService(store, periods, eligibility, store, store, cache, 0, nil)
	return &queryFixture{store: store, periods: periods, cache: cache, svc: svc}
}

func catalogEntry(id string, term int, kind models.CourseKind, meetings []models.Meeting) models.CatalogEntry {
	return models.CatalogEntry{
		OfferedSection: section(id, 40, 3, meetings),
		CurriculumCode: testCurriculumID,
		Kind:           kind,
		PackagedTerm:   term,
	}
}

func TestGetOfferedSectionsGroupsByTerm(t *testing.T) {
	f := newQueryFixture(t)
	f.store.addCatalog(catalogEntry("sec-a", 3, models.CourseKindRequired, monday(480, 600)))
	f.store.addCatalog(catalogEntry("sec-b", 3, models.CourseKindElective, nil))
	f.store.addCatalog(catalogEntry("sec-c", 5, models.CourseKindRequired, nil))
	other := catalogEntry("sec-other", 3, models.CourseKindRequired, nil)
	other.CurriculumCode = "cur-2016"
	f.store.addCatalog(other)
	f.store.lecturers["sec-a"] = []models.Lecturer{{ID: "lec-1", SectionID: "sec-a", NIP: "1987", FullName: "Dr. Sari"}}

	groups, err := f.svc.GetOfferedSections(context.Background(), testCurriculumID, nil)
	require.NoError(t, err)
	require.Len(t, groups.ByTerm, 2)
	require.Len(t, groups.ByTerm["3"], 2)
	require.Len(t, groups.ByTerm["5"], 1)

	first := groups.ByTerm["3"][0]
	assert.Equal(t, "sec-a", first.SectionID)
	assert.Equal(t, "REQUIRED", first.CourseKind)
	require.Len(t, first.Meetings, 1)
	assert.Equal(t, "08:00", first.Meetings[0].Start)
	assert.Equal(t, "10:00", first.Meetings[0].End)
	assert.Equal(t, "MONDAY", first.Meetings[0].Day)
	require.Len(t, first.Lecturers, 1)
	assert.Equal(t, "Dr. Sari", first.Lecturers[0].FullName)

	_, cached := f.cache.values["krs:offered:"+testPeriodID+":"+testCurriculumID+":all"]
	assert.True(t, cached)
}

func TestGetOfferedSectionsTermFilter(t *testing.T) {
	f := newQueryFixture(t)
	f.store.addCatalog(catalogEntry("sec-a", 3, models.CourseKindRequired, nil))
	f.store.addCatalog(catalogEntry("sec-c", 5, models.CourseKindRequired, nil))
	term := 5

	groups, err := f.svc.GetOfferedSectionsForStudent(context.Background(), eligibleNIM, &term)
	require.NoError(t, err)
	require.Len(t, groups.ByTerm, 1)
	assert.Equal(t, "sec-c", groups.ByTerm["5"][0].SectionID)
}

func TestGetOfferedSectionsServesCache(t *testing.T) {
	f := newQueryFixture(t)
	f.store.addCatalog(catalogEntry("sec-a", 3, models.CourseKindRequired, nil))
	ctx := context.Background()

	_, err := f.svc.GetOfferedSections(ctx, testCurriculumID, nil)
	require.NoError(t, err)

	f.store.addCatalog(catalogEntry("sec-late", 3, models.CourseKindRequired, nil))
	groups, err := f.svc.GetOfferedSections(ctx, testCurriculumID, nil)
	require.NoError(t, err)
	assert.Len(t, groups.ByTerm["3"], 1)
}

func TestGetRegisteredSectionsInInsertionOrder(t *testing.T) {
	f := newQueryFixture(t)
	f.store.addCatalog(catalogEntry("sec-b", 3, models.CourseKindRequired, nil))
	f.store.addCatalog(catalogEntry("sec-a", 3, models.CourseKindRequired, monday(600, 700)))
	f.store.addSection(section("sec-free", 40, 2, nil))
	reg := f.store.seedRegistration("stu-1", testPeriodID, 8)
	f.store.seedLine(reg.ID, "sec-b")
	f.store.seedLine(reg.ID, "sec-a")
	f.store.seedLine(reg.ID, "sec-free")

	sections, err := f.svc.GetRegisteredSections(context.Background(), eligibleNIM)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, "sec-b", sections[0].SectionID)
	assert.Equal(t, "sec-a", sections[1].SectionID)
	assert.Equal(t, "10:00", sections[1].Meetings[0].Start)
	assert.Equal(t, "11:40", sections[1].Meetings[0].End)
	assert.Equal(t, "GENERAL", sections[2].CourseKind)
	assert.True(t, sections[0].RegisteredAt.Before(sections[1].RegisteredAt))
}

func TestGetRegisteredSectionsUnknownStudent(t *testing.T) {
	f := newQueryFixture(t)
	_, err := f.svc.GetRegisteredSections(context.Background(), "unknown")
	assert.ErrorIs(t, err, appErrors.ErrStudentNotFound)
}

func TestGetSectionStatus(t *testing.T) {
	f := newQueryFixture(t)
	joined := section("sec-joined", 2, 3, nil)
	f.store.addSection(joined)
	full := section("sec-full", 1, 3, nil)
	full.Filled = 1
	f.store.addSection(full)
	old := section("sec-old", 10, 3, nil)
	old.PeriodID = "period-2024-even"
	f.store.addSection(old)
	reg := f.store.seedRegistration("stu-1", testPeriodID, 3)
	f.store.seedLine(reg.ID, "sec-joined")

	status, err := f.svc.GetSectionStatus(context.Background(), []string{"sec-joined", "sec-full", "sec-old", "missing", "sec-joined"}, eligibleNIM)
	require.NoError(t, err)
	require.Len(t, status, 2)

	assert.True(t, status["sec-joined"].IsJoined)
	assert.False(t, status["sec-joined"].IsFull)
	assert.Equal(t, 1, status["sec-joined"].Filled)
	assert.Equal(t, 2, status["sec-joined"].Quota)

	assert.True(t, status["sec-full"].IsFull)
	assert.False(t, status["sec-full"].IsJoined)

	_, present := status["missing"]
	assert.False(t, present)
}

func TestGetRequirementsPassesThrough(t *testing.T) {
	f := newQueryFixture(t)
	report, err := f.svc.GetRequirements(context.Background(), eligibleNIM)
	require.NoError(t, err)
	assert.True(t, report.AllEligible)
	assert.Len(t, report.Requirements, 3)
}
