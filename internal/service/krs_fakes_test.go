package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/database"
	"github.com/noah-isme/krs-api/pkg/lock"
)

// memStore is an in-memory stand-in for the KRS tables. RunInTx serialises
// units of work with a mutex and restores a snapshot when fn fails, so it
// behaves like a serializable store with no retries.
type memStore struct {
	mu            sync.Mutex
	students      map[string]models.Student
	sections      map[string]models.OfferedSection
	catalog       map[string]models.CatalogEntry
	lecturers     map[string][]models.Lecturer
	registrations map[string]models.Registration
	lines         []models.RegistrationLine
	seq           int
	clock         time.Time

	incrementErr error
	txCalls      int
}

func newMemStore() *memStore {
	return &memStore{
		students:      map[string]models.Student{},
		sections:      map[string]models.OfferedSection{},
		catalog:       map[string]models.CatalogEntry{},
		lecturers:     map[string][]models.Lecturer{},
		registrations: map[string]models.Registration{},
		clock:         time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC),
	}
}

type memSnapshot struct {
	sections      map[string]models.OfferedSection
	registrations map[string]models.Registration
	lines         []models.RegistrationLine
}

func (m *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		sections:      make(map[string]models.OfferedSection, len(m.sections)),
		registrations: make(map[string]models.Registration, len(m.registrations)),
		lines:         append([]models.RegistrationLine(nil), m.lines...),
	}
	for k, v := range m.sections {
		snap.sections[k] = v
	}
	for k, v := range m.registrations {
		snap.registrations[k] = v
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.sections = snap.sections
	m.registrations = snap.registrations
	m.lines = snap.lines
}

func (m *memStore) RunInTx(ctx context.Context, fn database.TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	snap := m.snapshot()
	if err := fn(ctx, nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// seeding helpers, called before any goroutine starts

func (m *memStore) addStudent(s models.Student) {
	m.students[s.NIM] = s
}

func (m *memStore) addSection(s models.OfferedSection) {
	m.sections[s.ID] = s
}

func (m *memStore) addCatalog(e models.CatalogEntry) {
	m.sections[e.ID] = e.OfferedSection
	m.catalog[e.ID] = e
}

func (m *memStore) seedRegistration(studentID, periodID string, credits int) models.Registration {
	reg := models.Registration{ID: m.nextID("reg"), StudentID: studentID, PeriodID: periodID, TotalCredits: credits}
	m.registrations[reg.ID] = reg
	return reg
}

func (m *memStore) seedLine(registrationID, sectionID string) {
	m.lines = append(m.lines, models.RegistrationLine{ID: m.nextID("line"), RegistrationID: registrationID, SectionID: sectionID, CreatedAt: m.tick()})
	sec := m.sections[sectionID]
	sec.Filled++
	m.sections[sectionID] = sec
}

// inspection helpers, safe while goroutines run

func (m *memStore) section(id string) models.OfferedSection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sections[id]
}

func (m *memStore) lineCount(sectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.lines {
		if l.SectionID == sectionID {
			n++
		}
	}
	return n
}

func (m *memStore) registrationFor(studentID, periodID string) (models.Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.registrations {
		if r.StudentID == studentID && r.PeriodID == periodID {
			return r, true
		}
	}
	return models.Registration{}, false
}

// student repository

func (m *memStore) FindByNIM(_ context.Context, _ sqlx.ExtContext, nim string) (*models.Student, error) {
	s, ok := m.students[nim]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

// section repository

func (m *memStore) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.OfferedSection, error) {
	s, ok := m.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.Meetings = nil
	s.Lecturers = nil
	return &s, nil
}

func (m *memStore) ListByIDs(_ context.Context, ids []string) ([]models.OfferedSection, error) {
	var out []models.OfferedSection
	for _, id := range ids {
		if s, ok := m.sections[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) ListMeetings(_ context.Context, _ sqlx.ExtContext, ids []string) (map[string][]models.Meeting, error) {
	out := make(map[string][]models.Meeting, len(ids))
	for _, id := range ids {
		if s, ok := m.sections[id]; ok && len(s.Meetings) > 0 {
			out[id] = append([]models.Meeting(nil), s.Meetings...)
		}
	}
	return out, nil
}

func (m *memStore) ListLecturers(_ context.Context, ids []string) (map[string][]models.Lecturer, error) {
	out := make(map[string][]models.Lecturer, len(ids))
	for _, id := range ids {
		if l, ok := m.lecturers[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (m *memStore) ListCatalog(_ context.Context, periodID, curriculumID string, term *int) ([]models.CatalogEntry, error) {
	var out []models.CatalogEntry
	for _, e := range m.catalog {
		if e.PeriodID != periodID || e.CurriculumCode != curriculumID {
			continue
		}
		if term != nil && e.PackagedTerm != *term {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PackagedTerm != out[j].PackagedTerm {
			return out[i].PackagedTerm < out[j].PackagedTerm
		}
		return out[i].CourseCode < out[j].CourseCode
	})
	return out, nil
}

func (m *memStore) IncrementFilled(_ context.Context, _ sqlx.ExtContext, id string) (bool, error) {
	if m.incrementErr != nil {
		return false, m.incrementErr
	}
	s := m.sections[id]
	if s.Filled >= s.Quota {
		return false, nil
	}
	s.Filled++
	m.sections[id] = s
	return true, nil
}

func (m *memStore) DecrementFilled(_ context.Context, _ sqlx.ExtContext, id string) error {
	s := m.sections[id]
	if s.Filled > 0 {
		s.Filled--
	}
	m.sections[id] = s
	return nil
}

// registration repository

func (m *memStore) findRegistration(studentID, periodID string) (models.Registration, bool) {
	for _, r := range m.registrations {
		if r.StudentID == studentID && r.PeriodID == periodID {
			return r, true
		}
	}
	return models.Registration{}, false
}

func (m *memStore) FindByStudentPeriod(_ context.Context, _ sqlx.ExtContext, studentID, periodID string) (*models.Registration, error) {
	r, ok := m.findRegistration(studentID, periodID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (m *memStore) AddCredits(_ context.Context, _ sqlx.ExtContext, studentID, periodID string, credits int) (*models.Registration, error) {
	r, ok := m.findRegistration(studentID, periodID)
	if !ok {
		r = models.Registration{ID: m.nextID("reg"), StudentID: studentID, PeriodID: periodID}
	}
	r.TotalCredits += credits
	m.registrations[r.ID] = r
	return &r, nil
}

func (m *memStore) SubtractCredits(_ context.Context, _ sqlx.ExtContext, registrationID string, credits int) (int, error) {
	r, ok := m.registrations[registrationID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	r.TotalCredits -= credits
	if r.TotalCredits < 0 {
		r.TotalCredits = 0
	}
	m.registrations[registrationID] = r
	return r.TotalCredits, nil
}

func (m *memStore) InsertLine(_ context.Context, _ sqlx.ExtContext, registrationID, sectionID string) (*models.RegistrationLine, error) {
	for _, l := range m.lines {
		if l.RegistrationID == registrationID && l.SectionID == sectionID {
			return nil, fmt.Errorf("duplicate line %s/%s", registrationID, sectionID)
		}
	}
	line := models.RegistrationLine{ID: m.nextID("line"), RegistrationID: registrationID, SectionID: sectionID, CreatedAt: m.tick()}
	m.lines = append(m.lines, line)
	return &line, nil
}

func (m *memStore) FindLine(_ context.Context, _ sqlx.ExtContext, registrationID, sectionID string) (*models.RegistrationLine, error) {
	for _, l := range m.lines {
		if l.RegistrationID == registrationID && l.SectionID == sectionID {
			line := l
			return &line, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) HasLine(ctx context.Context, exec sqlx.ExtContext, studentID, periodID, sectionID string) (bool, error) {
	r, ok := m.findRegistration(studentID, periodID)
	if !ok {
		return false, nil
	}
	_, err := m.FindLine(ctx, exec, r.ID, sectionID)
	return err == nil, nil
}

func (m *memStore) DeleteLine(_ context.Context, _ sqlx.ExtContext, lineID string) (bool, error) {
	for i, l := range m.lines {
		if l.ID == lineID {
			m.lines = append(m.lines[:i:i], m.lines[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListSectionIDs(_ context.Context, _ sqlx.ExtContext, studentID, periodID string) ([]string, error) {
	r, ok := m.findRegistration(studentID, periodID)
	if !ok {
		return nil, nil
	}
	var ids []string
	for _, l := range m.lines {
		if l.RegistrationID == r.ID {
			ids = append(ids, l.SectionID)
		}
	}
	return ids, nil
}

func (m *memStore) ListRegistered(_ context.Context, studentID, periodID, curriculumID string) ([]models.RegisteredSection, error) {
	r, ok := m.findRegistration(studentID, periodID)
	if !ok {
		return nil, nil
	}
	var out []models.RegisteredSection
	for _, l := range m.lines {
		if l.RegistrationID != r.ID {
			continue
		}
		entry := models.CatalogEntry{OfferedSection: m.sections[l.SectionID]}
		if e, ok := m.catalog[l.SectionID]; ok && e.CurriculumCode == curriculumID {
			entry = e
		}
		out = append(out, models.RegisteredSection{CatalogEntry: entry, RegisteredAt: l.CreatedAt})
	}
	return out, nil
}

func (m *memStore) JoinedSections(ctx context.Context, studentID, periodID string, ids []string) (map[string]bool, error) {
	joined := map[string]bool{}
	for _, id := range ids {
		if ok, _ := m.HasLine(ctx, nil, studentID, periodID, id); ok {
			joined[id] = true
		}
	}
	return joined, nil
}

func (m *memStore) TotalCredits(_ context.Context, studentID, periodID string) (int, error) {
	r, ok := m.findRegistration(studentID, periodID)
	if !ok {
		return 0, nil
	}
	return r.TotalCredits, nil
}

// fakePeriods resolves a fixed period.
type fakePeriods struct {
	period *models.AcademicPeriod
	err    error
	calls  int
}

func (f *fakePeriods) Current(context.Context) (*models.AcademicPeriod, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p := *f.period
	return &p, nil
}

// fakeLocker records lease keys and either runs fn or fails.
type fakeLocker struct {
	mu      sync.Mutex
	keys    []string
	options []int
	err     error
}

func (f *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error, opts ...lock.Option) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.options = append(f.options, len(opts))
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return fn(ctx)
}

const (
	testPeriodID     = "period-2025-odd"
	testCurriculumID = "cur-2020"
	eligibleNIM      = "2210511001"
	secondNIM        = "2210511002"
)

func testPeriod() *models.AcademicPeriod {
	return &models.AcademicPeriod{
		ID:                 testPeriodID,
		AcademicYear:       "2025/2026",
		TermKind:           models.TermKindOdd,
		IsActive:           true,
		EnrollmentStartsOn: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		EnrollmentEndsOn:   time.Date(2025, 8, 14, 0, 0, 0, 0, time.UTC),
		DailyStartMinute:   8 * 60,
		DailyEndMinute:     16 * 60,
	}
}

func eligibleStudent(id, nim string) models.Student {
	return models.Student{
		ID:              id,
		NIM:             nim,
		FullName:        "Student " + nim,
		GPA:             3.5,
		PreviousGPA:     3.4,
		CurrentTerm:     5,
		CreditAllowance: 24,
		Status:          models.StudentStatusActive,
		PaymentStatus:   models.PaymentStatusPaid,
		CurriculumID:    testCurriculumID,
	}
}

func monday(start, end int) []models.Meeting {
	return []models.Meeting{{Day: models.Monday, StartMinute: start, EndMinute: end, Room: "R101"}}
}

func section(id string, quota, credits int, meetings []models.Meeting) models.OfferedSection {
	for i := range meetings {
		meetings[i].SectionID = id
	}
	return models.OfferedSection{
		ID:         id,
		CourseID:   "course-" + id,
		PeriodID:   testPeriodID,
		Name:       "A",
		Quota:      quota,
		Credits:    credits,
		CourseCode: "IF-" + id,
		CourseName: "Course " + id,
		Meetings:   meetings,
	}
}
