package dto

import "time"

// Requirement is one eligibility check shown to the student.
type Requirement struct {
	Name        string `json:"name"`
	ActualValue string `json:"actualValue"`
	Satisfied   bool   `json:"satisfied"`
}

// EligibilityReport lists every requirement and whether KRS may be filled.
type EligibilityReport struct {
	Title        string        `json:"title"`
	Requirements []Requirement `json:"requirements"`
	AllEligible  bool          `json:"allEligible"`
}

// Unmet returns the names of the requirements that failed.
func (r EligibilityReport) Unmet() []string {
	var names []string
	for _, req := range r.Requirements {
		if !req.Satisfied {
			names = append(names, req.Name)
		}
	}
	return names
}

// SectionRequest identifies the section to take or remove.
type SectionRequest struct {
	SectionID string `json:"section_id" validate:"required,uuid"`
}

// SectionStatusRequest asks for live counters of several sections.
type SectionStatusRequest struct {
	SectionIDs []string `json:"section_ids" validate:"required,min=1,max=100,dive,uuid"`
}

// EnrollmentResult is returned after a successful add or drop.
type EnrollmentResult struct {
	RegistrationID string `json:"registrationId"`
	SectionID      string `json:"sectionId"`
	TotalCredits   int    `json:"totalCredits"`
	Filled         int    `json:"filled"`
	Quota          int    `json:"quota"`
}

// LecturerView is a lecturer teaching a section.
type LecturerView struct {
	NIP      string `json:"nip"`
	FullName string `json:"fullName"`
}

// MeetingView is a weekly meeting rendered with HH:MM times.
type MeetingView struct {
	Day   string `json:"day"`
	Start string `json:"start"`
	End   string `json:"end"`
	Room  string `json:"room"`
}

// SectionView is an offered or registered section as shown to students.
type SectionView struct {
	SectionID      string         `json:"sectionId"`
	CourseCode     string         `json:"courseCode"`
	CurriculumCode string         `json:"curriculumCode"`
	CourseName     string         `json:"courseName"`
	CourseKind     string         `json:"courseKind"`
	Credits        int            `json:"credits"`
	PackagedTerm   int            `json:"packagedTerm"`
	SectionName    string         `json:"sectionName"`
	Lecturers      []LecturerView `json:"lecturers"`
	Meetings       []MeetingView  `json:"meetings"`
}

// OfferedSectionGroups groups offered sections by packaged term ("1", "2", ...).
type OfferedSectionGroups struct {
	ByTerm map[string][]SectionView `json:"byTerm"`
}

// SectionStatus is the live capacity of a section for the asking student.
type SectionStatus struct {
	IsFull   bool `json:"isFull"`
	IsJoined bool `json:"isJoined"`
	Quota    int  `json:"quota"`
	Filled   int  `json:"filled"`
}

// StudentSummary is the academic overview on the student's home page.
type StudentSummary struct {
	NIM               string  `json:"nim"`
	FullName          string  `json:"fullName"`
	GPA               float64 `json:"gpa"`
	PreviousGPA       float64 `json:"previousGpa"`
	CreditAllowance   int     `json:"creditAllowance"`
	CurrentTerm       string  `json:"currentTerm"`
	CreditsTaken      int     `json:"creditsTaken"`
	CreditsRemaining  int     `json:"creditsRemaining"`
	CumulativeCredits int     `json:"cumulativeCredits"`
	AcademicYear      string  `json:"academicYear"`
}

// RegisteredSection is a section on the student's KRS.
type RegisteredSection struct {
	SectionView
	RegisteredAt time.Time `json:"registeredAt"`
}
