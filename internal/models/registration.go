package models

import "time"

// Registration is a student's KRS for one academic period.
type Registration struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	PeriodID     string    `db:"period_id" json:"period_id"`
	TotalCredits int       `db:"total_credits" json:"total_credits"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// RegistrationLine links a registration to one offered section.
type RegistrationLine struct {
	ID             string    `db:"id" json:"id"`
	RegistrationID string    `db:"registration_id" json:"registration_id"`
	SectionID      string    `db:"section_id" json:"section_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
