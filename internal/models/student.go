package models

import "time"

// StudentStatus is the academic standing of a student.
type StudentStatus string

const (
	StudentStatusActive       StudentStatus = "ACTIVE"
	StudentStatusOnLeave      StudentStatus = "ON_LEAVE"
	StudentStatusDispensation StudentStatus = "DISPENSATION"
)

// Label returns the human readable status used in requirement reports.
func (s StudentStatus) Label() string {
	switch s {
	case StudentStatusActive:
		return "Active"
	case StudentStatusOnLeave:
		return "On leave"
	default:
		return "Dispensation"
	}
}

// PaymentStatus tracks tuition settlement for the running period.
type PaymentStatus string

const (
	PaymentStatusPaid   PaymentStatus = "PAID"
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
)

// Student is a university student identified by NIM.
type Student struct {
	ID                string        `db:"id" json:"id"`
	NIM               string        `db:"nim" json:"nim"`
	FullName          string        `db:"full_name" json:"full_name"`
	PasswordHash      string        `db:"password_hash" json:"-"`
	GPA               float64       `db:"gpa" json:"gpa"`
	PreviousGPA       float64       `db:"previous_gpa" json:"previous_gpa"`
	CumulativeCredits int           `db:"cumulative_credits" json:"cumulative_credits"`
	CurrentTerm       int           `db:"current_term" json:"current_term"`
	CreditAllowance   int           `db:"credit_allowance" json:"credit_allowance"`
	Status            StudentStatus `db:"status" json:"status"`
	PaymentStatus     PaymentStatus `db:"payment_status" json:"payment_status"`
	CurriculumID      string        `db:"curriculum_id" json:"curriculum_id"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}
