package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled        EnrollmentStatus = "enrolled"
	EnrollmentStatusTrainerAssigned EnrollmentStatus = "trainer_assigned"
	EnrollmentStatusInProgress      EnrollmentStatus = "in_progress"
	EnrollmentStatusCompleted       EnrollmentStatus = "completed"
	EnrollmentStatusCancelled       EnrollmentStatus = "cancelled"
)

var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusEnrolled:        {EnrollmentStatusTrainerAssigned, EnrollmentStatusCancelled},
	EnrollmentStatusTrainerAssigned: {EnrollmentStatusTrainerAssigned, EnrollmentStatusInProgress, EnrollmentStatusCompleted, EnrollmentStatusCancelled},
	EnrollmentStatusInProgress:      {EnrollmentStatusInProgress, EnrollmentStatusCompleted, EnrollmentStatusCancelled},
	EnrollmentStatusCompleted:       nil,
	EnrollmentStatusCancelled:       nil,
}

// ActiveEnrollmentStatuses lists statuses that still hold an entitlement.
var ActiveEnrollmentStatuses = []EnrollmentStatus{
	EnrollmentStatusEnrolled,
	EnrollmentStatusTrainerAssigned,
	EnrollmentStatusInProgress,
}

// Valid reports whether s is a known enrollment status.
func (s EnrollmentStatus) Valid() bool {
	_, ok := enrollmentTransitions[s]
	return ok
}

// IsActive reports whether the enrollment is neither completed nor cancelled.
func (s EnrollmentStatus) IsActive() bool {
	return s.Valid() && s != EnrollmentStatusCompleted && s != EnrollmentStatusCancelled
}

// CanTransitionTo reports whether next is reachable from s.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Enrollment binds a student to a course and, after assignment, to a trainer.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	CourseID         string           `db:"course_id" json:"course_id"`
	TrainerID        *string          `db:"trainer_id" json:"trainer_id,omitempty"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	SelectedOptionID *string          `db:"selected_option_id" json:"selected_option_id,omitempty"`
	Amount           decimal.Decimal  `db:"amount" json:"amount"`
	PaymentMethod    string           `db:"payment_method" json:"payment_method"`
	PaymentOrderID   *string          `db:"payment_order_id" json:"payment_order_id,omitempty"`
	PaymentID        *string          `db:"payment_id" json:"payment_id,omitempty"`
	AssignedAt       *time.Time       `db:"assigned_at" json:"assigned_at,omitempty"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student, course and trainer info.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string  `db:"student_name" json:"student_name"`
	StudentEmail string  `db:"student_email" json:"student_email"`
	CourseTitle  string  `db:"course_title" json:"course_title"`
	TrainerName  *string `db:"trainer_name" json:"trainer_name,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	TrainerID string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentCourseProgress annotates an enrolled course with allocation counters.
type StudentCourseProgress struct {
	EnrollmentID     string           `db:"enrollment_id" json:"enrollment_id"`
	EnrollmentStatus EnrollmentStatus `db:"enrollment_status" json:"enrollment_status"`
	CourseID         string           `db:"course_id" json:"course_id"`
	CourseTitle      string           `db:"course_title" json:"course_title"`
	TrainerID        *string          `db:"trainer_id" json:"trainer_id,omitempty"`
	TrainerName      *string          `db:"trainer_name" json:"trainer_name,omitempty"`
	TotalClasses     int              `db:"total_classes" json:"total_classes"`
	ScheduledClasses int              `db:"scheduled_classes" json:"scheduled_classes"`
	CompletedClasses int              `db:"completed_classes" json:"completed_classes"`
	RemainingClasses int              `db:"-" json:"remaining_classes"`
	AssignedAt       *time.Time       `db:"assigned_at" json:"assigned_at,omitempty"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}
