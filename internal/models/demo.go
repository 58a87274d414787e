package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DemoRequestStatus is the lifecycle state of a trial-class request.
type DemoRequestStatus string

const (
	DemoRequestStatusPending   DemoRequestStatus = "pending"
	DemoRequestStatusApproved  DemoRequestStatus = "approved"
	DemoRequestStatusRejected  DemoRequestStatus = "rejected"
	DemoRequestStatusCompleted DemoRequestStatus = "completed"
)

// Valid reports whether s is a known request status.
func (s DemoRequestStatus) Valid() bool {
	switch s {
	case DemoRequestStatusPending, DemoRequestStatusApproved, DemoRequestStatusRejected, DemoRequestStatusCompleted:
		return true
	}
	return false
}

// DemoSessionStatus is the state of a booked trial class.
type DemoSessionStatus string

const (
	DemoSessionStatusScheduled  DemoSessionStatus = "scheduled"
	DemoSessionStatusInProgress DemoSessionStatus = "in_progress"
	DemoSessionStatusCompleted  DemoSessionStatus = "completed"
	DemoSessionStatusCancelled  DemoSessionStatus = "cancelled"
)

var demoSessionTransitions = map[DemoSessionStatus][]DemoSessionStatus{
	DemoSessionStatusScheduled:  {DemoSessionStatusInProgress, DemoSessionStatusCompleted, DemoSessionStatusCancelled},
	DemoSessionStatusInProgress: {DemoSessionStatusCompleted, DemoSessionStatusCancelled},
	DemoSessionStatusCompleted:  nil,
	DemoSessionStatusCancelled:  nil,
}

// BookedDemoStatuses occupy a trainer's slot capacity.
var BookedDemoStatuses = []DemoSessionStatus{DemoSessionStatusScheduled, DemoSessionStatusInProgress}

// Valid reports whether s is a known session status.
func (s DemoSessionStatus) Valid() bool {
	_, ok := demoSessionTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is reachable from s.
func (s DemoSessionStatus) CanTransitionTo(next DemoSessionStatus) bool {
	for _, allowed := range demoSessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DemoRequest is a student's ask for a trial class before enrolling.
type DemoRequest struct {
	ID                string            `db:"id" json:"id"`
	StudentID         string            `db:"student_id" json:"student_id"`
	StudentName       string            `db:"student_name" json:"student_name"`
	CourseID          string            `db:"course_id" json:"course_id"`
	RequestMessage    *string           `db:"request_message" json:"request_message,omitempty"`
	PreferredDateTime *time.Time        `db:"preferred_date_time" json:"preferred_date_time,omitempty"`
	Status            DemoRequestStatus `db:"status" json:"status"`
	AssignedTrainerID *string           `db:"assigned_trainer_id" json:"assigned_trainer_id,omitempty"`
	ApprovedBy        *string           `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time        `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason   *string           `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ScheduledDateTime *time.Time        `db:"scheduled_date_time" json:"scheduled_date_time,omitempty"`
	DemoNotes         *string           `db:"demo_notes" json:"demo_notes,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// DemoRequestDetail adds course and trainer names for listings.
type DemoRequestDetail struct {
	DemoRequest
	CourseTitle string  `db:"course_title" json:"course_title"`
	TrainerName *string `db:"trainer_name" json:"trainer_name,omitempty"`
}

// DemoRequestFilter narrows request listings.
type DemoRequestFilter struct {
	Status            DemoRequestStatus
	StudentID         string
	AssignedTrainerID string
	Statuses          []DemoRequestStatus
}

// DemoSession is the booked trial class created when a request is approved.
type DemoSession struct {
	ID                string            `db:"id" json:"id"`
	DemoRequestID     string            `db:"demo_request_id" json:"demo_request_id"`
	TrainerID         string            `db:"trainer_id" json:"trainer_id"`
	StudentID         string            `db:"student_id" json:"student_id"`
	CourseID          string            `db:"course_id" json:"course_id"`
	ScheduledDateTime time.Time         `db:"scheduled_date_time" json:"scheduled_date_time"`
	Duration          int               `db:"duration" json:"duration"`
	Status            DemoSessionStatus `db:"status" json:"status"`
	SessionNotes      *string           `db:"session_notes" json:"session_notes,omitempty"`
	Rating            *decimal.Decimal  `db:"rating" json:"rating,omitempty"`
	MeetLink          *string           `db:"meet_link" json:"meet_link,omitempty"`
	GoogleEventID     *string           `db:"google_event_id" json:"google_event_id,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// DemoSessionDetail adds participant and course names.
type DemoSessionDetail struct {
	DemoSession
	CourseTitle string `db:"course_title" json:"course_title"`
	TrainerName string `db:"trainer_name" json:"trainer_name"`
	StudentName string `db:"student_name" json:"student_name"`
}

// DemoSessionFilter narrows session listings.
type DemoSessionFilter struct {
	Status    DemoSessionStatus
	TrainerID string
	StudentID string
}

// DemoApproval carries the writes of one approval, applied in a single transaction. DayOfWeek and
// Clock are ScheduledAt in the marketplace time zone, matched against weekly availability.
type DemoApproval struct {
	RequestID   string
	TrainerID   string
	ApprovedBy  string
	ApprovedAt  time.Time
	ScheduledAt time.Time
	DayOfWeek   string
	Clock       string
	Duration    int
}
