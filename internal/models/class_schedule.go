package models

import "time"

// ScheduleStatus is the lifecycle state of one booked session.
type ScheduleStatus string

const (
	ScheduleStatusScheduled   ScheduleStatus = "scheduled"
	ScheduleStatusCompleted   ScheduleStatus = "completed"
	ScheduleStatusCancelled   ScheduleStatus = "cancelled"
	ScheduleStatusRescheduled ScheduleStatus = "rescheduled"
)

var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	ScheduleStatusScheduled:   {ScheduleStatusCompleted, ScheduleStatusCancelled, ScheduleStatusRescheduled},
	ScheduleStatusRescheduled: {ScheduleStatusCompleted, ScheduleStatusCancelled, ScheduleStatusRescheduled},
	ScheduleStatusCompleted:   nil,
	ScheduleStatusCancelled:   nil,
}

// Valid reports whether s is a known schedule status.
func (s ScheduleStatus) Valid() bool {
	_, ok := scheduleTransitions[s]
	return ok
}

// CountsTowardCap reports whether a row in this status occupies an entitlement slot.
func (s ScheduleStatus) CountsTowardCap() bool {
	return s.Valid() && s != ScheduleStatusCancelled
}

// IsTerminal reports whether no transition leaves s.
func (s ScheduleStatus) IsTerminal() bool {
	return len(scheduleTransitions[s]) == 0
}

// CanTransitionTo reports whether next is reachable from s.
func (s ScheduleStatus) CanTransitionTo(next ScheduleStatus) bool {
	for _, allowed := range scheduleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ClassSchedule is one concrete booked session between a trainer and a student.
type ClassSchedule struct {
	ID            string         `db:"id" json:"id"`
	EnrollmentID  string         `db:"enrollment_id" json:"enrollment_id"`
	TrainerID     string         `db:"trainer_id" json:"trainer_id"`
	StudentID     string         `db:"student_id" json:"student_id"`
	ClassID       string         `db:"class_id" json:"class_id"`
	CourseID      string         `db:"course_id" json:"course_id"`
	ClassOrder    int            `db:"class_order" json:"class_order"`
	ScheduledDate string         `db:"scheduled_date" json:"scheduled_date"`
	ScheduledTime string         `db:"scheduled_time" json:"scheduled_time"`
	Status        ScheduleStatus `db:"status" json:"status"`
	Notes         *string        `db:"notes" json:"notes,omitempty"`
	MeetLink      *string        `db:"meet_link" json:"meet_link,omitempty"`
	GoogleEventID *string        `db:"google_event_id" json:"google_event_id,omitempty"`
	CompletedAt   *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// ClassScheduleDetail joins a schedule with the names needed by clients.
type ClassScheduleDetail struct {
	ClassSchedule
	TrainerName string `db:"trainer_name" json:"trainer_name"`
	StudentName string `db:"student_name" json:"student_name"`
	CourseTitle string `db:"course_title" json:"course_title"`
	ClassTitle  string `db:"class_title" json:"class_title"`
}

// ScheduleFilter narrows schedule listings.
type ScheduleFilter struct {
	CourseID  string
	TrainerID string
	Status    ScheduleStatus
}

// ScheduleCounts are the live counters of the schedules booked under one enrollment.
type ScheduleCounts struct {
	Scheduled int `db:"scheduled"`
	Completed int `db:"completed"`
}

// AllocationParams describes one slot to be allocated atomically.
type AllocationParams struct {
	EnrollmentID  string
	TrainerID     string
	StudentID     string
	CourseID      string
	CourseTitle   string
	TotalClasses  int
	ScheduledDate string
	ScheduledTime string
	Notes         *string
	Meta          ClassMeta
}

// AllocationResult is the outcome of a committed allocation.
type AllocationResult struct {
	Schedule       ClassSchedule
	Class          Class
	ClassOutcome   ClassSlotOutcome
	ScheduledCount int
}
