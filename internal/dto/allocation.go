package dto

import "github.com/noah-isme/trainer-marketplace-api/internal/models"

// AllocateClassRequest books the next class of a course for a student.
type AllocateClassRequest struct {
	StudentID     string  `json:"studentId" validate:"required,uuid"`
	CourseID      string  `json:"courseId" validate:"required,uuid"`
	ScheduledDate string  `json:"scheduledDate" validate:"required,datetime=2006-01-02"`
	ScheduledTime string  `json:"scheduledTime" validate:"required,datetime=15:04"`
	Title         string  `json:"title" validate:"omitempty,max=200"`
	Description   *string `json:"description,omitempty"`
	Duration      *int    `json:"duration,omitempty" validate:"omitempty,min=1,max=600"`
	Notes         *string `json:"notes,omitempty"`
}

// AllocationResponse is returned for a successful single allocation.
type AllocationResponse struct {
	Schedule       models.ClassSchedule    `json:"schedule"`
	Class          models.Class            `json:"class"`
	ClassOutcome   models.ClassSlotOutcome `json:"classOutcome"`
	MeetLink       *string                 `json:"meetLink"`
	ScheduledCount int                     `json:"scheduledCount"`
	TotalClasses   int                     `json:"totalClasses"`
}

// BulkAllocateRequest carries a batch of allocations processed in order.
type BulkAllocateRequest struct {
	Allocations []AllocateClassRequest `json:"allocations" validate:"required,min=1"`
}

// BulkAllocationSuccess describes an item that produced a schedule.
type BulkAllocationSuccess struct {
	Index      int     `json:"index"`
	ScheduleID string  `json:"scheduleId"`
	StudentID  string  `json:"studentId"`
	CourseID   string  `json:"courseId"`
	ClassID    string  `json:"classId"`
	ClassOrder int     `json:"classOrder"`
	MeetLink   *string `json:"meetLink"`
}

// BulkAllocationFailure describes an item that was rejected.
type BulkAllocationFailure struct {
	Index     int    `json:"index"`
	StudentID string `json:"studentId,omitempty"`
	CourseID  string `json:"courseId,omitempty"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

// BatchResult aggregates a bulk allocation run.
type BatchResult struct {
	Successful   []BulkAllocationSuccess `json:"successful"`
	Failed       []BulkAllocationFailure `json:"failed"`
	SuccessCount int                     `json:"successCount"`
	FailureCount int                     `json:"failureCount"`
}
