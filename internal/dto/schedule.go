package dto

import "github.com/noah-isme/trainer-marketplace-api/internal/models"

// UpdateScheduleRequest patches a booked session. Nil fields are left untouched.
type UpdateScheduleRequest struct {
	ScheduledDate *string                `json:"scheduledDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ScheduledTime *string                `json:"scheduledTime,omitempty" validate:"omitempty,datetime=15:04"`
	Status        *models.ScheduleStatus `json:"status,omitempty"`
	Notes         *string                `json:"notes,omitempty"`
}

// ScheduleUpdateResponse returns the updated row and, when completion ran, its outcome.
type ScheduleUpdateResponse struct {
	Schedule   *models.ClassScheduleDetail `json:"schedule"`
	Completion *CompletionResult           `json:"completion,omitempty"`
}

// CompletionResult reports the counters the completion evaluator computed.
type CompletionResult struct {
	ScheduledCount int  `json:"scheduledCount"`
	CompletedCount int  `json:"completedCount"`
	Remaining      int  `json:"remaining"`
	TotalClasses   int  `json:"totalClasses"`
	Finalized      bool `json:"finalized"`
}

// ScheduleExportFormat selects the rendering of an exported schedule.
type ScheduleExportFormat string

const (
	ScheduleExportCSV ScheduleExportFormat = "csv"
	ScheduleExportPDF ScheduleExportFormat = "pdf"
)

// ScheduleListQuery holds the optional filters of a schedule listing.
type ScheduleListQuery struct {
	CourseID string `form:"courseId" validate:"omitempty,uuid"`
	Status   string `form:"status" validate:"omitempty,oneof=scheduled completed cancelled rescheduled"`
}

// ExportFile is a rendered export ready to be streamed.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}
