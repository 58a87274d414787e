package dto

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

// CreateDemoRequest is a student's ask for a trial class.
type CreateDemoRequest struct {
	StudentID         string `json:"studentId" validate:"required,uuid"`
	StudentName       string `json:"studentName" validate:"omitempty,max=120"`
	CourseID          string `json:"courseId" validate:"required,uuid"`
	RequestMessage    string `json:"requestMessage" validate:"omitempty,max=2000"`
	PreferredDateTime string `json:"preferredDateTime,omitempty"`
}

// ApproveDemoRequest books the session. Without a trainer the best available one is picked.
type ApproveDemoRequest struct {
	AssignedTrainerID string `json:"assignedTrainerId" validate:"omitempty,uuid"`
	ScheduledDateTime string `json:"scheduledDateTime" validate:"required"`
}

// RejectDemoRequest closes a pending request.
type RejectDemoRequest struct {
	RejectionReason string `json:"rejectionReason" validate:"required,max=2000"`
}

// DemoRequestListQuery filters the admin listing.
type DemoRequestListQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=pending approved rejected completed"`
}

// DemoSessionListQuery filters session listings.
type DemoSessionListQuery struct {
	Status    string `form:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
	TrainerID string `form:"trainerId" validate:"omitempty,uuid"`
	StudentID string `form:"studentId" validate:"omitempty,uuid"`
}

// UpdateDemoSessionRequest moves a session along and records feedback.
type UpdateDemoSessionRequest struct {
	Status       *models.DemoSessionStatus `json:"status,omitempty"`
	SessionNotes *string                   `json:"sessionNotes,omitempty" validate:"omitempty,max=4000"`
	Rating       *decimal.Decimal          `json:"rating,omitempty"`
}

// DemoApprovalResponse returns the approved request with its booked session.
type DemoApprovalResponse struct {
	Request *models.DemoRequestDetail `json:"demoRequest"`
	Session *models.DemoSession       `json:"demoSession"`
}
