package dto

import "github.com/shopspring/decimal"

// VerifyPaymentRequest creates an enrollment once the gateway signature checks out.
type VerifyPaymentRequest struct {
	PaymentOrderID   string          `json:"paymentOrderId" validate:"required"`
	PaymentID        string          `json:"paymentId" validate:"required"`
	Signature        string          `json:"signature" validate:"required"`
	StudentID        string          `json:"studentId" validate:"required,uuid"`
	CourseID         string          `json:"courseId" validate:"required,uuid"`
	SelectedOptionID *string         `json:"selectedOptionId,omitempty" validate:"omitempty,uuid"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"paymentMethod" validate:"required,max=50"`
	IP               string          `json:"-"`
	UserAgent        string          `json:"-"`
}

// AssignTrainerRequest binds a trainer to an enrollment.
type AssignTrainerRequest struct {
	TrainerID string `json:"trainerId" validate:"required,uuid"`
}

// TrainerAssignedEvent is pushed to the student and trainer after an assignment.
type TrainerAssignedEvent struct {
	Type         string `json:"type"`
	EnrollmentID string `json:"enrollmentId"`
	CourseID     string `json:"courseId"`
	CourseTitle  string `json:"courseTitle"`
	StudentID    string `json:"studentId"`
	TrainerID    string `json:"trainerId"`
	TrainerName  string `json:"trainerName"`
}

// EnrollmentListQuery holds the query string of an enrollment listing.
type EnrollmentListQuery struct {
	StudentID string `form:"studentId" validate:"omitempty,uuid"`
	CourseID  string `form:"courseId" validate:"omitempty,uuid"`
	TrainerID string `form:"trainerId" validate:"omitempty,uuid"`
	Status    string `form:"status" validate:"omitempty,oneof=enrolled trainer_assigned in_progress completed cancelled"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder" validate:"omitempty,oneof=asc desc ASC DESC"`
}

// CancelEnrollmentResponse reports how many live sessions were released.
type CancelEnrollmentResponse struct {
	EnrollmentID      string `json:"enrollmentId"`
	ReleasedSchedules int64  `json:"releasedSchedules"`
}
