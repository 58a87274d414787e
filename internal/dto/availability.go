package dto

// AvailabilitySlot is one weekly window offered by a trainer.
type AvailabilitySlot struct {
	DayOfWeek          string `json:"dayOfWeek" validate:"required,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime          string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime            string `json:"endTime" validate:"required,datetime=15:04"`
	IsAvailable        *bool  `json:"isAvailable,omitempty"`
	MaxStudentsPerSlot int    `json:"maxStudentsPerSlot" validate:"omitempty,min=1,max=50"`
}

// SetAvailabilityRequest replaces every slot of a trainer.
type SetAvailabilityRequest struct {
	Slots []AvailabilitySlot `json:"slots" validate:"required,min=1,dive"`
}
