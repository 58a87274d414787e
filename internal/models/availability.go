package models

import "time"

// TrainerAvailability is one weekly slot a trainer advertises.
type TrainerAvailability struct {
	ID                 string    `db:"id" json:"id"`
	TrainerID          string    `db:"trainer_id" json:"trainer_id"`
	DayOfWeek          string    `db:"day_of_week" json:"day_of_week"`
	StartTime          string    `db:"start_time" json:"start_time"`
	EndTime            string    `db:"end_time" json:"end_time"`
	IsAvailable        bool      `db:"is_available" json:"is_available"`
	MaxStudentsPerSlot int       `db:"max_students_per_slot" json:"max_students_per_slot"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// AvailableTrainer is an open weekly slot with the trainer's identity and remaining demo capacity.
type AvailableTrainer struct {
	TrainerAvailability
	TrainerName    string  `db:"trainer_name" json:"trainer_name"`
	TrainerEmail   string  `db:"trainer_email" json:"trainer_email"`
	Specialist     *string `db:"specialist" json:"specialist,omitempty"`
	AvailableSlots int     `db:"available_slots" json:"available_slots"`
}

// AvailabilityQuery selects open slots. A nil At lists every open slot; otherwise DayOfWeek and
// Clock must contain At and demo sessions booked between WindowStart and WindowEnd consume capacity.
type AvailabilityQuery struct {
	At          *time.Time
	DayOfWeek   string
	Clock       string
	WindowStart time.Time
	WindowEnd   time.Time
}
