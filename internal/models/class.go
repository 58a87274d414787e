package models

import "time"

// Class is a catalog slot of a course addressed by its 1-based order.
type Class struct {
	ID          string    `db:"id" json:"id"`
	CourseID    string    `db:"course_id" json:"course_id"`
	Order       int       `db:"class_order" json:"order"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	Duration    *int      `db:"duration" json:"duration,omitempty"`
	IsDynamic   bool      `db:"is_dynamic" json:"is_dynamic"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ClassSlotOutcome tells whether an upsert materialised a new slot or refreshed an existing one.
type ClassSlotOutcome string

const (
	ClassSlotCreated ClassSlotOutcome = "created"
	ClassSlotReused  ClassSlotOutcome = "reused"
)

// ClassMeta carries caller supplied catalog metadata for an allocation.
type ClassMeta struct {
	Title       string
	Description *string
	Duration    *int
}
