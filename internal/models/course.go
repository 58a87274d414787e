package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course is the entitlement ledger: TotalClasses caps every enrollment in it.
type Course struct {
	ID           string          `db:"id" json:"id"`
	Title        string          `db:"title" json:"title"`
	Description  *string         `db:"description" json:"description,omitempty"`
	TotalClasses int             `db:"total_classes" json:"total_classes"`
	TrainerID    *string         `db:"trainer_id" json:"trainer_id,omitempty"`
	BasePrice    decimal.Decimal `db:"base_price" json:"base_price"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// CoursePriceOption is a purchasable package of a course.
type CoursePriceOption struct {
	ID        string          `db:"id" json:"id"`
	CourseID  string          `db:"course_id" json:"course_id"`
	Label     string          `db:"label" json:"label"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
