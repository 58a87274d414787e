package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

// CourseRepository reads the course catalog.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, title, description, total_classes, trainer_id, base_price, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// FindPriceOption returns a price option by id.
func (r *CourseRepository) FindPriceOption(ctx context.Context, id string) (*models.CoursePriceOption, error) {
	const query = `SELECT id, course_id, label, price, created_at FROM course_price_options WHERE id = $1`
	var option models.CoursePriceOption
	if err := r.db.GetContext(ctx, &option, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find price option: %w", err)
	}
	return &option, nil
}

// ListClasses returns the catalog slots of a course in order.
func (r *CourseRepository) ListClasses(ctx context.Context, courseID string) ([]models.Class, error) {
	const query = `SELECT id, course_id, class_order, title, description, duration, is_dynamic, created_at, updated_at
FROM classes WHERE course_id = $1 ORDER BY class_order ASC`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, courseID); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}
