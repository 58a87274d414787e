package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

// ErrStaleStatus is returned when a guarded status update finds the row in a different state.
var ErrStaleStatus = errors.New("row status changed concurrently")

// ErrEnrollmentInactive is returned when an allocation targets an enrollment that is no longer
// bound to the trainer in an active status.
var ErrEnrollmentInactive = errors.New("enrollment is not active for this trainer")

// AllocationLimitError reports an enrollment holding its full entitlement.
type AllocationLimitError struct {
	Scheduled int
	Total     int
}

func (e *AllocationLimitError) Error() string {
	return fmt.Sprintf("allocation limit reached: %d of %d", e.Scheduled, e.Total)
}

// IsUniqueViolation reports whether err stems from a postgres unique constraint.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

const scheduleColumns = `id, enrollment_id, trainer_id, student_id, class_id, course_id, class_order,
to_char(scheduled_date, 'YYYY-MM-DD') AS scheduled_date, scheduled_time, status, notes, meet_link, google_event_id,
completed_at, created_at, updated_at`

const scheduleDetailSelect = `SELECT cs.id, cs.enrollment_id, cs.trainer_id, cs.student_id, cs.class_id, cs.course_id, cs.class_order,
to_char(cs.scheduled_date, 'YYYY-MM-DD') AS scheduled_date, cs.scheduled_time, cs.status, cs.notes, cs.meet_link,
cs.google_event_id, cs.completed_at, cs.created_at, cs.updated_at,
t.full_name AS trainer_name, s.full_name AS student_name, c.title AS course_title, cl.title AS class_title
FROM class_schedules cs
JOIN users t ON t.id = cs.trainer_id
JOIN users s ON s.id = cs.student_id
JOIN courses c ON c.id = cs.course_id
JOIN classes cl ON cl.id = cs.class_id`

const classReturning = `id, course_id, class_order, title, description, duration, is_dynamic, created_at, updated_at`

// ClassScheduleRepository persists booked class sessions and performs atomic allocation.
type ClassScheduleRepository struct {
	db *sqlx.DB
}

// NewClassScheduleRepository constructs the repository.
func NewClassScheduleRepository(db *sqlx.DB) *ClassScheduleRepository {
	return &ClassScheduleRepository{db: db}
}

type upsertedClass struct {
	models.Class
	Inserted bool `db:"inserted"`
}

// AllocateSlot checks the entitlement cap, materialises the class slot and books the
// schedule inside one transaction that holds the enrollment row lock. Counting is scoped to
// the enrollment, so rows left by an earlier cancelled enrollment of the same pair never
// consume the new entitlement.
//
// A reused class slot keeps its stored title, description and duration for every field the
// call leaves empty; supplied values overwrite them.
func (r *ClassScheduleRepository) AllocateSlot(ctx context.Context, params models.AllocationParams) (result *models.AllocationResult, err error) {
	if params.TotalClasses <= 0 {
		return nil, fmt.Errorf("course %s has no class entitlement", params.CourseID)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin allocation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const lockQuery = `SELECT status FROM enrollments WHERE id = $1 AND trainer_id = $2 FOR UPDATE`
	var status models.EnrollmentStatus
	if err = tx.GetContext(ctx, &status, lockQuery, params.EnrollmentID, params.TrainerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrEnrollmentInactive
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if !status.IsActive() {
		err = ErrEnrollmentInactive
		return nil, err
	}

	const heldQuery = `SELECT class_order FROM class_schedules WHERE enrollment_id = $1 AND status <> $2 ORDER BY class_order`
	var held []int
	if err = tx.SelectContext(ctx, &held, heldQuery, params.EnrollmentID, models.ScheduleStatusCancelled); err != nil {
		return nil, fmt.Errorf("load held ordinals: %w", err)
	}
	if len(held) >= params.TotalClasses {
		err = &AllocationLimitError{Scheduled: len(held), Total: params.TotalClasses}
		return nil, err
	}
	order := lowestFreeOrdinal(held, params.TotalClasses)

	now := time.Now().UTC()
	var suppliedTitle *string
	title := strings.TrimSpace(params.Meta.Title)
	if title != "" {
		suppliedTitle = &title
	} else {
		title = fmt.Sprintf("Class %d - %s", order, params.CourseTitle)
	}

	upsertQuery := `INSERT INTO classes (id, course_id, class_order, title, description, duration, is_dynamic, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)
ON CONFLICT (course_id, class_order) DO UPDATE SET
title = COALESCE($8, classes.title),
description = COALESCE(EXCLUDED.description, classes.description),
duration = COALESCE(EXCLUDED.duration, classes.duration),
updated_at = EXCLUDED.updated_at
RETURNING ` + classReturning + `, (xmax = 0) AS inserted`
	var class upsertedClass
	if err = tx.GetContext(ctx, &class, upsertQuery, uuid.NewString(), params.CourseID, order, title,
		params.Meta.Description, params.Meta.Duration, now, suppliedTitle); err != nil {
		return nil, fmt.Errorf("upsert class slot: %w", err)
	}

	schedule := models.ClassSchedule{
		ID:            uuid.NewString(),
		EnrollmentID:  params.EnrollmentID,
		TrainerID:     params.TrainerID,
		StudentID:     params.StudentID,
		ClassID:       class.ID,
		CourseID:      params.CourseID,
		ClassOrder:    order,
		ScheduledDate: params.ScheduledDate,
		ScheduledTime: params.ScheduledTime,
		Status:        models.ScheduleStatusScheduled,
		Notes:         params.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	const insertQuery = `INSERT INTO class_schedules (id, enrollment_id, trainer_id, student_id, class_id, course_id, class_order,
scheduled_date, scheduled_time, status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10, $11, $12, $12)`
	if _, err = tx.ExecContext(ctx, insertQuery, schedule.ID, schedule.EnrollmentID, schedule.TrainerID, schedule.StudentID,
		schedule.ClassID, schedule.CourseID, schedule.ClassOrder, schedule.ScheduledDate, schedule.ScheduledTime,
		schedule.Status, schedule.Notes, now); err != nil {
		return nil, fmt.Errorf("insert class schedule: %w", err)
	}

	if status == models.EnrollmentStatusTrainerAssigned {
		const progressQuery = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, progressQuery, params.EnrollmentID, models.EnrollmentStatusInProgress, now); err != nil {
			return nil, fmt.Errorf("mark enrollment in progress: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit allocation: %w", err)
	}

	outcome := models.ClassSlotReused
	if class.Inserted {
		outcome = models.ClassSlotCreated
	}
	return &models.AllocationResult{
		Schedule:       schedule,
		Class:          class.Class,
		ClassOutcome:   outcome,
		ScheduledCount: len(held) + 1,
	}, nil
}

// lowestFreeOrdinal returns the smallest order in 1..total not present in held (sorted ascending).
func lowestFreeOrdinal(held []int, total int) int {
	next := 1
	for _, order := range held {
		if order == next {
			next++
		} else if order > next {
			break
		}
	}
	if next > total {
		return total
	}
	return next
}

// FindByID returns a schedule by ID.
func (r *ClassScheduleRepository) FindByID(ctx context.Context, id string) (*models.ClassSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM class_schedules WHERE id = $1`
	var schedule models.ClassSchedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// FindDetailByID returns a schedule joined with names.
func (r *ClassScheduleRepository) FindDetailByID(ctx context.Context, id string) (*models.ClassScheduleDetail, error) {
	query := scheduleDetailSelect + ` WHERE cs.id = $1`
	var detail models.ClassScheduleDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByStudent returns a student's schedules ordered chronologically.
func (r *ClassScheduleRepository) ListByStudent(ctx context.Context, studentID string, filter models.ScheduleFilter) ([]models.ClassScheduleDetail, error) {
	return r.list(ctx, "cs.student_id", studentID, filter)
}

// ListByTrainer returns a trainer's schedules ordered chronologically.
func (r *ClassScheduleRepository) ListByTrainer(ctx context.Context, trainerID string, filter models.ScheduleFilter) ([]models.ClassScheduleDetail, error) {
	return r.list(ctx, "cs.trainer_id", trainerID, filter)
}

func (r *ClassScheduleRepository) list(ctx context.Context, ownerColumn, ownerID string, filter models.ScheduleFilter) ([]models.ClassScheduleDetail, error) {
	conditions := []string{ownerColumn + " = $1"}
	args := []interface{}{ownerID}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.TrainerID != "" && ownerColumn != "cs.trainer_id" {
		conditions = append(conditions, fmt.Sprintf("cs.trainer_id = $%d", len(args)+1))
		args = append(args, filter.TrainerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("cs.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	query := scheduleDetailSelect + ` WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY cs.scheduled_date ASC, cs.scheduled_time ASC, cs.class_order ASC`
	var schedules []models.ClassScheduleDetail
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("list class schedules: %w", err)
	}
	return schedules, nil
}

// Update writes the mutable fields of a schedule provided its status is still expected.
// ErrStaleStatus is returned when another writer moved the row first.
func (r *ClassScheduleRepository) Update(ctx context.Context, schedule *models.ClassSchedule, expected models.ScheduleStatus) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE class_schedules SET scheduled_date = $2::date, scheduled_time = $3, status = $4, notes = $5,
completed_at = $6, updated_at = $7
WHERE id = $1 AND status = $8`
	res, err := r.db.ExecContext(ctx, query, schedule.ID, schedule.ScheduledDate, schedule.ScheduledTime, schedule.Status,
		schedule.Notes, schedule.CompletedAt, schedule.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("update class schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update class schedule rows: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SetMeeting records the conference link provisioned for a schedule.
func (r *ClassScheduleRepository) SetMeeting(ctx context.Context, id, link, eventID string) error {
	const query = `UPDATE class_schedules SET meet_link = $2, google_event_id = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, link, eventID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set schedule meeting: %w", err)
	}
	return nil
}

// Delete removes a schedule permanently.
func (r *ClassScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM class_schedules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class schedule: %w", err)
	}
	return nil
}

// CountsForEnrollment returns live and completed schedule counters booked under an enrollment.
func (r *ClassScheduleRepository) CountsForEnrollment(ctx context.Context, enrollmentID string) (models.ScheduleCounts, error) {
	const query = `SELECT
COUNT(*) FILTER (WHERE status <> 'cancelled') AS scheduled,
COUNT(*) FILTER (WHERE status = 'completed') AS completed
FROM class_schedules WHERE enrollment_id = $1`
	var counts models.ScheduleCounts
	if err := r.db.GetContext(ctx, &counts, query, enrollmentID); err != nil {
		return models.ScheduleCounts{}, fmt.Errorf("count class schedules: %w", err)
	}
	return counts, nil
}
